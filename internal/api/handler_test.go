package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/pipeline"
	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/store"
)

type fakeUsers struct {
	users  map[string]store.User
	nextID int64
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: map[string]store.User{}, nextID: 1}
}

func (f *fakeUsers) CreateUser(_ context.Context, name, email, passwordHash string) (store.User, error) {
	user := store.User{
		ID:           f.nextID,
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	f.nextID++
	f.users[email] = user
	return user, nil
}

func (f *fakeUsers) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	user, ok := f.users[email]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return user, nil
}

func (f *fakeUsers) GetUserByID(_ context.Context, id int64) (store.User, error) {
	for _, user := range f.users {
		if user.ID == id {
			return user, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

type fakeConversations struct {
	owners  map[string]int64
	history map[string][]store.Exchange
	deleted []string
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{owners: map[string]int64{}, history: map[string][]store.Exchange{}}
}

func (f *fakeConversations) ResolveOwner(_ context.Context, conversationID string) (int64, error) {
	owner, ok := f.owners[conversationID]
	if !ok {
		return 0, store.ErrNotFound
	}
	return owner, nil
}

func (f *fakeConversations) Claim(_ context.Context, conversationID string, userID int64) error {
	if _, ok := f.owners[conversationID]; !ok {
		f.owners[conversationID] = userID
	}
	return nil
}

func (f *fakeConversations) Authorize(_ context.Context, conversationID string, userID int64) (bool, error) {
	owner, ok := f.owners[conversationID]
	if !ok {
		return true, nil
	}
	return owner == userID, nil
}

func (f *fakeConversations) AppendExchange(_ context.Context, userID int64, conversationID, question, sql string) error {
	_ = f.Claim(context.Background(), conversationID, userID)
	f.history[conversationID] = append(f.history[conversationID], store.Exchange{
		Question:  question,
		SQL:       sql,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (f *fakeConversations) History(_ context.Context, _ int64, conversationID string, limit int) ([]store.Exchange, error) {
	history := f.history[conversationID]
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history, nil
}

func (f *fakeConversations) ListConversations(_ context.Context, userID int64) ([]store.ConversationSummary, error) {
	summaries := make([]store.ConversationSummary, 0)
	for conversationID, owner := range f.owners {
		if owner != userID {
			continue
		}
		summary := store.ConversationSummary{ConversationID: conversationID, Title: "New Chat"}
		if exchanges := f.history[conversationID]; len(exchanges) > 0 {
			summary.Title = exchanges[0].Question
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (f *fakeConversations) Delete(_ context.Context, _ int64, conversationID string) error {
	delete(f.owners, conversationID)
	delete(f.history, conversationID)
	f.deleted = append(f.deleted, conversationID)
	return nil
}

type fakePipeline struct {
	response pipeline.Response
	err      error
	lastReq  pipeline.Request
}

func (f *fakePipeline) Ask(_ context.Context, req pipeline.Request) (pipeline.Response, error) {
	f.lastReq = req
	if f.err != nil {
		return pipeline.Response{}, f.err
	}
	return f.response, nil
}

type fakeExecutor struct {
	results map[string]query.Result
}

func (f *fakeExecutor) Execute(_ context.Context, sql string) query.Result {
	if result, ok := f.results[sql]; ok {
		return result
	}
	return query.Result{Err: "no such table"}
}

type testServer struct {
	handler       http.Handler
	tokens        *auth.TokenIssuer
	users         *fakeUsers
	conversations *fakeConversations
	pipeline      *fakePipeline
	executor      *fakeExecutor
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	tokens, err := auth.NewTokenIssuer(auth.TokenConfig{Secret: "test-secret", TTL: time.Hour})
	if err != nil {
		t.Fatalf("NewTokenIssuer() error = %v", err)
	}

	server := &testServer{
		tokens:        tokens,
		users:         newFakeUsers(),
		conversations: newFakeConversations(),
		pipeline:      &fakePipeline{},
		executor:      &fakeExecutor{results: map[string]query.Result{}},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{Service: config.ServiceConfig{Name: "askdb-api-test"}}
	server.handler = NewHandler(cfg, Dependencies{
		Logger:         logger,
		AuthMiddleware: auth.Middleware(logger, tokens),
		Tokens:         tokens,
		Users:          server.users,
		Conversations:  server.conversations,
		Pipeline:       server.pipeline,
		Executor:       server.executor,
	})
	return server
}

func (s *testServer) tokenFor(t *testing.T, userID int64, email string) string {
	t.Helper()
	token, err := s.tokens.Issue(auth.Identity{UserID: userID, Email: email})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	return token
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, req)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.NewDecoder(recorder.Body).Decode(target); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t)
	recorder := server.do(t, http.MethodGet, "/v1/health", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	var payload map[string]any
	decodeBody(t, recorder, &payload)
	if payload["service"] != "askdb-api-test" {
		t.Fatalf("service = %v", payload["service"])
	}
}

func TestRegisterLoginAndMe(t *testing.T) {
	server := newTestServer(t)

	registered := server.do(t, http.MethodPost, "/v1/auth/register", "", registerRequest{
		Name:     "Ada",
		Email:    "ada@example.com",
		Password: "hunter2hunter2",
	})
	if registered.Code != http.StatusCreated {
		t.Fatalf("register status = %d body = %s", registered.Code, registered.Body.String())
	}
	var session sessionResponse
	decodeBody(t, registered, &session)
	if session.Token == "" || session.User.Email != "ada@example.com" {
		t.Fatalf("session = %+v", session)
	}

	loggedIn := server.do(t, http.MethodPost, "/v1/auth/login", "", loginRequest{
		Email:    "Ada@Example.com",
		Password: "hunter2hunter2",
	})
	if loggedIn.Code != http.StatusOK {
		t.Fatalf("login status = %d body = %s", loggedIn.Code, loggedIn.Body.String())
	}
	decodeBody(t, loggedIn, &session)

	me := server.do(t, http.MethodGet, "/v1/auth/me", session.Token, nil)
	if me.Code != http.StatusOK {
		t.Fatalf("me status = %d", me.Code)
	}
	var user userResponse
	decodeBody(t, me, &user)
	if user.Name != "Ada" {
		t.Fatalf("user = %+v", user)
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	server := newTestServer(t)
	payload := registerRequest{Name: "Ada", Email: "ada@example.com", Password: "hunter2hunter2"}

	if first := server.do(t, http.MethodPost, "/v1/auth/register", "", payload); first.Code != http.StatusCreated {
		t.Fatalf("first register status = %d", first.Code)
	}
	second := server.do(t, http.MethodPost, "/v1/auth/register", "", payload)
	if second.Code != http.StatusConflict {
		t.Fatalf("duplicate register status = %d", second.Code)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	server := newTestServer(t)
	server.do(t, http.MethodPost, "/v1/auth/register", "", registerRequest{
		Name: "Ada", Email: "ada@example.com", Password: "hunter2hunter2",
	})

	recorder := server.do(t, http.MethodPost, "/v1/auth/login", "", loginRequest{
		Email: "ada@example.com", Password: "wrong",
	})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", recorder.Code)
	}
}

func TestAskRequiresToken(t *testing.T) {
	server := newTestServer(t)
	recorder := server.do(t, http.MethodPost, "/v1/ask", "", askRequest{Question: "anything"})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", recorder.Code)
	}
}

func TestAskForwardsIdentityAndHistory(t *testing.T) {
	server := newTestServer(t)
	server.pipeline.response = pipeline.Response{
		SQL:    "SELECT 1",
		Result: query.Result{Columns: []string{"1"}, Rows: [][]any{{float64(1)}}},
	}
	token := server.tokenFor(t, 42, "ada@example.com")

	recorder := server.do(t, http.MethodPost, "/v1/ask", token, askRequest{
		Question: "count things",
		History:  []askExchange{{Question: "earlier", SQL: "SELECT 2"}},
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", recorder.Code, recorder.Body.String())
	}
	if server.pipeline.lastReq.UserID != 42 {
		t.Fatalf("UserID = %d", server.pipeline.lastReq.UserID)
	}
	if len(server.pipeline.lastReq.PriorExchanges) != 1 || server.pipeline.lastReq.PriorExchanges[0].SQL != "SELECT 2" {
		t.Fatalf("PriorExchanges = %+v", server.pipeline.lastReq.PriorExchanges)
	}
}

func TestAskRejectsEmptyQuestion(t *testing.T) {
	server := newTestServer(t)
	token := server.tokenFor(t, 1, "a@example.com")

	recorder := server.do(t, http.MethodPost, "/v1/ask", token, askRequest{Question: "   "})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", recorder.Code)
	}
}

func TestAskMapsForbiddenTo403(t *testing.T) {
	server := newTestServer(t)
	server.pipeline.err = pipeline.ErrForbidden
	token := server.tokenFor(t, 1, "a@example.com")

	recorder := server.do(t, http.MethodPost, "/v1/ask", token, askRequest{
		Question:       "anything",
		ConversationID: "conv-owned",
	})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("status = %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "FORBIDDEN") {
		t.Fatalf("body = %s", recorder.Body.String())
	}
}

func TestConversationEndpointsEnforceOwnership(t *testing.T) {
	server := newTestServer(t)
	server.conversations.owners["conv-1"] = 1
	server.conversations.history["conv-1"] = []store.Exchange{
		{Question: "revenue by month", SQL: "SELECT month, revenue FROM sales"},
	}
	ownerToken := server.tokenFor(t, 1, "owner@example.com")
	otherToken := server.tokenFor(t, 2, "other@example.com")

	if recorder := server.do(t, http.MethodGet, "/v1/conversations/conv-1/context", ownerToken, nil); recorder.Code != http.StatusOK {
		t.Fatalf("owner context status = %d", recorder.Code)
	}
	if recorder := server.do(t, http.MethodGet, "/v1/conversations/conv-1/context", otherToken, nil); recorder.Code != http.StatusForbidden {
		t.Fatalf("foreign context status = %d", recorder.Code)
	}
	if recorder := server.do(t, http.MethodGet, "/v1/conversations/missing/context", ownerToken, nil); recorder.Code != http.StatusNotFound {
		t.Fatalf("missing context status = %d", recorder.Code)
	}
	if recorder := server.do(t, http.MethodDelete, "/v1/conversations/conv-1", otherToken, nil); recorder.Code != http.StatusForbidden {
		t.Fatalf("foreign delete status = %d", recorder.Code)
	}
}

func TestConversationMessagesReplayStoredSQL(t *testing.T) {
	server := newTestServer(t)
	server.conversations.owners["conv-1"] = 1
	server.conversations.history["conv-1"] = []store.Exchange{
		{Question: "revenue by month", SQL: "SELECT month, revenue FROM sales"},
		{Question: "broken question", SQL: "SELECT nope"},
	}
	server.executor.results["SELECT month, revenue FROM sales"] = query.Result{
		Columns: []string{"month", "revenue"},
		Rows:    [][]any{{"2024-01", float64(1200)}, {"2024-02", float64(900)}},
	}
	token := server.tokenFor(t, 1, "owner@example.com")

	recorder := server.do(t, http.MethodGet, "/v1/conversations/conv-1/messages", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", recorder.Code, recorder.Body.String())
	}

	var payload struct {
		Messages []messageResponse `json:"messages"`
	}
	decodeBody(t, recorder, &payload)
	if len(payload.Messages) != 2 {
		t.Fatalf("messages = %d", len(payload.Messages))
	}
	if payload.Messages[0].Chart == nil {
		t.Fatal("numeric two-column replay must chart")
	}
	if payload.Messages[1].Result.Err == "" {
		t.Fatal("failed replay must carry the execution error")
	}
}

func TestDeleteConversationRemovesIt(t *testing.T) {
	server := newTestServer(t)
	server.conversations.owners["conv-1"] = 1
	token := server.tokenFor(t, 1, "owner@example.com")

	recorder := server.do(t, http.MethodDelete, "/v1/conversations/conv-1", token, nil)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("status = %d", recorder.Code)
	}
	if len(server.conversations.deleted) != 1 || server.conversations.deleted[0] != "conv-1" {
		t.Fatalf("deleted = %v", server.conversations.deleted)
	}
	if recorder := server.do(t, http.MethodDelete, "/v1/conversations/conv-1", token, nil); recorder.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", recorder.Code)
	}
}

func TestListConversations(t *testing.T) {
	server := newTestServer(t)
	server.conversations.owners["conv-1"] = 1
	server.conversations.owners["conv-2"] = 2
	server.conversations.history["conv-1"] = []store.Exchange{{Question: "first question"}}
	token := server.tokenFor(t, 1, "owner@example.com")

	recorder := server.do(t, http.MethodGet, "/v1/conversations", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	var payload struct {
		Conversations []conversationSummaryResponse `json:"conversations"`
	}
	decodeBody(t, recorder, &payload)
	if len(payload.Conversations) != 1 || payload.Conversations[0].ConversationID != "conv-1" {
		t.Fatalf("conversations = %+v", payload.Conversations)
	}
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	server := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/v1/ask", nil)
	recorder := httptest.NewRecorder()
	server.handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("status = %d", recorder.Code)
	}
	if recorder.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header")
	}
}
