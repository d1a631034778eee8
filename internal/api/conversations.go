package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/store"
	"github.com/askdb/askdb/internal/viz"
)

// Replay and context reads are bounded so a pathological conversation cannot
// pin the whole exchange table in memory.
const conversationReadLimit = 500

type conversationSummaryResponse struct {
	ConversationID string    `json:"conversation_id"`
	Title          string    `json:"title"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivity   time.Time `json:"last_activity"`
}

type exchangeResponse struct {
	Question  string    `json:"question"`
	SQL       string    `json:"sql"`
	CreatedAt time.Time `json:"created_at"`
}

type messageResponse struct {
	Question  string       `json:"question"`
	SQL       string       `json:"sql"`
	Result    query.Result `json:"result"`
	Chart     *viz.Spec    `json:"chart,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

func handleListConversations(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(r.Context(), w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity", false, nil)
		return
	}

	summaries, err := deps.Conversations.ListConversations(r.Context(), identity.UserID)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "STORE_ERROR", "failed to list conversations", true, nil)
		return
	}

	payload := make([]conversationSummaryResponse, 0, len(summaries))
	for _, summary := range summaries {
		payload = append(payload, conversationSummaryResponse{
			ConversationID: summary.ConversationID,
			Title:          summary.Title,
			CreatedAt:      summary.CreatedAt,
			LastActivity:   summary.LastActivity,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": payload})
}

func handleConversationContext(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	identity, conversationID, ok := resolveConversationAccess(deps, w, r)
	if !ok {
		return
	}

	history, err := deps.Conversations.History(r.Context(), identity.UserID, conversationID, conversationReadLimit)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "STORE_ERROR", "failed to load history", true, nil)
		return
	}

	payload := make([]exchangeResponse, 0, len(history))
	for _, exchange := range history {
		payload = append(payload, exchangeResponse{
			Question:  exchange.Question,
			SQL:       exchange.SQL,
			CreatedAt: exchange.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conversationID,
		"exchanges":       payload,
	})
}

// handleConversationMessages rebuilds the visible transcript by re-executing
// each stored statement against the current data. Results are live, not
// snapshots: the data may have changed since the question was first asked.
func handleConversationMessages(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	identity, conversationID, ok := resolveConversationAccess(deps, w, r)
	if !ok {
		return
	}

	history, err := deps.Conversations.History(r.Context(), identity.UserID, conversationID, conversationReadLimit)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "STORE_ERROR", "failed to load history", true, nil)
		return
	}

	messages := make([]messageResponse, 0, len(history))
	for _, exchange := range history {
		result := deps.Executor.Execute(r.Context(), exchange.SQL)
		var chart *viz.Spec
		if viz.ShouldChart(exchange.Question, result) {
			chart = viz.Build(exchange.Question, result)
		}
		messages = append(messages, messageResponse{
			Question:  exchange.Question,
			SQL:       exchange.SQL,
			Result:    result,
			Chart:     chart,
			CreatedAt: exchange.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conversationID,
		"messages":        messages,
	})
}

func handleDeleteConversation(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	identity, conversationID, ok := resolveConversationAccess(deps, w, r)
	if !ok {
		return
	}

	if err := deps.Conversations.Delete(r.Context(), identity.UserID, conversationID); err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "STORE_ERROR", "failed to delete conversation", true, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// resolveConversationAccess extracts the caller and the path's conversation
// id, then enforces ownership: unknown conversations read as 404 and foreign
// ones as 403. On failure the error response is already written.
func resolveConversationAccess(deps Dependencies, w http.ResponseWriter, r *http.Request) (auth.Identity, string, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(r.Context(), w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity", false, nil)
		return auth.Identity{}, "", false
	}

	conversationID := r.PathValue("id")
	if conversationID == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "CONVERSATION_ID_REQUIRED", "conversation id is required", false, nil)
		return auth.Identity{}, "", false
	}

	owner, err := deps.Conversations.ResolveOwner(r.Context(), conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "CONVERSATION_NOT_FOUND", "conversation does not exist", false, nil)
			return auth.Identity{}, "", false
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "STORE_ERROR", "failed to resolve conversation", true, nil)
		return auth.Identity{}, "", false
	}
	if owner != identity.UserID {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", "conversation belongs to another user", false, nil)
		return auth.Identity{}, "", false
	}
	return identity, conversationID, true
}
