// Package pipeline orchestrates one ask request end to end: resolve the
// conversation context, generate SQL from the question, execute it, persist
// the exchange and decide whether the result deserves a chart.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/schema"
	"github.com/askdb/askdb/internal/store"
	"github.com/askdb/askdb/internal/viz"
)

// ErrForbidden is returned when the caller asks inside a conversation that
// belongs to another user. The check runs before any model call.
var ErrForbidden = errors.New("conversation belongs to another user")

// SchemaSource supplies the live table layout embedded in every prompt.
type SchemaSource interface {
	Tables(ctx context.Context) ([]schema.Table, error)
}

// Dependencies carries everything the service needs. All fields are required
// except Logger, which falls back to the default logger.
type Dependencies struct {
	Schema        SchemaSource
	Conversations store.Conversations
	Generator     nl2sql.Generator
	Executor      query.Executor
	Logger        *slog.Logger
	HistoryWindow int
}

type Service struct {
	deps Dependencies
}

func NewService(deps Dependencies) (*Service, error) {
	if deps.Schema == nil {
		return nil, fmt.Errorf("schema source is required")
	}
	if deps.Conversations == nil {
		return nil, fmt.Errorf("conversation store is required")
	}
	if deps.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if deps.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.HistoryWindow <= 0 {
		deps.HistoryWindow = 7
	}
	return &Service{deps: deps}, nil
}

// Request is one question from an authenticated user. ConversationID selects
// conversation mode; when it is empty, PriorExchanges supplies the context
// and nothing is persisted afterward.
type Request struct {
	UserID         int64
	Question       string
	ConversationID string
	PriorExchanges []store.Exchange
}

// Response is the pipeline outcome. SQL may be empty when generation failed;
// the Result then carries the execution error for that empty statement.
// ResponseType tells the client how to render: "chart" when a chart spec is
// attached, "table" otherwise.
type Response struct {
	ConversationID string       `json:"conversation_id,omitempty"`
	SQL            string       `json:"sql"`
	Result         query.Result `json:"result"`
	ResponseType   string       `json:"response_type"`
	Chart          *viz.Spec    `json:"chart,omitempty"`
}

// Ask runs the full pipeline for one question. The only error returns are
// authorization failures; every other failure degrades and is folded into
// the Response.
func (s *Service) Ask(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	logger := s.deps.Logger.With(
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.Int64("user_id", req.UserID),
		slog.String("conversation_id", req.ConversationID),
	)

	history, err := s.resolveContext(ctx, logger, req)
	if err != nil {
		return Response{}, err
	}

	tables, err := s.deps.Schema.Tables(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "schema introspection failed", "error", err)
		tables = nil
	}

	sql := s.deps.Generator.Generate(ctx, nl2sql.Request{
		Tables:   tables,
		History:  history,
		Question: req.Question,
	})
	if sql == "" {
		logger.WarnContext(ctx, "sql generation produced no statement")
	}

	result := s.deps.Executor.Execute(ctx, sql)
	if result.Failed() {
		logger.WarnContext(ctx, "sql execution failed", "error", result.Err, "sql", sql)
	}

	// The exchange is recorded even when generation or execution failed, so
	// follow-up prompts can see what was already tried. A persistence error
	// never reaches the caller.
	if req.ConversationID != "" {
		if err := s.deps.Conversations.AppendExchange(ctx, req.UserID, req.ConversationID, req.Question, sql); err != nil {
			logger.ErrorContext(ctx, "persisting exchange failed", "error", err)
			observability.IncrementPersistenceFailure()
		}
	}

	var chart *viz.Spec
	if viz.ShouldChart(req.Question, result) {
		chart = viz.Build(req.Question, result)
	}

	chartKind := ""
	responseType := "table"
	if chart != nil {
		chartKind = string(chart.Kind)
		responseType = "chart"
	}
	observability.ObserveAsk(sql != "", !result.Failed(), chart != nil, chartKind, time.Since(start))

	return Response{
		ConversationID: req.ConversationID,
		SQL:            sql,
		Result:         result,
		ResponseType:   responseType,
		Chart:          chart,
	}, nil
}

// resolveContext authorizes and claims the conversation, then loads its
// trailing history window. In stateless mode it caps the client-supplied
// exchanges to the same window instead. Only authorization can reject the
// request; claim and history storage errors degrade to an empty context.
func (s *Service) resolveContext(ctx context.Context, logger *slog.Logger, req Request) ([]store.Exchange, error) {
	if req.ConversationID == "" {
		prior := req.PriorExchanges
		if len(prior) > s.deps.HistoryWindow {
			prior = prior[len(prior)-s.deps.HistoryWindow:]
		}
		return prior, nil
	}

	allowed, err := s.deps.Conversations.Authorize(ctx, req.ConversationID, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("authorize conversation: %w", err)
	}
	if !allowed {
		return nil, ErrForbidden
	}

	// Claim is best-effort: AppendExchange re-claims transactionally, so a
	// failed claim here only costs the eager ownership record.
	if err := s.deps.Conversations.Claim(ctx, req.ConversationID, req.UserID); err != nil {
		logger.ErrorContext(ctx, "claiming conversation failed", "error", err)
	}

	history, err := s.deps.Conversations.History(ctx, req.UserID, req.ConversationID, s.deps.HistoryWindow)
	if err != nil {
		logger.ErrorContext(ctx, "loading history failed", "error", err)
		return nil, nil
	}
	return history, nil
}
