package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/pipeline"
	"github.com/askdb/askdb/internal/store"
)

type askExchange struct {
	Question string `json:"question"`
	SQL      string `json:"sql"`
}

type askRequest struct {
	Question       string        `json:"question"`
	ConversationID string        `json:"conversation_id"`
	History        []askExchange `json:"history"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(r.Context(), w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity", false, nil)
		return
	}

	var request askRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	prior := make([]store.Exchange, 0, len(request.History))
	for _, exchange := range request.History {
		prior = append(prior, store.Exchange{Question: exchange.Question, SQL: exchange.SQL})
	}

	response, err := deps.Pipeline.Ask(r.Context(), pipeline.Request{
		UserID:         identity.UserID,
		Question:       request.Question,
		ConversationID: strings.TrimSpace(request.ConversationID),
		PriorExchanges: prior,
	})
	if err != nil {
		if errors.Is(err, pipeline.ErrForbidden) {
			writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", "conversation belongs to another user", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "PIPELINE_ERROR", "failed to process question", true, map[string]any{"details": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, response)
}
