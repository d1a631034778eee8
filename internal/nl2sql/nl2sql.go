package nl2sql

import (
	"context"

	"github.com/askdb/askdb/internal/schema"
	"github.com/askdb/askdb/internal/store"
)

// Request carries everything the generator needs to produce SQL for one
// question: the live schema, the conversation window, and the question itself.
type Request struct {
	Tables   []schema.Table
	History  []store.Exchange
	Question string
}

// Generator produces a SQL statement for a natural-language question.
// Generation is best effort: any failure yields the empty string, never an
// error, so the pipeline records the attempt and moves on.
type Generator interface {
	Generate(ctx context.Context, req Request) string
}
