package nl2sql

import (
	"strings"
	"testing"

	"github.com/askdb/askdb/internal/schema"
	"github.com/askdb/askdb/internal/store"
)

func TestBuildPromptIncludesSchemaAndQuestion(t *testing.T) {
	prompt := BuildPrompt(
		[]schema.Table{{Name: "sales", Columns: []string{"month", "revenue"}}},
		nil,
		"total revenue by month",
	)

	if !strings.Contains(prompt, "sales: month, revenue") {
		t.Fatalf("prompt missing schema line:\n%s", prompt)
	}
	if !strings.Contains(prompt, "Current question: total revenue by month") {
		t.Fatalf("prompt missing question:\n%s", prompt)
	}
	if strings.Contains(prompt, "Previous conversation context") {
		t.Fatalf("empty history must not produce a context block:\n%s", prompt)
	}
	if !strings.HasSuffix(prompt, "SQL Query:") {
		t.Fatalf("prompt must end with the generation cue:\n%s", prompt)
	}
}

func TestBuildPromptNumbersHistoryOldestFirst(t *testing.T) {
	history := []store.Exchange{
		{Question: "list customers", SQL: "SELECT * FROM customers"},
		{Question: "only active ones", SQL: "SELECT * FROM customers WHERE active = 1"},
	}

	prompt := BuildPrompt(nil, history, "how many are there")

	first := strings.Index(prompt, `1. User asked: "list customers"`)
	second := strings.Index(prompt, `2. User asked: "only active ones"`)
	if first < 0 || second < 0 || second < first {
		t.Fatalf("history entries missing or out of order:\n%s", prompt)
	}
	if !strings.Contains(prompt, "Generated SQL: SELECT * FROM customers WHERE active = 1") {
		t.Fatalf("prompt missing prior SQL:\n%s", prompt)
	}
	if !strings.Contains(prompt, "references like 'that', 'those', 'same'") {
		t.Fatalf("prompt missing reference-resolution instruction:\n%s", prompt)
	}
}

func TestBuildPromptCarriesEmptyPriorSQL(t *testing.T) {
	history := []store.Exchange{{Question: "what happened", SQL: ""}}

	prompt := BuildPrompt(nil, history, "try again")

	if !strings.Contains(prompt, `1. User asked: "what happened"`) {
		t.Fatalf("failed exchange must still appear in context:\n%s", prompt)
	}
}
