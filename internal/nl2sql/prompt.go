package nl2sql

import (
	"fmt"
	"strings"

	"github.com/askdb/askdb/internal/schema"
	"github.com/askdb/askdb/internal/store"
)

// BuildPrompt renders the generation prompt: the schema, the numbered
// conversation window when one exists, the generation rules, and the current
// question. History must already be trimmed and ordered oldest first.
func BuildPrompt(tables []schema.Table, history []store.Exchange, question string) string {
	var b strings.Builder

	b.WriteString("Database Schema:\n")
	b.WriteString(formatSchema(tables))
	b.WriteString("\n")

	if len(history) > 0 {
		b.WriteString("\nPrevious conversation context:\n")
		for idx, exchange := range history {
			fmt.Fprintf(&b, "%d. User asked: %q\n", idx+1, exchange.Question)
			fmt.Fprintf(&b, "   Generated SQL: %s\n", exchange.SQL)
		}
		b.WriteString("\nUse this context to understand references like 'that', 'those', 'same', etc.\n")
	}

	b.WriteString("\nYou are an SQL generator. Output ONLY valid SQL query, nothing else.\n")
	b.WriteString("- Use ONLY the tables and columns from the schema above\n")
	b.WriteString("- If the user refers to previous queries (like \"show more\", \"same but...\", \"those results\"), use the context\n")
	b.WriteString("- For follow-up questions, maintain continuity with previous queries\n")

	fmt.Fprintf(&b, "\nCurrent question: %s\n", strings.TrimSpace(question))
	b.WriteString("\nSQL Query:")

	return b.String()
}

func formatSchema(tables []schema.Table) string {
	if len(tables) == 0 {
		return "(no user tables)\n"
	}
	var b strings.Builder
	for _, table := range tables {
		fmt.Fprintf(&b, "%s: %s\n", table.Name, strings.Join(table.Columns, ", "))
	}
	return b.String()
}
