package sqlite

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/askdb/askdb/internal/query"
)

// Engine executes generated SQL against the SQLite database. Every call opens
// its own connection and closes it before returning, so a statement that
// wedges a connection never leaks into later requests.
type Engine struct {
	dsn string
}

func NewEngine(dsn string) *Engine {
	return &Engine{dsn: dsn}
}

// Execute runs one statement and materializes the full result set. Any
// failure, from open through row iteration, lands in Result.Err. The driver
// accepts an empty statement as a silent no-op, so it is rejected here to
// keep the error contract: a failed generation must produce a failed
// execution, not an empty success.
func (e *Engine) Execute(ctx context.Context, sqlText string) query.Result {
	if strings.TrimSpace(sqlText) == "" {
		return query.Result{Err: "near \"\": syntax error: empty statement"}
	}

	db, err := sql.Open("sqlite3", e.dsn)
	if err != nil {
		return query.Result{Err: err.Error()}
	}
	defer func() { _ = db.Close() }()

	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return query.Result{Err: err.Error()}
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.Result{Err: err.Error()}
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.Result{Err: err.Error()}
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return query.Result{Err: err.Error()}
	}

	return query.Result{Columns: columns, Rows: resultRows}
}

// Drivers hand back []byte for TEXT affinity; rendered results want strings.
func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}
