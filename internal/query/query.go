package query

import "context"

// Result is the outcome of executing one statement. Err and the data fields
// are mutually exclusive: a failed execution carries only the error text, a
// successful one carries columns and rows and an empty Err.
type Result struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
	Err     string   `json:"error,omitempty"`
}

// Failed reports whether the execution produced an error instead of data.
func (r Result) Failed() bool {
	return r.Err != ""
}

// Executor runs a single SQL statement against the data store. Execution
// failures are reported inside the Result, not as a Go error, so callers
// treat them as ordinary outcomes.
type Executor interface {
	Execute(ctx context.Context, sql string) Result
}
