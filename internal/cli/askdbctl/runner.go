// Package askdbctl implements the operator CLI: health probes and
// conversation listing go through the HTTP API, while prune talks to the
// SQLite file directly for the occasions when the API is down.
package askdbctl

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	sqlitestore "github.com/askdb/askdb/internal/store/sqlite"
)

type Options struct {
	BaseURL      string
	Token        string
	DatabasePath string
	Timeout      time.Duration
	HTTPClient   *http.Client
	Stdout       io.Writer
	Stderr       io.Writer
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("askdbctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "askdb API base URL")
	token := fs.String("token", defaults.Token, "bearer token for authenticated commands")
	databasePath := fs.String("db", firstNonEmpty(defaults.DatabasePath, "askdb.db"), "SQLite database path (prune only)")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 10*time.Second), "HTTP timeout (e.g. 10s)")
	olderThan := fs.Duration("older-than", 0, "prune only conversations idle at least this long (0 prunes everything)")
	yes := fs.Bool("yes", false, "confirm destructive commands without prompting")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	command := strings.TrimSpace(fs.Arg(0))
	switch command {
	case "health":
		return runHTTP(ctx, client, stdout, stderr, http.MethodGet, *baseURL, "/v1/health", *token)
	case "ready":
		return runHTTP(ctx, client, stdout, stderr, http.MethodGet, *baseURL, "/v1/ready", *token)
	case "conversations":
		return runHTTP(ctx, client, stdout, stderr, http.MethodGet, *baseURL, "/v1/conversations", *token)
	case "delete":
		if fs.NArg() < 2 {
			_, _ = fmt.Fprintln(stderr, "delete requires a conversation id")
			return 2
		}
		if !*yes {
			_, _ = fmt.Fprintln(stderr, "delete is destructive; re-run with -yes to confirm")
			return 2
		}
		return runHTTP(ctx, client, stdout, stderr, http.MethodDelete, *baseURL, "/v1/conversations/"+fs.Arg(1), *token)
	case "prune":
		if !*yes {
			_, _ = fmt.Fprintln(stderr, "prune deletes conversations and their history; re-run with -yes to confirm")
			return 2
		}
		return runPrune(ctx, stdout, stderr, *databasePath, *olderThan)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}
}

func runHTTP(ctx context.Context, client *http.Client, stdout, stderr io.Writer, method, baseURL, path, token string) int {
	endpoint := strings.TrimRight(baseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}
	req.Header.Set("Accept", "application/json")
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}

	resp, err := client.Do(req)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if resp.StatusCode >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", resp.StatusCode, strings.TrimSpace(string(body)))
		return 1
	}

	if pretty, ok := prettyJSON(body); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(body) > 0 {
		_, _ = fmt.Fprintln(stdout, string(body))
	} else {
		_, _ = fmt.Fprintln(stdout, "ok")
	}
	return 0
}

// runPrune removes conversations whose last activity is older than the
// cutoff, together with their exchanges, in one transaction. A zero
// olderThan prunes everything.
func runPrune(ctx context.Context, stdout, stderr io.Writer, databasePath string, olderThan time.Duration) int {
	db, err := sqlitestore.Open(ctx, sqlitestore.DBConfig{Path: databasePath})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "open database: %v\n", err)
		return 1
	}
	defer func() { _ = db.Close() }()

	cutoff := time.Now().UTC().Add(-olderThan)
	exchanges, conversations, err := pruneConversations(ctx, db, cutoff)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "prune failed: %v\n", err)
		return 1
	}

	_, _ = fmt.Fprintf(stdout, "deleted %d exchanges and %d conversations\n", exchanges, conversations)
	return 0
}

// Last activity is the newest exchange timestamp, falling back to the
// conversation's own creation time when it has no exchanges yet.
const staleConversationsQuery = `
SELECT c.conversation_id
FROM conversations c
WHERE COALESCE(
	(SELECT MAX(e.created_at) FROM exchanges e WHERE e.conversation_id = c.conversation_id),
	c.created_at
) < ?`

func pruneConversations(ctx context.Context, db *sql.DB, cutoff time.Time) (int64, int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Exchanges go first so a mid-way failure cannot orphan them.
	exchangeResult, err := tx.ExecContext(ctx,
		`DELETE FROM exchanges WHERE conversation_id IN (`+staleConversationsQuery+`)`, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("delete exchanges: %w", err)
	}
	conversationResult, err := tx.ExecContext(ctx,
		`DELETE FROM conversations WHERE conversation_id IN (`+staleConversationsQuery+`)`, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("delete conversations: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit prune: %w", err)
	}

	exchanges, _ := exchangeResult.RowsAffected()
	conversations, _ := conversationResult.RowsAffected()
	return exchanges, conversations, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: askdbctl [flags] <command>")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health           GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready            GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  conversations    GET /v1/conversations (requires -token)")
	_, _ = fmt.Fprintln(w, "  delete <id>      DELETE /v1/conversations/<id> (requires -token and -yes)")
	_, _ = fmt.Fprintln(w, "  prune            delete idle conversations from the local database (requires -yes; see -older-than)")
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func durationOr(value, fallback time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return fallback
}
