package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type DBConfig struct {
	Path        string
	BusyTimeout time.Duration
}

// Open opens (and creates if missing) the single-node SQLite database shared
// by the conversation store, the query executor and the schema introspector.
func Open(ctx context.Context, cfg DBConfig) (*sql.DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := sql.Open("sqlite3", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	return db, nil
}

// DSN renders the mattn/go-sqlite3 connection string for cfg, enabling
// foreign keys and a busy timeout so concurrent short-lived writers back off
// instead of failing immediately.
func DSN(cfg DBConfig) string {
	busyMs := int64(5000)
	if cfg.BusyTimeout > 0 {
		busyMs = cfg.BusyTimeout.Milliseconds()
	}
	params := url.Values{}
	params.Set("_foreign_keys", "on")
	params.Set("_busy_timeout", strconv.FormatInt(busyMs, 10))
	return "file:" + cfg.Path + "?" + params.Encode()
}
