package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/askdb/askdb/internal/store"
)

const defaultTitleLength = 50

// Repository is the durable side of the conversation store, backed by the
// users, conversations and exchanges tables.
type Repository struct {
	db          *sql.DB
	titleLength int
}

func NewRepository(db *sql.DB, titleLength int) *Repository {
	if titleLength <= 0 {
		titleLength = defaultTitleLength
	}
	return &Repository{db: db, titleLength: titleLength}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping store db: %w", err)
	}
	return nil
}

func (r *Repository) CreateUser(ctx context.Context, name, email, passwordHash string) (store.User, error) {
	query := `
INSERT INTO users (name, email, password_hash, created_at)
VALUES (?, ?, ?, ?)`
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, query, name, email, passwordHash, now)
	if err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return store.User{}, fmt.Errorf("create user id: %w", err)
	}
	return store.User{
		ID:           id,
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
	}, nil
}

func (r *Repository) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	query := `
SELECT id, name, email, password_hash, created_at
FROM users
WHERE email = ?`

	var user store.User
	if err := r.db.QueryRowContext(ctx, query, email).Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&user.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.User{}, store.ErrNotFound
		}
		return store.User{}, fmt.Errorf("get user by email: %w", err)
	}
	return user, nil
}

func (r *Repository) GetUserByID(ctx context.Context, id int64) (store.User, error) {
	query := `
SELECT id, name, email, password_hash, created_at
FROM users
WHERE id = ?`

	var user store.User
	if err := r.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&user.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.User{}, store.ErrNotFound
		}
		return store.User{}, fmt.Errorf("get user by id: %w", err)
	}
	return user, nil
}

func (r *Repository) ResolveOwner(ctx context.Context, conversationID string) (int64, error) {
	query := `
SELECT user_id
FROM conversations
WHERE conversation_id = ?`

	var owner int64
	if err := r.db.QueryRowContext(ctx, query, conversationID).Scan(&owner); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, fmt.Errorf("resolve conversation owner: %w", err)
	}
	return owner, nil
}

// Claim records userID as the owner of conversationID if it is unclaimed.
// First writer wins: a second claim for an existing conversation is a no-op.
func (r *Repository) Claim(ctx context.Context, conversationID string, userID int64) error {
	query := `
INSERT INTO conversations (conversation_id, user_id, created_at)
VALUES (?, ?, ?)
ON CONFLICT (conversation_id) DO NOTHING`

	if _, err := r.db.ExecContext(ctx, query, conversationID, userID, time.Now().UTC()); err != nil {
		return fmt.Errorf("claim conversation: %w", err)
	}
	return nil
}

func (r *Repository) Authorize(ctx context.Context, conversationID string, userID int64) (bool, error) {
	owner, err := r.ResolveOwner(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return true, nil
		}
		return false, err
	}
	return owner == userID, nil
}

// AppendExchange persists one exchange and implicitly claims the
// conversation when it is new. Both writes happen in one transaction.
func (r *Repository) AppendExchange(ctx context.Context, userID int64, conversationID, question, sqlText string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	claimQuery := `
INSERT INTO conversations (conversation_id, user_id, created_at)
VALUES (?, ?, ?)
ON CONFLICT (conversation_id) DO NOTHING`
	if _, err := tx.ExecContext(ctx, claimQuery, conversationID, userID, now); err != nil {
		return fmt.Errorf("claim conversation: %w", err)
	}

	insertQuery := `
INSERT INTO exchanges (user_id, conversation_id, question, sql_text, created_at)
VALUES (?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insertQuery, userID, conversationID, question, sqlText, now); err != nil {
		return fmt.Errorf("append exchange: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append tx: %w", err)
	}
	return nil
}

// History returns the most recent limit exchanges in chronological order
// (oldest first), so a prompt built from it reads top to bottom. Ties on
// created_at are broken by insertion order.
func (r *Repository) History(ctx context.Context, userID int64, conversationID string, limit int) ([]store.Exchange, error) {
	query := `
SELECT question, sql_text, created_at FROM (
	SELECT id, question, sql_text, created_at
	FROM exchanges
	WHERE user_id = ? AND conversation_id = ?
	ORDER BY created_at DESC, id DESC
	LIMIT ?
) ORDER BY created_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, userID, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	exchanges := make([]store.Exchange, 0)
	for rows.Next() {
		var exchange store.Exchange
		if err := rows.Scan(&exchange.Question, &exchange.SQL, &exchange.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan exchange row: %w", err)
		}
		exchanges = append(exchanges, exchange)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exchange rows: %w", err)
	}
	return exchanges, nil
}

func (r *Repository) ListConversations(ctx context.Context, userID int64) ([]store.ConversationSummary, error) {
	query := `
SELECT
	c.conversation_id,
	c.created_at,
	(SELECT question FROM exchanges
	 WHERE conversation_id = c.conversation_id AND user_id = c.user_id
	 ORDER BY created_at ASC, id ASC LIMIT 1) AS first_question,
	(SELECT MAX(created_at) FROM exchanges
	 WHERE conversation_id = c.conversation_id AND user_id = c.user_id) AS last_activity
FROM conversations c
WHERE c.user_id = ?
ORDER BY COALESCE(last_activity, c.created_at) DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	summaries := make([]store.ConversationSummary, 0)
	for rows.Next() {
		var (
			summary       store.ConversationSummary
			firstQuestion sql.NullString
			lastActivity  sql.NullTime
		)
		if err := rows.Scan(&summary.ConversationID, &summary.CreatedAt, &firstQuestion, &lastActivity); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		summary.Title = conversationTitle(firstQuestion.String, r.titleLength)
		if lastActivity.Valid {
			summary.LastActivity = lastActivity.Time
		} else {
			summary.LastActivity = summary.CreatedAt
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}
	return summaries, nil
}

// Delete removes a conversation and all its exchanges atomically, leaving
// the id unclaimed.
func (r *Repository) Delete(ctx context.Context, userID int64, conversationID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
DELETE FROM exchanges
WHERE user_id = ? AND conversation_id = ?`, userID, conversationID); err != nil {
		return fmt.Errorf("delete exchanges: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
DELETE FROM conversations
WHERE user_id = ? AND conversation_id = ?`, userID, conversationID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete tx: %w", err)
	}
	return nil
}

func conversationTitle(firstQuestion string, maxLength int) string {
	if firstQuestion == "" {
		return "New Chat"
	}
	runes := []rune(firstQuestion)
	if len(runes) <= maxLength {
		return firstQuestion
	}
	return string(runes[:maxLength])
}
