package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// User is an account row. PasswordHash is a bcrypt digest and never leaves
// the store layer except for login verification.
type User struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Exchange is one recorded (question, generated SQL) pair within a
// conversation. Immutable once written.
type Exchange struct {
	Question  string
	SQL       string
	CreatedAt time.Time
}

// ConversationSummary describes one conversation for listing: the title is
// the leading substring of the first question asked in it.
type ConversationSummary struct {
	ConversationID string
	Title          string
	CreatedAt      time.Time
	LastActivity   time.Time
}

type Users interface {
	CreateUser(ctx context.Context, name, email, passwordHash string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, id int64) (User, error)
}

// Conversations is the durable conversation store. Ownership is first writer
// wins: ResolveOwner reports the persisted owner (ErrNotFound when the
// conversation does not exist yet), Claim idempotently records one, and
// Authorize combines the two checks for the pipeline.
type Conversations interface {
	ResolveOwner(ctx context.Context, conversationID string) (int64, error)
	Claim(ctx context.Context, conversationID string, userID int64) error
	Authorize(ctx context.Context, conversationID string, userID int64) (bool, error)
	AppendExchange(ctx context.Context, userID int64, conversationID, question, sql string) error
	History(ctx context.Context, userID int64, conversationID string, limit int) ([]Exchange, error)
	ListConversations(ctx context.Context, userID int64) ([]ConversationSummary, error)
	Delete(ctx context.Context, userID int64, conversationID string) error
}
