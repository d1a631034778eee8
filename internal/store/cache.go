package store

import (
	"context"
	"sync"

	"github.com/askdb/askdb/internal/observability"
)

type cacheKey struct {
	userID         int64
	conversationID string
}

type cacheEntry struct {
	// window is the limit the entry was read with; the entry can serve any
	// request for that many trailing exchanges or fewer.
	window    int
	exchanges []Exchange
}

// CachedConversations layers an in-process history cache over a durable
// Conversations implementation. The cache is a performance accelerant, not a
// source of truth: any durable write invalidates the affected entry instead
// of updating it in place, and the next read repopulates from the store so
// both representations always reconstruct identical ordering.
//
// Concurrent asks on the same conversation race; the last writer's
// invalidation wins, which is the accepted lost-update behavior.
type CachedConversations struct {
	durable Conversations

	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
}

func NewCachedConversations(durable Conversations) *CachedConversations {
	return &CachedConversations{
		durable: durable,
		entries: map[cacheKey]cacheEntry{},
	}
}

func (c *CachedConversations) ResolveOwner(ctx context.Context, conversationID string) (int64, error) {
	return c.durable.ResolveOwner(ctx, conversationID)
}

func (c *CachedConversations) Claim(ctx context.Context, conversationID string, userID int64) error {
	return c.durable.Claim(ctx, conversationID, userID)
}

func (c *CachedConversations) Authorize(ctx context.Context, conversationID string, userID int64) (bool, error) {
	return c.durable.Authorize(ctx, conversationID, userID)
}

func (c *CachedConversations) AppendExchange(ctx context.Context, userID int64, conversationID, question, sql string) error {
	err := c.durable.AppendExchange(ctx, userID, conversationID, question, sql)
	if err != nil {
		return err
	}
	c.invalidate(userID, conversationID)
	return nil
}

func (c *CachedConversations) History(ctx context.Context, userID int64, conversationID string, limit int) ([]Exchange, error) {
	key := cacheKey{userID: userID, conversationID: conversationID}

	c.mu.Lock()
	cached, ok := c.entries[key]
	c.mu.Unlock()

	hit := ok && cached.window >= limit
	observability.ObserveHistoryCache(hit)
	if hit {
		return tail(cached.exchanges, limit), nil
	}

	// Miss, or the cached window is narrower than requested: read through.
	exchanges, err := c.durable.History(ctx, userID, conversationID, limit)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{window: limit, exchanges: exchanges}
	c.mu.Unlock()
	return exchanges, nil
}

func (c *CachedConversations) ListConversations(ctx context.Context, userID int64) ([]ConversationSummary, error) {
	return c.durable.ListConversations(ctx, userID)
}

func (c *CachedConversations) Delete(ctx context.Context, userID int64, conversationID string) error {
	if err := c.durable.Delete(ctx, userID, conversationID); err != nil {
		return err
	}
	c.invalidate(userID, conversationID)
	return nil
}

func (c *CachedConversations) invalidate(userID int64, conversationID string) {
	c.mu.Lock()
	delete(c.entries, cacheKey{userID: userID, conversationID: conversationID})
	c.mu.Unlock()
}

func tail(exchanges []Exchange, limit int) []Exchange {
	if limit <= 0 || len(exchanges) <= limit {
		return exchanges
	}
	return exchanges[len(exchanges)-limit:]
}
