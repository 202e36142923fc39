// Package storage persists agent conversation history so an agent picking
// up a follow-up event sees the prior exchange for the same work item.
package storage

import (
	"context"
	"time"
)

// ConversationRecord is one message in an agent conversation. A
// conversation is identified by agent name plus session id (for webhook
// work, the session is derived from the issue or PR number).
type ConversationRecord struct {
	Agent     string
	SessionID string
	Role      string
	Content   string
	CreatedAt time.Time
}

// Store defines the persistence interface for conversation history.
// History returns records in append order; a limit of zero or less means
// no limit.
type Store interface {
	AppendMessage(ctx context.Context, record ConversationRecord) error
	History(ctx context.Context, agent, sessionID string, limit int) ([]ConversationRecord, error)
	Clear(ctx context.Context, agent, sessionID string) error
	Close() error
}
