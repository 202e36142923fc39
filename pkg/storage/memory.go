package storage

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryStore keeps conversation history in process memory. It is the
// default backend; history is lost on restart.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string][]ConversationRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]ConversationRecord)}
}

func sessionKey(agent, sessionID string) string {
	return agent + "\x00" + sessionID
}

// AppendMessage appends one record to its conversation.
func (m *MemoryStore) AppendMessage(ctx context.Context, record ConversationRecord) error {
	if record.Agent == "" || record.SessionID == "" {
		return errors.New("agent and session id are required")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	key := sessionKey(record.Agent, record.SessionID)
	m.mu.Lock()
	m.sessions[key] = append(m.sessions[key], record)
	m.mu.Unlock()
	return nil
}

// History returns the most recent limit records in append order.
func (m *MemoryStore) History(ctx context.Context, agent, sessionID string, limit int) ([]ConversationRecord, error) {
	key := sessionKey(agent, sessionID)
	m.mu.Lock()
	records := m.sessions[key]
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	out := make([]ConversationRecord, len(records))
	copy(out, records)
	m.mu.Unlock()
	return out, nil
}

// Clear drops a conversation.
func (m *MemoryStore) Clear(ctx context.Context, agent, sessionID string) error {
	m.mu.Lock()
	delete(m.sessions, sessionKey(agent, sessionID))
	m.mu.Unlock()
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}
