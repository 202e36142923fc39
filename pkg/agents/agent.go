package agents

import (
	"context"
	"fmt"

	"sdlcsquad/pkg/storage"
)

// historyLimit bounds how much prior conversation is replayed per request.
const historyLimit = 40

// Agent is one squad member: a system prompt, a completion backend, and
// access to the shared operation registry and conversation store.
type Agent struct {
	Name        string
	Description string

	systemPrompt string
	completer    Completer
	registry     *Registry
	store        storage.Store
}

// NewAgent creates an agent. The store may be nil, in which case every
// request starts a fresh conversation.
func NewAgent(name, description, systemPrompt string, completer Completer, registry *Registry, store storage.Store) *Agent {
	return &Agent{
		Name:         name,
		Description:  description,
		systemPrompt: systemPrompt,
		completer:    completer,
		registry:     registry,
		store:        store,
	}
}

// Respond runs one conversation turn: prior history for the session is
// replayed, the completion is produced, and both sides are persisted.
func (a *Agent) Respond(ctx context.Context, sessionID, input string) (string, error) {
	if input == "" {
		return "", fmt.Errorf("%s: empty input", a.Name)
	}

	messages, err := a.history(ctx, sessionID)
	if err != nil {
		return "", err
	}
	messages = append(messages, Message{Role: "user", Content: input})

	reply, err := a.completer.Complete(ctx, CompletionRequest{
		System:   a.systemPrompt,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", a.Name, err)
	}

	a.persist(ctx, sessionID, "user", input)
	a.persist(ctx, sessionID, "assistant", reply)
	return reply, nil
}

// Execute runs a repository operation on the agent's behalf.
func (a *Agent) Execute(ctx context.Context, operation string, input map[string]interface{}) (interface{}, error) {
	if a.registry == nil {
		return nil, fmt.Errorf("%s: no operations registered", a.Name)
	}
	return a.registry.Execute(ctx, operation, input)
}

func (a *Agent) history(ctx context.Context, sessionID string) ([]Message, error) {
	if a.store == nil || sessionID == "" {
		return nil, nil
	}
	records, err := a.store.History(ctx, a.Name, sessionID, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("%s: load history: %w", a.Name, err)
	}
	messages := make([]Message, 0, len(records))
	for _, record := range records {
		messages = append(messages, Message{Role: record.Role, Content: record.Content})
	}
	return messages, nil
}

func (a *Agent) persist(ctx context.Context, sessionID, role, content string) {
	if a.store == nil || sessionID == "" {
		return
	}
	_ = a.store.AppendMessage(ctx, storage.ConversationRecord{
		Agent:     a.Name,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
	})
}
