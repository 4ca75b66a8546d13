// Package memory provides the in-process view over the durable session log:
// recent history for prompt construction, and exchange recording.
package memory

import (
	"context"
	"fmt"

	ports "github.com/opsdeck/opsrouter/opsr/routing/ports"
)

// Strategy shapes the chronological turn window handed to callers. The
// session store never knows which strategy is active.
type Strategy interface {
	Shape(ctx context.Context, turns []ports.Turn) ([]ports.Turn, error)
}

// SessionMemory is a thin facade over a SessionStore.
type SessionMemory struct {
	store    ports.SessionStore
	strategy Strategy
	maxTurns int // default window when the caller passes 0
}

// New creates a session memory facade. A nil strategy means plain FIFO
// windowing.
func New(store ports.SessionStore, strategy Strategy, maxTurns int) *SessionMemory {
	if strategy == nil {
		strategy = WindowStrategy{}
	}
	return &SessionMemory{
		store:    store,
		strategy: strategy,
		maxTurns: maxTurns,
	}
}

// ContextFor returns up to maxTurns turns for the session in chronological
// order, shaped by the configured strategy, ready for inclusion in a
// downstream prompt.
func (m *SessionMemory) ContextFor(ctx context.Context, sessionID string, maxTurns int) ([]ports.Turn, error) {
	if maxTurns <= 0 {
		maxTurns = m.maxTurns
	}
	turns, err := m.store.Read(ctx, sessionID, maxTurns)
	if err != nil {
		return nil, fmt.Errorf("load context for %q: %w", sessionID, err)
	}
	return m.strategy.Shape(ctx, turns)
}

// RecordExchange appends the user and assistant turns as a logical unit.
// Multi-turn atomicity is deliberately not provided: if the assistant
// append fails after the user append succeeded, the orphaned user turn is
// kept (partial conversational context is still useful context) and the
// condition is surfaced in the returned error.
func (m *SessionMemory) RecordExchange(ctx context.Context, sessionID, userText, assistantText string) error {
	userSeq, err := m.store.Append(ctx, sessionID, ports.RoleUser, userText)
	if err != nil {
		return fmt.Errorf("record user turn: %w", err)
	}
	if _, err := m.store.Append(ctx, sessionID, ports.RoleAssistant, assistantText); err != nil {
		return fmt.Errorf("record assistant turn (user turn %d kept): %w", userSeq, err)
	}
	return nil
}

// Store exposes the underlying session store for session management
// commands (stats, clear, list).
func (m *SessionMemory) Store() ports.SessionStore {
	return m.store
}

// WindowStrategy is the default: the FIFO window is returned as-is, the
// store's capacity policy having already bounded it.
type WindowStrategy struct{}

func (WindowStrategy) Shape(ctx context.Context, turns []ports.Turn) ([]ports.Turn, error) {
	return turns, nil
}

var (
	_ Strategy = WindowStrategy{}
	_ Strategy = (*SummarizeStrategy)(nil)
)
