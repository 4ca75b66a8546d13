package routingports

import (
	"context"
	"time"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one recorded user or assistant message within a session.
// Sequence is assigned by the store, never the caller, and is strictly
// increasing within a session.
type Turn struct {
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Sequence  int64     `json:"sequence"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionStats summarizes one session's log.
type SessionStats struct {
	Count          int       `json:"count"`
	UserCount      int       `json:"user_count"`
	AssistantCount int       `json:"assistant_count"`
	FirstTimestamp time.Time `json:"first_timestamp"`
	LastTimestamp  time.Time `json:"last_timestamp"`
}

// SessionStore is the durable, capacity-bounded session log. A session is
// implicitly created on first append and exists only as the set of turns
// sharing its id. After any append the per-session turn count never exceeds
// the configured cap; eviction removes oldest turns first and is atomic
// with the append that triggered it.
type SessionStore interface {
	// Append persists one turn and returns its store-assigned sequence.
	// Failures of the backing medium wrap ErrStoreIO.
	Append(ctx context.Context, sessionID string, role Role, content string) (int64, error)

	// Read returns up to limit turns oldest-to-newest. A session with no
	// turns yields an empty slice, not an error.
	Read(ctx context.Context, sessionID string, limit int) ([]Turn, error)

	// Clear deletes all turns for the session. Idempotent.
	Clear(ctx context.Context, sessionID string) error

	// ListSessions returns the distinct session ids currently present.
	ListSessions(ctx context.Context) ([]string, error)

	// Stats reports counts and first/last timestamps. With strict set, an
	// absent session yields ErrNotFound; otherwise zeros.
	Stats(ctx context.Context, sessionID string, strict bool) (SessionStats, error)
}
