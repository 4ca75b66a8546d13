package adapters

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	ports "github.com/opsdeck/opsrouter/opsr/routing/ports"
)

// sessionStripes bounds the number of per-session append locks. Appends to
// the same session always hash to the same stripe, which serializes the
// append+evict transaction per session while independent sessions proceed
// concurrently.
const sessionStripes = 64

// LibSQLSessionLog implements SessionStore on the embedded libsql database.
// It is the durable, capacity-bounded conversation log: turns survive
// process restarts, and each session is truncated FIFO to maxMessages.
type LibSQLSessionLog struct {
	db          *sql.DB
	maxMessages int // 0 = unlimited
	stripes     [sessionStripes]sync.Mutex
}

// NewLibSQLSessionLog creates a session log over db, capping each session
// at maxMessages turns (0 disables the cap).
func NewLibSQLSessionLog(db *sql.DB, maxMessages int) *LibSQLSessionLog {
	return &LibSQLSessionLog{
		db:          db,
		maxMessages: maxMessages,
	}
}

func (s *LibSQLSessionLog) lockFor(sessionID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	return &s.stripes[h.Sum32()%sessionStripes]
}

// Append persists one turn and enforces the capacity policy in the same
// transaction, so a crash can never leave a committed over-cap session.
// The sequence number is assigned here, never by the caller.
func (s *LibSQLSessionLog) Append(ctx context.Context, sessionID string, role ports.Role, content string) (int64, error) {
	if sessionID == "" {
		return 0, fmt.Errorf("session id must not be empty")
	}

	mu := s.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin append: %v", ports.ErrStoreIO, err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM turns WHERE session_id = ?`,
		sessionID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("%w: next sequence: %v", ports.ErrStoreIO, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO turns (session_id, seq, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		sessionID, seq, string(role), content, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: insert turn: %v", ports.ErrStoreIO, err)
	}

	// FIFO eviction. Live rows are contiguous in seq, so everything at or
	// below seq-cap is beyond the cap, including leftovers from a larger
	// cap in a previous run.
	if s.maxMessages > 0 {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM turns WHERE session_id = ? AND seq <= ?`,
			sessionID, seq-int64(s.maxMessages),
		)
		if err != nil {
			return 0, fmt.Errorf("%w: evict turns: %v", ports.ErrStoreIO, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit append: %v", ports.ErrStoreIO, err)
	}

	return seq, nil
}

// Read returns up to limit turns oldest-to-newest. The cap is re-applied
// here so that an over-cap state left by older data is never visible.
func (s *LibSQLSessionLog) Read(ctx context.Context, sessionID string, limit int) ([]ports.Turn, error) {
	if limit <= 0 {
		limit = s.maxMessages
	}
	if s.maxMessages > 0 && (limit <= 0 || limit > s.maxMessages) {
		limit = s.maxMessages
	}
	if limit <= 0 {
		// Unlimited store and no caller limit.
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, seq, role, content, created_at
		 FROM turns WHERE session_id = ?
		 ORDER BY seq DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: read turns: %v", ports.ErrStoreIO, err)
	}
	defer rows.Close()

	var turns []ports.Turn
	for rows.Next() {
		var t ports.Turn
		var role string
		if err := rows.Scan(&t.SessionID, &t.Sequence, &role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan turn: %v", ports.ErrStoreIO, err)
		}
		t.Role = ports.Role(role)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate turns: %v", ports.ErrStoreIO, err)
	}

	// Reverse to chronological order (oldest first).
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}

	return turns, nil
}

// Clear deletes all turns for the session. Idempotent.
func (s *LibSQLSessionLog) Clear(ctx context.Context, sessionID string) error {
	mu := s.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("%w: clear session: %v", ports.ErrStoreIO, err)
	}
	return nil
}

// ListSessions returns the distinct session ids currently present, sorted.
func (s *LibSQLSessionLog) ListSessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT session_id FROM turns ORDER BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("%w: list sessions: %v", ports.ErrStoreIO, err)
	}
	defer rows.Close()

	var sessions []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scan session id: %v", ports.ErrStoreIO, err)
		}
		sessions = append(sessions, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate sessions: %v", ports.ErrStoreIO, err)
	}
	return sessions, nil
}

// Stats reports per-session counts and first/last timestamps. An absent
// session yields zeros, or ErrNotFound when strict is set.
func (s *LibSQLSessionLog) Stats(ctx context.Context, sessionID string, strict bool) (ports.SessionStats, error) {
	var stats ports.SessionStats
	var first, last sql.NullTime

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        MIN(created_at),
		        MAX(created_at),
		        COUNT(CASE WHEN role = 'user' THEN 1 END),
		        COUNT(CASE WHEN role = 'assistant' THEN 1 END)
		 FROM turns WHERE session_id = ?`,
		sessionID,
	).Scan(&stats.Count, &first, &last, &stats.UserCount, &stats.AssistantCount)
	if err != nil {
		return ports.SessionStats{}, fmt.Errorf("%w: session stats: %v", ports.ErrStoreIO, err)
	}

	if stats.Count == 0 && strict {
		return ports.SessionStats{}, fmt.Errorf("session %q: %w", sessionID, ports.ErrNotFound)
	}
	if first.Valid {
		stats.FirstTimestamp = first.Time
	}
	if last.Valid {
		stats.LastTimestamp = last.Time
	}

	return stats, nil
}

// Ensure LibSQLSessionLog implements the SessionStore interface.
var _ ports.SessionStore = (*LibSQLSessionLog)(nil)
