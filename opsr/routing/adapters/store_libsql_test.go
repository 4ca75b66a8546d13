package adapters

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdeck/opsrouter/opsr/db"
	ports "github.com/opsdeck/opsrouter/opsr/routing/ports"
)

func newTestLog(t *testing.T, maxMessages int) *LibSQLSessionLog {
	t.Helper()
	database, err := db.Connect(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return NewLibSQLSessionLog(database, maxMessages)
}

func TestAppend_AssignsIncreasingSequence(t *testing.T) {
	log := newTestLog(t, 0)
	ctx := context.Background()

	seq1, err := log.Append(ctx, "s1", ports.RoleUser, "first")
	require.NoError(t, err)
	seq2, err := log.Append(ctx, "s1", ports.RoleAssistant, "second")
	require.NoError(t, err)

	assert.EqualValues(t, 1, seq1)
	assert.EqualValues(t, 2, seq2)
}

func TestAppend_SequencesAreIndependentPerSession(t *testing.T) {
	log := newTestLog(t, 0)
	ctx := context.Background()

	seqA, err := log.Append(ctx, "a", ports.RoleUser, "x")
	require.NoError(t, err)
	seqB, err := log.Append(ctx, "b", ports.RoleUser, "y")
	require.NoError(t, err)

	assert.EqualValues(t, 1, seqA)
	assert.EqualValues(t, 1, seqB)
}

func TestAppend_EvictsOldestBeyondCap(t *testing.T) {
	log := newTestLog(t, 3)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := log.Append(ctx, "s1", ports.RoleUser, fmt.Sprintf("msg %d", i))
		require.NoError(t, err)
	}

	turns, err := log.Read(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "msg 3", turns[0].Content)
	assert.Equal(t, "msg 5", turns[2].Content)
	// Sequence keeps counting past evicted turns.
	assert.EqualValues(t, 5, turns[2].Sequence)
}

func TestAppend_RejectsEmptySessionID(t *testing.T) {
	log := newTestLog(t, 0)
	_, err := log.Append(context.Background(), "", ports.RoleUser, "x")
	require.Error(t, err)
}

func TestRead_ChronologicalOrder(t *testing.T) {
	log := newTestLog(t, 0)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		_, err := log.Append(ctx, "s1", ports.RoleUser, fmt.Sprintf("msg %d", i))
		require.NoError(t, err)
	}

	turns, err := log.Read(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	// The two most recent, oldest first.
	assert.Equal(t, "msg 3", turns[0].Content)
	assert.Equal(t, "msg 4", turns[1].Content)
}

func TestRead_EmptySession(t *testing.T) {
	log := newTestLog(t, 0)
	turns, err := log.Read(context.Background(), "ghost", 10)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestClear_IsIdempotent(t *testing.T) {
	log := newTestLog(t, 0)
	ctx := context.Background()

	_, err := log.Append(ctx, "s1", ports.RoleUser, "x")
	require.NoError(t, err)

	require.NoError(t, log.Clear(ctx, "s1"))
	require.NoError(t, log.Clear(ctx, "s1"))

	turns, err := log.Read(ctx, "s1", 10)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestListSessions(t *testing.T) {
	log := newTestLog(t, 0)
	ctx := context.Background()

	for _, id := range []string{"beta", "alpha", "beta"} {
		_, err := log.Append(ctx, id, ports.RoleUser, "x")
		require.NoError(t, err)
	}

	ids, err := log.ListSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, ids)
}

func TestStats_CountsPerRole(t *testing.T) {
	log := newTestLog(t, 0)
	ctx := context.Background()

	_, err := log.Append(ctx, "s1", ports.RoleUser, "q1")
	require.NoError(t, err)
	_, err = log.Append(ctx, "s1", ports.RoleAssistant, "a1")
	require.NoError(t, err)
	_, err = log.Append(ctx, "s1", ports.RoleUser, "q2")
	require.NoError(t, err)

	stats, err := log.Stats(ctx, "s1", false)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Count)
	assert.Equal(t, 2, stats.UserCount)
	assert.Equal(t, 1, stats.AssistantCount)
	assert.False(t, stats.FirstTimestamp.IsZero())
	assert.False(t, stats.LastTimestamp.IsZero())
}

func TestStats_StrictOnMissingSession(t *testing.T) {
	log := newTestLog(t, 0)

	_, err := log.Stats(context.Background(), "ghost", true)
	assert.ErrorIs(t, err, ports.ErrNotFound)

	stats, err := log.Stats(context.Background(), "ghost", false)
	require.NoError(t, err)
	assert.Zero(t, stats.Count)
}

func TestAppend_ConcurrentSameSessionStaysWithinCap(t *testing.T) {
	log := newTestLog(t, 10)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_, err := log.Append(ctx, "shared", ports.RoleUser, fmt.Sprintf("w%d-%d", worker, j))
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	turns, err := log.Read(ctx, "shared", 100)
	require.NoError(t, err)
	assert.Len(t, turns, 10)

	// Live turns are contiguous and strictly increasing.
	for i := 1; i < len(turns); i++ {
		assert.Equal(t, turns[i-1].Sequence+1, turns[i].Sequence)
	}
}
