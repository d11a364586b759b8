package filelock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestRegister_ConflictNamesPathAndHolder(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register("parent", "task-a", []string{"src/a.ts"}))

	c := r.CheckConflicts("parent", []string{"src/a.ts"})
	require.True(t, c.Conflicting)
	assert.Equal(t, "src/a.ts", c.Path)
	assert.Equal(t, "task-a", c.HolderTaskID)

	err := r.Register("parent", "task-b", []string{"src/a.ts"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConflict))

	var ce *ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "src/a.ts", ce.Path)
	assert.Equal(t, "task-a", ce.HolderTaskID)
	assert.Contains(t, err.Error(), "src/a.ts")
	assert.Contains(t, err.Error(), "task-a")
}

func TestRegister_AllOrNothing(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("parent", "task-a", []string{"src/b.ts"}))

	err := r.Register("parent", "task-b", []string{"src/a.ts", "src/b.ts", "src/c.ts"})
	require.Error(t, err)

	assert.Empty(t, r.TaskLocks("parent", "task-b"))
	assert.Equal(t, 1, r.Len())
}

func TestRegister_SessionScoped(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("tree-1", "task-a", []string{"src/a.ts"}))
	require.NoError(t, r.Register("tree-2", "task-b", []string{"src/a.ts"}))

	assert.False(t, r.CheckConflicts("tree-3", []string{"src/a.ts"}).Conflicting)
	assert.Equal(t, 2, r.Len())
}

func TestRegister_NormalizesPaths(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("parent", "task-a", []string{"./SRC\\A.ts"}))

	c := r.CheckConflicts("parent", []string{"src/a.ts"})
	require.True(t, c.Conflicting)
	assert.Equal(t, "src/a.ts", c.Path)
}

func TestRegister_SameTaskIsIdempotent(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("parent", "task-a", []string{"src/a.ts"}))
	require.NoError(t, r.Register("parent", "task-a", []string{"src/a.ts", "src/b.ts"}))
	assert.Equal(t, []string{"src/a.ts", "src/b.ts"}, r.TaskLocks("parent", "task-a"))
}

func TestRelease_Idempotent(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("parent", "task-a", []string{"src/a.ts", "src/b.ts"}))
	require.NoError(t, r.Register("parent", "task-b", []string{"src/c.ts"}))

	assert.Equal(t, 2, r.Release("parent", "task-a"))
	assert.Equal(t, 0, r.Release("parent", "task-a"))
	assert.Empty(t, r.TaskLocks("parent", "task-a"))
	assert.Equal(t, []string{"src/c.ts"}, r.TaskLocks("parent", "task-b"))

	require.NoError(t, r.Register("parent", "task-c", []string{"src/a.ts"}))
}

func TestRelease_UnknownSession(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, 0, r.Release("nobody", "nothing"))
}

func TestSweepStale(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	r := NewRegistry(WithClock(clock.Now))

	require.NoError(t, r.Register("parent", "old", []string{"src/old.ts"}))
	clock.Advance(20 * time.Minute)
	require.NoError(t, r.Register("parent", "new", []string{"src/new.ts"}))
	clock.Advance(11 * time.Minute)

	reclaimed := r.SweepStale(DefaultStaleAfter)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, "old", reclaimed[0].TaskID)
	assert.Equal(t, []string{"src/new.ts"}, r.TaskLocks("parent", "new"))

	require.NoError(t, r.Register("parent", "other", []string{"src/old.ts"}))
}

func TestStartSweeper_StopsWithContext(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	r := NewRegistry(WithClock(clock.Now))
	require.NoError(t, r.Register("parent", "t", []string{"a.go"}))
	clock.Advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.StartSweeper(ctx, 5*time.Millisecond, time.Minute)

	assert.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestRegister_ConcurrentMutualExclusion(t *testing.T) {
	r := NewRegistry()

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			taskID := "task-" + string(rune('a'+i%26)) + string(rune('0'+i/26))
			if err := r.Register("parent", taskID, []string{"src/shared.ts"}); err == nil {
				winners.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
	assert.Len(t, r.Locks("parent"), 1)
}
