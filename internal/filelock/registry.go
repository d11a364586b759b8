// Package filelock keeps delegated tasks in the same orchestration tree from
// writing the same file at the same time.
package filelock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultStaleAfter is how long a lock may be held before a sweep reclaims it.
const DefaultStaleAfter = 30 * time.Minute

// ErrConflict is the sentinel wrapped by every ConflictError.
var ErrConflict = errors.New("file locked by another task")

// Lock records which task holds a file within a parent session.
type Lock struct {
	FilePath  string
	SessionID string
	TaskID    string
	LockedAt  time.Time
}

// Conflict describes the first contested path found by a check.
type Conflict struct {
	Conflicting  bool
	Path         string
	HolderTaskID string
	LockedAt     time.Time
}

// ConflictError is returned when a registration would take a path another
// task in the same session already holds.
type ConflictError struct {
	SessionID    string
	TaskID       string
	Path         string
	HolderTaskID string
	LockedAt     time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s is locked by task %s (since %s)", e.Path, e.HolderTaskID, e.LockedAt.Format(time.RFC3339))
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// Registry maps (parent session, normalized path) to the lock holder.
// A path has at most one holder per session; different sessions are
// independent orchestration trees and never conflict with each other.
type Registry struct {
	mu    sync.Mutex
	locks map[string]map[string]*Lock
	now   func() time.Time
	log   zerolog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		locks: make(map[string]map[string]*Lock),
		now:   time.Now,
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CheckConflicts reports the first path in paths that is already locked in
// sessionID. Paths are normalized before lookup.
func (r *Registry) CheckConflicts(sessionID string, paths []string) Conflict {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.checkLocked(sessionID, "", paths)
}

// Register locks every path for taskID, or none of them. The conflict check
// runs inside the same critical section, so a successful Register can never
// race another registration for the same path. Paths the task already holds
// are accepted again without error.
func (r *Registry) Register(sessionID, taskID string, paths []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(sessionID, taskID, paths)
}

func (r *Registry) registerLocked(sessionID, taskID string, paths []string) error {
	if c := r.checkLocked(sessionID, taskID, paths); c.Conflicting {
		return &ConflictError{
			SessionID:    sessionID,
			TaskID:       taskID,
			Path:         c.Path,
			HolderTaskID: c.HolderTaskID,
			LockedAt:     c.LockedAt,
		}
	}

	held := r.locks[sessionID]
	if held == nil {
		held = make(map[string]*Lock)
		r.locks[sessionID] = held
	}

	now := r.now()
	for _, p := range paths {
		p = Normalize(p)
		if p == "" {
			continue
		}
		if _, ok := held[p]; ok {
			continue
		}
		held[p] = &Lock{FilePath: p, SessionID: sessionID, TaskID: taskID, LockedAt: now}
	}

	r.log.Debug().Str("session", sessionID).Str("task", taskID).Strs("paths", paths).Msg("registered file locks")
	return nil
}

func (r *Registry) checkLocked(sessionID, taskID string, paths []string) Conflict {
	held := r.locks[sessionID]
	if len(held) == 0 {
		return Conflict{}
	}
	for _, p := range paths {
		p = Normalize(p)
		lock, ok := held[p]
		if !ok || (taskID != "" && lock.TaskID == taskID) {
			continue
		}
		return Conflict{Conflicting: true, Path: p, HolderTaskID: lock.TaskID, LockedAt: lock.LockedAt}
	}
	return Conflict{}
}

// Release drops every lock held by taskID in sessionID and returns how many
// were removed. Releasing twice is a no-op.
func (r *Registry) Release(sessionID, taskID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	held := r.locks[sessionID]
	n := 0
	for p, lock := range held {
		if lock.TaskID == taskID {
			delete(held, p)
			n++
		}
	}
	if len(held) == 0 {
		delete(r.locks, sessionID)
	}
	if n > 0 {
		r.log.Debug().Str("session", sessionID).Str("task", taskID).Int("count", n).Msg("released file locks")
	}
	return n
}

// SweepStale reclaims locks older than maxAge and returns them.
func (r *Registry) SweepStale(maxAge time.Duration) []Lock {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-maxAge)
	var reclaimed []Lock
	for sessionID, held := range r.locks {
		for p, lock := range held {
			if lock.LockedAt.Before(cutoff) {
				reclaimed = append(reclaimed, *lock)
				delete(held, p)
			}
		}
		if len(held) == 0 {
			delete(r.locks, sessionID)
		}
	}

	for _, l := range reclaimed {
		r.log.Warn().Str("session", l.SessionID).Str("task", l.TaskID).Str("path", l.FilePath).
			Time("locked_at", l.LockedAt).Msg("reclaimed stale file lock")
	}
	return reclaimed
}

// StartSweeper runs SweepStale every interval until ctx is done.
func (r *Registry) StartSweeper(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	if maxAge <= 0 {
		maxAge = DefaultStaleAfter
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.SweepStale(maxAge)
			}
		}
	}()
}

// Locks returns the locks held in sessionID sorted by path.
func (r *Registry) Locks(sessionID string) []Lock {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Lock, 0, len(r.locks[sessionID]))
	for _, l := range r.locks[sessionID] {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FilePath < out[j].FilePath })
	return out
}

// TaskLocks returns the paths held by taskID in sessionID, sorted.
func (r *Registry) TaskLocks(sessionID, taskID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for p, l := range r.locks[sessionID] {
		if l.TaskID == taskID {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Len returns the total number of locks across all sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, held := range r.locks {
		n += len(held)
	}
	return n
}
