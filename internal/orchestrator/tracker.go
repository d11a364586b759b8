package orchestrator

import (
	"context"
	"sort"
	"sync"

	"github.com/ShayCichocki/conductor/internal/admission"
	"github.com/ShayCichocki/conductor/pkg/models"
)

type tracked struct {
	task   *models.DelegatedTask
	cancel context.CancelFunc
}

// Tracker holds the active delegations. Admission reads its counts, so
// removing a task is what frees capacity for the parent session.
type Tracker struct {
	mu     sync.Mutex
	tasks  map[string]*tracked
	byCall map[string]string
}

var _ admission.Counter = (*Tracker)(nil)

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		tasks:  make(map[string]*tracked),
		byCall: make(map[string]string),
	}
}

// add tracks a copy of task. Later changes go through update so readers
// never see the caller's pointer.
func (t *Tracker) add(task *models.DelegatedTask) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if task.CallID != "" {
		if _, ok := t.byCall[task.CallID]; ok {
			return ErrDuplicateCall
		}
		t.byCall[task.CallID] = task.ID
	}
	t.tasks[task.ID] = &tracked{task: task.Clone()}
	return nil
}

func (t *Tracker) update(id string, fn func(*tracked)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.tasks[id]
	if ok {
		fn(e)
	}
	return ok
}

func (t *Tracker) remove(id string) (*tracked, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.tasks[id]
	if !ok {
		return nil, false
	}
	delete(t.tasks, id)
	if e.task.CallID != "" {
		delete(t.byCall, e.task.CallID)
	}
	return e, true
}

// Get returns a copy of the tracked task.
func (t *Tracker) Get(id string) (*models.DelegatedTask, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.tasks[id]
	if !ok {
		return nil, false
	}
	return e.task.Clone(), true
}

// ByCallID returns the active task for a delegating tool call.
func (t *Tracker) ByCallID(callID string) (*models.DelegatedTask, bool) {
	t.mu.Lock()
	id, ok := t.byCall[callID]
	t.mu.Unlock()
	if !ok {
		return nil, false
	}
	return t.Get(id)
}

// List returns copies of the tracked tasks, oldest first. An empty
// parentSessionID lists every session.
func (t *Tracker) List(parentSessionID string) []*models.DelegatedTask {
	t.mu.Lock()
	out := make([]*models.DelegatedTask, 0, len(t.tasks))
	for _, e := range t.tasks {
		if parentSessionID == "" || e.task.ParentSessionID == parentSessionID {
			out = append(out, e.task.Clone())
		}
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Len returns the number of tracked tasks.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tasks)
}

// ActiveCount implements admission.Counter.
func (t *Tracker) ActiveCount(parentSessionID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, e := range t.tasks {
		if e.task.ParentSessionID == parentSessionID && e.task.Status.Active() {
			n++
		}
	}
	return n
}

// ActiveCountByCategory implements admission.Counter.
func (t *Tracker) ActiveCountByCategory(parentSessionID string, category models.Category) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, e := range t.tasks {
		if e.task.ParentSessionID == parentSessionID && e.task.Category == category && e.task.Status.Active() {
			n++
		}
	}
	return n
}
