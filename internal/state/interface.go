package state

import (
	"io"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// TaskFilter narrows ListTasks. Zero fields match everything.
type TaskFilter struct {
	ParentSessionID string
	Status          models.TaskStatus
	Limit           int
}

// TaskStore persists delegation records.
type TaskStore interface {
	SaveTask(t *models.DelegatedTask) error
	GetTask(id string) (*models.DelegatedTask, error)
	ListTasks(f TaskFilter) ([]*models.DelegatedTask, error)
}

// Migrator applies schema migrations.
type Migrator interface {
	Migrate() error
}

// Store is everything the orchestrator needs from persistence.
type Store interface {
	io.Closer
	Migrator
	TaskStore
	RecoverOrphans() (int64, error)
}

var _ Store = (*DB)(nil)
