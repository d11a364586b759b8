package tui

import (
	"github.com/ShayCichocki/conductor/internal/approval"
	"github.com/ShayCichocki/conductor/internal/state"
	"github.com/ShayCichocki/conductor/pkg/models"
)

// StoreSource reads tasks from the workspace database and approvals from
// the ledger, so the dashboard can observe another conductor process.
type StoreSource struct {
	store  state.TaskStore
	ledger *approval.Ledger
	filter state.TaskFilter
}

// NewStoreSource creates a StoreSource. The ledger is reloaded on every
// refresh.
func NewStoreSource(store state.TaskStore, ledger *approval.Ledger, filter state.TaskFilter) *StoreSource {
	if filter.Limit == 0 {
		filter.Limit = 100
	}
	return &StoreSource{store: store, ledger: ledger, filter: filter}
}

// Tasks implements Source.
func (s *StoreSource) Tasks() ([]*models.DelegatedTask, error) {
	return s.store.ListTasks(s.filter)
}

// Approvals implements Source.
func (s *StoreSource) Approvals() ([]approval.Record, error) {
	if s.ledger == nil {
		return nil, nil
	}
	if err := s.ledger.Reload(); err != nil {
		return nil, err
	}
	return s.ledger.Records(), nil
}
