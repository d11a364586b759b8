package approval

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultLedgerPath is the workspace-relative ledger location.
const DefaultLedgerPath = ".conductor/approvals.json"

// Store persists ledger records.
type Store interface {
	Load() ([]Record, error)
	Save(records []Record) error
}

// ledgerFile is the on-disk document.
type ledgerFile struct {
	Approvals []fileRecord `json:"approvals"`
}

type fileRecord struct {
	TaskID    string `json:"taskId"`
	Approver  string `json:"approver"`
	Timestamp int64  `json:"timestamp"`
	Status    Status `json:"status"`
}

// FileStore keeps the ledger as a JSON document. Timestamps are stored as
// Unix milliseconds.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// WorkspaceStore returns a FileStore at DefaultLedgerPath under root.
func WorkspaceStore(root string) *FileStore {
	return NewFileStore(filepath.Join(root, DefaultLedgerPath))
}

// Path returns the ledger file path.
func (s *FileStore) Path() string { return s.path }

// Load reads the ledger. A missing file is an empty ledger.
func (s *FileStore) Load() ([]Record, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var doc ledgerFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse ledger %s: %w", s.path, err)
	}

	records := make([]Record, 0, len(doc.Approvals))
	for _, r := range doc.Approvals {
		records = append(records, Record{
			TaskID:    r.TaskID,
			Approver:  r.Approver,
			Timestamp: time.UnixMilli(r.Timestamp),
			Status:    r.Status,
		})
	}
	return records, nil
}

// Save writes the ledger atomically via a temp file and rename.
func (s *FileStore) Save(records []Record) error {
	doc := ledgerFile{Approvals: make([]fileRecord, 0, len(records))}
	for _, r := range records {
		doc.Approvals = append(doc.Approvals, fileRecord{
			TaskID:    r.TaskID,
			Approver:  r.Approver,
			Timestamp: r.Timestamp.UnixMilli(),
			Status:    r.Status,
		})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}

// MemoryStore is an in-process Store, mainly for tests.
type MemoryStore struct {
	mu      sync.Mutex
	records []Record
	// SaveErr, when set, is returned by Save.
	SaveErr error
	saves   int
}

// Load implements Store.
func (s *MemoryStore) Load() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...), nil
}

// Save implements Store.
func (s *MemoryStore) Save(records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.saves++
	s.records = append([]Record(nil), records...)
	return nil
}

// Saves returns the number of successful saves.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
