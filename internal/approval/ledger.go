// Package approval records verifier verdicts and gates task completion on
// them.
//
// The Ledger is an append-only, capped list of approval records persisted per
// workspace. The Gate consults it before a qualifying task may be marked
// complete.
package approval

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/rs/zerolog"
)

// DefaultMaxEntries caps the ledger; the oldest records are evicted first.
const DefaultMaxEntries = 100

// Status is a verifier's verdict.
type Status string

const (
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusApproved || s == StatusRejected
}

// ParseStatus accepts the two statuses plus common synonyms.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approved", "approve", "pass", "passed", "ok":
		return StatusApproved, nil
	case "rejected", "reject", "fail", "failed", "needs-changes":
		return StatusRejected, nil
	}
	return "", fmt.Errorf("unknown approval status %q", s)
}

// Record is one verdict. Records are never mutated after they are appended.
type Record struct {
	TaskID    string    `json:"taskId"`
	Approver  string    `json:"approver"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`
}

// Ledger is the in-memory view of the approval records, mirrored to a Store.
type Ledger struct {
	mu      sync.RWMutex
	records []Record
	store   Store
	max     int
	now     func() time.Time
	log     zerolog.Logger
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithMaxEntries sets the cap. Values <= 0 keep the default.
func WithMaxEntries(n int) LedgerOption {
	return func(l *Ledger) {
		if n > 0 {
			l.max = n
		}
	}
}

// WithLedgerClock overrides the time source.
func WithLedgerClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) { l.now = now }
}

// WithLedgerLogger sets the logger.
func WithLedgerLogger(log zerolog.Logger) LedgerOption {
	return func(l *Ledger) { l.log = log }
}

// NewLedger loads records from store. A store that cannot be read yields an
// empty ledger and a warning; persistence is best effort.
func NewLedger(store Store, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		store: store,
		max:   DefaultMaxEntries,
		now:   time.Now,
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if err := l.Reload(); err != nil {
		l.log.Warn().Err(err).Msg("approval ledger unreadable, starting empty")
	}
	return l
}

// Reload replaces the in-memory records with the store's contents.
func (l *Ledger) Reload() error {
	if l.store == nil {
		return nil
	}
	records, err := l.store.Load()
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.records = l.trim(records)
	l.mu.Unlock()
	return nil
}

// Record appends a verdict and persists the ledger. The store is re-read
// first so records written by other processes are kept. Persistence errors
// are logged and swallowed.
func (l *Ledger) Record(taskID, approver string, status Status) Record {
	rec := Record{
		TaskID:    taskID,
		Approver:  approver,
		Timestamp: l.now(),
		Status:    status,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	base := l.records
	if l.store != nil {
		if onDisk, err := l.store.Load(); err != nil {
			l.log.Warn().Err(err).Msg("reload approval ledger before write")
		} else if len(onDisk) > 0 {
			base = onDisk
		}
	}

	records := make([]Record, 0, len(base)+1)
	records = append(records, base...)
	records = append(records, rec)
	l.records = l.trim(records)

	if l.store != nil {
		if err := l.store.Save(l.records); err != nil {
			l.log.Warn().Err(err).Str("task", taskID).Str("approver", approver).Msg("persist approval ledger")
		}
	}
	l.log.Info().Str("task", taskID).Str("approver", approver).Str("status", string(status)).Msg("approval recorded")
	return rec
}

// Records returns a copy of all records, oldest first.
func (l *Ledger) Records() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Record(nil), l.records...)
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Latest returns the most recent record whose approver matches pattern.
func (l *Ledger) Latest(pattern string) (Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.records) - 1; i >= 0; i-- {
		if MatchApprover(l.records[i].Approver, pattern) {
			return l.records[i], true
		}
	}
	return Record{}, false
}

// LatestForTask is Latest restricted to one task.
func (l *Ledger) LatestForTask(taskID, pattern string) (Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.records) - 1; i >= 0; i-- {
		r := l.records[i]
		if r.TaskID == taskID && MatchApprover(r.Approver, pattern) {
			return r, true
		}
	}
	return Record{}, false
}

// Now returns the ledger's current time.
func (l *Ledger) Now() time.Time { return l.now() }

func (l *Ledger) trim(records []Record) []Record {
	if len(records) <= l.max {
		return records
	}
	return append([]Record(nil), records[len(records)-l.max:]...)
}

// MatchApprover reports whether approver satisfies pattern. Matching is
// case-insensitive and works on whole words, so "Joshua" matches
// "Joshua (Test Runner)" but "Josh" does not.
func MatchApprover(approver, pattern string) bool {
	a := strings.ToLower(strings.TrimSpace(approver))
	p := strings.ToLower(strings.TrimSpace(pattern))
	if p == "" {
		return false
	}
	if a == p {
		return true
	}
	for from := 0; from < len(a); {
		i := strings.Index(a[from:], p)
		if i < 0 {
			return false
		}
		i += from
		end := i + len(p)
		if boundary(a, i-1) && boundary(a, end) {
			return true
		}
		from = i + 1
	}
	return false
}

func boundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	r := rune(s[i])
	return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_')
}
