package approval

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestLedger_AppendAndCap(t *testing.T) {
	store := &MemoryStore{}
	c := &clock{now: t0}
	l := NewLedger(store, WithMaxEntries(3), WithLedgerClock(c.Now))

	for i := 0; i < 5; i++ {
		l.Record(fmt.Sprintf("task-%d", i), "Joshua (Test Runner)", StatusApproved)
		c.Advance(time.Second)
	}

	recs := l.Records()
	require.Len(t, recs, 3)
	assert.Equal(t, "task-2", recs[0].TaskID)
	assert.Equal(t, "task-4", recs[2].TaskID)

	persisted, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, recs, persisted)
}

func TestLedger_DefaultCapIs100(t *testing.T) {
	l := NewLedger(&MemoryStore{})
	for i := 0; i < 120; i++ {
		l.Record(fmt.Sprintf("t%d", i), "Nathan", StatusApproved)
	}
	assert.Equal(t, DefaultMaxEntries, l.Len())
	assert.Equal(t, "t20", l.Records()[0].TaskID)
}

func TestLedger_WriteFailureIsSwallowed(t *testing.T) {
	store := &MemoryStore{SaveErr: errors.New("disk full")}
	l := NewLedger(store)

	rec := l.Record("task-1", "Timothy", StatusRejected)
	assert.Equal(t, StatusRejected, rec.Status)
	assert.Equal(t, 1, l.Len())
	assert.Equal(t, 0, store.Saves())
}

func TestLedger_KeepsRecordsFromOtherWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "approvals.json")
	a := NewLedger(NewFileStore(path))
	b := NewLedger(NewFileStore(path))

	a.Record("task-a", "Joshua", StatusApproved)
	b.Record("task-b", "Nathan", StatusApproved)

	require.NoError(t, a.Reload())
	recs := a.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, "task-a", recs[0].TaskID)
	assert.Equal(t, "task-b", recs[1].TaskID)
}

func TestLedger_Latest(t *testing.T) {
	c := &clock{now: t0}
	l := NewLedger(&MemoryStore{}, WithLedgerClock(c.Now))
	l.Record("task-1", "Joshua (Test Runner)", StatusApproved)
	c.Advance(time.Minute)
	l.Record("task-2", "Timothy (Implementation Reviewer)", StatusApproved)
	c.Advance(time.Minute)
	l.Record("task-3", "Joshua (Test Runner)", StatusRejected)

	rec, ok := l.Latest("joshua")
	require.True(t, ok)
	assert.Equal(t, "task-3", rec.TaskID)

	rec, ok = l.LatestForTask("task-1", "Joshua")
	require.True(t, ok)
	assert.Equal(t, StatusApproved, rec.Status)

	_, ok = l.Latest("Elijah")
	assert.False(t, ok)
}

func TestFileStore_Format(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "approvals.json")
	store := NewFileStore(path)

	recs, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, recs)

	ts := time.UnixMilli(1735732800123)
	require.NoError(t, store.Save([]Record{{TaskID: "t1", Approver: "Joshua", Timestamp: ts, Status: StatusApproved}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"approvals":[{"taskId":"t1","approver":"Joshua","timestamp":1735732800123,"status":"approved"}]}`, string(data))

	recs, err = store.Load()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, ts.Equal(recs[0].Timestamp))
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "approvals.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := NewFileStore(path).Load()
	assert.Error(t, err)

	// A corrupt ledger does not stop the ledger from working.
	l := NewLedger(NewFileStore(path))
	assert.Equal(t, 0, l.Len())
}

func TestMatchApprover(t *testing.T) {
	tests := []struct {
		approver, pattern string
		want              bool
	}{
		{"Joshua (Test Runner)", "Joshua", true},
		{"Joshua (Test Runner)", "joshua (test runner)", true},
		{"joshua", "Joshua", true},
		{"Joshua (Test Runner)", "Josh", false},
		{"Joshua-Junior", "Joshua", false},
		{"Timothy (Implementation Reviewer)", "Joshua", false},
		{"Nathan", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.approver+"/"+tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchApprover(tt.approver, tt.pattern))
		})
	}
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("Approved")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, s)

	s, err = ParseStatus("fail")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, s)

	_, err = ParseStatus("maybe")
	assert.Error(t, err)
}
