package state

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// ErrNotFound is returned by GetTask for unknown IDs.
var ErrNotFound = errors.New("task not found")

const taskColumns = `id, call_id, parent_session_id, child_session_id, caller, target_agent, category,
	description, prompt, is_background, files, status, started_at, completed_at, error, output`

// SaveTask inserts or replaces the record for t. The current process is
// recorded as its owner.
func (db *DB) SaveTask(t *models.DelegatedTask) error {
	var completed any
	if t.CompletedAt != nil {
		completed = formatTime(*t.CompletedAt)
	}
	bg := 0
	if t.IsBackground {
		bg = 1
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.conn.Exec(`
		INSERT INTO delegations (`+taskColumns+`, owner_pid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			child_session_id = excluded.child_session_id,
			files = excluded.files,
			status = excluded.status,
			completed_at = excluded.completed_at,
			error = excluded.error,
			output = excluded.output,
			owner_pid = excluded.owner_pid`,
		t.ID, t.CallID, t.ParentSessionID, t.ChildSessionID, t.Caller, t.TargetAgent, string(t.Category),
		t.Description, t.Prompt, bg, strings.Join(t.Files, "\n"), string(t.Status),
		formatTime(t.StartedAt), completed, t.Error, t.Output, os.Getpid(),
	)
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

// GetTask loads one record.
func (db *DB) GetTask(id string) (*models.DelegatedTask, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	row := db.conn.QueryRow(`SELECT `+taskColumns+` FROM delegations WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return t, err
}

// ListTasks returns matching records, newest first.
func (db *DB) ListTasks(f TaskFilter) ([]*models.DelegatedTask, error) {
	var (
		where []string
		args  []any
	)
	if f.ParentSessionID != "" {
		where = append(where, "parent_session_id = ?")
		args = append(args, f.ParentSessionID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}

	q := `SELECT ` + taskColumns + ` FROM delegations`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY started_at DESC"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	db.mu.RLock()
	defer db.mu.RUnlock()
	rows, err := db.conn.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*models.DelegatedTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*models.DelegatedTask, error) {
	var (
		t                                  models.DelegatedTask
		callID, child, desc, prompt, files sql.NullString
		errMsg, output, completed          sql.NullString
		category, status, started          string
		bg                                 int
	)
	err := s.Scan(&t.ID, &callID, &t.ParentSessionID, &child, &t.Caller, &t.TargetAgent, &category,
		&desc, &prompt, &bg, &files, &status, &started, &completed, &errMsg, &output)
	if err != nil {
		return nil, err
	}

	t.CallID = callID.String
	t.ChildSessionID = child.String
	t.Category = models.Category(category)
	t.Description = desc.String
	t.Prompt = prompt.String
	t.IsBackground = bg != 0
	if files.String != "" {
		t.Files = strings.Split(files.String, "\n")
	}
	t.Status = models.TaskStatus(status)
	if t.StartedAt, err = parseTime(started); err != nil {
		return nil, fmt.Errorf("parse started_at for %s: %w", t.ID, err)
	}
	t.CompletedAt = parseNullableTime(completed)
	t.Error = errMsg.String
	t.Output = output.String
	return &t, nil
}
