package state

import (
	"fmt"
	"os"
	"syscall"
	"time"
)

// OrphanError is the error recorded on tasks whose owning process died.
const OrphanError = "interrupted: the process running this delegation exited"

// RecoverOrphans marks queued or running tasks whose owner process is gone
// as failed and returns how many were changed. Tasks owned by live
// processes are left alone.
func (db *DB) RecoverOrphans() (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	rows, err := db.conn.Query(`SELECT id, owner_pid FROM delegations WHERE status IN ('queued', 'running')`)
	if err != nil {
		return 0, fmt.Errorf("find active tasks: %w", err)
	}
	var orphans []string
	for rows.Next() {
		var (
			id  string
			pid int
		)
		if err := rows.Scan(&id, &pid); err != nil {
			rows.Close()
			return 0, err
		}
		if pid != os.Getpid() && !processAlive(pid) {
			orphans = append(orphans, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	now := formatTime(time.Now())
	var n int64
	for _, id := range orphans {
		res, err := db.conn.Exec(`UPDATE delegations SET status = 'error', error = ?, completed_at = ? WHERE id = ?`,
			OrphanError, now, id)
		if err != nil {
			return n, fmt.Errorf("mark %s orphaned: %w", id, err)
		}
		c, _ := res.RowsAffected()
		n += c
	}
	return n, nil
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
