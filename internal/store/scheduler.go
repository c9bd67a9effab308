package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/leochame/lavis/internal/scheduler"
)

// CreateTask implements scheduler.Store.
func (s *Store) CreateTask(ctx context.Context, t *scheduler.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_tasks (id, name, cron, command, enabled, created_at, updated_at, last_run_at, run_count, fail_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Name, t.Cron, t.Command, t.Enabled, t.CreatedAt, t.UpdatedAt, timeOrNil(t.LastRunAt), t.RunCount, t.FailCount)
	if err != nil {
		return fmt.Errorf("create task %q: %w", t.ID, err)
	}
	return nil
}

// UpdateTask implements scheduler.Store. All task fields are overwritten,
// matching Scheduler.Update's re-registration semantics.
func (s *Store) UpdateTask(ctx context.Context, t *scheduler.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_tasks SET name = ?, cron = ?, command = ?, enabled = ?, updated_at = ?,
			last_run_at = ?, run_count = ?, fail_count = ?
		WHERE id = ?
	`, t.Name, t.Cron, t.Command, t.Enabled, t.UpdatedAt, timeOrNil(t.LastRunAt), t.RunCount, t.FailCount, t.ID)
	if err != nil {
		return fmt.Errorf("update task %q: %w", t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update task: %q not found", t.ID)
	}
	return nil
}

// DeleteTask implements scheduler.Store. Run logs cascade via the foreign
// key's ON DELETE CASCADE.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task %q: %w", id, err)
	}
	return nil
}

// GetTask implements scheduler.Store.
func (s *Store) GetTask(ctx context.Context, id string) (*scheduler.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, cron, command, enabled, created_at, updated_at, last_run_at, run_count, fail_count
		FROM scheduled_tasks WHERE id = ?
	`, id)
	return scanTask(row)
}

// ListTasks implements scheduler.Store.
func (s *Store) ListTasks(ctx context.Context) ([]*scheduler.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, cron, command, enabled, created_at, updated_at, last_run_at, run_count, fail_count
		FROM scheduled_tasks ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*scheduler.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// AppendRunLog implements scheduler.Store.
func (s *Store) AppendRunLog(ctx context.Context, log *scheduler.RunLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_run_logs (id, task_id, started_at, ended_at, status, output, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, log.ID, log.TaskID, log.StartedAt, timeOrNil(log.EndedAt), string(log.Status), log.Output, log.Error)
	if err != nil {
		return fmt.Errorf("append run log for task %q: %w", log.TaskID, err)
	}
	return nil
}

// History implements scheduler.Store: the limit most recent run logs for a
// task, newest first.
func (s *Store) History(ctx context.Context, taskID string, limit int) ([]*scheduler.RunLog, error) {
	if limit <= 0 {
		limit = 20
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, started_at, ended_at, status, output, error
		FROM task_run_logs WHERE task_id = ? ORDER BY started_at DESC LIMIT ?
	`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("history for task %q: %w", taskID, err)
	}
	defer rows.Close()

	var out []*scheduler.RunLog
	for rows.Next() {
		var l scheduler.RunLog
		var status string
		var ended sql.NullTime
		if err := rows.Scan(&l.ID, &l.TaskID, &l.StartedAt, &ended, &status, &l.Output, &l.Error); err != nil {
			return nil, fmt.Errorf("scan run log: %w", err)
		}
		l.Status = scheduler.RunStatus(status)
		l.EndedAt = nullTimeToTime(ended)
		out = append(out, &l)
	}
	return out, rows.Err()
}

func scanTask(row rowScanner) (*scheduler.Task, error) {
	var t scheduler.Task
	var lastRun sql.NullTime
	if err := row.Scan(&t.ID, &t.Name, &t.Cron, &t.Command, &t.Enabled, &t.CreatedAt, &t.UpdatedAt, &lastRun, &t.RunCount, &t.FailCount); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("task not found")
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.LastRunAt = nullTimeToTime(lastRun)
	return &t, nil
}
