// Package postgres implements the task engine's Store interface on
// PostgreSQL, for deployments that need task records to survive restarts.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/taskmill/taskmill/internal/task"
)

// TaskStore is a PostgreSQL-backed task record store scoped to one task
// group. Results cross a JSON serialization boundary, so payloads come back
// as generic JSON shapes (float64 numbers, map[string]any objects).
type TaskStore struct {
	db     DBTX
	group  string
	ttl    time.Duration
	logger *slog.Logger
}

// NewTaskStore creates a TaskStore for the given group. Completed records
// older than ttl are swept opportunistically; ttl <= 0 keeps them until
// explicitly deleted.
func NewTaskStore(db DBTX, group string, ttl time.Duration, logger *slog.Logger) *TaskStore {
	return &TaskStore{
		db:     db,
		group:  group,
		ttl:    ttl,
		logger: logger.With("store", "postgres", "group", group),
	}
}

// CreateTask implements task.Store.
func (s *TaskStore) CreateTask(ctx context.Context, taskID, groupName string) (*task.Record, error) {
	s.sweep(ctx)

	rec := &task.Record{
		TaskID:    taskID,
		GroupName: groupName,
		Status:    task.StatusPending,
		CreatedAt: time.Now().UTC(),
	}

	query := `
		INSERT INTO task_records (task_id, group_name, status, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (task_id, group_name) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query, rec.TaskID, rec.GroupName, rec.Status, rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create task record: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("%w: %s", task.ErrTaskExists, taskID)
	}
	return rec.Clone(), nil
}

// GetTask implements task.Store.
func (s *TaskStore) GetTask(ctx context.Context, taskID string) (*task.Record, error) {
	query := `
		SELECT task_id, group_name, status, created_at, started_at, completed_at, result, error, stack_trace
		FROM task_records
		WHERE task_id = $1 AND group_name = $2
	`
	rec, err := s.scanTaskRow(s.db.QueryRowContext(ctx, query, taskID, s.group))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", task.ErrTaskNotFound, taskID)
	}
	return rec, err
}

// UpdateTask implements task.Store.
func (s *TaskStore) UpdateTask(ctx context.Context, rec *task.Record) error {
	var resultPayload []byte
	if rec.Result != nil {
		var err error
		resultPayload, err = json.Marshal(rec.Result)
		if err != nil {
			return fmt.Errorf("failed to encode task result: %w", err)
		}
	}

	query := `
		UPDATE task_records
		SET status = $1, started_at = $2, completed_at = $3, result = $4, error = $5, stack_trace = $6
		WHERE task_id = $7 AND group_name = $8
	`
	result, err := s.db.ExecContext(ctx, query,
		rec.Status,
		rec.StartedAt,
		rec.CompletedAt,
		resultPayload,
		rec.Error,
		rec.StackTrace,
		rec.TaskID,
		s.group,
	)
	if err != nil {
		return fmt.Errorf("failed to update task record: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", task.ErrTaskNotFound, rec.TaskID)
	}
	return nil
}

// DeleteTask implements task.Store.
func (s *TaskStore) DeleteTask(ctx context.Context, taskID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM task_records WHERE task_id = $1 AND group_name = $2`,
		taskID, s.group)
	if err != nil {
		return false, fmt.Errorf("failed to delete task record: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// ListTasks implements task.Store.
func (s *TaskStore) ListTasks(ctx context.Context, limit int) ([]*task.Record, error) {
	s.sweep(ctx)

	query := `
		SELECT task_id, group_name, status, created_at, started_at, completed_at, result, error, stack_trace
		FROM task_records
		WHERE group_name = $1
		ORDER BY created_at DESC
	`
	args := []any{s.group}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list task records: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn("failed to close rows", "error", closeErr)
		}
	}()

	var out []*task.Record
	for rows.Next() {
		rec, err := s.scanTaskRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate task records: %w", err)
	}
	return out, nil
}

// sweep drops terminal records past the TTL. It is best-effort: failures
// are logged and never surfaced to the triggering operation.
func (s *TaskStore) sweep(ctx context.Context) {
	if s.ttl <= 0 {
		return
	}
	cutoff := time.Now().UTC().Add(-s.ttl)
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM task_records WHERE group_name = $1 AND completed_at IS NOT NULL AND completed_at < $2`,
		s.group, cutoff)
	if err != nil {
		s.logger.Warn("ttl sweep failed", "error", err)
	}
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *TaskStore) scanTaskRow(row rowScanner) (*task.Record, error) {
	var rec task.Record
	var startedAt, completedAt sql.NullTime
	var resultPayload []byte

	err := row.Scan(
		&rec.TaskID,
		&rec.GroupName,
		&rec.Status,
		&rec.CreatedAt,
		&startedAt,
		&completedAt,
		&resultPayload,
		&rec.Error,
		&rec.StackTrace,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan task record: %w", err)
	}

	if startedAt.Valid {
		t := startedAt.Time.UTC()
		rec.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		rec.CompletedAt = &t
	}
	if len(resultPayload) > 0 {
		if err := json.Unmarshal(resultPayload, &rec.Result); err != nil {
			return nil, fmt.Errorf("failed to decode task result: %w", err)
		}
	}
	return &rec, nil
}
