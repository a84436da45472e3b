// Package redistore implements the task engine's Store interface on Redis,
// for deployments that want task records to survive process restarts or be
// visible to multiple readers. Records are stored as JSON values with a
// sorted-set index by creation time for ordered listing.
package redistore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taskmill/taskmill/internal/task"
)

// Config describes the Redis connection and record retention parameters.
type Config struct {
	Addr     string
	Password string
	DB       int

	// Group scopes this store's keys to one task group, so unrelated
	// groups sharing a Redis instance stay isolated.
	Group string

	// TTL is applied to a record's key once it reaches a terminal
	// state. Zero keeps records until explicitly deleted.
	TTL time.Duration
}

// Store is a Redis-backed task record store.
//
// Because records cross a serialization boundary, task results must survive
// a JSON round trip: submitted result payloads come back as the generic
// JSON shapes (float64 numbers, map[string]any objects).
type Store struct {
	client *redis.Client
	group  string
	ttl    time.Duration
	logger *slog.Logger
}

// New connects to Redis and returns a Store scoped to cfg.Group.
func New(cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address must not be empty")
	}
	group := cfg.Group
	if group == "" {
		group = "default"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Store{
		client: client,
		group:  group,
		ttl:    cfg.TTL,
		logger: logger.With("store", "redis", "group", group),
	}, nil
}

// NewWithClient wraps an existing client, for tests and callers that manage
// their own connection.
func NewWithClient(client *redis.Client, group string, ttl time.Duration, logger *slog.Logger) *Store {
	return &Store{
		client: client,
		group:  group,
		ttl:    ttl,
		logger: logger.With("store", "redis", "group", group),
	}
}

func (s *Store) taskKey(taskID string) string {
	return "taskmill:" + s.group + ":task:" + taskID
}

func (s *Store) indexKey() string {
	return "taskmill:" + s.group + ":index"
}

// CreateTask implements task.Store.
func (s *Store) CreateTask(ctx context.Context, taskID, groupName string) (*task.Record, error) {
	rec := &task.Record{
		TaskID:    taskID,
		GroupName: groupName,
		Status:    task.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task record: %w", err)
	}

	// Record and index entry are written in one MULTI/EXEC block so a
	// record can never exist without being listable. Both writes are
	// NX-guarded, so a duplicate create leaves the existing record and
	// its index score untouched.
	pipe := s.client.TxPipeline()
	setCmd := pipe.SetNX(ctx, s.taskKey(taskID), payload, 0)
	pipe.ZAddNX(ctx, s.indexKey(), redis.Z{
		Score:  float64(rec.CreatedAt.UnixNano()),
		Member: taskID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create task record: %w", err)
	}
	if !setCmd.Val() {
		return nil, fmt.Errorf("%w: %s", task.ErrTaskExists, taskID)
	}
	return rec.Clone(), nil
}

// GetTask implements task.Store.
func (s *Store) GetTask(ctx context.Context, taskID string) (*task.Record, error) {
	payload, err := s.client.Get(ctx, s.taskKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", task.ErrTaskNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read task record: %w", err)
	}

	var rec task.Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode task record: %w", err)
	}
	return &rec, nil
}

// UpdateTask implements task.Store. Terminal records get the configured TTL
// so Redis expires them without an explicit sweep.
func (s *Store) UpdateTask(ctx context.Context, rec *task.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode task record: %w", err)
	}

	key := s.taskKey(rec.TaskID)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to check task record: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", task.ErrTaskNotFound, rec.TaskID)
	}

	expiration := time.Duration(0)
	if rec.Status.Terminal() && s.ttl > 0 {
		expiration = s.ttl
	}
	if err := s.client.Set(ctx, key, payload, expiration).Err(); err != nil {
		return fmt.Errorf("failed to update task record: %w", err)
	}
	return nil
}

// DeleteTask implements task.Store. Record and index entry go in one
// MULTI/EXEC block, so a reported deletion always covers both.
func (s *Store) DeleteTask(ctx context.Context, taskID string) (bool, error) {
	pipe := s.client.TxPipeline()
	delCmd := pipe.Del(ctx, s.taskKey(taskID))
	pipe.ZRem(ctx, s.indexKey(), taskID)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to delete task record: %w", err)
	}
	return delCmd.Val() > 0, nil
}

// ListTasks implements task.Store. Index entries whose record key has
// expired are dropped from the index opportunistically.
func (s *Store) ListTasks(ctx context.Context, limit int) ([]*task.Record, error) {
	stop := int64(-1)
	if limit > 0 {
		// Over-fetch to tolerate expired entries still in the index.
		stop = int64(limit)*2 - 1
	}
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list task index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.taskKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read task records: %w", err)
	}

	out := make([]*task.Record, 0, len(values))
	var stale []any
	for i, v := range values {
		if v == nil {
			stale = append(stale, ids[i])
			continue
		}
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var rec task.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			s.logger.Warn("skipping malformed task record", "task_id", ids[i], "error", err)
			continue
		}
		out = append(out, &rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}

	if len(stale) > 0 {
		if err := s.client.ZRem(ctx, s.indexKey(), stale...).Err(); err != nil {
			s.logger.Warn("failed to prune expired index entries", "error", err)
		}
	}
	return out, nil
}

// Close releases the underlying Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}
