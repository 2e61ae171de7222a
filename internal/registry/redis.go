package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/topicreel/api/internal/model"
)

const (
	taskKeyPrefix = "task:"
	taskIndexKey  = "tasks:index"

	// Finished tasks are kept around for a day so clients can still read
	// status and results after the fact.
	taskRetention = 24 * time.Hour
)

// RedisRegistry is a Registry backed by Redis. Atomicity of Transition is
// provided by an optimistic WATCH/MULTI transaction on the task key: a
// concurrent writer invalidates the transaction and the loser gets
// ErrConflict.
type RedisRegistry struct {
	client *redis.Client
}

// NewRedisRegistry creates a Redis-backed registry.
func NewRedisRegistry(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{client: client}
}

func taskKey(id string) string {
	return taskKeyPrefix + id
}

func (r *RedisRegistry) Create(ctx context.Context, task *model.Task) error {
	if task.State != model.TaskStatePending {
		return fmt.Errorf("new task must be pending, got %q", task.State)
	}
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	ok, err := r.client.SetNX(ctx, taskKey(task.ID), data, taskRetention).Result()
	if err != nil {
		return fmt.Errorf("store task: %w", err)
	}
	if !ok {
		return ErrDuplicateID
	}
	if err := r.client.SAdd(ctx, taskIndexKey, task.ID).Err(); err != nil {
		return fmt.Errorf("index task: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Get(ctx context.Context, id string) (*model.Task, error) {
	data, err := r.client.Get(ctx, taskKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load task: %w", err)
	}

	var task model.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	return &task, nil
}

func (r *RedisRegistry) Transition(ctx context.Context, id string, from, to model.TaskState, apply func(*model.Task)) (*model.Task, error) {
	return r.mutate(ctx, id, func(task *model.Task) error {
		if task.State != from {
			return fmt.Errorf("transition %s -> %s: task is %s: %w", from, to, task.State, ErrConflict)
		}
		task.State = to
		if apply != nil {
			apply(task)
		}
		return validateTransition(task, to)
	})
}

func (r *RedisRegistry) Update(ctx context.Context, id string, apply func(*model.Task)) (*model.Task, error) {
	return r.mutate(ctx, id, func(task *model.Task) error {
		if task.State.IsTerminal() {
			return fmt.Errorf("task is %s: %w", task.State, ErrConflict)
		}
		if apply != nil {
			apply(task)
		}
		return nil
	})
}

// mutate runs a guarded read-modify-write on one task key. The patch
// function may reject the mutation by returning an error.
func (r *RedisRegistry) mutate(ctx context.Context, id string, patch func(*model.Task) error) (*model.Task, error) {
	key := taskKey(id)
	var result *model.Task

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return fmt.Errorf("load task: %w", err)
		}

		var task model.Task
		if err := json.Unmarshal(data, &task); err != nil {
			return fmt.Errorf("unmarshal task: %w", err)
		}
		if err := patch(&task); err != nil {
			return err
		}
		task.UpdatedAt = time.Now()

		next, err := json.Marshal(&task)
		if err != nil {
			return fmt.Errorf("marshal task: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, taskRetention)
			return nil
		})
		if err == nil {
			result = &task
		}
		return err
	}, key)

	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return nil, fmt.Errorf("concurrent write on task %s: %w", id, ErrConflict)
		}
		return nil, err
	}
	return result, nil
}

func (r *RedisRegistry) List(ctx context.Context, filter Filter) ([]*model.Task, error) {
	ids, err := r.client.SMembers(ctx, taskIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list task ids: %w", err)
	}

	var out []*model.Task
	for _, id := range ids {
		task, err := r.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Task record expired; drop the stale index entry.
				r.client.SRem(ctx, taskIndexKey, id)
				continue
			}
			return nil, err
		}
		if matchesFilter(task, filter) {
			out = append(out, task)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *RedisRegistry) Stats(ctx context.Context) (*Stats, error) {
	tasks, err := r.List(ctx, Filter{})
	if err != nil {
		return nil, err
	}
	stats := &Stats{}
	for _, task := range tasks {
		countInto(stats, task.State)
	}
	return stats, nil
}
