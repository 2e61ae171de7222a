package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/topicreel/api/internal/model"
)

// MemoryRegistry is an in-process Registry backed by a mutex-guarded map.
// It is used by tests and as a fallback when Redis is not available.
type MemoryRegistry struct {
	mu    sync.RWMutex
	tasks map[string]*model.Task
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		tasks: make(map[string]*model.Task),
	}
}

func (r *MemoryRegistry) Create(ctx context.Context, task *model.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[task.ID]; ok {
		return ErrDuplicateID
	}
	if task.State != model.TaskStatePending {
		return fmt.Errorf("new task must be pending, got %q", task.State)
	}
	r.tasks[task.ID] = task.Clone()
	return nil
}

func (r *MemoryRegistry) Get(ctx context.Context, id string) (*model.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, ok := r.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return task.Clone(), nil
}

func (r *MemoryRegistry) Transition(ctx context.Context, id string, from, to model.TaskState, apply func(*model.Task)) (*model.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	if task.State != from {
		return nil, fmt.Errorf("transition %s -> %s: task is %s: %w", from, to, task.State, ErrConflict)
	}

	next := task.Clone()
	next.State = to
	if apply != nil {
		apply(next)
	}
	if err := validateTransition(next, to); err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now()

	r.tasks[id] = next
	return next.Clone(), nil
}

func (r *MemoryRegistry) Update(ctx context.Context, id string, apply func(*model.Task)) (*model.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	if task.State.IsTerminal() {
		return nil, fmt.Errorf("task is %s: %w", task.State, ErrConflict)
	}

	next := task.Clone()
	if apply != nil {
		apply(next)
	}
	next.UpdatedAt = time.Now()

	r.tasks[id] = next
	return next.Clone(), nil
}

func (r *MemoryRegistry) List(ctx context.Context, filter Filter) ([]*model.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*model.Task
	for _, task := range r.tasks {
		if matchesFilter(task, filter) {
			out = append(out, task.Clone())
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

func (r *MemoryRegistry) Stats(ctx context.Context) (*Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &Stats{}
	for _, task := range r.tasks {
		countInto(stats, task.State)
	}
	return stats, nil
}

// validateTransition enforces the invariants a patched task must satisfy
// before it is stored.
func validateTransition(task *model.Task, to model.TaskState) error {
	if to == model.TaskStateFailed && (task.Error == nil || *task.Error == "") {
		return fmt.Errorf("transition to failed requires a non-empty error")
	}
	return nil
}
