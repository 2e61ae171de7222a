package registry

import (
	"context"
	"errors"

	"github.com/topicreel/api/internal/model"
)

var (
	// ErrNotFound is returned when no task exists for the given id.
	ErrNotFound = errors.New("task not found")

	// ErrConflict is returned when a transition's expected predecessor state
	// does not match the task's current state, or when a concurrent writer
	// won the race. Callers must re-read the task; the registry never
	// retries on their behalf.
	ErrConflict = errors.New("task state conflict")

	// ErrDuplicateID is returned when creating a task whose id already exists.
	ErrDuplicateID = errors.New("task id already exists")
)

// Filter selects tasks for List.
type Filter struct {
	States []model.TaskState
	Limit  int
}

// Stats holds aggregate task counts by state group.
type Stats struct {
	Pending   int
	Active    int
	Completed int
	Failed    int
}

// Registry is the single source of truth for task records. Transition is
// the only mutation point for a running task: it atomically guards the
// predecessor state and applies the patch, so at most one writer wins any
// given state change even under a scheduling race.
type Registry interface {
	// Create stores a new task. The task must be in the pending state.
	Create(ctx context.Context, task *model.Task) error

	// Get returns a copy of the task, or ErrNotFound.
	Get(ctx context.Context, id string) (*model.Task, error)

	// Transition atomically moves the task from the expected predecessor
	// state to the new state and applies the patch. A transition into the
	// failed state must leave a non-empty error on the task.
	Transition(ctx context.Context, id string, from, to model.TaskState, apply func(*model.Task)) (*model.Task, error)

	// Update applies a patch without changing state. Terminal tasks are
	// immutable; updating one returns ErrConflict.
	Update(ctx context.Context, id string, apply func(*model.Task)) (*model.Task, error)

	// List returns tasks matching the filter, oldest first.
	List(ctx context.Context, filter Filter) ([]*model.Task, error)

	// Stats returns aggregate counts by state group.
	Stats(ctx context.Context) (*Stats, error)
}

func matchesFilter(task *model.Task, filter Filter) bool {
	if len(filter.States) == 0 {
		return true
	}
	for _, s := range filter.States {
		if task.State == s {
			return true
		}
	}
	return false
}

func countInto(stats *Stats, state model.TaskState) {
	switch state {
	case model.TaskStatePending:
		stats.Pending++
	case model.TaskStateCompleted:
		stats.Completed++
	case model.TaskStateFailed:
		stats.Failed++
	default:
		stats.Active++
	}
}
