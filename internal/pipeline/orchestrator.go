// Package pipeline drives a task through its production stages in order,
// persisting progress after every stage and applying the retry policy.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/topicreel/api/internal/model"
	"github.com/topicreel/api/internal/registry"
	"github.com/topicreel/api/internal/stage"
)

// Notifier receives task lifecycle events for external observers. The
// websocket hub implements it; tests use a no-op.
type Notifier interface {
	BroadcastProgress(taskID string, state model.TaskState, progress int, stage model.Stage)
	BroadcastComplete(taskID string, result interface{})
	BroadcastError(taskID, code, message string)
}

type noopNotifier struct{}

func (noopNotifier) BroadcastProgress(string, model.TaskState, int, model.Stage) {}
func (noopNotifier) BroadcastComplete(string, interface{})                       {}
func (noopNotifier) BroadcastError(string, string, string)                       {}

// Orchestrator runs one task's pipeline end to end. Stages execute
// strictly sequentially; every state change goes through the registry's
// guarded Transition, which also enforces that at most one worker owns a
// task at a time.
type Orchestrator struct {
	registry    registry.Registry
	executors   []stage.Executor
	notifier    Notifier
	maxAttempts int
	backoffBase time.Duration

	// sleep is swapped out in tests to avoid real backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator creates an orchestrator. Executors must be passed in
// pipeline order. notifier may be nil.
func NewOrchestrator(reg registry.Registry, executors []stage.Executor, notifier Notifier, maxAttempts int, backoffBase time.Duration) *Orchestrator {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if backoffBase <= 0 {
		backoffBase = time.Second
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Orchestrator{
		registry:    reg,
		executors:   executors,
		notifier:    notifier,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Run executes the full pipeline for one task. A task that fails
// terminally is recorded as failed and Run returns nil: redelivering the
// message cannot help. Errors are returned only for infrastructure
// failures where redelivery makes sense.
func (o *Orchestrator) Run(ctx context.Context, taskID string) error {
	current := model.TaskStatePending

	for i, ex := range o.executors {
		st := ex.Stage()
		next := model.StateForStage(st)

		// Cooperative cancellation: only between stages, never mid-stage.
		task, err := o.registry.Get(ctx, taskID)
		if err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				log.Printf("Task %s vanished, dropping", taskID)
				return nil
			}
			return err
		}
		if task.CancelRequested {
			o.failTask(ctx, taskID, current, st, "canceled by request")
			return nil
		}

		_, err = o.registry.Transition(ctx, taskID, current, next, func(t *model.Task) {
			t.CurrentStage = st
			t.ProgressPercent = model.StageProgress(st)
			t.Attempt = 1
			if i == 0 {
				now := time.Now()
				t.StartedAt = &now
			}
		})
		if err != nil {
			if errors.Is(err, registry.ErrConflict) || errors.Is(err, registry.ErrNotFound) {
				// Another worker owns this task, or it was already
				// processed. Duplicate deliveries end here.
				log.Printf("Task %s: skipping %s stage: %v", taskID, st, err)
				return nil
			}
			return err
		}
		o.notifier.BroadcastProgress(taskID, next, model.StageProgress(st), st)
		current = next

		if execErr := o.runStage(ctx, taskID, ex); execErr != nil {
			o.failTask(ctx, taskID, current, st, execErr.Error())
			return nil
		}
	}

	completed, err := o.registry.Transition(ctx, taskID, current, model.TaskStateCompleted, func(t *model.Task) {
		t.ProgressPercent = 100
		now := time.Now()
		t.CompletedAt = &now
	})
	if err != nil {
		return fmt.Errorf("complete task %s: %w", taskID, err)
	}

	log.Printf("Task %s completed: video=%s thumbnail=%s",
		taskID, completed.Artifacts.VideoRef, completed.Artifacts.ThumbnailRef)
	o.notifier.BroadcastComplete(taskID, completed.Artifacts)
	return nil
}

// runStage invokes one executor with the retry policy: retryable failures
// are re-attempted with exponential backoff up to the attempt budget; the
// recorded attempt counter always reflects the last attempt made.
func (o *Orchestrator) runStage(ctx context.Context, taskID string, ex stage.Executor) error {
	st := ex.Stage()
	state := model.StateForStage(st)

	for attempt := 1; ; attempt++ {
		task, err := o.registry.Get(ctx, taskID)
		if err != nil {
			return err
		}

		// Executors work on a copy; artifacts reach the registry only
		// after the stage succeeds.
		work := task.Clone()
		execErr := ex.Execute(ctx, work)
		if execErr == nil {
			_, err := o.registry.Transition(ctx, taskID, state, state, func(t *model.Task) {
				t.Artifacts = work.Artifacts
			})
			return err
		}

		if !stage.IsRetryable(execErr) || attempt >= o.maxAttempts {
			return execErr
		}

		delay := o.backoffBase * (1 << (attempt - 1))
		log.Printf("Task %s: %s stage attempt %d failed (%v), retrying in %s",
			taskID, st, attempt, execErr, delay)

		if _, err := o.registry.Transition(ctx, taskID, state, state, func(t *model.Task) {
			t.Attempt = attempt + 1
		}); err != nil {
			return err
		}
		if err := o.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// failTask records a terminal failure with the stage and reason. The
// error field is never thrown away: a later status query must see it.
func (o *Orchestrator) failTask(ctx context.Context, taskID string, from model.TaskState, st model.Stage, reason string) {
	msg := fmt.Sprintf("%s: %s", model.StateForStage(st), reason)
	if from == model.TaskStatePending {
		msg = reason
	}
	_, err := o.registry.Transition(ctx, taskID, from, model.TaskStateFailed, func(t *model.Task) {
		t.Error = &msg
		now := time.Now()
		t.CompletedAt = &now
	})
	if err != nil {
		log.Printf("Task %s: failed to record failure: %v", taskID, err)
		return
	}
	log.Printf("Task %s failed: %s", taskID, msg)
	o.notifier.BroadcastError(taskID, "PIPELINE_FAILED", msg)
}
