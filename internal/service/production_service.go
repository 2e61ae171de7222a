package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/topicreel/api/internal/model"
	"github.com/topicreel/api/internal/pipeline"
	"github.com/topicreel/api/internal/registry"
)

// Enqueuer is the slice of asynq.Client the service needs; tests swap in a
// fake.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// ProductionService implements the pipeline-facing API: submitting topics,
// reporting status and results, cancellation, manual retry, and stats.
type ProductionService struct {
	registry registry.Registry
	enqueuer Enqueuer
}

// NewProductionService creates a new production service
func NewProductionService(reg registry.Registry, enqueuer Enqueuer) *ProductionService {
	return &ProductionService{registry: reg, enqueuer: enqueuer}
}

// Submit validates the request, records a pending task, and dispatches it
// to the worker pool.
func (s *ProductionService) Submit(ctx context.Context, req *model.SubmitRequest) (*model.SubmitResponse, error) {
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		return nil, fmt.Errorf("topic must not be empty")
	}
	if req.TargetDurationSeconds < model.MinTargetDurationSeconds ||
		req.TargetDurationSeconds > model.MaxTargetDurationSeconds {
		return nil, fmt.Errorf("targetDurationSeconds must be between %d and %d",
			model.MinTargetDurationSeconds, model.MaxTargetDurationSeconds)
	}

	now := time.Now()
	task := &model.Task{
		ID:                    uuid.New().String(),
		Topic:                 topic,
		TargetDurationSeconds: req.TargetDurationSeconds,
		VoiceID:               req.VoiceID,
		ThumbnailStyle:        req.ThumbnailStyle,
		State:                 model.TaskStatePending,
		ProgressPercent:       0,
		Attempt:               1,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	if err := s.registry.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	if err := s.enqueueProduce(task.ID); err != nil {
		return nil, err
	}

	return &model.SubmitResponse{
		TaskID:    task.ID,
		State:     task.State,
		CreatedAt: task.CreatedAt,
	}, nil
}

// GetStatus returns the externally visible status of a task.
func (s *ProductionService) GetStatus(ctx context.Context, taskID string) (*model.StatusResponse, error) {
	task, err := s.registry.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return &model.StatusResponse{
		TaskID:          task.ID,
		State:           task.State,
		ProgressPercent: task.ProgressPercent,
		CurrentStage:    task.CurrentStage,
		Attempt:         task.Attempt,
		Error:           task.Error,
		CreatedAt:       task.CreatedAt,
		StartedAt:       task.StartedAt,
		CompletedAt:     task.CompletedAt,
	}, nil
}

// GetResult returns the artifacts of a completed task.
func (s *ProductionService) GetResult(ctx context.Context, taskID string) (*model.ResultResponse, error) {
	task, err := s.registry.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.State != model.TaskStateCompleted {
		return nil, fmt.Errorf("task is %s: %w", task.State, registry.ErrConflict)
	}
	return &model.ResultResponse{
		TaskID:               task.ID,
		VideoRef:             task.Artifacts.VideoRef,
		ThumbnailRef:         task.Artifacts.ThumbnailRef,
		Script:               task.Artifacts.Script,
		AudioRef:             task.Artifacts.AudioRef,
		AudioDurationSeconds: task.Artifacts.AudioDurationSeconds,
		SliceCount:           len(task.Artifacts.Slices),
		CompletedAt:          task.CompletedAt,
	}, nil
}

// Cancel stops a task. A pending task fails immediately; a running one
// gets a cancellation flag the orchestrator honors between stages — the
// in-flight collaborator call is allowed to finish or time out.
func (s *ProductionService) Cancel(ctx context.Context, taskID string) (*model.CancelResponse, error) {
	task, err := s.registry.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.State.IsTerminal() {
		return nil, fmt.Errorf("task already %s: %w", task.State, registry.ErrConflict)
	}

	if task.State == model.TaskStatePending {
		msg := "canceled by request"
		updated, err := s.registry.Transition(ctx, taskID, model.TaskStatePending, model.TaskStateFailed, func(t *model.Task) {
			t.Error = &msg
			now := time.Now()
			t.CompletedAt = &now
		})
		if err != nil {
			return nil, err
		}
		return &model.CancelResponse{TaskID: taskID, State: updated.State, Requested: true}, nil
	}

	updated, err := s.registry.Update(ctx, taskID, func(t *model.Task) {
		t.CancelRequested = true
	})
	if err != nil {
		return nil, err
	}
	return &model.CancelResponse{TaskID: taskID, State: updated.State, Requested: true}, nil
}

// Retry re-enters a failed task into the pipeline from the start,
// resetting its attempt counter and error.
func (s *ProductionService) Retry(ctx context.Context, taskID string) (*model.RetryResponse, error) {
	_, err := s.registry.Transition(ctx, taskID, model.TaskStateFailed, model.TaskStatePending, func(t *model.Task) {
		t.Error = nil
		t.Attempt = 1
		t.ProgressPercent = 0
		t.CurrentStage = ""
		t.CancelRequested = false
		t.CompletedAt = nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.enqueueProduce(taskID); err != nil {
		return nil, err
	}
	return &model.RetryResponse{TaskID: taskID, State: model.TaskStatePending}, nil
}

// List returns tasks filtered by state, oldest first.
func (s *ProductionService) List(ctx context.Context, states []model.TaskState, limit int) ([]*model.StatusResponse, error) {
	tasks, err := s.registry.List(ctx, registry.Filter{States: states, Limit: limit})
	if err != nil {
		return nil, err
	}
	out := make([]*model.StatusResponse, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, &model.StatusResponse{
			TaskID:          task.ID,
			State:           task.State,
			ProgressPercent: task.ProgressPercent,
			CurrentStage:    task.CurrentStage,
			Attempt:         task.Attempt,
			Error:           task.Error,
			CreatedAt:       task.CreatedAt,
			StartedAt:       task.StartedAt,
			CompletedAt:     task.CompletedAt,
		})
	}
	return out, nil
}

// GetStats returns aggregate task counts by state.
func (s *ProductionService) GetStats(ctx context.Context) (*model.StatsResponse, error) {
	stats, err := s.registry.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &model.StatsResponse{
		Pending:   stats.Pending,
		Active:    stats.Active,
		Completed: stats.Completed,
		Failed:    stats.Failed,
	}, nil
}

// ReapStalePending re-enqueues pending tasks whose queue message was lost,
// e.g. after a Redis flush or a crash between Create and Enqueue. Returns
// the number of tasks re-dispatched.
func (s *ProductionService) ReapStalePending(ctx context.Context, olderThan time.Duration) (int, error) {
	tasks, err := s.registry.List(ctx, registry.Filter{States: []model.TaskState{model.TaskStatePending}})
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-olderThan)
	reaped := 0
	for _, task := range tasks {
		if task.UpdatedAt.After(cutoff) {
			continue
		}
		if err := s.enqueueProduce(task.ID); err != nil {
			return reaped, err
		}
		reaped++
	}
	return reaped, nil
}

func (s *ProductionService) enqueueProduce(taskID string) error {
	task, err := pipeline.NewProduceTask(taskID)
	if err != nil {
		return err
	}
	_, err = s.enqueuer.Enqueue(task,
		asynq.Queue(pipeline.QueueProduce),
		asynq.MaxRetry(0),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}
