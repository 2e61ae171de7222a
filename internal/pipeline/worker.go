package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// TaskTypeProduce is the asynq task type for running one production
	// pipeline.
	TaskTypeProduce = "video:produce"

	// QueueProduce is the queue production tasks are dispatched on.
	QueueProduce = "produce"
)

// ProducePayload is the message enqueued per submitted task. Everything
// else lives in the registry; the queue only carries the id.
type ProducePayload struct {
	TaskID string `json:"taskId"`
}

// NewProduceTask builds the asynq task for a submitted production request.
// Queue-level retry is disabled: the orchestrator owns the retry policy.
func NewProduceTask(taskID string) (*asynq.Task, error) {
	payload, err := json.Marshal(ProducePayload{TaskID: taskID})
	if err != nil {
		return nil, fmt.Errorf("marshal produce payload: %w", err)
	}
	return asynq.NewTask(TaskTypeProduce, payload), nil
}

// Worker adapts the orchestrator to the asynq handler contract.
type Worker struct {
	orchestrator *Orchestrator
}

// NewWorker creates a new pipeline worker
func NewWorker(orchestrator *Orchestrator) *Worker {
	return &Worker{orchestrator: orchestrator}
}

// ProcessTask handles one queued production task.
func (w *Worker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload ProducePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal produce payload: %w", err)
	}
	if payload.TaskID == "" {
		return fmt.Errorf("produce payload has no task id")
	}
	return w.orchestrator.Run(ctx, payload.TaskID)
}
