package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/topicreel/api/internal/client"
	"github.com/topicreel/api/internal/model"
	"github.com/topicreel/api/internal/registry"
	"github.com/topicreel/api/internal/stage"
)

// fakeExecutor is a scriptable stage for orchestrator tests.
type fakeExecutor struct {
	stage model.Stage
	run   func(ctx context.Context, task *model.Task) error
	calls int
}

func (f *fakeExecutor) Stage() model.Stage { return f.stage }

func (f *fakeExecutor) Execute(ctx context.Context, task *model.Task) error {
	f.calls++
	if f.run != nil {
		return f.run(ctx, task)
	}
	return nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	progress []model.TaskState
	complete int
	errors   []string
}

func (n *recordingNotifier) BroadcastProgress(taskID string, state model.TaskState, progress int, st model.Stage) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.progress = append(n.progress, state)
}

func (n *recordingNotifier) BroadcastComplete(taskID string, result interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.complete++
}

func (n *recordingNotifier) BroadcastError(taskID, code, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, message)
}

func createTask(t *testing.T, reg registry.Registry) *model.Task {
	t.Helper()
	now := time.Now()
	task := &model.Task{
		ID:                    uuid.New().String(),
		Topic:                 "daisy care for beginners",
		TargetDurationSeconds: 120,
		State:                 model.TaskStatePending,
		Attempt:               1,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := reg.Create(context.Background(), task); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	return task
}

func noSleep(o *Orchestrator) {
	o.sleep = func(ctx context.Context, d time.Duration) error { return nil }
}

func happyExecutors() []stage.Executor {
	return []stage.Executor{
		&fakeExecutor{stage: model.StageScript, run: func(ctx context.Context, task *model.Task) error {
			task.Artifacts.Script = "Daisies are hardy perennials."
			return nil
		}},
		&fakeExecutor{stage: model.StageSpeech, run: func(ctx context.Context, task *model.Task) error {
			task.Artifacts.AudioRef = "audio.mp3"
			task.Artifacts.AudioDurationSeconds = 120
			return nil
		}},
		&fakeExecutor{stage: model.StageVisuals, run: func(ctx context.Context, task *model.Task) error {
			for i := 0; i < 24; i++ {
				task.Artifacts.Slices = append(task.Artifacts.Slices, model.VisualSlice{
					Asset:                model.VisualAsset{Kind: model.VisualKindImage, SourceRef: fmt.Sprintf("img-%d.jpg", i)},
					StartOffsetSeconds:   float64(i) * 5,
					SliceDurationSeconds: 5,
				})
			}
			return nil
		}},
		&fakeExecutor{stage: model.StageRender, run: func(ctx context.Context, task *model.Task) error {
			task.Artifacts.VideoRef = "final.mp4"
			return nil
		}},
		&fakeExecutor{stage: model.StageThumbnail, run: func(ctx context.Context, task *model.Task) error {
			task.Artifacts.ThumbnailRef = "thumb.jpg"
			return nil
		}},
	}
}

func TestOrchestrator_HappyPath(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	notifier := &recordingNotifier{}
	o := NewOrchestrator(reg, happyExecutors(), notifier, 3, time.Millisecond)
	noSleep(o)

	task := createTask(t, reg)
	if err := o.Run(context.Background(), task.ID); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	final, err := reg.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if final.State != model.TaskStateCompleted {
		t.Fatalf("expected completed, got %s (error: %v)", final.State, final.Error)
	}
	if final.ProgressPercent != 100 {
		t.Errorf("expected progress 100, got %d", final.ProgressPercent)
	}
	if final.Artifacts.VideoRef != "final.mp4" || final.Artifacts.ThumbnailRef != "thumb.jpg" {
		t.Errorf("artifacts missing: %+v", final.Artifacts)
	}
	if len(final.Artifacts.Slices) != 24 {
		t.Errorf("expected 24 slices, got %d", len(final.Artifacts.Slices))
	}
	if final.CompletedAt == nil || final.StartedAt == nil {
		t.Error("expected StartedAt and CompletedAt to be set")
	}
	if notifier.complete != 1 {
		t.Errorf("expected 1 complete broadcast, got %d", notifier.complete)
	}
	if len(notifier.progress) != 5 {
		t.Errorf("expected 5 progress broadcasts, got %d", len(notifier.progress))
	}
}

func TestOrchestrator_ProgressPerStage(t *testing.T) {
	reg := registry.NewMemoryRegistry()

	// Capture the progress value recorded while each stage runs.
	var progressAt []int
	executors := make([]stage.Executor, 0, len(model.StageOrder))
	for _, st := range model.StageOrder {
		st := st
		executors = append(executors, &fakeExecutor{stage: st, run: func(ctx context.Context, task *model.Task) error {
			progressAt = append(progressAt, task.ProgressPercent)
			task.Artifacts.AudioDurationSeconds = 1 // keep artifacts non-empty
			return nil
		}})
	}

	o := NewOrchestrator(reg, executors, nil, 3, time.Millisecond)
	noSleep(o)

	task := createTask(t, reg)
	if err := o.Run(context.Background(), task.ID); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	want := []int{0, 20, 40, 60, 80}
	if len(progressAt) != len(want) {
		t.Fatalf("expected %d stages, got %d", len(want), len(progressAt))
	}
	for i := range want {
		if progressAt[i] != want[i] {
			t.Errorf("stage %d: expected progress %d, got %d", i, want[i], progressAt[i])
		}
	}
}

func TestOrchestrator_RetryableFailureExhaustsAttempts(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	notifier := &recordingNotifier{}

	transient := &client.APIError{Service: "groq", StatusCode: 503}
	script := &fakeExecutor{stage: model.StageScript, run: func(ctx context.Context, task *model.Task) error {
		return &stage.CollaboratorError{Stage: model.StageScript, Retryable: true, Err: transient}
	}}
	executors := append([]stage.Executor{script}, happyExecutors()[1:]...)

	o := NewOrchestrator(reg, executors, notifier, 3, time.Millisecond)
	noSleep(o)

	task := createTask(t, reg)
	if err := o.Run(context.Background(), task.ID); err != nil {
		t.Fatalf("run should swallow terminal failures, got %v", err)
	}

	if script.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", script.calls)
	}

	final, _ := reg.Get(context.Background(), task.ID)
	if final.State != model.TaskStateFailed {
		t.Fatalf("expected failed, got %s", final.State)
	}
	if final.Attempt != 3 {
		t.Errorf("expected attempt 3 recorded, got %d", final.Attempt)
	}
	if final.Error == nil || !strings.Contains(*final.Error, string(model.TaskStateScriptGenerating)) {
		t.Errorf("expected error naming the failing state, got %v", final.Error)
	}
	if len(notifier.errors) != 1 {
		t.Errorf("expected 1 error broadcast, got %d", len(notifier.errors))
	}
}

func TestOrchestrator_FatalFailureNoRetry(t *testing.T) {
	reg := registry.NewMemoryRegistry()

	visuals := &fakeExecutor{stage: model.StageVisuals, run: func(ctx context.Context, task *model.Task) error {
		return &stage.CollaboratorError{Stage: model.StageVisuals, Retryable: false, Err: errors.New("no visual assets found")}
	}}
	render := &fakeExecutor{stage: model.StageRender}

	executors := happyExecutors()
	executors[2] = visuals
	executors[3] = render

	o := NewOrchestrator(reg, executors, nil, 3, time.Millisecond)
	noSleep(o)

	task := createTask(t, reg)
	if err := o.Run(context.Background(), task.ID); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if visuals.calls != 1 {
		t.Errorf("fatal failure must not be retried, got %d calls", visuals.calls)
	}
	if render.calls != 0 {
		t.Errorf("render must never run after visuals failed, got %d calls", render.calls)
	}

	final, _ := reg.Get(context.Background(), task.ID)
	if final.State != model.TaskStateFailed {
		t.Fatalf("expected failed, got %s", final.State)
	}
	if final.Error == nil || !strings.Contains(*final.Error, string(model.TaskStateVisualsProcessing)) {
		t.Errorf("expected error naming visuals_processing, got %v", final.Error)
	}
}

func TestOrchestrator_RetryThenSuccess(t *testing.T) {
	reg := registry.NewMemoryRegistry()

	attempts := 0
	script := &fakeExecutor{stage: model.StageScript, run: func(ctx context.Context, task *model.Task) error {
		attempts++
		if attempts < 3 {
			return &stage.CollaboratorError{Stage: model.StageScript, Retryable: true, Err: errors.New("timeout")}
		}
		task.Artifacts.Script = "third time lucky"
		return nil
	}}
	executors := append([]stage.Executor{script}, happyExecutors()[1:]...)

	var delays []time.Duration
	o := NewOrchestrator(reg, executors, nil, 3, time.Second)
	o.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	task := createTask(t, reg)
	if err := o.Run(context.Background(), task.ID); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	final, _ := reg.Get(context.Background(), task.ID)
	if final.State != model.TaskStateCompleted {
		t.Fatalf("expected completed, got %s", final.State)
	}
	if final.Artifacts.Script != "third time lucky" {
		t.Errorf("script artifact missing")
	}

	// Exponential backoff: base, base*2
	if len(delays) != 2 || delays[0] != time.Second || delays[1] != 2*time.Second {
		t.Errorf("unexpected backoff delays: %v", delays)
	}
}

func TestOrchestrator_CancelBetweenStages(t *testing.T) {
	reg := registry.NewMemoryRegistry()

	render := &fakeExecutor{stage: model.StageRender}
	executors := happyExecutors()
	executors[3] = render

	// Request cancellation while the speech stage runs.
	executors[1] = &fakeExecutor{stage: model.StageSpeech, run: func(ctx context.Context, task *model.Task) error {
		if _, err := reg.Update(ctx, task.ID, func(t *model.Task) { t.CancelRequested = true }); err != nil {
			return err
		}
		task.Artifacts.AudioRef = "audio.mp3"
		task.Artifacts.AudioDurationSeconds = 120
		return nil
	}}

	o := NewOrchestrator(reg, executors, nil, 3, time.Millisecond)
	noSleep(o)

	task := createTask(t, reg)
	if err := o.Run(context.Background(), task.ID); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	final, _ := reg.Get(context.Background(), task.ID)
	if final.State != model.TaskStateFailed {
		t.Fatalf("expected failed after cancellation, got %s", final.State)
	}
	if final.Error == nil || !strings.Contains(*final.Error, "canceled") {
		t.Errorf("expected cancellation error, got %v", final.Error)
	}
	if render.calls != 0 {
		t.Errorf("render must not run after cancellation, got %d calls", render.calls)
	}
}

func TestOrchestrator_DuplicateDeliveryDropped(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	script := &fakeExecutor{stage: model.StageScript}
	executors := append([]stage.Executor{script}, happyExecutors()[1:]...)

	o := NewOrchestrator(reg, executors, nil, 3, time.Millisecond)
	noSleep(o)

	task := createTask(t, reg)
	if err := o.Run(context.Background(), task.ID); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	// Second delivery of the same message: the pending->script claim fails
	// and the run ends without touching the completed task.
	if err := o.Run(context.Background(), task.ID); err != nil {
		t.Fatalf("duplicate delivery should be swallowed, got %v", err)
	}
	if script.calls != 1 {
		t.Errorf("expected 1 script execution, got %d", script.calls)
	}

	final, _ := reg.Get(context.Background(), task.ID)
	if final.State != model.TaskStateCompleted {
		t.Errorf("duplicate delivery corrupted the task: %s", final.State)
	}
}

func TestOrchestrator_UnknownTaskDropped(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	o := NewOrchestrator(reg, happyExecutors(), nil, 3, time.Millisecond)
	noSleep(o)

	if err := o.Run(context.Background(), uuid.New().String()); err != nil {
		t.Errorf("unknown task should be dropped, got %v", err)
	}
}

func TestWorker_ProcessTask(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	o := NewOrchestrator(reg, happyExecutors(), nil, 3, time.Millisecond)
	noSleep(o)
	w := NewWorker(o)

	task := createTask(t, reg)
	asynqTask, err := NewProduceTask(task.ID)
	if err != nil {
		t.Fatalf("build task failed: %v", err)
	}
	if err := w.ProcessTask(context.Background(), asynqTask); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	final, _ := reg.Get(context.Background(), task.ID)
	if final.State != model.TaskStateCompleted {
		t.Errorf("expected completed, got %s", final.State)
	}
}
