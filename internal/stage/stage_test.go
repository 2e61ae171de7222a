package stage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/topicreel/api/internal/client"
	"github.com/topicreel/api/internal/encoder"
	"github.com/topicreel/api/internal/model"
)

// --- fakes ---

type fakeLLM struct {
	script string
	err    error
	calls  int
}

func (f *fakeLLM) GenerateScript(ctx context.Context, topic string, targetWords int) (string, error) {
	f.calls++
	return f.script, f.err
}

func (f *fakeLLM) IsConfigured() bool { return true }

type fakeTTS struct {
	result   *client.SynthesisResult
	errs     []error // consumed per call, nil means success
	calls    int
	perCall  func(call int, text string) (*client.SynthesisResult, error)
	lastText string
}

func (f *fakeTTS) Synthesize(ctx context.Context, text, voiceID string) (*client.SynthesisResult, error) {
	f.calls++
	f.lastText = text
	if f.perCall != nil {
		return f.perCall(f.calls, text)
	}
	if len(f.errs) >= f.calls && f.errs[f.calls-1] != nil {
		return nil, f.errs[f.calls-1]
	}
	if f.result != nil {
		return f.result, nil
	}
	return &client.SynthesisResult{AudioRef: fmt.Sprintf("audio-%d.mp3", f.calls), DurationSeconds: 10}, nil
}

func (f *fakeTTS) IsConfigured() bool { return true }

type fakeSearcher struct {
	assets []model.VisualAsset
	err    error
}

func (f *fakeSearcher) FindVisuals(ctx context.Context, keywords []string, count int) ([]model.VisualAsset, error) {
	return f.assets, f.err
}

func (f *fakeSearcher) IsConfigured() bool { return true }

type fakeEncoder struct {
	renderRefs  []string // returned per call
	renderErrs  []error
	renderCalls int
	timelines   []*model.RenderTimeline

	concatRef string
	concatDur float64
	concatErr error
}

func (f *fakeEncoder) Render(ctx context.Context, tl *model.RenderTimeline) (string, error) {
	f.renderCalls++
	f.timelines = append(f.timelines, tl)
	i := f.renderCalls - 1
	if i < len(f.renderErrs) && f.renderErrs[i] != nil {
		return "", f.renderErrs[i]
	}
	if i < len(f.renderRefs) {
		return f.renderRefs[i], nil
	}
	return "out.mp4", nil
}

func (f *fakeEncoder) ConcatAudio(ctx context.Context, refs []string) (string, float64, error) {
	if f.concatErr != nil {
		return "", 0, f.concatErr
	}
	if f.concatRef == "" {
		return "joined.mp3", f.concatDur, nil
	}
	return f.concatRef, f.concatDur, nil
}

func imageAssets(n int) []model.VisualAsset {
	assets := make([]model.VisualAsset, n)
	for i := range assets {
		assets[i] = model.VisualAsset{
			Kind:      model.VisualKindImage,
			SourceRef: fmt.Sprintf("https://example.com/img-%d.jpg", i),
		}
	}
	return assets
}

// --- classification ---

func TestClassify(t *testing.T) {
	if !IsRetryable(classify(model.StageScript, context.DeadlineExceeded)) {
		t.Error("deadline exceeded should be retryable")
	}
	if !IsRetryable(classify(model.StageScript, &client.APIError{Service: "groq", StatusCode: 429})) {
		t.Error("429 should be retryable")
	}
	if !IsRetryable(classify(model.StageScript, &client.APIError{Service: "groq", StatusCode: 503})) {
		t.Error("503 should be retryable")
	}
	if IsRetryable(classify(model.StageScript, &client.APIError{Service: "groq", StatusCode: 400})) {
		t.Error("400 should be fatal")
	}
	if IsRetryable(&ValidationError{Field: "topic", Reason: "empty"}) {
		t.Error("validation errors are never retryable")
	}
}

// --- script stage ---

func TestScriptExecutor_Success(t *testing.T) {
	llm := &fakeLLM{script: "Sharks existed before trees."}
	ex := NewScriptExecutor(llm, 0)

	task := &model.Task{Topic: "ocean facts", TargetDurationSeconds: 120}
	if err := ex.Execute(context.Background(), task); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if task.Artifacts.Script != "Sharks existed before trees." {
		t.Errorf("script artifact not recorded")
	}
}

func TestScriptExecutor_Validation(t *testing.T) {
	ex := NewScriptExecutor(&fakeLLM{script: "x"}, 0)

	var ve *ValidationError
	err := ex.Execute(context.Background(), &model.Task{Topic: "  ", TargetDurationSeconds: 120})
	if !errors.As(err, &ve) {
		t.Errorf("expected ValidationError for empty topic, got %v", err)
	}

	err = ex.Execute(context.Background(), &model.Task{Topic: "ok", TargetDurationSeconds: 10})
	if !errors.As(err, &ve) {
		t.Errorf("expected ValidationError for out-of-range duration, got %v", err)
	}
	if IsRetryable(err) {
		t.Error("validation errors must be terminal")
	}
}

func TestScriptExecutor_EmptyOutputFatal(t *testing.T) {
	ex := NewScriptExecutor(&fakeLLM{script: "   "}, 0)

	err := ex.Execute(context.Background(), &model.Task{Topic: "ocean facts", TargetDurationSeconds: 120})
	if err == nil {
		t.Fatal("expected error for empty script")
	}
	if IsRetryable(err) {
		t.Error("empty script should be fatal")
	}
}

// --- speech stage ---

func TestSpeechExecutor_SingleChunk(t *testing.T) {
	tts := &fakeTTS{result: &client.SynthesisResult{AudioRef: "a.mp3", DurationSeconds: 42}}
	ex := NewSpeechExecutor(tts, &fakeEncoder{}, 2000, 0)

	task := &model.Task{Artifacts: model.Artifacts{Script: "Short script."}}
	if err := ex.Execute(context.Background(), task); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if tts.calls != 1 {
		t.Errorf("expected 1 synthesis call, got %d", tts.calls)
	}
	if task.Artifacts.AudioRef != "a.mp3" || task.Artifacts.AudioDurationSeconds != 42 {
		t.Errorf("unexpected artifacts: %+v", task.Artifacts)
	}
}

func TestSpeechExecutor_MultiChunkConcat(t *testing.T) {
	tts := &fakeTTS{}
	enc := &fakeEncoder{concatRef: "joined.mp3", concatDur: 33}
	ex := NewSpeechExecutor(tts, enc, 40, 0)

	script := "First sentence here. Second sentence here. Third sentence here."
	task := &model.Task{Artifacts: model.Artifacts{Script: script}}
	if err := ex.Execute(context.Background(), task); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if tts.calls < 2 {
		t.Errorf("expected multiple synthesis calls, got %d", tts.calls)
	}
	if task.Artifacts.AudioRef != "joined.mp3" {
		t.Errorf("expected concatenated ref, got %s", task.Artifacts.AudioRef)
	}
	if task.Artifacts.AudioDurationSeconds != 33 {
		t.Errorf("expected probed duration 33, got %f", task.Artifacts.AudioDurationSeconds)
	}
}

func TestSpeechExecutor_ChunkRetryThenSuccess(t *testing.T) {
	transient := &client.APIError{Service: "tts", StatusCode: 503}
	tts := &fakeTTS{errs: []error{transient, transient}}
	ex := NewSpeechExecutor(tts, &fakeEncoder{}, 2000, 0)

	task := &model.Task{Artifacts: model.Artifacts{Script: "A resilient script."}}
	if err := ex.Execute(context.Background(), task); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if tts.calls != 3 {
		t.Errorf("expected 3 calls (2 failures + success), got %d", tts.calls)
	}
}

func TestSpeechExecutor_ChunkBudgetExhausted(t *testing.T) {
	transient := &client.APIError{Service: "tts", StatusCode: 503}
	tts := &fakeTTS{errs: []error{transient, transient, transient, transient}}
	ex := NewSpeechExecutor(tts, &fakeEncoder{}, 2000, 0)

	task := &model.Task{Artifacts: model.Artifacts{Script: "Doomed script."}}
	err := ex.Execute(context.Background(), task)
	if err == nil {
		t.Fatal("expected error after budget exhausted")
	}
	if tts.calls != chunkRetryBudget {
		t.Errorf("expected %d calls, got %d", chunkRetryBudget, tts.calls)
	}
	if IsRetryable(err) {
		t.Error("exhausted chunk budget must be fatal, not retried again by the orchestrator")
	}
}

func TestSpeechExecutor_FatalChunkErrorStopsImmediately(t *testing.T) {
	bad := &client.APIError{Service: "tts", StatusCode: 422}
	tts := &fakeTTS{errs: []error{bad}}
	ex := NewSpeechExecutor(tts, &fakeEncoder{}, 2000, 0)

	task := &model.Task{Artifacts: model.Artifacts{Script: "Rejected script."}}
	err := ex.Execute(context.Background(), task)
	if err == nil {
		t.Fatal("expected error")
	}
	if tts.calls != 1 {
		t.Errorf("fatal errors must not be retried, got %d calls", tts.calls)
	}
}

func TestSplitChunks(t *testing.T) {
	text := "One two three. Four five six! Seven eight?"
	chunks := SplitChunks(text, 20)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %v", len(chunks), chunks)
	}
	for _, c := range chunks {
		if len(c) > 20 {
			t.Errorf("chunk exceeds limit: %q", c)
		}
	}

	// Whole text fits: single chunk
	if got := SplitChunks("tiny", 100); len(got) != 1 || got[0] != "tiny" {
		t.Errorf("expected passthrough, got %v", got)
	}

	// A sentence longer than the limit falls back to word boundaries
	long := "wordone wordtwo wordthree wordfour wordfive."
	chunks = SplitChunks(long, 18)
	if len(chunks) < 2 {
		t.Fatalf("expected word-boundary split, got %v", chunks)
	}
	for _, c := range chunks {
		if len(c) > 18 {
			t.Errorf("chunk exceeds limit: %q", c)
		}
	}
}

// --- visuals stage ---

func TestVisualExecutor_Success(t *testing.T) {
	search := &fakeSearcher{assets: imageAssets(10)}
	ex := NewVisualExecutor(search, 0, 0)

	task := &model.Task{
		Topic:                 "the history of ancient rome",
		TargetDurationSeconds: 120,
		Artifacts:             model.Artifacts{AudioDurationSeconds: 120},
	}
	if err := ex.Execute(context.Background(), task); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if len(task.Artifacts.Slices) != 24 {
		t.Errorf("expected 24 slices for 120s of images, got %d", len(task.Artifacts.Slices))
	}
	var total float64
	for _, s := range task.Artifacts.Slices {
		total += s.SliceDurationSeconds
	}
	if total != 120 {
		t.Errorf("expected slices to cover 120s, got %f", total)
	}
}

func TestVisualExecutor_NoAudioDuration(t *testing.T) {
	ex := NewVisualExecutor(&fakeSearcher{assets: imageAssets(1)}, 0, 0)

	var ve *ValidationError
	err := ex.Execute(context.Background(), &model.Task{Topic: "rome", TargetDurationSeconds: 120})
	if !errors.As(err, &ve) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestVisualExecutor_ZeroAssetsFatal(t *testing.T) {
	ex := NewVisualExecutor(&fakeSearcher{}, 0, 0)

	task := &model.Task{
		Topic:                 "rome",
		TargetDurationSeconds: 120,
		Artifacts:             model.Artifacts{AudioDurationSeconds: 120},
	}
	err := ex.Execute(context.Background(), task)
	if err == nil {
		t.Fatal("expected error for zero assets")
	}
	if IsRetryable(err) {
		t.Error("zero assets should be fatal")
	}
}

func TestVisualExecutor_FewAssetsCycle(t *testing.T) {
	// 2 assets for a 60s target: cycling must still cover the audio.
	search := &fakeSearcher{assets: imageAssets(2)}
	ex := NewVisualExecutor(search, 0, 0)

	task := &model.Task{
		Topic:                 "rome",
		TargetDurationSeconds: 60,
		Artifacts:             model.Artifacts{AudioDurationSeconds: 60},
	}
	if err := ex.Execute(context.Background(), task); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	var total float64
	for _, s := range task.Artifacts.Slices {
		total += s.SliceDurationSeconds
	}
	if total != 60 {
		t.Errorf("expected 60s covered, got %f", total)
	}
}

func TestExtractKeywords(t *testing.T) {
	got := ExtractKeywords("How the Roman Empire fell, and why it matters", 5)
	want := []string{"roman", "empire", "fell", "matters"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("keyword %d: expected %q, got %q", i, want[i], got[i])
		}
	}

	// Max caps the count
	got = ExtractKeywords("alpha beta gamma delta epsilon zeta", 3)
	if len(got) != 3 {
		t.Errorf("expected 3 keywords, got %v", got)
	}

	// All stop words
	if got := ExtractKeywords("the of and", 5); len(got) != 0 {
		t.Errorf("expected no keywords, got %v", got)
	}
}

// --- render stage ---

func renderTask() *model.Task {
	return &model.Task{
		ID: "task-1",
		Artifacts: model.Artifacts{
			AudioRef:             "audio.mp3",
			AudioDurationSeconds: 15,
			Slices: []model.VisualSlice{
				{Asset: model.VisualAsset{Kind: model.VisualKindImage, SourceRef: "a.jpg"}, StartOffsetSeconds: 0, SliceDurationSeconds: 5},
				{Asset: model.VisualAsset{Kind: model.VisualKindImage, SourceRef: "b.jpg"}, StartOffsetSeconds: 5, SliceDurationSeconds: 5},
				{Asset: model.VisualAsset{Kind: model.VisualKindImage, SourceRef: "c.jpg"}, StartOffsetSeconds: 10, SliceDurationSeconds: 5},
			},
		},
	}
}

func TestRenderExecutor_Success(t *testing.T) {
	enc := &fakeEncoder{renderRefs: []string{"final.mp4"}}
	ex := NewRenderExecutor(enc, nil)

	task := renderTask()
	if err := ex.Execute(context.Background(), task); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if task.Artifacts.VideoRef != "final.mp4" {
		t.Errorf("expected video ref, got %s", task.Artifacts.VideoRef)
	}
}

func TestRenderExecutor_DropsMissingAssetAndRetries(t *testing.T) {
	missing := &encoder.MissingAssetError{Ref: "b.jpg", Err: errors.New("404")}
	enc := &fakeEncoder{
		renderErrs: []error{missing, nil},
		renderRefs: []string{"", "final.mp4"},
	}
	ex := NewRenderExecutor(enc, nil)

	task := renderTask()
	if err := ex.Execute(context.Background(), task); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if enc.renderCalls != 2 {
		t.Fatalf("expected 2 render calls, got %d", enc.renderCalls)
	}

	repaired := enc.timelines[1]
	if len(repaired.Slices) != 2 {
		t.Fatalf("expected 2 slices after drop, got %d", len(repaired.Slices))
	}
	// Remaining slices must abut from zero
	if repaired.Slices[0].StartOffsetSeconds != 0 || repaired.Slices[1].StartOffsetSeconds != 5 {
		t.Errorf("slices not re-abutted: %+v", repaired.Slices)
	}
	for _, s := range repaired.Slices {
		if s.Asset.SourceRef == "b.jpg" {
			t.Error("dropped slice still present")
		}
	}
}

func TestRenderExecutor_SecondFailureFatal(t *testing.T) {
	missingB := &encoder.MissingAssetError{Ref: "b.jpg", Err: errors.New("404")}
	missingC := &encoder.MissingAssetError{Ref: "c.jpg", Err: errors.New("404")}
	enc := &fakeEncoder{renderErrs: []error{missingB, missingC}}
	ex := NewRenderExecutor(enc, nil)

	err := ex.Execute(context.Background(), renderTask())
	if err == nil {
		t.Fatal("expected error")
	}
	if IsRetryable(err) {
		t.Error("second render failure must be fatal")
	}
	if enc.renderCalls != 2 {
		t.Errorf("expected exactly 2 render calls, got %d", enc.renderCalls)
	}
}

func TestRenderExecutor_TransientErrorRetryable(t *testing.T) {
	enc := &fakeEncoder{renderErrs: []error{errors.New("ffmpeg exited 1")}}
	ex := NewRenderExecutor(enc, nil)

	err := ex.Execute(context.Background(), renderTask())
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsRetryable(err) {
		t.Error("non-asset render errors should be retryable")
	}
}

func TestRenderExecutor_NoSlicesValidation(t *testing.T) {
	ex := NewRenderExecutor(&fakeEncoder{}, nil)

	var ve *ValidationError
	err := ex.Execute(context.Background(), &model.Task{Artifacts: model.Artifacts{AudioRef: "a.mp3"}})
	if !errors.As(err, &ve) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

// --- thumbnail stage ---

type fakeThumbGen struct {
	ref       string
	err       error
	lastStyle model.StyleConfig
}

func (f *fakeThumbGen) GenerateThumbnail(ctx context.Context, topic string, style model.StyleConfig) (string, error) {
	f.lastStyle = style
	return f.ref, f.err
}

func (f *fakeThumbGen) IsConfigured() bool { return true }

func TestThumbnailExecutor_StyleOverride(t *testing.T) {
	gen := &fakeThumbGen{ref: "https://cdn.example.com/thumb.jpg"}
	ex := NewThumbnailExecutor(gen, nil, model.StyleConfig{Style: model.ThumbnailStyleBold}, 0)

	task := &model.Task{ID: "t1", Topic: "rome", ThumbnailStyle: model.ThumbnailStyleCinematic}
	if err := ex.Execute(context.Background(), task); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if gen.lastStyle.Style != model.ThumbnailStyleCinematic {
		t.Errorf("expected task style to override default, got %s", gen.lastStyle.Style)
	}
	if task.Artifacts.ThumbnailRef == "" {
		t.Error("thumbnail ref not recorded")
	}
}

func TestThumbnailExecutor_EmptyRefFatal(t *testing.T) {
	ex := NewThumbnailExecutor(&fakeThumbGen{}, nil, model.StyleConfig{}, 0)

	err := ex.Execute(context.Background(), &model.Task{ID: "t1", Topic: "rome"})
	if err == nil {
		t.Fatal("expected error for empty ref")
	}
	if IsRetryable(err) {
		t.Error("empty thumbnail ref should be fatal")
	}
}
