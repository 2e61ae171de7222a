package stage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/topicreel/api/internal/client"
	"github.com/topicreel/api/internal/encoder"
	"github.com/topicreel/api/internal/model"
)

// RenderExecutor builds the render timeline from the task's artifacts and
// invokes the local encoder. The encoder call is unbounded; cancellation
// arrives through the context.
type RenderExecutor struct {
	enc     encoder.Encoder
	storage client.StorageClient
}

// NewRenderExecutor creates the render stage executor. storage may be nil,
// in which case the local file reference is kept as the artifact.
func NewRenderExecutor(enc encoder.Encoder, storage client.StorageClient) *RenderExecutor {
	return &RenderExecutor{enc: enc, storage: storage}
}

func (e *RenderExecutor) Stage() model.Stage {
	return model.StageRender
}

func (e *RenderExecutor) Execute(ctx context.Context, task *model.Task) error {
	if len(task.Artifacts.Slices) == 0 {
		return &ValidationError{Field: "slices", Reason: "no visual slices to render"}
	}
	if task.Artifacts.AudioRef == "" {
		return &ValidationError{Field: "audio", Reason: "no audio artifact to render"}
	}

	tl := &model.RenderTimeline{
		AudioRef:             task.Artifacts.AudioRef,
		AudioDurationSeconds: task.Artifacts.AudioDurationSeconds,
		Slices:               task.Artifacts.Slices,
	}

	videoRef, err := e.enc.Render(ctx, tl)
	if err != nil {
		var missing *encoder.MissingAssetError
		if !errors.As(err, &missing) {
			return retryable(model.StageRender, err)
		}

		// One bad asset reference does not doom the whole render: drop the
		// offending slice, close the gap, and retry once.
		repaired, ok := dropSlice(tl, missing.Ref)
		if !ok {
			return fatal(model.StageRender, err)
		}
		videoRef, err = e.enc.Render(ctx, repaired)
		if err != nil {
			return fatal(model.StageRender, fmt.Errorf("render failed again after dropping %s: %w", missing.Ref, err))
		}
	}

	if e.storage != nil && isLocalFile(videoRef) {
		key := fmt.Sprintf("videos/%s/%s", task.ID, filepath.Base(videoRef))
		url, err := e.storage.UploadFile(ctx, key, videoRef)
		if err != nil {
			return retryable(model.StageRender, fmt.Errorf("upload video: %w", err))
		}
		videoRef = url
	}

	task.Artifacts.VideoRef = videoRef
	return nil
}

// dropSlice removes the first slice whose asset matches ref and rebuilds
// the timing so the remaining slices abut. Returns false when nothing
// would remain.
func dropSlice(tl *model.RenderTimeline, ref string) (*model.RenderTimeline, bool) {
	var kept []model.VisualSlice
	dropped := false
	for _, s := range tl.Slices {
		if !dropped && s.Asset.SourceRef == ref {
			dropped = true
			continue
		}
		kept = append(kept, s)
	}
	if !dropped || len(kept) == 0 {
		return nil, false
	}

	var elapsed float64
	for i := range kept {
		kept[i].StartOffsetSeconds = elapsed
		elapsed += kept[i].SliceDurationSeconds
	}

	return &model.RenderTimeline{
		AudioRef:             tl.AudioRef,
		AudioDurationSeconds: tl.AudioDurationSeconds,
		Slices:               kept,
	}, true
}

func isLocalFile(ref string) bool {
	return !strings.Contains(ref, "://")
}
