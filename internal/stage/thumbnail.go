package stage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/topicreel/api/internal/client"
	"github.com/topicreel/api/internal/model"
)

// ThumbnailExecutor generates the thumbnail image for a completed video.
type ThumbnailExecutor struct {
	gen          client.ThumbnailGenerator
	storage      client.StorageClient
	defaultStyle model.StyleConfig
	timeout      time.Duration
}

// NewThumbnailExecutor creates the thumbnail stage executor. storage may
// be nil, in which case the local file reference is kept as the artifact.
func NewThumbnailExecutor(gen client.ThumbnailGenerator, storage client.StorageClient, defaultStyle model.StyleConfig, timeout time.Duration) *ThumbnailExecutor {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if defaultStyle.Style == "" {
		defaultStyle.Style = model.ThumbnailStyleBold
	}
	if defaultStyle.Width <= 0 {
		defaultStyle.Width = 1280
	}
	if defaultStyle.Height <= 0 {
		defaultStyle.Height = 720
	}
	return &ThumbnailExecutor{gen: gen, storage: storage, defaultStyle: defaultStyle, timeout: timeout}
}

func (e *ThumbnailExecutor) Stage() model.Stage {
	return model.StageThumbnail
}

func (e *ThumbnailExecutor) Execute(ctx context.Context, task *model.Task) error {
	style := e.defaultStyle
	if task.ThumbnailStyle != "" {
		style.Style = task.ThumbnailStyle
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	ref, err := e.gen.GenerateThumbnail(callCtx, task.Topic, style)
	if err != nil {
		return classify(model.StageThumbnail, err)
	}
	if ref == "" {
		return fatal(model.StageThumbnail, errors.New("collaborator returned an empty thumbnail reference"))
	}

	if e.storage != nil && isLocalFile(ref) {
		key := fmt.Sprintf("thumbnails/%s/%s", task.ID, filepath.Base(ref))
		url, err := e.storage.UploadFile(ctx, key, ref)
		if err != nil {
			return retryable(model.StageThumbnail, fmt.Errorf("upload thumbnail: %w", err))
		}
		ref = url
	}

	task.Artifacts.ThumbnailRef = ref
	return nil
}
