// Package encoder wraps the local ffmpeg/ffprobe binaries behind the
// Encoder interface the render and speech stages depend on.
package encoder

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/topicreel/api/internal/config"
	"github.com/topicreel/api/internal/model"
)

// Encoder defines the media operations the pipeline needs from the local
// encoder.
type Encoder interface {
	Render(ctx context.Context, timeline *model.RenderTimeline) (string, error)
	ConcatAudio(ctx context.Context, refs []string) (string, float64, error)
}

// MissingAssetError means the encoder could not read one of the timeline's
// asset references. The render stage reacts by dropping the offending
// slice and retrying once.
type MissingAssetError struct {
	Ref string
	Err error
}

func (e *MissingAssetError) Error() string {
	return fmt.Sprintf("asset %s unreadable: %v", e.Ref, e.Err)
}

func (e *MissingAssetError) Unwrap() error {
	return e.Err
}

// FFmpeg implements Encoder by shelling out to ffmpeg and ffprobe. When
// the binaries are absent it produces mock references so the pipeline
// stays runnable in development.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	outputDir   string
	fps         int
	width       int
	height      int
	available   bool
}

// NewFFmpeg creates an encoder from configuration, probing PATH for the
// configured binaries.
func NewFFmpeg(cfg *config.EncoderConfig) *FFmpeg {
	e := &FFmpeg{
		ffmpegPath:  cfg.FFmpegPath,
		ffprobePath: cfg.FFprobePath,
		outputDir:   cfg.OutputDir,
		fps:         cfg.FPS,
		width:       cfg.Width,
		height:      cfg.Height,
	}
	if _, err := exec.LookPath(e.ffmpegPath); err == nil {
		e.available = true
	} else {
		log.Printf("Warning: %s not found, encoder running in mock mode", e.ffmpegPath)
	}
	return e
}

// IsConfigured returns true if the ffmpeg binary was found
func (e *FFmpeg) IsConfigured() bool {
	return e.available
}

// Render assembles the timeline into one video file: each slice is
// normalized into a segment, the segments are joined with the concat
// demuxer, and the narration audio is muxed on top. Returns the path of
// the produced file.
func (e *FFmpeg) Render(ctx context.Context, timeline *model.RenderTimeline) (string, error) {
	if len(timeline.Slices) == 0 {
		return "", fmt.Errorf("timeline has no slices")
	}
	if !e.available {
		return fmt.Sprintf("mock://video/%s.mp4", uuid.New().String()), nil
	}

	workDir, err := os.MkdirTemp(e.outputDir, "render-")
	if err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	// Normalize every slice into a uniform segment first; a failure here
	// pins the error to one asset reference.
	var segments []string
	for i, slice := range timeline.Slices {
		seg, err := e.renderSegment(ctx, workDir, i, slice)
		if err != nil {
			return "", err
		}
		segments = append(segments, seg)
	}

	listFile := filepath.Join(workDir, "concat.txt")
	var lines []string
	for _, seg := range segments {
		lines = append(lines, fmt.Sprintf("file '%s'", seg))
	}
	if err := os.WriteFile(listFile, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return "", fmt.Errorf("write concat list: %w", err)
	}

	if err := os.MkdirAll(e.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	outFile := filepath.Join(e.outputDir, fmt.Sprintf("video-%s.mp4", uuid.New().String()))

	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
		"-i", timeline.AudioRef,
		"-map", "0:v",
		"-map", "1:a",
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "22",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-shortest",
		outFile,
	}
	if err := e.run(ctx, timeline.AudioRef, args); err != nil {
		return "", err
	}
	return outFile, nil
}

// renderSegment produces one normalized video segment for a slice.
func (e *FFmpeg) renderSegment(ctx context.Context, workDir string, idx int, slice model.VisualSlice) (string, error) {
	outFile := filepath.Join(workDir, fmt.Sprintf("segment_%03d.mp4", idx))
	scale := fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1",
		e.width, e.height, e.width, e.height)

	var args []string
	switch slice.Asset.Kind {
	case model.VisualKindImage:
		args = []string{
			"-y",
			"-loop", "1",
			"-t", fmt.Sprintf("%.3f", slice.SliceDurationSeconds),
			"-i", slice.Asset.SourceRef,
		}
	case model.VisualKindVideo:
		args = []string{
			"-y",
			"-t", fmt.Sprintf("%.3f", slice.SliceDurationSeconds),
			"-i", slice.Asset.SourceRef,
		}
	default:
		return "", &MissingAssetError{Ref: slice.Asset.SourceRef, Err: fmt.Errorf("unknown asset kind %q", slice.Asset.Kind)}
	}

	args = append(args,
		"-vf", scale,
		"-r", fmt.Sprintf("%d", e.fps),
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "22",
		"-pix_fmt", "yuv420p",
		"-an",
		outFile,
	)
	if err := e.run(ctx, slice.Asset.SourceRef, args); err != nil {
		return "", err
	}
	return outFile, nil
}

// ConcatAudio joins audio files in order with the concat demuxer and
// returns the combined file plus its measured duration.
func (e *FFmpeg) ConcatAudio(ctx context.Context, refs []string) (string, float64, error) {
	if len(refs) == 0 {
		return "", 0, fmt.Errorf("no audio refs to concatenate")
	}
	if !e.available {
		return fmt.Sprintf("mock://audio/%s.mp3", uuid.New().String()), 0, nil
	}

	if err := os.MkdirAll(e.outputDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create output dir: %w", err)
	}

	listFile := filepath.Join(e.outputDir, fmt.Sprintf("audio-concat-%s.txt", uuid.New().String()))
	defer os.Remove(listFile)

	var lines []string
	for _, ref := range refs {
		lines = append(lines, fmt.Sprintf("file '%s'", ref))
	}
	if err := os.WriteFile(listFile, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return "", 0, fmt.Errorf("write concat list: %w", err)
	}

	outFile := filepath.Join(e.outputDir, fmt.Sprintf("audio-%s.mp3", uuid.New().String()))
	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-protocol_whitelist", "file,http,https,tcp,tls",
		"-i", listFile,
		"-c", "copy",
		outFile,
	}
	if err := e.run(ctx, refs[0], args); err != nil {
		return "", 0, err
	}

	dur, err := e.ProbeDuration(ctx, outFile)
	if err != nil {
		return "", 0, fmt.Errorf("probe concatenated audio: %w", err)
	}
	return outFile, dur, nil
}

// ProbeDuration returns the duration of a media file in seconds.
func (e *FFmpeg) ProbeDuration(ctx context.Context, path string) (float64, error) {
	out, err := exec.CommandContext(ctx, e.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	var dur float64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(out)), "%f", &dur); err != nil {
		return 0, fmt.Errorf("parse ffprobe output: %w", err)
	}
	return dur, nil
}

// run executes ffmpeg and maps input-read failures onto MissingAssetError
// so the caller can pin the failure to one asset reference.
func (e *FFmpeg) run(ctx context.Context, inputRef string, args []string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := stderr.String()
		if isInputError(msg) {
			return &MissingAssetError{Ref: inputRef, Err: fmt.Errorf("%v: %s", err, lastLine(msg))}
		}
		return fmt.Errorf("ffmpeg: %w: %s", err, lastLine(msg))
	}
	return nil
}

func isInputError(stderr string) bool {
	for _, marker := range []string{
		"No such file or directory",
		"Invalid data found when processing input",
		"Server returned 404",
		"Server returned 403",
		"Protocol not found",
	} {
		if strings.Contains(stderr, marker) {
			return true
		}
	}
	return false
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
