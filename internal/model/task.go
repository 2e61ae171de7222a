package model

import "time"

// Task represents one video production request. The registry is the single
// source of truth for task records; all mutation goes through its guarded
// Transition operation.
type Task struct {
	ID                    string         `json:"id"`
	Topic                 string         `json:"topic"`
	TargetDurationSeconds int            `json:"targetDurationSeconds"`
	VoiceID               string         `json:"voiceId,omitempty"`
	ThumbnailStyle        ThumbnailStyle `json:"thumbnailStyle,omitempty"`
	State                 TaskState      `json:"state"`
	ProgressPercent       int            `json:"progressPercent"`
	CurrentStage          Stage          `json:"currentStage,omitempty"`
	Attempt               int            `json:"attempt"`
	Artifacts             Artifacts      `json:"artifacts"`
	Error                 *string        `json:"error,omitempty"`
	CancelRequested       bool           `json:"cancelRequested,omitempty"`
	CreatedAt             time.Time      `json:"createdAt"`
	UpdatedAt             time.Time      `json:"updatedAt"`
	StartedAt             *time.Time     `json:"startedAt,omitempty"`
	CompletedAt           *time.Time     `json:"completedAt,omitempty"`
}

// Clone returns a deep copy of the task. Stage executors work on a copy so
// that a failed attempt never leaks partial artifacts into the registry.
func (t *Task) Clone() *Task {
	c := *t
	if t.Error != nil {
		msg := *t.Error
		c.Error = &msg
	}
	if t.StartedAt != nil {
		at := *t.StartedAt
		c.StartedAt = &at
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	if t.Artifacts.Slices != nil {
		c.Artifacts.Slices = make([]VisualSlice, len(t.Artifacts.Slices))
		copy(c.Artifacts.Slices, t.Artifacts.Slices)
	}
	return &c
}

// Artifacts holds references to the intermediate and final outputs of a
// task. Each field is set only after the producing stage succeeds. The
// pipeline holds references, never raw bytes.
type Artifacts struct {
	Script               string        `json:"script,omitempty"`
	AudioRef             string        `json:"audioRef,omitempty"`
	AudioDurationSeconds float64       `json:"audioDurationSeconds,omitempty"`
	Slices               []VisualSlice `json:"slices,omitempty"`
	VideoRef             string        `json:"videoRef,omitempty"`
	ThumbnailRef         string        `json:"thumbnailRef,omitempty"`
}

// VisualAsset is a candidate image or video clip returned by visual search.
type VisualAsset struct {
	Kind                  VisualKind `json:"kind"`
	SourceRef             string     `json:"sourceRef"`
	NativeDurationSeconds float64    `json:"nativeDurationSeconds,omitempty"`
}

// VisualSlice places one asset at a specific offset in the render timeline.
// Slices for one task are ordered by start offset, contiguous, and their
// total duration matches the task's audio duration.
type VisualSlice struct {
	Asset                VisualAsset `json:"asset"`
	StartOffsetSeconds   float64     `json:"startOffsetSeconds"`
	SliceDurationSeconds float64     `json:"sliceDurationSeconds"`
}

// RenderTimeline is the only input the render stage accepts. It is
// immutable once built.
type RenderTimeline struct {
	AudioRef             string        `json:"audioRef"`
	AudioDurationSeconds float64       `json:"audioDurationSeconds"`
	Slices               []VisualSlice `json:"slices"`
}

// TotalSliceSeconds returns the summed duration of all slices.
func (tl *RenderTimeline) TotalSliceSeconds() float64 {
	var total float64
	for _, s := range tl.Slices {
		total += s.SliceDurationSeconds
	}
	return total
}

// StyleConfig describes how the thumbnail should be generated.
type StyleConfig struct {
	Style  ThumbnailStyle `json:"style"`
	Width  int            `json:"width"`
	Height int            `json:"height"`
}
