package model

import "time"

// SubmitRequest represents the request body for submitting a topic
type SubmitRequest struct {
	Topic                 string         `json:"topic" validate:"required,min=1,max=300"`
	TargetDurationSeconds int            `json:"targetDurationSeconds" validate:"required,min=60,max=1800"`
	VoiceID               string         `json:"voiceId" validate:"omitempty,max=64"`
	ThumbnailStyle        ThumbnailStyle `json:"thumbnailStyle" validate:"omitempty,oneof=bold minimal vibrant cinematic"`
}

// SubmitResponse represents the response for a submitted task
type SubmitResponse struct {
	TaskID    string    `json:"taskId"`
	State     TaskState `json:"state"`
	CreatedAt time.Time `json:"createdAt"`
}

// StatusResponse represents the externally visible status of a task
type StatusResponse struct {
	TaskID          string     `json:"taskId"`
	State           TaskState  `json:"state"`
	ProgressPercent int        `json:"progressPercent"`
	CurrentStage    Stage      `json:"currentStage,omitempty"`
	Attempt         int        `json:"attempt"`
	Error           *string    `json:"error,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
}

// ResultResponse represents the artifacts of a completed task
type ResultResponse struct {
	TaskID               string     `json:"taskId"`
	VideoRef             string     `json:"videoRef"`
	ThumbnailRef         string     `json:"thumbnailRef"`
	Script               string     `json:"script"`
	AudioRef             string     `json:"audioRef"`
	AudioDurationSeconds float64    `json:"audioDurationSeconds"`
	SliceCount           int        `json:"sliceCount"`
	CompletedAt          *time.Time `json:"completedAt,omitempty"`
}

// CancelResponse represents the response for a cancellation request
type CancelResponse struct {
	TaskID    string    `json:"taskId"`
	State     TaskState `json:"state"`
	Requested bool      `json:"requested"`
}

// RetryResponse represents the response for a manual retry of a failed task
type RetryResponse struct {
	TaskID string    `json:"taskId"`
	State  TaskState `json:"state"`
}

// StatsResponse represents aggregate task counts by state
type StatsResponse struct {
	Pending   int `json:"pending"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}
