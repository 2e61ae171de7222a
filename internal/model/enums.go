package model

// Task state
type TaskState string

const (
	TaskStatePending             TaskState = "pending"
	TaskStateScriptGenerating    TaskState = "script_generating"
	TaskStateAudioGenerating     TaskState = "audio_generating"
	TaskStateVisualsProcessing   TaskState = "visuals_processing"
	TaskStateVideoAssembling     TaskState = "video_assembling"
	TaskStateThumbnailGenerating TaskState = "thumbnail_generating"
	TaskStateCompleted           TaskState = "completed"
	TaskStateFailed              TaskState = "failed"
)

// IsTerminal reports whether a state permits no further transitions,
// short of an explicit manual retry.
func (s TaskState) IsTerminal() bool {
	return s == TaskStateCompleted || s == TaskStateFailed
}

// Pipeline stages
type Stage string

const (
	StageScript    Stage = "script"
	StageSpeech    Stage = "speech"
	StageVisuals   Stage = "visuals"
	StageRender    Stage = "render"
	StageThumbnail Stage = "thumbnail"
)

// StageOrder is the execution order of the pipeline. Every task walks it
// front to back; no stage is skipped.
var StageOrder = []Stage{
	StageScript,
	StageSpeech,
	StageVisuals,
	StageRender,
	StageThumbnail,
}

var stateForStage = map[Stage]TaskState{
	StageScript:    TaskStateScriptGenerating,
	StageSpeech:    TaskStateAudioGenerating,
	StageVisuals:   TaskStateVisualsProcessing,
	StageRender:    TaskStateVideoAssembling,
	StageThumbnail: TaskStateThumbnailGenerating,
}

// StateForStage returns the task state a task is in while the given stage
// executes.
func StateForStage(s Stage) TaskState {
	return stateForStage[s]
}

// StageProgress returns the progress percentage reported at entry into the
// given stage. Progress is derived from stage position only, never set
// independently.
func StageProgress(s Stage) int {
	for i, st := range StageOrder {
		if st == s {
			return i * 100 / len(StageOrder)
		}
	}
	return 0
}

// Visual asset kinds
type VisualKind string

const (
	VisualKindImage VisualKind = "image"
	VisualKindVideo VisualKind = "video"
)

// Thumbnail styles
type ThumbnailStyle string

const (
	ThumbnailStyleBold      ThumbnailStyle = "bold"
	ThumbnailStyleMinimal   ThumbnailStyle = "minimal"
	ThumbnailStyleVibrant   ThumbnailStyle = "vibrant"
	ThumbnailStyleCinematic ThumbnailStyle = "cinematic"
)

var ValidThumbnailStyles = []ThumbnailStyle{
	ThumbnailStyleBold, ThumbnailStyleMinimal, ThumbnailStyleVibrant, ThumbnailStyleCinematic,
}

// Target duration bounds in seconds
const (
	MinTargetDurationSeconds = 60
	MaxTargetDurationSeconds = 1800
)
