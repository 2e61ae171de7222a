package stage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/topicreel/api/internal/client"
	"github.com/topicreel/api/internal/model"
)

// WordsPerMinute is the speaking pace used to convert a target duration
// into an approximate word count for the script collaborator.
const WordsPerMinute = 150

// ScriptExecutor generates the narration script for a topic.
type ScriptExecutor struct {
	llm     client.ScriptGenerator
	timeout time.Duration
}

// NewScriptExecutor creates the script stage executor.
func NewScriptExecutor(llm client.ScriptGenerator, timeout time.Duration) *ScriptExecutor {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ScriptExecutor{llm: llm, timeout: timeout}
}

func (e *ScriptExecutor) Stage() model.Stage {
	return model.StageScript
}

func (e *ScriptExecutor) Execute(ctx context.Context, task *model.Task) error {
	topic := strings.TrimSpace(task.Topic)
	if topic == "" {
		return &ValidationError{Field: "topic", Reason: "must not be empty"}
	}
	if task.TargetDurationSeconds < model.MinTargetDurationSeconds ||
		task.TargetDurationSeconds > model.MaxTargetDurationSeconds {
		return &ValidationError{Field: "targetDurationSeconds", Reason: "out of range"}
	}

	targetWords := task.TargetDurationSeconds * WordsPerMinute / 60

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	text, err := e.llm.GenerateScript(ctx, topic, targetWords)
	if err != nil {
		return classify(model.StageScript, err)
	}
	if strings.TrimSpace(text) == "" {
		return fatal(model.StageScript, errors.New("collaborator returned an empty script"))
	}

	task.Artifacts.Script = text
	return nil
}
