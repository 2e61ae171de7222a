package stage

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/topicreel/api/internal/client"
	"github.com/topicreel/api/internal/model"
	"github.com/topicreel/api/internal/timeline"
)

// AverageSliceSeconds is the assumed average slice length used to size the
// candidate asset request.
const AverageSliceSeconds = 5.0

// VisualExecutor searches for candidate visual assets and allocates them
// onto the narration timeline.
type VisualExecutor struct {
	search      client.VisualSearcher
	maxKeywords int
	timeout     time.Duration
}

// NewVisualExecutor creates the visuals stage executor.
func NewVisualExecutor(search client.VisualSearcher, maxKeywords int, timeout time.Duration) *VisualExecutor {
	if maxKeywords <= 0 {
		maxKeywords = 5
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &VisualExecutor{search: search, maxKeywords: maxKeywords, timeout: timeout}
}

func (e *VisualExecutor) Stage() model.Stage {
	return model.StageVisuals
}

func (e *VisualExecutor) Execute(ctx context.Context, task *model.Task) error {
	if task.Artifacts.AudioDurationSeconds <= 0 {
		return &ValidationError{Field: "audio", Reason: "no audio duration to allocate against"}
	}

	keywords := ExtractKeywords(task.Topic, e.maxKeywords)
	if len(keywords) == 0 {
		return &ValidationError{Field: "topic", Reason: "no usable search keywords"}
	}

	need := int(math.Ceil(float64(task.TargetDurationSeconds) / AverageSliceSeconds))

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	assets, err := e.search.FindVisuals(callCtx, keywords, need)
	if err != nil {
		return classify(model.StageVisuals, err)
	}
	if len(assets) == 0 {
		return fatal(model.StageVisuals, fmt.Errorf("no visual assets found for keywords %v", keywords))
	}

	// Fewer assets than requested is not an error: cycle through the
	// returned set until the candidate count is met.
	for i := 0; len(assets) < need; i++ {
		assets = append(assets, assets[i%len(assets)])
	}

	slices, err := timeline.Allocate(assets, task.Artifacts.AudioDurationSeconds)
	if err != nil {
		// Allocation failures are terminal: the same asset set cannot
		// produce a different outcome.
		return err
	}

	task.Artifacts.Slices = slices
	return nil
}

// stopWords are filtered out of topics before keyword extraction.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "but": true,
	"of": true, "in": true, "on": true, "at": true, "to": true, "for": true,
	"with": true, "by": true, "from": true, "about": true, "as": true,
	"is": true, "are": true, "was": true, "were": true, "be": true,
	"how": true, "why": true, "what": true, "when": true, "where": true,
	"who": true, "which": true, "this": true, "that": true, "these": true,
	"those": true, "it": true, "its": true, "into": true, "your": true,
	"you": true, "my": true, "our": true, "their": true, "his": true,
	"her": true, "do": true, "does": true, "did": true, "can": true,
	"could": true, "should": true, "would": true, "will": true, "not": true,
}

// ExtractKeywords derives search keywords from a topic: lowercase, strip
// punctuation, drop stop words, keep the first max distinct terms in
// original order.
func ExtractKeywords(topic string, max int) []string {
	seen := make(map[string]bool)
	var keywords []string

	for _, raw := range strings.Fields(strings.ToLower(topic)) {
		word := strings.TrimFunc(raw, func(r rune) bool {
			return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
		})
		if word == "" || stopWords[word] || seen[word] {
			continue
		}
		seen[word] = true
		keywords = append(keywords, word)
		if len(keywords) == max {
			break
		}
	}
	return keywords
}
