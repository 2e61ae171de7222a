package stage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/topicreel/api/internal/client"
	"github.com/topicreel/api/internal/encoder"
	"github.com/topicreel/api/internal/model"
)

// chunkRetryBudget is the fixed number of attempts per chunk before a
// retryable synthesis failure becomes fatal.
const chunkRetryBudget = 3

// SpeechExecutor synthesizes the script into narration audio. Long scripts
// are split on sentence boundaries to respect collaborator input limits,
// synthesized chunk by chunk, and concatenated in original order.
type SpeechExecutor struct {
	tts       client.SpeechSynthesizer
	enc       encoder.Encoder
	chunkSize int
	timeout   time.Duration
}

// NewSpeechExecutor creates the speech stage executor. chunkSize is the
// maximum number of characters submitted per synthesis call.
func NewSpeechExecutor(tts client.SpeechSynthesizer, enc encoder.Encoder, chunkSize int, timeout time.Duration) *SpeechExecutor {
	if chunkSize <= 0 {
		chunkSize = 2000
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &SpeechExecutor{tts: tts, enc: enc, chunkSize: chunkSize, timeout: timeout}
}

func (e *SpeechExecutor) Stage() model.Stage {
	return model.StageSpeech
}

func (e *SpeechExecutor) Execute(ctx context.Context, task *model.Task) error {
	script := strings.TrimSpace(task.Artifacts.Script)
	if script == "" {
		return &ValidationError{Field: "script", Reason: "no script artifact to synthesize"}
	}

	chunks := SplitChunks(script, e.chunkSize)

	var refs []string
	var totalSeconds float64
	for i, chunk := range chunks {
		result, err := e.synthesizeChunk(ctx, chunk, task.VoiceID)
		if err != nil {
			return fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		refs = append(refs, result.AudioRef)
		totalSeconds += result.DurationSeconds
	}

	audioRef := refs[0]
	if len(refs) > 1 {
		ref, dur, err := e.enc.ConcatAudio(ctx, refs)
		if err != nil {
			return retryable(model.StageSpeech, fmt.Errorf("concatenate %d chunks: %w", len(refs), err))
		}
		audioRef = ref
		if dur > 0 {
			totalSeconds = dur
		}
	}

	if totalSeconds <= 0 {
		return fatal(model.StageSpeech, fmt.Errorf("synthesized audio has no duration"))
	}

	task.Artifacts.AudioRef = audioRef
	task.Artifacts.AudioDurationSeconds = totalSeconds
	return nil
}

// synthesizeChunk calls the collaborator with a per-chunk retry budget:
// retryable failures are re-attempted locally, and the whole stage only
// fails once the budget is exhausted.
func (e *SpeechExecutor) synthesizeChunk(ctx context.Context, text, voiceID string) (*client.SynthesisResult, error) {
	var lastErr *CollaboratorError
	for attempt := 1; attempt <= chunkRetryBudget; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		result, err := e.tts.Synthesize(callCtx, text, voiceID)
		cancel()
		if err == nil {
			return result, nil
		}

		lastErr = classify(model.StageSpeech, err)
		if !lastErr.Retryable {
			return nil, lastErr
		}
		if ctx.Err() != nil {
			return nil, retryable(model.StageSpeech, ctx.Err())
		}
	}
	return nil, fatal(model.StageSpeech, fmt.Errorf("retry budget exhausted after %d attempts: %w", chunkRetryBudget, lastErr.Err))
}

// SplitChunks splits text into chunks of at most limit characters,
// breaking on sentence boundaries and falling back to word boundaries when
// a single sentence exceeds the limit.
func SplitChunks(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}

	for _, sentence := range splitSentences(text) {
		if len(sentence) > limit {
			flush()
			chunks = append(chunks, splitWords(sentence, limit)...)
			continue
		}
		if current.Len() > 0 && current.Len()+1+len(sentence) > limit {
			flush()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(sentence)
	}
	flush()
	return chunks
}

// splitSentences breaks text on terminal punctuation followed by
// whitespace, keeping the punctuation with its sentence.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '.', '!', '?':
			end := i + 1
			for end < len(runes) && (runes[end] == '.' || runes[end] == '!' || runes[end] == '?') {
				end++
			}
			if end >= len(runes) || runes[end] == ' ' || runes[end] == '\n' || runes[end] == '\t' {
				s := strings.TrimSpace(string(runes[start:end]))
				if s != "" {
					sentences = append(sentences, s)
				}
				start = end
				i = end - 1
			}
		}
	}
	if rest := strings.TrimSpace(string(runes[start:])); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

// splitWords packs words into chunks of at most limit characters. A single
// word longer than the limit becomes its own chunk rather than being cut.
func splitWords(sentence string, limit int) []string {
	var chunks []string
	var current strings.Builder
	for _, word := range strings.Fields(sentence) {
		if current.Len() > 0 && current.Len()+1+len(word) > limit {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(word)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}
