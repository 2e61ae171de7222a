// Package stage implements one executor per pipeline stage. An executor
// wraps a single collaborator call with timeout, input validation, and
// error classification; it keeps no mutable state between invocations.
package stage

import (
	"context"
	"errors"
	"fmt"

	"github.com/topicreel/api/internal/client"
	"github.com/topicreel/api/internal/model"
)

// Executor is the contract every pipeline stage implements. Execute reads
// the artifacts of earlier stages from the task copy and, on success,
// writes its own artifact onto it. The orchestrator persists the copy.
type Executor interface {
	Stage() model.Stage
	Execute(ctx context.Context, task *model.Task) error
}

// ValidationError means the stage input is structurally unusable. It is
// surfaced immediately and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// CollaboratorError wraps a failed external call, classified as retryable
// or fatal. This classification, not the orchestrator, decides retry
// eligibility.
type CollaboratorError struct {
	Stage     model.Stage
	Retryable bool
	Err       error
}

func (e *CollaboratorError) Error() string {
	kind := "fatal"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("%s stage (%s): %v", e.Stage, kind, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

func retryable(st model.Stage, err error) *CollaboratorError {
	return &CollaboratorError{Stage: st, Retryable: true, Err: err}
}

func fatal(st model.Stage, err error) *CollaboratorError {
	return &CollaboratorError{Stage: st, Retryable: false, Err: err}
}

// classify turns a raw collaborator error into a CollaboratorError.
// Timeouts, rate limiting, and server-side failures are retryable; any
// other API rejection is fatal; plain transport errors are assumed
// transient.
func classify(st model.Stage, err error) *CollaboratorError {
	if errors.Is(err, context.DeadlineExceeded) {
		return retryable(st, err)
	}
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Transient() {
			return retryable(st, err)
		}
		return fatal(st, err)
	}
	return retryable(st, err)
}

// IsRetryable reports whether the orchestrator may re-invoke the failed
// stage. Validation and allocation errors are terminal by definition.
func IsRetryable(err error) bool {
	var ce *CollaboratorError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}
