package client

import "fmt"

// APIError is returned when a collaborator responds with a non-success
// status. Stage executors use the status code to classify the failure as
// retryable or fatal.
type APIError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Body)
}

// Transient reports whether the response indicates a condition worth
// retrying (rate limiting or a server-side failure).
func (e *APIError) Transient() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
