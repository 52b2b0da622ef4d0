// Package sentiment implements background sentiment analysis over stored
// products: a provider-backed scorer, retry policy, and a singleton job
// runner with cooperative cancellation and progress reporting.
package sentiment

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors surfaced by scorers. The runner branches on these to decide
// between retrying an item, skipping it, and aborting the whole job.
var (
	// ErrInvalidCredential means the provider rejected the API key. Never
	// retried; the job fails before touching any rows.
	ErrInvalidCredential = errors.New("sentiment: invalid credential")
	// ErrRateLimited means the provider asked us to back off. Retried with
	// backoff.
	ErrRateLimited = errors.New("sentiment: rate limited")
)

// Judgment is a normalized scoring verdict. Score is in [-1, 1] where -1 is
// maximally negative and +1 maximally positive; Confidence is in [0, 1].
type Judgment struct {
	Score      float64
	Confidence float64
}

// Scorer produces a sentiment judgment for a piece of product text.
// Implementations must be safe for concurrent use.
type Scorer interface {
	// Score evaluates text. Errors are classified: ErrInvalidCredential and
	// ErrRateLimited are sentinel, anything wrapping a transient
	// ProviderError may be retried.
	Score(ctx context.Context, text string) (Judgment, error)
}

// ProviderError wraps a failure returned by the scoring backend. Transient
// marks errors worth retrying (5xx, timeouts); permanent ones are not.
type ProviderError struct {
	StatusCode int
	Message    string
	Transient  bool
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("sentiment provider: %s (status %d)", e.Message, e.StatusCode)
	}
	return fmt.Sprintf("sentiment provider: %s", e.Message)
}
