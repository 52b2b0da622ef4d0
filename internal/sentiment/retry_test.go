package sentiment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryPolicyClassification(t *testing.T) {
	p := NewExponentialRetryPolicy()

	cases := []struct {
		name    string
		err     error
		attempt int
		want    bool
	}{
		{name: "nil error", err: nil, attempt: 1, want: false},
		{name: "invalid credential", err: ErrInvalidCredential, attempt: 1, want: false},
		{name: "rate limited", err: ErrRateLimited, attempt: 1, want: true},
		{name: "transient provider error", err: &ProviderError{Transient: true}, attempt: 1, want: true},
		{name: "permanent provider error", err: &ProviderError{Transient: false}, attempt: 1, want: false},
		{name: "wrapped transient", err: errors.Join(errors.New("score"), &ProviderError{Transient: true}), attempt: 1, want: true},
		{name: "context canceled", err: context.Canceled, attempt: 1, want: false},
		{name: "deadline exceeded", err: context.DeadlineExceeded, attempt: 1, want: false},
		{name: "budget exhausted", err: &ProviderError{Transient: true}, attempt: 3, want: false},
		{name: "unclassified error", err: errors.New("mystery"), attempt: 1, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, p.ShouldRetry(tc.err, tc.attempt))
		})
	}
}

func TestRetryPolicyBackoffGrowsAndCaps(t *testing.T) {
	p := NewExponentialRetryPolicy()

	// Jitter keeps each delay in [expected/2, expected); verify bounds.
	for attempt := 0; attempt < 10; attempt++ {
		d := p.Backoff(attempt)
		require.GreaterOrEqual(t, d, 250*time.Millisecond, "attempt %d", attempt)
		require.LessOrEqual(t, d, 8*time.Second, "attempt %d", attempt)
	}

	// Deep attempts saturate at the cap's window.
	d := p.Backoff(20)
	require.GreaterOrEqual(t, d, 4*time.Second)
	require.LessOrEqual(t, d, 8*time.Second)
}
