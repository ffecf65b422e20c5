package jobqueue

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrPermanent marks a job failure that must not be retried.
var ErrPermanent = errors.New("permanent job failure")

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() []error {
	return []error{e.err, ErrPermanent}
}

// Permanent wraps err so the queue records the job as failed without scheduling a retry.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// RetryPolicy bounds how often a job runs and how long the queue waits between attempts.
// MaxAttempts counts the first run. Delays[i] is the wait before attempt i+2; the last entry
// repeats when attempts outnumber delays.
type RetryPolicy struct {
	MaxAttempts int
	Delays      []time.Duration
}

// DefaultRetryPolicy waits one more minute after each failed attempt.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxRetries,
		Delays:      []time.Duration{time.Minute, 2 * time.Minute, 3 * time.Minute},
	}
}

// Delay returns the wait after the given number of failed attempts (1-based).
func (p RetryPolicy) Delay(failedAttempts int) time.Duration {
	if len(p.Delays) == 0 {
		return time.Duration(failedAttempts) * time.Minute
	}
	idx := failedAttempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.Delays) {
		idx = len(p.Delays) - 1
	}
	return p.Delays[idx]
}

// ParseDelays reads "30s,2m,10m" into a delay list.
func ParseDelays(raw string) ([]time.Duration, error) {
	var delays []time.Duration
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := time.ParseDuration(part)
		if err != nil {
			return nil, fmt.Errorf("invalid retry delay %q: %w", part, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("retry delay %q must be positive", part)
		}
		if n := len(delays); n > 0 && d < delays[n-1] {
			return nil, fmt.Errorf("retry delays must not decrease (%s after %s)", d, delays[n-1])
		}
		delays = append(delays, d)
	}
	return delays, nil
}
