package webhook

import (
	"fmt"
)

// Outcome tags a handler result. Retry decisions are made on the tag, never on error types.
type Outcome int

const (
	OutcomeSucceeded Outcome = iota
	OutcomeIgnored
	OutcomeTransient
	OutcomePermanent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeTransient:
		return "transient"
	case OutcomePermanent:
		return "permanent"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the uniform answer of every handler.
type Result struct {
	Outcome  Outcome
	Message  string
	Metadata map[string]string
}

// Succeeded reports applied (or already applied) state.
func Succeeded(format string, args ...interface{}) Result {
	return Result{Outcome: OutcomeSucceeded, Message: fmt.Sprintf(format, args...)}
}

// Ignored is a success that changed nothing, e.g. an event type without a handler.
func Ignored(format string, args ...interface{}) Result {
	return Result{Outcome: OutcomeIgnored, Message: fmt.Sprintf(format, args...)}
}

// Retry reports a transient failure; the job runner will try the event again.
func Retry(format string, args ...interface{}) Result {
	return Result{Outcome: OutcomeTransient, Message: fmt.Sprintf(format, args...)}
}

// Fail reports a permanent failure that needs an operator.
func Fail(format string, args ...interface{}) Result {
	return Result{Outcome: OutcomePermanent, Message: fmt.Sprintf(format, args...)}
}

// RetryOnError turns an infrastructure error (database, outbound call, cancelled context) into a
// transient result.
func RetryOnError(err error, what string) Result {
	return Retry("%s: %v", what, err)
}

func (r Result) Success() bool {
	return r.Outcome == OutcomeSucceeded || r.Outcome == OutcomeIgnored
}

func (r Result) RequiresRetry() bool {
	return r.Outcome == OutcomeTransient
}

// With returns a copy of r carrying an extra metadata entry.
func (r Result) With(key, value string) Result {
	md := make(map[string]string, len(r.Metadata)+1)
	for k, v := range r.Metadata {
		md[k] = v
	}
	md[key] = value
	r.Metadata = md
	return r
}

func (r Result) String() string {
	if r.Message == "" {
		return r.Outcome.String()
	}
	return r.Outcome.String() + ": " + r.Message
}
