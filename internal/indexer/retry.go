package indexer

import (
	"errors"
	"time"

	"MarketIndexer/internal/normalize"
	"MarketIndexer/internal/project"
)

// Decision is what the pipeline does with a failed event.
type Decision int

const (
	// DecisionRetry requeues the event after a backoff delay.
	DecisionRetry Decision = iota
	// DecisionDeadLetter records the failure and moves on.
	DecisionDeadLetter
	// DecisionPauseFeed stops the feed: later events depend on this one.
	DecisionPauseFeed
)

func (d Decision) String() string {
	switch d {
	case DecisionRetry:
		return "retry"
	case DecisionDeadLetter:
		return "dead_letter"
	case DecisionPauseFeed:
		return "pause_feed"
	default:
		return "unknown"
	}
}

// RetryPolicy bounds retries and spaces them with exponential backoff.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

// Classify maps a failure and its attempt count to a decision.
//
// Decode failures are never retried: the payload will not improve.
// Consistency failures are never retried: the contradiction is durable.
// Ordering failures retry, since the missing dependency usually arrives;
// exhausting those retries pauses the feed because every later event in
// the same market would fail the same way. Everything else is treated as
// transient storage trouble and retried, then dead-lettered.
func (p RetryPolicy) Classify(err error, attempt int) Decision {
	var de *normalize.DecodeError
	if errors.As(err, &de) {
		return DecisionDeadLetter
	}

	if class, ok := project.Classify(err); ok {
		switch class {
		case project.ClassConsistency:
			return DecisionDeadLetter
		case project.ClassOrdering:
			if attempt >= p.MaxAttempts {
				return DecisionPauseFeed
			}
			return DecisionRetry
		}
	}

	if attempt >= p.MaxAttempts {
		return DecisionDeadLetter
	}
	return DecisionRetry
}

// Delay returns the backoff before the given attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// ErrorClass returns the stored error_class label for a failure.
func ErrorClass(err error) string {
	var de *normalize.DecodeError
	if errors.As(err, &de) {
		return "decode"
	}
	if class, ok := project.Classify(err); ok {
		return string(class)
	}
	return "storage"
}
