package project

import (
	"errors"
	"fmt"
)

// Class buckets projection failures for retry policy. Ordering failures
// are requeued with bounded retry since they usually mean a dependency
// has not arrived yet; consistency failures are recorded and surfaced
// but never auto-corrected.
type Class string

const (
	ClassOrdering    Class = "ordering"
	ClassConsistency Class = "consistency"
)

// OrderingError is a violated projection precondition: the event refers
// to state that should already exist or would drive a running balance
// negative. Retry-worthy.
type OrderingError struct {
	Reason string
}

func (e *OrderingError) Error() string {
	return fmt.Sprintf("ordering: %s", e.Reason)
}

func orderingErrf(format string, args ...any) error {
	return &OrderingError{Reason: fmt.Sprintf(format, args...)}
}

// ConsistencyError is a contradiction with already-projected state, such
// as a re-resolution carrying a different payout vector. Not retried.
type ConsistencyError struct {
	Reason string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency: %s", e.Reason)
}

func consistencyErrf(format string, args ...any) error {
	return &ConsistencyError{Reason: fmt.Sprintf(format, args...)}
}

// Classify returns the error class for retry dispatch, false for errors
// outside the projection taxonomy.
func Classify(err error) (Class, bool) {
	var oe *OrderingError
	if errors.As(err, &oe) {
		return ClassOrdering, true
	}
	var ce *ConsistencyError
	if errors.As(err, &ce) {
		return ClassConsistency, true
	}
	return "", false
}
