package pipeline

import (
	"errors"
	"fmt"
)

var ErrCycleInFlight = errors.New("cycle already in flight")

type TransientFetchError struct {
	Stream string
	Err    error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("fetch %s stream: %v", e.Stream, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

type MalformedRecordError struct {
	Source Source
	Key    string
	Reason string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed %s record %q: %s", e.Source, e.Key, e.Reason)
}

type RuleEvaluationError struct {
	RuleID string
	Err    error
}

func (e *RuleEvaluationError) Error() string {
	return fmt.Sprintf("evaluate rule %s: %v", e.RuleID, e.Err)
}

func (e *RuleEvaluationError) Unwrap() error { return e.Err }

type DeliveryError struct {
	Fingerprint string
	Err         error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver alert %s: %v", e.Fingerprint, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
