package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Pipeline stages classify every failure into one of two buckets. Transient
// errors (network, timeout, rate limit) are re-enqueued with backoff; fatal
// errors (a violated data precondition) terminate the run immediately and
// are never retried.

type PipelineError struct {
	Err   error
	fatal bool
}

func (e *PipelineError) Error() string {
	if e == nil || e.Err == nil {
		return "pipeline error"
	}
	if e.fatal {
		return fmt.Sprintf("fatal: %v", e.Err)
	}
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *PipelineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &PipelineError{Err: err}
}

func Transientf(format string, args ...any) error {
	return &PipelineError{Err: fmt.Errorf(format, args...)}
}

func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &PipelineError{Err: err, fatal: true}
}

func Fatalf(format string, args ...any) error {
	return &PipelineError{Err: fmt.Errorf(format, args...), fatal: true}
}

// IsFatal reports whether err (or anything it wraps) was marked fatal.
// Unclassified errors default to transient so an unexpected failure mode
// still gets the retry budget before an operator has to look at it.
func IsFatal(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.fatal
	}
	return false
}
