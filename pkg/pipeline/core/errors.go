package core

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrFormatAmbiguous reports that structure probing could not distinguish
	// delimited text from markup. Callers apply the delimited-text default.
	ErrFormatAmbiguous = errors.New("format selection ambiguous")

	// ErrEncodingUndetermined reports that no candidate encoding decoded the
	// sample cleanly. Callers apply the fallback encoding.
	ErrEncodingUndetermined = errors.New("encoding undetermined")
)

// PreprocessingError reports a failed source preprocessing command. It aborts
// the owning task only.
type PreprocessingError struct {
	Cmd string
	Err error
}

func (e *PreprocessingError) Error() string {
	if e == nil {
		return "preprocessing failed"
	}
	return fmt.Sprintf("preprocess %q: %v", e.Cmd, e.Err)
}

func (e *PreprocessingError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IOError reports a task-level read or decode failure. It aborts the owning
// task only.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	if e == nil {
		return "io failure"
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// TimeoutError reports that a task exceeded its wall-clock budget. The task's
// partial output up to the last completed record accompanies it.
type TimeoutError struct {
	Budget time.Duration
	Err    error
}

func (e *TimeoutError) Error() string {
	if e == nil {
		return "task timeout"
	}
	if e.Budget <= 0 {
		return "task timed out"
	}
	return fmt.Sprintf("task timed out after %s", e.Budget)
}

func (e *TimeoutError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// RecordRejectedError reports one dropped record. Rejections are counted per
// task and never abort processing; the type exists so reject reasons can be
// carried into reports uniformly.
type RecordRejectedError struct {
	Record int
	Reason string
}

func (e *RecordRejectedError) Error() string {
	if e == nil {
		return "record rejected"
	}
	return fmt.Sprintf("record %d rejected: %s", e.Record, e.Reason)
}
