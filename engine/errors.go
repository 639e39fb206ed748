package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mensbeam/Fork/failure"
)

var (
	// ErrConfig reports an invalid orchestrator setting.
	ErrConfig = errors.New("invalid orchestrator configuration")

	// ErrFork reports that a worker process could not be started.
	ErrFork = errors.New("spawn worker")

	// ErrWait reports that waiting on a worker process failed in a way
	// that is not an ordinary exit. The run aborts when this happens.
	ErrWait = errors.New("wait for worker")
)

// TimeoutError is delivered as a task's failure when its function did
// not return within the wall-clock budget. It matches
// context.DeadlineExceeded under errors.Is.
type TimeoutError struct {
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task timed out after %s", e.Limit)
}

func (e *TimeoutError) Timeout() bool { return true }

func (e *TimeoutError) Is(target error) bool {
	return target == context.DeadlineExceeded
}

// Attrs carries the budget across the process boundary so the
// coordinator can rebuild the typed error.
func (e *TimeoutError) Attrs() []failure.Attr {
	return []failure.Attr{{Key: "limit", Value: e.Limit}}
}

const timeoutKind = "*engine.TimeoutError"

func init() {
	failure.RegisterKind(timeoutKind, func(d *failure.Descriptor) error {
		v, ok := d.Attr("limit")
		if !ok {
			return nil
		}
		ns, ok := v.(int64)
		if !ok {
			return nil
		}
		return &TimeoutError{Limit: time.Duration(ns)}
	})
}
