package engine

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/mensbeam/Fork/failure"
	"github.com/mensbeam/Fork/ipc"
)

// Outcome is the terminal state of one task.
type Outcome struct {
	Key string
	// Succeeded is true only when the worker exited normally with
	// status zero and did not report a failure descriptor.
	Succeeded bool
	// Value is the task function's return value, a *failure.Descriptor
	// when the function failed, or nil when the worker produced
	// nothing (a nil return, or a kill before it could write).
	Value any
}

// Failure returns the failure descriptor carried by the outcome, or nil
// for successful and empty outcomes.
func (o Outcome) Failure() *failure.Descriptor {
	d, _ := o.Value.(*failure.Descriptor)
	return d
}

// Err reconstructs the outcome's failure as an error, or nil.
func (o Outcome) Err() error {
	return o.Failure().Err()
}

// Empty reports whether the worker delivered no value at all.
func (o Outcome) Empty() bool { return o.Value == nil }

// Task is one dispatched unit of work: a worker process plus the
// coordinator's end of its channel. All methods are called from the
// run's coordinating goroutine; Stop touches only the process, via
// kill.
type Task struct {
	spec    Spec
	cmd     *exec.Cmd
	ch      *ipc.Channel
	started time.Time

	// waitErr receives cmd.Wait's result exactly once, from the
	// task's waiter goroutine.
	waitErr chan error

	exited  bool
	exitOK  bool
	outcome *Outcome
}

// Key returns the task's key.
func (t *Task) Key() string { return t.spec.Key }

// Pid returns the worker's process ID, or 0 before it started.
func (t *Task) Pid() int {
	if t.cmd == nil || t.cmd.Process == nil {
		return 0
	}
	return t.cmd.Process.Pid
}

// Started returns when the worker process was spawned.
func (t *Task) Started() time.Time { return t.started }

// Exited reports whether the worker has been reaped, without blocking.
// A worker that exited normally, with any status, or died to a signal
// counts as exited; only a wait that fails outright is an error, and
// that error wraps ErrWait because the run cannot safely continue.
func (t *Task) Exited() (bool, error) {
	if t.exited {
		return true, nil
	}
	select {
	case err := <-t.waitErr:
		if err == nil {
			t.exited = true
			t.exitOK = true
			return true, nil
		}
		var exit *exec.ExitError
		if errors.As(err, &exit) {
			t.exited = true
			t.exitOK = false
			return true, nil
		}
		return false, fmt.Errorf("%w %s: %v", ErrWait, t.spec.Key, err)
	default:
		return false, nil
	}
}

// Outcome drains the task's channel and decodes the result. It must
// only be called after Exited reports true; the worker is gone by then,
// so everything it wrote is buffered and the read terminates. The
// outcome is computed once and cached.
func (t *Task) Outcome() Outcome {
	if t.outcome != nil {
		return *t.outcome
	}
	var buf bytes.Buffer
	for chunk := range t.ch.Chunks() {
		buf.Write(chunk)
	}
	_ = t.ch.Close()

	value, err := ipc.DecodeResult(buf.Bytes())
	if err != nil {
		// A kill can land mid-write; a torn payload reads as empty.
		value = nil
	}
	_, failed := value.(*failure.Descriptor)
	out := Outcome{
		Key:       t.spec.Key,
		Succeeded: t.exitOK && !failed,
		Value:     value,
	}
	t.outcome = &out
	return out
}

// kill force-terminates the worker and its whole process group. Errors
// from an already-gone process are ignored.
func (t *Task) kill() error {
	if t.cmd == nil || t.cmd.Process == nil {
		return nil
	}
	return killProcessGroup(t.cmd.Process)
}
