package engine

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/mensbeam/Fork/exithook"
	"github.com/mensbeam/Fork/failure"
	"github.com/mensbeam/Fork/ipc"
)

const (
	// workerFD is where the worker's channel end arrives: the first
	// entry of ExtraFiles, after stdin, stdout and stderr.
	workerFD = 3

	// orderBudget is how long a fresh worker waits for its work order
	// before giving up on a silent coordinator.
	orderBudget = 10 * time.Second
)

var debugPassthrough atomic.Bool

// SetDebugPassthrough makes workers re-panic after reporting a failure,
// so the fault also crashes the worker process visibly with a stack
// trace. The flag propagates to workers dispatched after the call.
func SetDebugPassthrough(enabled bool) { debugPassthrough.Store(enabled) }

// DebugPassthrough reports whether failure passthrough is enabled.
func DebugPassthrough() bool { return debugPassthrough.Load() }

// Main routes worker processes into the task runner. Call it first in
// main, after all Register calls have run (package init functions
// qualify), and return when it reports true:
//
//	func main() {
//		if engine.Main() {
//			return
//		}
//		// coordinator path
//	}
//
// In a worker process Main runs the ordered task and exits; it only
// ever returns false, in the coordinator.
func Main() bool {
	if os.Getenv(workerEnv) == "" {
		return false
	}
	os.Exit(runWorker())
	return true
}

func runWorker() int {
	// A worker never owns the process-wide cleanup hook; a nested
	// orchestrator inside this process re-arms it explicitly.
	exithook.Process().Disable()

	ch, err := ipc.FromFile(workerFD, "fork-channel")
	if err != nil {
		// Without a channel there is nobody to report to.
		fmt.Fprintf(os.Stderr, "fork worker: %v\n", err)
		return 1
	}
	defer ch.Close()

	order, err := ipc.ReadOrder(ch, orderBudget)
	if err != nil {
		reportFailure(ch, fmt.Errorf("read work order: %w", err))
		return 0
	}
	failure.SetTraceCapture(order.TraceCapture)
	passthrough := order.Passthrough || DebugPassthrough()

	fn, ok := lookup(order.Func)
	if !ok {
		reportFailure(ch, fmt.Errorf("no registered task function %q", order.Func))
		return 0
	}

	value, ferr := invoke(order, fn)
	if ferr == nil {
		if _, done := getWorkerHooks(); done != nil {
			done(value)
		}
		raw, err := ipc.EncodeResult(value)
		if err != nil {
			ferr = fmt.Errorf("encode task result: %w", err)
		} else if raw != nil {
			_ = ch.Write(raw)
		}
	}
	if ferr != nil {
		reportFailure(ch, ferr)
		if passthrough {
			// Crash visibly so the failure also surfaces as a worker
			// stack trace and a non-zero exit.
			_ = ch.Close()
			panic(ferr)
		}
	}
	return 0
}

func reportFailure(ch *ipc.Channel, err error) {
	raw, encErr := ipc.EncodeResult(failure.Capture(err))
	if encErr != nil {
		return
	}
	_ = ch.Write(raw)
}

// invoke runs the task function under its wall-clock budget. The
// function runs on its own goroutine; when the budget expires the
// worker abandons it and reports a TimeoutError immediately, without
// waiting for the function to notice its cancelled context.
func invoke(order ipc.Order, fn Func) (any, error) {
	ctx := context.Background()
	if order.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, order.Timeout)
		defer cancel()
	}

	if start, _ := getWorkerHooks(); start != nil {
		start()
	}

	type result struct {
		value any
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: panicError(r)}
			}
		}()
		value, err := fn(ctx, order.Input)
		done <- result{value: value, err: err}
	}()

	select {
	case res := <-done:
		return res.value, res.err
	case <-ctx.Done():
		return nil, &TimeoutError{Limit: order.Timeout}
	}
}

func panicError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("task panicked: %w", err)
	}
	return fmt.Errorf("task panicked: %v", r)
}
