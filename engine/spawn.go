package engine

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/mensbeam/Fork/failure"
	"github.com/mensbeam/Fork/ipc"
)

// startWorker re-executes the current binary as a worker for spec. The
// child inherits stdout and stderr, receives its channel end as fd 3,
// and is stamped with the identity environment so Main routes it into
// the worker path. The work order is written before the function
// returns, so a returned Task is fully dispatched.
func startWorker(spec Spec, timeout time.Duration, ident *identity) (*Task, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate executable: %w", err)
	}
	parent, child, err := ipc.Pair()
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(exe)
	cmd.Env = append(os.Environ(),
		workerEnv+"="+spec.Key,
		rootPIDEnv+"="+strconv.Itoa(ident.rootPID),
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{child.File()}
	configureProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		parent.Close()
		child.Close()
		return nil, fmt.Errorf("start worker process: %w", err)
	}
	// The worker owns its end now.
	_ = child.Close()

	order := ipc.Order{
		Key:          spec.Key,
		Func:         spec.Func,
		Input:        spec.Input,
		Timeout:      timeout,
		Passthrough:  DebugPassthrough(),
		TraceCapture: failure.TraceCapture(),
	}
	if err := ipc.WriteOrder(parent, order); err != nil {
		_ = killProcessGroup(cmd.Process)
		_ = cmd.Wait()
		parent.Close()
		return nil, fmt.Errorf("dispatch %s: %w", spec.Key, err)
	}

	return &Task{
		spec:    spec,
		cmd:     cmd,
		ch:      parent,
		started: time.Now(),
		waitErr: make(chan error, 1),
	}, nil
}
