//go:build windows

package engine

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

func configureProcAttr(cmd *exec.Cmd) {
	// No process groups to set up; Kill below reaches only the worker
	// itself.
}

func killProcessGroup(p *os.Process) error {
	if p == nil {
		return nil
	}
	err := p.Kill()
	if err != nil && errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func signalPID(pid int, sig os.Signal) error {
	return errors.New("signal forwarding is not supported on windows")
}

func terminationSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}

func exitCodeForSignal(sig os.Signal) int {
	return 1
}
