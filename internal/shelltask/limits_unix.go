//go:build !windows

package shelltask

import (
	"fmt"
	"syscall"
	"time"
)

// applyLimits installs the command's resource limits on the calling
// process, so the command and anything it spawns inherit them. Address
// space stands in for memory: it is the only rlimit that reliably
// bounds allocations across unix platforms.
func applyLimits(spec Command) error {
	if spec.MemoryLimit > 0 {
		limit := syscall.Rlimit{Cur: uint64(spec.MemoryLimit), Max: uint64(spec.MemoryLimit)}
		if err := syscall.Setrlimit(syscall.RLIMIT_AS, &limit); err != nil {
			return fmt.Errorf("set memory limit: %w", err)
		}
	}
	if spec.CPULimit > 0 {
		secs := uint64((spec.CPULimit + time.Second - 1) / time.Second)
		limit := syscall.Rlimit{Cur: secs, Max: secs}
		if err := syscall.Setrlimit(syscall.RLIMIT_CPU, &limit); err != nil {
			return fmt.Errorf("set cpu limit: %w", err)
		}
	}
	if spec.FileLimit > 0 {
		limit := syscall.Rlimit{Cur: uint64(spec.FileLimit), Max: uint64(spec.FileLimit)}
		if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &limit); err != nil {
			return fmt.Errorf("set open file limit: %w", err)
		}
	}
	return nil
}
