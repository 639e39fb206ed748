//go:build !windows

package ipc

import (
	"fmt"
	"os"
	"syscall"
)

// Pair creates a connected channel pair backed by a Unix stream socket
// pair. The coordinator keeps parent and passes child's descriptor to
// the worker process. Both ends are close-on-exec so they never leak
// into unrelated children; os/exec re-dups the child end explicitly
// when it is listed as an extra file.
func Pair() (parent, child *Channel, err error) {
	syscall.ForkLock.RLock()
	fds, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM, 0)
	if err == nil {
		syscall.CloseOnExec(fds[0])
		syscall.CloseOnExec(fds[1])
	}
	syscall.ForkLock.RUnlock()
	if err != nil {
		return nil, nil, fmt.Errorf("create channel pair: %w", err)
	}
	for _, fd := range fds {
		if err := syscall.SetNonblock(fd, true); err != nil {
			syscall.Close(fds[0])
			syscall.Close(fds[1])
			return nil, nil, fmt.Errorf("set channel non-blocking: %w", err)
		}
	}
	parent = newChannel(os.NewFile(uintptr(fds[0]), "fork-channel-parent"))
	child = newChannel(os.NewFile(uintptr(fds[1]), "fork-channel-child"))
	return parent, child, nil
}
