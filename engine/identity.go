package engine

import (
	"os"
	"strconv"
	"sync"
)

// Environment markers a coordinator stamps on its worker processes.
// They are how a process learns, once, which role it plays.
const (
	workerEnv  = "_FORK_WORKER"
	rootPIDEnv = "_FORK_ROOT_PID"
)

// identity is the process's fixed place in a fork tree: whether it is a
// worker and which PID sits at the root. It is resolved once at first
// use and never changes for the life of the process.
type identity struct {
	rootPID int
	worker  bool
}

var (
	identOnce sync.Once
	procIdent *identity
)

func processIdentity() *identity {
	identOnce.Do(func() {
		id := &identity{rootPID: os.Getpid()}
		if v := os.Getenv(rootPIDEnv); v != "" {
			if pid, err := strconv.Atoi(v); err == nil && pid > 0 {
				id.rootPID = pid
			}
		}
		id.worker = os.Getenv(workerEnv) != ""
		procIdent = id
	})
	return procIdent
}

// isRoot reports whether this process is the top of the fork tree. Only
// the root owns the process-wide exit hook; workers running nested
// orchestrators must leave it alone.
func (id *identity) isRoot() bool {
	return !id.worker && os.Getpid() == id.rootPID
}

// IsWorker reports whether the current process was spawned as a worker.
func IsWorker() bool {
	return processIdentity().worker
}
