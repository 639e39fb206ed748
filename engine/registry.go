package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Func is the unit of work a worker process executes. The input is the
// value carried by the task's Spec, decoded in the worker; ctx is
// cancelled when the task's wall-clock budget expires. The returned
// value travels back to the coordinator, so it must be a string, a
// gob-encodable value, or nil.
type Func func(ctx context.Context, input any) (any, error)

var (
	regMu    sync.RWMutex
	registry = make(map[string]Func)

	hookMu      sync.RWMutex
	workerStart func()
	workerDone  func(any)
)

// Register makes fn callable by name from worker processes. Because a
// worker is a re-execution of the same binary, registration must happen
// on every process start before Main runs, in practice from a package
// init function or at the very top of main. Register panics on a
// duplicate or empty name so misconfiguration surfaces immediately.
func Register(name string, fn Func) {
	if name == "" {
		panic("engine: Register with empty name")
	}
	if fn == nil {
		panic(fmt.Sprintf("engine: Register %q with nil function", name))
	}
	regMu.Lock()
	defer regMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("engine: Register called twice for %q", name))
	}
	registry[name] = fn
}

// Registered reports whether a function name is known.
func Registered(name string) bool {
	regMu.RLock()
	defer regMu.RUnlock()
	_, ok := registry[name]
	return ok
}

// RegisteredNames returns all registered names, sorted.
func RegisteredNames() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookup(name string) (Func, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	fn, ok := registry[name]
	return fn, ok
}

func setWorkerHooks(start func(), done func(any)) {
	hookMu.Lock()
	defer hookMu.Unlock()
	workerStart = start
	workerDone = done
}

func getWorkerHooks() (func(), func(any)) {
	hookMu.RLock()
	defer hookMu.RUnlock()
	return workerStart, workerDone
}
