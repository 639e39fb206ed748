// Package exithook coordinates a process-wide cleanup callback that
// runs at most once, no matter how the process winds down.
//
// The hook never installs signal handlers or exit interceptors of its
// own. The embedding program decides when teardown happens and calls
// Fire at that point, typically via a defer at the top of main. Owners
// of the callback arm it while they have children to reap and disable
// it once they have cleaned up themselves, so a normal shutdown does
// not kill workers twice.
package exithook

import "sync"

// Hook is an at-most-once cleanup callback with an enable switch.
type Hook interface {
	// Arm installs or replaces the callback. Arming does not enable.
	Arm(fn func())
	// Enable allows the next Fire to run the callback.
	Enable()
	// Disable makes Fire a no-op until re-enabled.
	Disable()
	// Fire runs the armed callback if the hook is enabled and has not
	// fired before. Later calls do nothing, even after re-arming.
	Fire()
}

type hook struct {
	mu      sync.Mutex
	fn      func()
	enabled bool
	fired   bool
}

// New returns an independent hook, armed with nothing and disabled.
func New() Hook { return &hook{} }

var (
	processOnce sync.Once
	processHook Hook
)

// Process returns the hook shared by the whole process.
func Process() Hook {
	processOnce.Do(func() {
		processHook = New()
	})
	return processHook
}

func (h *hook) Arm(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fn = fn
}

func (h *hook) Enable() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.enabled = true
}

func (h *hook) Disable() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.enabled = false
}

func (h *hook) Fire() {
	h.mu.Lock()
	if h.fired || !h.enabled || h.fn == nil {
		h.mu.Unlock()
		return
	}
	h.fired = true
	fn := h.fn
	h.mu.Unlock()

	// Run outside the lock: the callback may disable or re-arm the
	// hook while cleaning up.
	fn()
}
