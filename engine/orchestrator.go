package engine

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mensbeam/Fork/exithook"
)

const defaultReapInterval = 250 * time.Millisecond

// Callbacks are the optional observation points of a run. BeforeSpawn
// and AfterExit run in the coordinator; WorkerStart and WorkerDone run
// inside worker processes, so they take effect only when SetCallbacks
// executes before Main on process start (package init functions
// qualify).
type Callbacks struct {
	// BeforeSpawn runs in the coordinator just before a worker process
	// is started for the spec.
	BeforeSpawn func(Spec)
	// AfterExit runs in the coordinator after a task's outcome has
	// been retrieved. Calling Stop from it halts further dispatch.
	AfterExit func(Spec, Outcome)
	// WorkerStart runs in the worker process before the task function.
	WorkerStart func()
	// WorkerDone runs in the worker process after the task function
	// returns successfully, with its raw return value.
	WorkerDone func(any)
}

// Option configures an Orchestrator at construction.
type Option func(*Orchestrator)

// WithEvents publishes run events on ch. The orchestrator never closes
// the channel and never blocks on it; events that do not fit are
// dropped.
func WithEvents(ch chan<- Event) Option {
	return func(o *Orchestrator) { o.events = ch }
}

// WithReapInterval overrides how often the run sweeps for exits whose
// notification has not landed yet, mostly for tests.
func WithReapInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.reapEvery = d
		}
	}
}

// Orchestrator runs task functions in worker processes, bounded by a
// concurrency limit and a per-task wall-clock budget, and delivers
// outcomes in completion order through the AfterExit callback.
//
// An orchestrator is reusable but not concurrently so: one Run at a
// time. Stop is safe from any goroutine, including callbacks and the
// signal path.
type Orchestrator struct {
	mu      sync.Mutex
	limit   int
	timeout time.Duration
	cb      Callbacks

	events    chan<- Event
	reapEvery time.Duration

	hook  exithook.Hook
	ident *identity
	exit  func(int) // test seam for self-termination

	// Run state, guarded by mu.
	active  bool
	stopped bool
	drained bool
	runID   string
	seq     int
	src     Source
	running map[string]*Task
	exits   chan string
}

// New returns an Orchestrator with unbounded concurrency and no task
// timeout.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		reapEvery: defaultReapInterval,
		hook:      exithook.Process(),
		ident:     processIdentity(),
		exit:      os.Exit,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SetConcurrency bounds how many workers may run at once. Zero means
// unbounded; negative values are rejected.
func (o *Orchestrator) SetConcurrency(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: concurrency %d is negative", ErrConfig, n)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.limit = n
	return nil
}

// Concurrency returns the current limit, zero meaning unbounded.
func (o *Orchestrator) Concurrency() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.limit
}

// SetTimeout bounds each task's wall-clock run time. Zero means
// unbounded; negative values are rejected. The budget is enforced in
// the worker: when it expires the task fails with a TimeoutError and
// the worker exits without waiting for the task function.
func (o *Orchestrator) SetTimeout(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: timeout %s is negative", ErrConfig, d)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.timeout = d
	return nil
}

// Timeout returns the current per-task budget, zero meaning unbounded.
func (o *Orchestrator) Timeout() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.timeout
}

// SetCallbacks installs the run's callbacks, replacing all four at
// once. The worker-side pair is stored process-wide so freshly
// re-executed workers can find it.
func (o *Orchestrator) SetCallbacks(cb Callbacks) {
	o.mu.Lock()
	o.cb = cb
	o.mu.Unlock()
	setWorkerHooks(cb.WorkerStart, cb.WorkerDone)
}

// Running returns how many workers are currently alive.
func (o *Orchestrator) Running() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.running)
}

// Run dispatches every task the source yields and blocks until all
// outcomes have been delivered, the source is exhausted, or the run is
// stopped. Cancelling ctx stops the run and returns ctx's error;
// calling Stop ends it cleanly with nil.
//
// While a run is active the orchestrator owns the process's
// termination signals: an interrupt stops the run, kills the workers
// and terminates this process, escalating to the root of the fork tree
// first when this process is itself a worker.
func (o *Orchestrator) Run(ctx context.Context, src Source) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if src == nil {
		src = FromSlice(nil)
	}

	o.mu.Lock()
	if o.active {
		o.mu.Unlock()
		return fmt.Errorf("%w: run already in progress", ErrConfig)
	}
	o.active = true
	o.stopped = false
	o.drained = false
	o.runID = uuid.NewString()
	o.seq = 0
	o.src = src
	o.running = make(map[string]*Task)
	o.exits = make(chan string, 16)
	events := o.events
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.active = false
		o.src = nil
		o.mu.Unlock()
		if c, ok := src.(interface{ Close() }); ok {
			c.Close()
		}
	}()

	// Intercept termination signals for the duration of the run and
	// restore default handling afterwards.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, terminationSignals()...)
	sigDone := make(chan struct{})
	go func() {
		select {
		case sig := <-sigCh:
			o.selfTerminate(sig)
		case <-sigDone:
		}
	}()
	defer func() {
		signal.Stop(sigCh)
		close(sigDone)
	}()

	// Only the root of the fork tree owns the process exit hook;
	// workers running nested orchestrators leave it alone.
	if o.ident.isRoot() {
		o.hook.Arm(func() { o.Stop() })
		o.hook.Enable()
		defer o.hook.Disable()
	} else {
		o.hook.Disable()
	}

	if err := o.fill(); err != nil {
		o.abort(events, err)
		return err
	}

	tick := time.NewTicker(o.reapEvery)
	defer tick.Stop()
	ctxDone := ctx.Done()
	var ctxErr error

	for !o.idle() {
		select {
		case key := <-o.exits:
			if err := o.reapKey(key); err != nil {
				o.abort(events, err)
				return err
			}
		case <-tick.C:
			if err := o.reapSweep(); err != nil {
				o.abort(events, err)
				return err
			}
		case <-ctxDone:
			ctxDone = nil
			ctxErr = ctx.Err()
			o.Stop()
		}
	}
	return ctxErr
}

// idle reports whether the run has nothing left to do: no live workers
// and no way to get more.
func (o *Orchestrator) idle() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.running) == 0 && (o.drained || o.stopped)
}

// Stop halts the run: the remaining queue is abandoned, every live
// worker is force-killed, and their empty outcomes are still delivered
// as the kills are reaped. Safe to call from callbacks, from other
// goroutines, and repeatedly.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.active {
		o.mu.Unlock()
		return
	}
	first := !o.stopped
	o.stopped = true
	tasks := make([]*Task, 0, len(o.running))
	for _, t := range o.running {
		tasks = append(tasks, t)
	}
	events, runID := o.events, o.runID
	o.mu.Unlock()

	if first {
		sendEvent(events, Event{RunID: runID, Type: EventTypeStopping, Message: "stopping run"})
	}
	for _, t := range tasks {
		if err := t.kill(); err == nil {
			sendEvent(events, Event{
				RunID:   runID,
				Key:     t.Key(),
				Type:    EventTypeKilled,
				Level:   "warn",
				Message: "worker killed",
			})
		}
	}
}

// fill dispatches tasks until the concurrency limit is reached, the
// source is exhausted, or the run has stopped.
func (o *Orchestrator) fill() error {
	for {
		o.mu.Lock()
		if o.stopped || o.drained || (o.limit > 0 && len(o.running) >= o.limit) {
			o.mu.Unlock()
			return nil
		}
		src := o.src
		o.mu.Unlock()

		spec, ok := src.Next()
		if !ok {
			o.mu.Lock()
			o.drained = true
			o.mu.Unlock()
			return nil
		}
		if err := o.dispatch(spec); err != nil {
			return err
		}
	}
}

// dispatch starts one worker and registers its exit notification.
func (o *Orchestrator) dispatch(spec Spec) error {
	o.mu.Lock()
	o.seq++
	if spec.Key == "" {
		spec.Key = strconv.Itoa(o.seq)
	}
	if _, dup := o.running[spec.Key]; dup {
		o.mu.Unlock()
		return fmt.Errorf("%w: duplicate task key %q", ErrConfig, spec.Key)
	}
	cb, timeout := o.cb, o.timeout
	events, runID, exits := o.events, o.runID, o.exits
	o.mu.Unlock()

	if cb.BeforeSpawn != nil {
		cb.BeforeSpawn(spec)
	}

	task, err := startWorker(spec, timeout, o.ident)
	if err != nil {
		return fmt.Errorf("%w %q: %v", ErrFork, spec.Key, err)
	}

	o.mu.Lock()
	o.running[spec.Key] = task
	o.mu.Unlock()

	// One waiter per worker. The exit notification goes out first and
	// may block until the run loop or the abort path receives it; the
	// wait result itself lands in the task's buffered channel, so the
	// waiter can never be left stuck once its key has been consumed.
	go func() {
		err := task.cmd.Wait()
		exits <- task.spec.Key
		task.waitErr <- err
	}()

	sendEvent(events, Event{
		RunID:   runID,
		Key:     spec.Key,
		Type:    EventTypeSpawned,
		Message: spec.Func,
	})
	return nil
}

// reapKey finishes the named task after its waiter announced an exit.
func (o *Orchestrator) reapKey(key string) error {
	o.mu.Lock()
	task := o.running[key]
	o.mu.Unlock()
	if task == nil {
		// Stale notification for a task the sweep already reaped.
		return nil
	}
	return o.finish(task)
}

// reapSweep polls every live task once. It backstops the exit
// notifications: a waiter that has announced its key but not yet
// published the wait result is picked up on the next tick.
func (o *Orchestrator) reapSweep() error {
	o.mu.Lock()
	tasks := make([]*Task, 0, len(o.running))
	for _, t := range o.running {
		tasks = append(tasks, t)
	}
	o.mu.Unlock()

	for _, t := range tasks {
		if err := o.finish(t); err != nil {
			return err
		}
	}
	return nil
}

// finish delivers the outcome of an exited task and refills the worker
// pool. Tasks that have not exited yet are left alone.
func (o *Orchestrator) finish(t *Task) error {
	exited, err := t.Exited()
	if err != nil {
		// The wait itself failed; the worker's state is unknown. Take
		// the task out of the run and let the caller abort.
		o.mu.Lock()
		delete(o.running, t.spec.Key)
		o.mu.Unlock()
		_ = t.kill()
		_ = t.ch.Close()
		return err
	}
	if !exited {
		return nil
	}

	out := t.Outcome()

	o.mu.Lock()
	delete(o.running, t.spec.Key)
	cb := o.cb
	events, runID := o.events, o.runID
	o.mu.Unlock()

	level := "info"
	if !out.Succeeded {
		level = "warn"
	}
	sendEvent(events, Event{
		RunID:     runID,
		Key:       t.spec.Key,
		Type:      EventTypeExited,
		Level:     level,
		Succeeded: out.Succeeded,
		Duration:  time.Since(t.started),
		Err:       out.Err(),
	})

	if cb.AfterExit != nil {
		cb.AfterExit(t.spec, out)
	}

	// Refill after the callback so a Stop issued from it is seen
	// before the next dispatch.
	return o.fill()
}

// abort tears the run down after a coordinator-side error: every
// worker is killed and every waiter drained, so no goroutine is left
// blocked on a channel nobody reads.
func (o *Orchestrator) abort(events chan<- Event, cause error) {
	o.mu.Lock()
	runID := o.runID
	o.mu.Unlock()
	sendEvent(events, Event{RunID: runID, Type: EventTypeError, Level: "error", Err: cause})

	o.Stop()
	tick := time.NewTicker(o.reapEvery)
	defer tick.Stop()
	for {
		o.mu.Lock()
		if len(o.running) == 0 {
			o.mu.Unlock()
			return
		}
		exits := o.exits
		o.mu.Unlock()

		select {
		case key := <-exits:
			o.discard(key)
		case <-tick.C:
			// A waiter announces exactly once. When the run loop consumed
			// the announcement before the wait result landed, the task is
			// still here and nothing more arrives on exits for it, so the
			// drain sweeps for settled waits the way the run loop does.
			o.mu.Lock()
			tasks := make([]*Task, 0, len(o.running))
			for _, t := range o.running {
				tasks = append(tasks, t)
			}
			o.mu.Unlock()
			for _, t := range tasks {
				if exited, err := t.Exited(); exited || err != nil {
					o.discard(t.spec.Key)
				}
			}
		}
	}
}

// discard drops a task from the run without delivering its outcome.
func (o *Orchestrator) discard(key string) {
	o.mu.Lock()
	task := o.running[key]
	delete(o.running, key)
	o.mu.Unlock()
	if task != nil {
		_ = task.ch.Close()
	}
}

// selfTerminate is the signal path: stop the run, surrender the exit
// hook, make sure the root of the fork tree is coming down too, then
// leave with the conventional 128+signal code.
func (o *Orchestrator) selfTerminate(sig os.Signal) {
	o.Stop()
	o.hook.Disable()
	if !o.ident.isRoot() && o.ident.rootPID != os.Getpid() {
		_ = signalPID(o.ident.rootPID, sig)
	}
	o.exit(exitCodeForSignal(sig))
}
