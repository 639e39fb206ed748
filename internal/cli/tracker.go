package cli

import (
	stdcontext "context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/mensbeam/Fork/engine"
	"github.com/mensbeam/Fork/internal/api"
	"github.com/mensbeam/Fork/internal/cliutil"
	"github.com/mensbeam/Fork/internal/metrics"
)

// taskRecord captures runtime state for one task observed via events.
type taskRecord struct {
	key       string
	state     api.TaskState
	startedAt time.Time
	lastEvent time.Time
	duration  time.Duration
	message   string
	errText   string
}

// statusTracker maintains in-memory status for a run based on engine
// events. It also feeds the metrics registry and, when a journal is
// open, appends every event as a JSONL record.
type statusTracker struct {
	mu    sync.RWMutex
	runID string
	tasks map[string]*taskRecord

	running   int
	succeeded int
	failed    int

	journal     *json.Encoder
	journalFile *os.File
}

func newStatusTracker() *statusTracker {
	return &statusTracker{tasks: make(map[string]*taskRecord)}
}

// OpenJournal appends every subsequent event to the JSONL file at path.
func (t *statusTracker) OpenJournal(path string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	t.mu.Lock()
	t.journalFile = file
	t.journal = json.NewEncoder(file)
	t.mu.Unlock()
	return nil
}

// Close releases the journal, if any.
func (t *statusTracker) Close() error {
	t.mu.Lock()
	file := t.journalFile
	t.journalFile = nil
	t.journal = nil
	t.mu.Unlock()
	if file == nil {
		return nil
	}
	return file.Close()
}

// Apply updates the tracker based on the supplied event.
func (t *statusTracker) Apply(evt engine.Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.runID == "" && evt.RunID != "" {
		t.runID = evt.RunID
	}

	if evt.Key != "" {
		rec := t.tasks[evt.Key]
		if rec == nil {
			rec = &taskRecord{key: evt.Key}
			t.tasks[evt.Key] = rec
		}
		if evt.Timestamp.After(rec.lastEvent) {
			rec.lastEvent = evt.Timestamp
		}

		switch evt.Type {
		case engine.EventTypeSpawned:
			rec.state = api.TaskRunning
			rec.startedAt = evt.Timestamp
			t.running++
		case engine.EventTypeKilled:
			rec.state = api.TaskKilled
		case engine.EventTypeExited:
			if t.running > 0 {
				t.running--
			}
			rec.duration = evt.Duration
			if evt.Succeeded {
				rec.state = api.TaskSucceeded
				t.succeeded++
			} else {
				t.failed++
				// A kill beats a generic failure in the final state.
				if rec.state != api.TaskKilled {
					rec.state = api.TaskFailed
				}
			}
			if evt.Err != nil {
				rec.errText = cliutil.RedactSecrets(evt.Err.Error())
			}
		}
		if evt.Message != "" {
			rec.message = cliutil.RedactSecrets(evt.Message)
		}
	}

	observeMetrics(evt)

	if t.journal != nil {
		record := cliutil.NewLogRecord(evt)
		_ = t.journal.Encode(&record)
	}
}

func observeMetrics(evt engine.Event) {
	switch evt.Type {
	case engine.EventTypeSpawned:
		metrics.TaskStarted(evt.Key)
	case engine.EventTypeKilled:
		metrics.TaskKilled(evt.Key)
	case engine.EventTypeExited:
		metrics.TaskFinished(evt.Key, evt.Succeeded, evt.Duration)
	}
}

// Status implements the status provider contract.
func (t *statusTracker) Status(ctx stdcontext.Context) (*api.Snapshot, error) {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
	return t.Snapshot(), nil
}

// Snapshot returns a copy of the tracked run state. Running tasks
// report their elapsed time so far.
func (t *statusTracker) Snapshot() *api.Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tasks := make(map[string]api.TaskStatus, len(t.tasks))
	for key, rec := range t.tasks {
		status := api.TaskStatus{
			Key:       rec.key,
			State:     rec.state,
			StartedAt: rec.startedAt,
			Duration:  rec.duration,
			Message:   rec.message,
			Error:     rec.errText,
		}
		if status.State == api.TaskRunning && !rec.startedAt.IsZero() {
			status.Duration = time.Since(rec.startedAt)
		}
		tasks[key] = status
	}
	return &api.Snapshot{
		RunID:       t.runID,
		GeneratedAt: time.Now(),
		Running:     t.running,
		Succeeded:   t.succeeded,
		Failed:      t.failed,
		Tasks:       tasks,
	}
}

var _ api.StatusProvider = (*statusTracker)(nil)
