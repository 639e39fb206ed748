package engine

import "time"

// EventType identifies what happened to a task or run.
type EventType string

const (
	// EventTypeSpawned marks a worker process starting for a task.
	EventTypeSpawned EventType = "spawned"
	// EventTypeExited marks a task whose outcome has been delivered.
	EventTypeExited EventType = "exited"
	// EventTypeKilled marks a task force-killed by Stop.
	EventTypeKilled EventType = "killed"
	// EventTypeStopping marks the run switching to shutdown.
	EventTypeStopping EventType = "stopping"
	// EventTypeError marks a coordinator-side error aborting the run.
	EventTypeError EventType = "error"
)

// Event is one observation from a run, published on the channel passed
// to WithEvents. Emission is non-blocking: when the channel is full the
// event is dropped rather than stalling the coordinator.
type Event struct {
	Timestamp time.Time
	RunID     string
	Key       string
	Type      EventType
	Level     string
	Message   string
	Succeeded bool
	Duration  time.Duration
	Err       error
}

func sendEvent(ch chan<- Event, evt Event) {
	if ch == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	if evt.Level == "" {
		evt.Level = "info"
	}
	select {
	case ch <- evt:
	default:
	}
}
