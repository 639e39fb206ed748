package api

import (
	"context"
	"errors"
	"time"
)

var ErrNoActiveRun = errors.New("no active run")

// TaskState labels the lifecycle position of a single task.
type TaskState string

const (
	TaskRunning   TaskState = "running"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
	TaskKilled    TaskState = "killed"
)

// TaskStatus describes the runtime state of a single task.
type TaskStatus struct {
	Key       string        `json:"key"`
	State     TaskState     `json:"state"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Message   string        `json:"message,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Snapshot aggregates run-wide status information.
type Snapshot struct {
	RunID       string                `json:"run_id"`
	GeneratedAt time.Time             `json:"generated_at"`
	Running     int                   `json:"running"`
	Succeeded   int                   `json:"succeeded"`
	Failed      int                   `json:"failed"`
	Tasks       map[string]TaskStatus `json:"tasks"`
}

// StatusProvider exposes run state required by control servers.
type StatusProvider interface {
	Status(context.Context) (*Snapshot, error)
}
