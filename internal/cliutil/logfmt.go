package cliutil

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mensbeam/Fork/engine"
)

// LogRecord represents a structured run event ready for JSON encoding.
type LogRecord struct {
	Timestamp time.Time `json:"ts"`
	RunID     string    `json:"run_id,omitempty"`
	Task      string    `json:"task,omitempty"`
	Event     string    `json:"event"`
	Level     string    `json:"level"`
	Message   string    `json:"msg,omitempty"`
	Duration  float64   `json:"duration_seconds,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// NewLogRecord converts an engine event into a structured log record.
// Messages and error text pass through secret redaction.
func NewLogRecord(event engine.Event) LogRecord {
	level := event.Level
	if level == "" {
		level = "info"
	}
	record := LogRecord{
		Timestamp: event.Timestamp,
		RunID:     event.RunID,
		Task:      event.Key,
		Event:     string(event.Type),
		Level:     level,
		Message:   RedactSecrets(event.Message),
	}
	if event.Duration > 0 {
		record.Duration = event.Duration.Seconds()
	}
	if event.Err != nil {
		record.Error = RedactSecrets(event.Err.Error())
	}
	return record
}

// EncodeLogEvent encodes a run event to JSON, reporting errors to stderr if needed.
func EncodeLogEvent(enc *json.Encoder, stderr io.Writer, event engine.Event) {
	if enc == nil {
		return
	}
	record := NewLogRecord(event)
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	if err := enc.Encode(&record); err != nil {
		fmt.Fprintf(stderr, "error: encode event: %v\n", err)
	}
}

// HumanLine renders a record as a single line for terminal output.
func HumanLine(record LogRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s %-8s", record.Timestamp.Format("15:04:05.000"), strings.ToUpper(record.Level), record.Event)
	if record.Task != "" {
		fmt.Fprintf(&b, " %s", record.Task)
	}
	if record.Duration > 0 {
		fmt.Fprintf(&b, " (%.2fs)", record.Duration)
	}
	if record.Message != "" {
		fmt.Fprintf(&b, " %s", record.Message)
	}
	if record.Error != "" {
		fmt.Fprintf(&b, ": %s", record.Error)
	}
	return b.String()
}
