package config

import (
	"errors"
	"fmt"
	"regexp"
)

var taskNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Validate checks the manifest after defaults have been applied.
func (m *Manifest) Validate() error {
	if m.Version != "1" {
		return fmt.Errorf("unsupported manifest version %q (supported: \"1\")", m.Version)
	}
	if m.Run.Concurrency < 0 {
		return fmt.Errorf("run.concurrency %d is negative", m.Run.Concurrency)
	}
	if m.Run.Timeout.Duration < 0 {
		return fmt.Errorf("run.timeout %s is negative", m.Run.Timeout.Duration)
	}
	if len(m.Tasks) == 0 {
		return errors.New("manifest defines no tasks")
	}

	seen := make(map[string]bool, len(m.Tasks))
	for i, task := range m.Tasks {
		if task == nil {
			return fmt.Errorf("tasks[%d] is empty", i)
		}
		if task.Name == "" {
			return fmt.Errorf("tasks[%d] has no name", i)
		}
		if !taskNamePattern.MatchString(task.Name) {
			return fmt.Errorf("task name %q contains unsupported characters", task.Name)
		}
		if seen[task.Name] {
			return fmt.Errorf("duplicate task name %q", task.Name)
		}
		seen[task.Name] = true

		if len(task.Command) == 0 {
			return fmt.Errorf("task %q has no command", task.Name)
		}
		if task.Command[0] == "" {
			return fmt.Errorf("task %q has an empty command", task.Name)
		}
		if err := validateLimits(task.Name, task.Limits); err != nil {
			return err
		}
	}
	return nil
}

func validateLimits(task string, l *Limits) error {
	if l == nil {
		return nil
	}
	if l.Memory.Bytes < 0 {
		return fmt.Errorf("task %q: memory limit is negative", task)
	}
	if l.CPU.Duration < 0 {
		return fmt.Errorf("task %q: cpu limit is negative", task)
	}
	if l.Files < 0 {
		return fmt.Errorf("task %q: files limit is negative", task)
	}
	return nil
}
