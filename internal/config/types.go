package config

import (
	"fmt"
	"time"

	"github.com/mensbeam/Fork/internal/resources"
)

// Duration wraps time.Duration for YAML unmarshalling.
type Duration struct {
	time.Duration
	explicit bool
}

// UnmarshalText parses a textual duration, accepting empty strings.
func (d *Duration) UnmarshalText(text []byte) error {
	d.explicit = true
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// MarshalText renders the duration using time.Duration formatting.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsSet reports whether the duration was explicitly provided or non-zero.
func (d Duration) IsSet() bool {
	return d.explicit || d.Duration != 0
}

// Memory wraps a byte count parsed from human-readable quantities like
// "512Mi" or "1g".
type Memory struct {
	Bytes int64
}

// UnmarshalText parses a memory quantity, accepting empty strings.
func (m *Memory) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		m.Bytes = 0
		return nil
	}
	bytes, err := resources.ParseMemory(string(text))
	if err != nil {
		return err
	}
	m.Bytes = bytes
	return nil
}

// MarshalText renders the quantity in human-readable form.
func (m Memory) MarshalText() ([]byte, error) {
	if m.Bytes == 0 {
		return nil, nil
	}
	return []byte(resources.FormatBytes(m.Bytes)), nil
}

// IsSet reports whether a quantity was provided.
func (m Memory) IsSet() bool {
	return m.Bytes != 0
}

// Manifest mirrors the fork.yaml document structure. Includes lists
// the fragment paths the root file pulled in, already resolved.
type Manifest struct {
	Version  string      `yaml:"version"`
	Includes []string    `yaml:"includes"`
	Run      RunSpec     `yaml:"run"`
	Defaults Defaults    `yaml:"defaults"`
	Tasks    []*TaskSpec `yaml:"tasks"`
}

// RunSpec holds run-wide orchestration settings.
type RunSpec struct {
	Concurrency int      `yaml:"concurrency"`
	Timeout     Duration `yaml:"timeout"`
}

// Defaults captures settings applied to tasks that do not override
// them.
type Defaults struct {
	Dir    string            `yaml:"dir"`
	Env    map[string]string `yaml:"env"`
	Limits *Limits           `yaml:"limits"`
}

// TaskSpec describes an individual task in the manifest.
type TaskSpec struct {
	Name        string            `yaml:"name"`
	Command     []string          `yaml:"command"`
	Dir         string            `yaml:"dir"`
	Env         map[string]string `yaml:"env"`
	EnvFromFile string            `yaml:"envFromFile"`
	Limits      *Limits           `yaml:"limits"`
}

// Limits bounds the resources of a task's worker process.
type Limits struct {
	Memory Memory   `yaml:"memory"`
	CPU    Duration `yaml:"cpu"`
	Files  int      `yaml:"files"`
}

// Clone creates a deep copy of the limits.
func (l *Limits) Clone() *Limits {
	if l == nil {
		return nil
	}
	cp := *l
	return &cp
}

// ApplyDefaults folds the manifest-wide defaults into each task. Task
// settings win; default env entries are merged underneath task env.
func (m *Manifest) ApplyDefaults() {
	for _, task := range m.Tasks {
		if task == nil {
			continue
		}
		if task.Dir == "" {
			task.Dir = m.Defaults.Dir
		}
		if len(m.Defaults.Env) > 0 {
			merged := make(map[string]string, len(m.Defaults.Env)+len(task.Env))
			for k, v := range m.Defaults.Env {
				merged[k] = v
			}
			for k, v := range task.Env {
				merged[k] = v
			}
			task.Env = merged
		}
		switch {
		case task.Limits == nil:
			task.Limits = m.Defaults.Limits.Clone()
		case m.Defaults.Limits != nil:
			if !task.Limits.Memory.IsSet() {
				task.Limits.Memory = m.Defaults.Limits.Memory
			}
			if !task.Limits.CPU.IsSet() {
				task.Limits.CPU = m.Defaults.Limits.CPU
			}
			if task.Limits.Files == 0 {
				task.Limits.Files = m.Defaults.Limits.Files
			}
		}
	}
}
