package config

import (
	"strings"
	"testing"
	"time"
)

func testManifest() *Manifest {
	return &Manifest{
		Version: "1",
		Run:     RunSpec{Concurrency: 2},
		Tasks: []*TaskSpec{
			{Name: "build", Command: []string{"/bin/sh", "-c", "true"}},
			{Name: "unit", Command: []string{"go", "test", "./..."}},
		},
	}
}

func TestValidateAcceptsManifest(t *testing.T) {
	if err := testManifest().Validate(); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
}

func TestValidateFailures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Manifest)
		want   string
	}{
		{
			name:   "unsupported version",
			mutate: func(m *Manifest) { m.Version = "2" },
			want:   "unsupported manifest version",
		},
		{
			name:   "negative concurrency",
			mutate: func(m *Manifest) { m.Run.Concurrency = -1 },
			want:   "run.concurrency",
		},
		{
			name:   "negative timeout",
			mutate: func(m *Manifest) { m.Run.Timeout = Duration{Duration: -time.Second} },
			want:   "run.timeout",
		},
		{
			name:   "no tasks",
			mutate: func(m *Manifest) { m.Tasks = nil },
			want:   "defines no tasks",
		},
		{
			name:   "nil task",
			mutate: func(m *Manifest) { m.Tasks[1] = nil },
			want:   "tasks[1] is empty",
		},
		{
			name:   "missing name",
			mutate: func(m *Manifest) { m.Tasks[0].Name = "" },
			want:   "has no name",
		},
		{
			name:   "bad name",
			mutate: func(m *Manifest) { m.Tasks[0].Name = "bad name!" },
			want:   "unsupported characters",
		},
		{
			name:   "duplicate names",
			mutate: func(m *Manifest) { m.Tasks[1].Name = m.Tasks[0].Name },
			want:   "duplicate task name",
		},
		{
			name:   "missing command",
			mutate: func(m *Manifest) { m.Tasks[0].Command = nil },
			want:   "has no command",
		},
		{
			name:   "empty command",
			mutate: func(m *Manifest) { m.Tasks[0].Command = []string{""} },
			want:   "empty command",
		},
		{
			name:   "negative memory limit",
			mutate: func(m *Manifest) { m.Tasks[0].Limits = &Limits{Memory: Memory{Bytes: -1}} },
			want:   "memory limit is negative",
		},
		{
			name:   "negative cpu limit",
			mutate: func(m *Manifest) { m.Tasks[0].Limits = &Limits{CPU: Duration{Duration: -time.Second}} },
			want:   "cpu limit is negative",
		},
		{
			name:   "negative files limit",
			mutate: func(m *Manifest) { m.Tasks[0].Limits = &Limits{Files: -1} },
			want:   "files limit is negative",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			m := testManifest()
			tc.mutate(m)
			err := m.Validate()
			if err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error to contain %q, got %v", tc.want, err)
			}
		})
	}
}
