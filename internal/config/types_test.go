package config

import (
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDurationUnmarshal(t *testing.T) {
	var doc struct {
		Timeout Duration `yaml:"timeout"`
	}
	if err := yaml.Unmarshal([]byte(`timeout: 90s`), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.Timeout.Duration != 90*time.Second {
		t.Fatalf("duration = %v, want 90s", doc.Timeout.Duration)
	}
	if !doc.Timeout.IsSet() {
		t.Fatalf("expected explicit duration to report set")
	}

	var absent struct {
		Timeout Duration `yaml:"timeout"`
	}
	if err := yaml.Unmarshal([]byte(`{}`), &absent); err != nil {
		t.Fatalf("unmarshal absent: %v", err)
	}
	if absent.Timeout.IsSet() {
		t.Fatalf("expected absent duration to report unset")
	}

	var empty struct {
		Timeout Duration `yaml:"timeout"`
	}
	if err := yaml.Unmarshal([]byte(`timeout: ""`), &empty); err != nil {
		t.Fatalf("unmarshal empty: %v", err)
	}
	if !empty.Timeout.IsSet() || empty.Timeout.Duration != 0 {
		t.Fatalf("empty duration should be explicit zero, got %v set=%v", empty.Timeout.Duration, empty.Timeout.IsSet())
	}

	var invalid struct {
		Timeout Duration `yaml:"timeout"`
	}
	if err := yaml.Unmarshal([]byte(`timeout: soon`), &invalid); err == nil {
		t.Fatalf("expected error for invalid duration")
	}
}

func TestDurationMarshal(t *testing.T) {
	text, err := Duration{Duration: 90 * time.Second}.MarshalText()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(text) != "1m30s" {
		t.Fatalf("marshalled duration = %q, want 1m30s", text)
	}
}

func TestMemoryUnmarshal(t *testing.T) {
	cases := []struct {
		text string
		want int64
	}{
		{"512Mi", 512 * 1024 * 1024},
		{"64MiB", 64 * 1024 * 1024},
		{"1g", 1024 * 1024 * 1024},
		{"2048", 2048},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.text, func(t *testing.T) {
			var doc struct {
				Memory Memory `yaml:"memory"`
			}
			if err := yaml.Unmarshal([]byte("memory: "+tc.text), &doc); err != nil {
				t.Fatalf("unmarshal %q: %v", tc.text, err)
			}
			if doc.Memory.Bytes != tc.want {
				t.Fatalf("bytes = %d, want %d", doc.Memory.Bytes, tc.want)
			}
			if !doc.Memory.IsSet() {
				t.Fatalf("expected memory to report set")
			}
		})
	}

	var invalid struct {
		Memory Memory `yaml:"memory"`
	}
	err := yaml.Unmarshal([]byte(`memory: 12parsecs`), &invalid)
	if err == nil {
		t.Fatalf("expected error for invalid quantity")
	}
	if !strings.Contains(err.Error(), "invalid memory quantity") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMemoryMarshal(t *testing.T) {
	text, err := Memory{Bytes: 512 * 1024 * 1024}.MarshalText()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(text) != "512MiB" {
		t.Fatalf("marshalled memory = %q, want 512MiB", text)
	}

	text, err = Memory{}.MarshalText()
	if err != nil {
		t.Fatalf("marshal zero: %v", err)
	}
	if len(text) != 0 {
		t.Fatalf("zero memory should marshal empty, got %q", text)
	}
}

func TestApplyDefaults(t *testing.T) {
	m := &Manifest{
		Version: "1",
		Defaults: Defaults{
			Dir: "/srv/app",
			Env: map[string]string{"REGION": "us-east-1", "MODE": "slow"},
			Limits: &Limits{
				Memory: Memory{Bytes: 1024},
				CPU:    Duration{Duration: time.Second},
				Files:  32,
			},
		},
		Tasks: []*TaskSpec{
			{Name: "plain", Command: []string{"true"}},
			{
				Name:    "custom",
				Command: []string{"true"},
				Dir:     "/srv/custom",
				Env:     map[string]string{"MODE": "fast"},
				Limits:  &Limits{Memory: Memory{Bytes: 2048}},
			},
		},
	}

	m.ApplyDefaults()

	plain, custom := m.Tasks[0], m.Tasks[1]

	if plain.Dir != "/srv/app" {
		t.Fatalf("plain dir = %q, want the default", plain.Dir)
	}
	if plain.Env["REGION"] != "us-east-1" || plain.Env["MODE"] != "slow" {
		t.Fatalf("plain env = %v, want the defaults", plain.Env)
	}
	if plain.Limits == nil || plain.Limits.Memory.Bytes != 1024 || plain.Limits.Files != 32 {
		t.Fatalf("plain limits = %+v, want the default limits", plain.Limits)
	}
	if plain.Limits == m.Defaults.Limits {
		t.Fatalf("default limits must be cloned, not shared")
	}

	if custom.Dir != "/srv/custom" {
		t.Fatalf("custom dir = %q, want the task override", custom.Dir)
	}
	if custom.Env["MODE"] != "fast" || custom.Env["REGION"] != "us-east-1" {
		t.Fatalf("custom env = %v, want task entries over defaults", custom.Env)
	}
	if custom.Limits.Memory.Bytes != 2048 {
		t.Fatalf("custom memory = %d, want the task override", custom.Limits.Memory.Bytes)
	}
	if custom.Limits.CPU.Duration != time.Second || custom.Limits.Files != 32 {
		t.Fatalf("custom limits = %+v, want unset fields inherited", custom.Limits)
	}
}

func TestLimitsClone(t *testing.T) {
	var nilLimits *Limits
	if nilLimits.Clone() != nil {
		t.Fatalf("nil limits should clone to nil")
	}

	orig := &Limits{Memory: Memory{Bytes: 1024}, Files: 8}
	copied := orig.Clone()
	copied.Files = 16
	if orig.Files != 8 {
		t.Fatalf("clone mutated the original: %+v", orig)
	}
}
