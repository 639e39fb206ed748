// Package resources parses and renders human-readable resource
// quantities used in manifests and status output.
package resources

import (
	"fmt"
	"strings"

	units "github.com/docker/go-units"
)

// ParseMemory converts textual memory limits like "512Mi" or "2g" into
// bytes. Kubernetes-style binary suffixes without the trailing B are
// accepted alongside the go-units forms.
func ParseMemory(value string) (int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	lower := strings.ToLower(trimmed)
	switch {
	case strings.HasSuffix(lower, "kib"), strings.HasSuffix(lower, "mib"), strings.HasSuffix(lower, "gib"), strings.HasSuffix(lower, "tib"), strings.HasSuffix(lower, "pib"):
		// already in binary units understood by go-units
	case strings.HasSuffix(lower, "ki"), strings.HasSuffix(lower, "mi"), strings.HasSuffix(lower, "gi"), strings.HasSuffix(lower, "ti"), strings.HasSuffix(lower, "pi"):
		trimmed += "B"
	}
	bytes, err := units.RAMInBytes(trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid memory quantity %q: %w", value, err)
	}
	if bytes <= 0 {
		return 0, fmt.Errorf("invalid memory quantity %q: must be positive", value)
	}
	return bytes, nil
}

// FormatBytes renders a byte count in binary units, "512MiB" style.
func FormatBytes(n int64) string {
	return units.BytesSize(float64(n))
}
