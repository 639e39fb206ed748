//go:build windows

package shelltask

import "errors"

func applyLimits(spec Command) error {
	if spec.MemoryLimit > 0 || spec.CPULimit > 0 || spec.FileLimit > 0 {
		return errors.New("resource limits require a unix platform")
	}
	return nil
}
