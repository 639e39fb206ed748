// Package shelltask provides the built-in task function that runs a
// shell command inside a worker process. Manifest-driven runs dispatch
// every task through it.
package shelltask

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/mensbeam/Fork/engine"
	"github.com/mensbeam/Fork/failure"
)

// FuncName is the registered name of the shell task function.
const FuncName = "shell.command"

// maxOutputBytes caps how much command output travels back to the
// coordinator. The tail is kept; with build and test commands the end
// of the output is where the verdict lives.
const maxOutputBytes = 1 << 20

// Command is the input of a shell task.
type Command struct {
	Name string
	Argv []string
	Dir  string
	Env  map[string]string

	// Worker process limits, applied before the command starts and
	// inherited by it. Zero values mean unlimited.
	MemoryLimit int64
	CPULimit    time.Duration
	FileLimit   int
}

// Result is the value a successful shell task returns.
type Result struct {
	Output   string
	ExitCode int
	Duration time.Duration
}

func init() {
	gob.Register(Command{})
	gob.Register(Result{})
	engine.Register(FuncName, Run)
}

// Run executes the command described by input and returns a Result.
// Failures carry the exit code and the output tail as annotations.
func Run(ctx context.Context, input any) (any, error) {
	spec, ok := input.(Command)
	if !ok {
		return nil, failure.Errorf("shell task input is %T, want shelltask.Command", input)
	}
	if len(spec.Argv) == 0 || spec.Argv[0] == "" {
		return nil, failure.New("shell task has no command")
	}
	if err := applyLimits(spec); err != nil {
		return nil, failure.Wrap(err, "apply resource limits")
	}

	cmd := exec.CommandContext(ctx, spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = mergeEnv(os.Environ(), spec.Env)

	started := time.Now()
	out, err := cmd.CombinedOutput()
	elapsed := time.Since(started)
	output := tail(string(out), maxOutputBytes)

	if err != nil {
		name := spec.Name
		if name == "" {
			name = spec.Argv[0]
		}
		ferr := failure.Wrap(err, fmt.Sprintf("command %q failed", name)).
			WithAttr("output", output).
			WithAttr("argv", spec.Argv)
		var exit *exec.ExitError
		if errors.As(err, &exit) {
			ferr = ferr.WithCode(exit.ExitCode())
		}
		return nil, ferr
	}

	return Result{Output: output, ExitCode: 0, Duration: elapsed}, nil
}

// mergeEnv appends extra entries to base in sorted key order, so the
// command sees a stable environment. Extra entries win over base ones
// by coming later.
func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	merged := make([]string, 0, len(base)+len(keys))
	merged = append(merged, base...)
	for _, k := range keys {
		merged = append(merged, k+"="+extra[k])
	}
	return merged
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[len(s)-n:]
	if i := strings.IndexByte(cut, '\n'); i >= 0 && i+1 < len(cut) {
		cut = cut[i+1:]
	}
	return cut
}
