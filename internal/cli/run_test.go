package cli

import (
	"bytes"
	stdcontext "context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/mensbeam/Fork/engine"
	"github.com/mensbeam/Fork/internal/cliutil"
	"github.com/mensbeam/Fork/internal/shelltask"
)

const manifestWithLimits = `version: "1"
run:
  concurrency: 2
  timeout: 90s
defaults:
  env:
    REGION: us-east-1
tasks:
  - name: build
    command: ["/bin/sh", "-c", "true"]
    env:
      MODE: fast
    limits:
      memory: 64Mi
      cpu: 30s
      files: 256
  - name: unit
    command: ["/bin/sh", "-c", "true"]
`

func TestBuildSpecsAdHocCommand(t *testing.T) {
	manifest := "fork.yaml"
	cliCtx := &context{manifestPath: &manifest, output: &outputConfig{}}
	cmd := newRunCmd(cliCtx)

	opts := runOptions{concurrency: 4, timeout: 30 * time.Second}
	specs, settings, err := buildSpecs(cmd, cliCtx, opts, []string{"/bin/sh", "-c", "true"})
	if err != nil {
		t.Fatalf("buildSpecs: %v", err)
	}
	if len(specs) != 1 {
		t.Fatalf("got %d specs, want 1", len(specs))
	}
	if specs[0].Key != "sh" {
		t.Fatalf("spec key = %q, want %q", specs[0].Key, "sh")
	}
	if specs[0].Func != shelltask.FuncName {
		t.Fatalf("spec func = %q, want %q", specs[0].Func, shelltask.FuncName)
	}
	command, ok := specs[0].Input.(shelltask.Command)
	if !ok {
		t.Fatalf("spec input is %T, want shelltask.Command", specs[0].Input)
	}
	if len(command.Argv) != 3 || command.Argv[0] != "/bin/sh" || command.Argv[2] != "true" {
		t.Fatalf("unexpected argv: %v", command.Argv)
	}
	if settings.concurrency != 4 || settings.timeout != 30*time.Second {
		t.Fatalf("settings = %+v, want flag values", settings)
	}
}

func TestBuildSpecsFromManifest(t *testing.T) {
	path := writeManifestFile(t, manifestWithLimits)
	cliCtx := &context{manifestPath: &path, output: &outputConfig{}}
	cmd := newRunCmd(cliCtx)

	specs, settings, err := buildSpecs(cmd, cliCtx, runOptions{}, nil)
	if err != nil {
		t.Fatalf("buildSpecs: %v", err)
	}
	if settings.concurrency != 2 {
		t.Fatalf("concurrency = %d, want the manifest value 2", settings.concurrency)
	}
	if settings.timeout != 90*time.Second {
		t.Fatalf("timeout = %v, want the manifest value 90s", settings.timeout)
	}
	if len(specs) != 2 {
		t.Fatalf("got %d specs, want 2", len(specs))
	}

	command, ok := specs[0].Input.(shelltask.Command)
	if !ok {
		t.Fatalf("spec input is %T, want shelltask.Command", specs[0].Input)
	}
	if command.Name != "build" {
		t.Fatalf("command name = %q, want %q", command.Name, "build")
	}
	if command.MemoryLimit != 64*1024*1024 {
		t.Fatalf("memory limit = %d, want %d", command.MemoryLimit, 64*1024*1024)
	}
	if command.CPULimit != 30*time.Second {
		t.Fatalf("cpu limit = %v, want 30s", command.CPULimit)
	}
	if command.FileLimit != 256 {
		t.Fatalf("file limit = %d, want 256", command.FileLimit)
	}
	if command.Env["MODE"] != "fast" || command.Env["REGION"] != "us-east-1" {
		t.Fatalf("env = %v, want task env merged over defaults", command.Env)
	}
}

func TestBuildSpecsFlagOverridesManifest(t *testing.T) {
	path := writeManifestFile(t, manifestWithLimits)
	cliCtx := &context{manifestPath: &path, output: &outputConfig{}}
	cmd := newRunCmd(cliCtx)
	if err := cmd.Flags().Set("concurrency", "5"); err != nil {
		t.Fatalf("set concurrency flag: %v", err)
	}
	if err := cmd.Flags().Set("timeout", "1s"); err != nil {
		t.Fatalf("set timeout flag: %v", err)
	}

	_, settings, err := buildSpecs(cmd, cliCtx, runOptions{concurrency: 5, timeout: time.Second}, nil)
	if err != nil {
		t.Fatalf("buildSpecs: %v", err)
	}
	if settings.concurrency != 5 {
		t.Fatalf("concurrency = %d, want the flag value 5", settings.concurrency)
	}
	if settings.timeout != time.Second {
		t.Fatalf("timeout = %v, want the flag value 1s", settings.timeout)
	}
}

func TestRunWithoutManifestFails(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.yaml")

	root, _ := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"run", "-f", missing})

	err := root.ExecuteContext(stdcontext.Background())
	if err == nil {
		t.Fatalf("expected an error for a missing manifest")
	}
	if !strings.Contains(err.Error(), "open manifest") {
		t.Fatalf("error = %v, want an open manifest failure", err)
	}
}

func TestRunAdHocCommandJSONEvents(t *testing.T) {
	requireSh(t)

	root, _ := newRootCommand()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"run", "--json", "--", "/bin/sh", "-c", "exit 0"})

	if err := root.ExecuteContext(stdcontext.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, want := range []string{`"event":"spawned"`, `"event":"exited"`, `"task":"sh"`, `"run_id":"`} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("output missing %s:\n%s", want, out.String())
		}
	}
}

func TestRunFailureReturnsError(t *testing.T) {
	requireSh(t)

	root, _ := newRootCommand()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"run", "--json", "--", "/bin/sh", "-c", "exit 3"})

	err := root.ExecuteContext(stdcontext.Background())
	if err == nil {
		t.Fatalf("expected an error for a failing task")
	}
	if err.Error() != "1 of 1 tasks failed" {
		t.Fatalf("error = %q, want %q", err.Error(), "1 of 1 tasks failed")
	}
	if !strings.Contains(out.String(), "exit status 3") {
		t.Fatalf("output missing the worker exit status:\n%s", out.String())
	}
}

func TestRunManifestTasksAndJournal(t *testing.T) {
	requireSh(t)

	path := writeManifestFile(t, `version: "1"
tasks:
  - name: first
    command: ["/bin/sh", "-c", "true"]
  - name: second
    command: ["/bin/sh", "-c", "exit 0"]
`)
	journal := filepath.Join(t.TempDir(), "events.jsonl")

	root, _ := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"run", "-f", path, "--journal", journal, "--json"})

	if err := root.ExecuteContext(stdcontext.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	raw, err := os.ReadFile(journal)
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 4 {
		t.Fatalf("journal has %d lines, want 4:\n%s", len(lines), raw)
	}
	seen := map[string]int{}
	for _, line := range lines {
		var rec cliutil.LogRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("decode journal line %q: %v", line, err)
		}
		if rec.RunID == "" {
			t.Fatalf("journal record missing run id: %q", line)
		}
		seen[rec.Event]++
	}
	if seen["spawned"] != 2 || seen["exited"] != 2 {
		t.Fatalf("journal events = %v, want 2 spawned and 2 exited", seen)
	}
}

func TestRunTUIRequiresTerminal(t *testing.T) {
	root, _ := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"run", "--tui", "--", "/bin/sh", "-c", "true"})

	err := root.ExecuteContext(stdcontext.Background())
	if err == nil || err.Error() != "tui requires an interactive terminal" {
		t.Fatalf("error = %v, want the interactive terminal refusal", err)
	}
}

// stubUI stands in for the tview interface so run tests can drive the
// tui code path without a terminal.
type stubUI struct {
	events    chan engine.Event
	done      chan struct{}
	stopOnce  sync.Once
	closeOnce sync.Once
}

func newStubUI() *stubUI {
	return &stubUI{
		events: make(chan engine.Event, 256),
		done:   make(chan struct{}),
	}
}

func (s *stubUI) Run(ctx stdcontext.Context) error {
	select {
	case <-ctx.Done():
	case <-s.done:
	}
	s.Stop()
	return nil
}

func (s *stubUI) EventSink() chan<- engine.Event { return s.events }

func (s *stubUI) CloseEvents() {
	s.closeOnce.Do(func() { close(s.events) })
}

func (s *stubUI) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *stubUI) Done() <-chan struct{} { return s.done }

func TestRunTasksTUIStubbed(t *testing.T) {
	requireSh(t)

	stub := newStubUI()
	oldNewUI := newUI
	oldInteractive := interactiveOutput
	newUI = func() runUI { return stub }
	interactiveOutput = func(*cobra.Command) bool { return true }
	t.Cleanup(func() {
		newUI = oldNewUI
		interactiveOutput = oldInteractive
	})

	root, cliCtx := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"run", "--tui", "--", "/bin/sh", "-c", "exit 0"})

	execDone := make(chan error, 1)
	go func() {
		execDone <- root.ExecuteContext(stdcontext.Background())
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if tracker := cliCtx.currentTracker(); tracker != nil {
			if snap := tracker.Snapshot(); snap.Succeeded == 1 {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("run never recorded a finished task")
		}
		time.Sleep(10 * time.Millisecond)
	}
	stub.Stop()

	select {
	case err := <-execDone:
		if err != nil {
			t.Fatalf("run with tui: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not return after the ui stopped")
	}

	var forwarded []engine.Event
	for evt := range stub.events {
		forwarded = append(forwarded, evt)
	}
	if len(forwarded) < 2 {
		t.Fatalf("ui received %d events, want at least 2", len(forwarded))
	}
	sawExit := false
	for _, evt := range forwarded {
		if evt.Type == engine.EventTypeExited && evt.Succeeded {
			sawExit = true
		}
	}
	if !sawExit {
		t.Fatalf("ui never saw a successful exit: %+v", forwarded)
	}
}
