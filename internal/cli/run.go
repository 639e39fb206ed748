package cli

import (
	stdcontext "context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mensbeam/Fork/engine"
	"github.com/mensbeam/Fork/failure"
	apihttp "github.com/mensbeam/Fork/internal/api/http"
	"github.com/mensbeam/Fork/internal/cliutil"
	"github.com/mensbeam/Fork/internal/config"
	"github.com/mensbeam/Fork/internal/eventmux"
	"github.com/mensbeam/Fork/internal/shelltask"
)

type runOptions struct {
	concurrency      int
	timeout          time.Duration
	tui              bool
	statusAddr       string
	trace            bool
	debugPassthrough bool
}

func newRunCmd(ctx *context) *cobra.Command {
	opts := runOptions{}
	cmd := &cobra.Command{
		Use:   "run [-- command [args...]]",
		Short: "Execute manifest tasks in forked worker processes",
		Long: `Run dispatches every task from the manifest (or the single command
given after --) into its own worker process, bounded by the configured
concurrency, and streams per-task events until all outcomes are in.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTasks(cmd, ctx, opts, args)
		},
	}
	cmd.Flags().IntVarP(&opts.concurrency, "concurrency", "c", 0, "Maximum number of concurrent workers (0 means unbounded)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Per-task wall-clock budget (0 means none)")
	cmd.Flags().BoolVar(&opts.tui, "tui", false, "Render a live task table instead of streaming events")
	cmd.Flags().StringVar(&opts.statusAddr, "status-addr", "", "Serve run status and metrics on this address")
	cmd.Flags().BoolVar(&opts.trace, "trace", false, "Capture call frames when tasks fail")
	cmd.Flags().BoolVar(&opts.debugPassthrough, "debug-passthrough", false, "Let failed workers crash visibly after reporting their failure")
	return cmd
}

func runTasks(cmd *cobra.Command, ctx *context, opts runOptions, args []string) error {
	specs, settings, err := buildSpecs(cmd, ctx, opts, args)
	if err != nil {
		return err
	}
	if len(specs) == 0 {
		return fmt.Errorf("nothing to run")
	}

	failure.SetTraceCapture(opts.trace)
	engine.SetDebugPassthrough(opts.debugPassthrough)

	events := make(chan engine.Event, 256)
	orch := engine.New(engine.WithEvents(events))
	if err := orch.SetConcurrency(settings.concurrency); err != nil {
		return err
	}
	if err := orch.SetTimeout(settings.timeout); err != nil {
		return err
	}

	var total, failed int
	orch.SetCallbacks(engine.Callbacks{
		AfterExit: func(_ engine.Spec, out engine.Outcome) {
			total++
			if !out.Succeeded {
				failed++
			}
		},
	})

	tracker := newStatusTracker()
	if path := ctx.output.Journal; path != "" {
		if err := tracker.OpenJournal(path); err != nil {
			return err
		}
	}
	defer tracker.Close()
	ctx.setTracker(tracker)
	defer ctx.clearTracker(tracker)

	var ui runUI
	var uiEvents *eventmux.Forwarder
	if opts.tui {
		if !interactiveOutput(cmd) {
			return fmt.Errorf("tui requires an interactive terminal")
		}
		ui = newUI()
		uiEvents = eventmux.NewForwarder(ui.EventSink())
	}

	sink := newEventSink(cmd, ctx.output.JSON, ui != nil)

	runCtx := cmd.Context()
	if runCtx == nil {
		runCtx = stdcontext.Background()
	}

	var stopServer func() error
	if opts.statusAddr != "" {
		stopServer, err = startStatusServer(runCtx, cmd, ctx, opts.statusAddr)
		if err != nil {
			return err
		}
	}

	handle := func(evt engine.Event) {
		tracker.Apply(evt)
		sink.Write(evt)
		if uiEvents != nil {
			uiEvents.Forward(evt)
		}
	}

	// The engine never closes the event channel, so the consumer drains
	// whatever is still buffered once the run reports completion and
	// then exits.
	consumerDone := make(chan struct{})
	runFinished := make(chan struct{})
	go func() {
		defer close(consumerDone)
		defer func() {
			if ui != nil {
				uiEvents.Flush()
				ui.CloseEvents()
			}
		}()
		for {
			select {
			case evt := <-events:
				handle(evt)
			case <-runFinished:
				for {
					select {
					case evt := <-events:
						handle(evt)
					default:
						return
					}
				}
			}
		}
	}()

	src := engine.FromSlice(specs)
	var runErr error
	if ui != nil {
		engineDone := make(chan error, 1)
		go func() {
			engineDone <- orch.Run(runCtx, src)
		}()
		go func() {
			select {
			case <-ui.Done():
				orch.Stop()
			case <-runCtx.Done():
			}
		}()
		uiErr := ui.Run(runCtx)
		orch.Stop()
		runErr = <-engineDone
		close(runFinished)
		<-consumerDone
		if runErr == nil {
			runErr = uiErr
		}
	} else {
		runErr = orch.Run(runCtx, src)
		close(runFinished)
		<-consumerDone
	}

	if stopServer != nil {
		if err := stopServer(); err != nil && runErr == nil {
			runErr = err
		}
	}
	if runErr != nil {
		return runErr
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tasks failed", failed, total)
	}
	sink.Summary(total)
	return nil
}

type runSettings struct {
	concurrency int
	timeout     time.Duration
}

// buildSpecs turns either the manifest or an ad-hoc command line into
// dispatchable task specs. Flags the user set explicitly win over
// manifest run settings.
func buildSpecs(cmd *cobra.Command, ctx *context, opts runOptions, args []string) ([]engine.Spec, runSettings, error) {
	settings := runSettings{concurrency: opts.concurrency, timeout: opts.timeout}

	if len(args) > 0 {
		name := filepath.Base(args[0])
		spec := engine.Spec{
			Key:  name,
			Func: shelltask.FuncName,
			Input: shelltask.Command{
				Name: name,
				Argv: append([]string(nil), args...),
			},
		}
		return []engine.Spec{spec}, settings, nil
	}

	cfg, err := ctx.loadManifest()
	if err != nil {
		return nil, settings, err
	}

	if !cmd.Flags().Changed("concurrency") {
		settings.concurrency = cfg.Run.Concurrency
	}
	if !cmd.Flags().Changed("timeout") && cfg.Run.Timeout.IsSet() {
		settings.timeout = cfg.Run.Timeout.Duration
	}

	specs := make([]engine.Spec, 0, len(cfg.Tasks))
	for _, task := range cfg.Tasks {
		specs = append(specs, engine.Spec{
			Key:   task.Name,
			Func:  shelltask.FuncName,
			Input: commandForTask(task),
		})
	}
	return specs, settings, nil
}

func commandForTask(task *config.TaskSpec) shelltask.Command {
	command := shelltask.Command{
		Name: task.Name,
		Argv: append([]string(nil), task.Command...),
		Dir:  task.Dir,
	}
	if len(task.Env) > 0 {
		command.Env = make(map[string]string, len(task.Env))
		for key, value := range task.Env {
			command.Env[key] = value
		}
	}
	if task.Limits != nil {
		if task.Limits.Memory.IsSet() {
			command.MemoryLimit = task.Limits.Memory.Bytes
		}
		if task.Limits.CPU.IsSet() {
			command.CPULimit = task.Limits.CPU.Duration
		}
		if task.Limits.Files > 0 {
			command.FileLimit = task.Limits.Files
		}
	}
	return command
}

// startStatusServer brings up the HTTP status listener and returns a
// stop function that shuts it down and reports any serve error.
func startStatusServer(runCtx stdcontext.Context, cmd *cobra.Command, ctx *context, addr string) (func() error, error) {
	server, err := apihttp.NewServer(apihttp.Config{Addr: addr, Provider: newStatusAPI(ctx)})
	if err != nil {
		return nil, err
	}
	serverCtx, cancel := stdcontext.WithCancel(runCtx)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(serverCtx)
	}()
	fmt.Fprintf(cmd.ErrOrStderr(), "status listening on %s\n", server.Addr())
	stop := func() error {
		cancel()
		err := <-errCh
		if err != nil && !errors.Is(err, stdcontext.Canceled) && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
	return stop, nil
}

// eventSink renders run events as JSONL or human-readable lines. When
// the TUI owns the terminal the sink stays quiet.
type eventSink struct {
	enc    *json.Encoder
	out    io.Writer
	errOut io.Writer
	mute   bool
}

func newEventSink(cmd *cobra.Command, jsonMode, mute bool) *eventSink {
	sink := &eventSink{out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr(), mute: mute}
	if jsonMode || !supportsInteractiveOutput(cmd) {
		sink.enc = json.NewEncoder(sink.out)
	}
	return sink
}

func (s *eventSink) Write(evt engine.Event) {
	if s.mute {
		return
	}
	if s.enc != nil {
		cliutil.EncodeLogEvent(s.enc, s.errOut, evt)
		return
	}
	fmt.Fprintln(s.out, cliutil.HumanLine(cliutil.NewLogRecord(evt)))
}

func (s *eventSink) Summary(total int) {
	if s.mute || s.enc != nil {
		return
	}
	noun := "tasks"
	if total == 1 {
		noun = "task"
	}
	fmt.Fprintf(s.out, "run complete: %d %s succeeded\n", total, noun)
}

// interactiveOutput is a seam so tests can pretend a terminal is
// attached.
var interactiveOutput = supportsInteractiveOutput

func supportsInteractiveOutput(cmd *cobra.Command) bool {
	file, ok := cmd.OutOrStdout().(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(file.Fd()))
}
