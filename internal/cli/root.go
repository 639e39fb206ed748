package cli

import (
	stdcontext "context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mensbeam/Fork/internal/config"
)

func NewRootCmd() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *context) {
	var manifestPath string
	output := outputFromEnv()

	root := &cobra.Command{
		Use:   "fork",
		Short: "Run task manifests as isolated worker processes",
	}

	root.PersistentFlags().
		StringVarP(&manifestPath, "file", "f", "fork.yaml", "Path to the task manifest")

	root.PersistentFlags().BoolVar(&output.JSON, "json", output.JSON, "Emit events as JSONL instead of terminal text")
	root.PersistentFlags().StringVar(&output.Journal, "journal", output.Journal, "Append every run event to this JSONL journal file")

	ctx := &context{manifestPath: &manifestPath, output: &output}
	root.AddCommand(newRunCmd(ctx))
	root.AddCommand(newCheckCmd(ctx))
	root.AddCommand(newVersionCmd())

	root.SilenceUsage = true
	root.SilenceErrors = true

	return root, ctx
}

// Execute runs the CLI entrypoint.
func Execute() {
	ctx, stop := signal.NotifyContext(stdcontext.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	root.SetContext(ctx)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type context struct {
	manifestPath *string
	output       *outputConfig

	mu      sync.RWMutex
	tracker *statusTracker
}

type outputConfig struct {
	JSON    bool
	Journal string
}

func outputFromEnv() outputConfig {
	cfg := outputConfig{}
	if value := os.Getenv("FORK_OUTPUT"); strings.EqualFold(strings.TrimSpace(value), "json") {
		cfg.JSON = true
	}
	cfg.Journal = os.Getenv("FORK_JOURNAL")
	return cfg
}

func (c *context) loadManifest() (*config.Manifest, error) {
	return config.Load(*c.manifestPath)
}

func (c *context) setTracker(t *statusTracker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracker = t
}

func (c *context) clearTracker(t *statusTracker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tracker == t {
		c.tracker = nil
	}
}

func (c *context) currentTracker() *statusTracker {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tracker
}
