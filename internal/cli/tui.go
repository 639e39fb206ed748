package cli

import (
	stdcontext "context"

	"github.com/mensbeam/Fork/engine"
	"github.com/mensbeam/Fork/internal/tui"
)

// runUI abstracts the interactive interface so tests can substitute a
// stub without driving a real terminal.
type runUI interface {
	Run(stdcontext.Context) error
	EventSink() chan<- engine.Event
	CloseEvents()
	Stop()
	Done() <-chan struct{}
}

var newUI = func() runUI {
	return tui.New()
}
