package cli

import (
	stdcontext "context"

	"github.com/mensbeam/Fork/internal/api"
)

// statusAPI adapts the CLI's run tracker to the status server contract.
// It resolves the tracker on every request so a server outliving one
// run reports honestly when no run is active.
type statusAPI struct {
	ctx *context
}

func newStatusAPI(ctx *context) *statusAPI {
	return &statusAPI{ctx: ctx}
}

// Status returns the current run snapshot.
func (s *statusAPI) Status(ctx stdcontext.Context) (*api.Snapshot, error) {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
	tracker := s.ctx.currentTracker()
	if tracker == nil {
		return nil, api.ErrNoActiveRun
	}
	return tracker.Status(ctx)
}

var _ api.StatusProvider = (*statusAPI)(nil)
