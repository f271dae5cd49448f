// Package trigger decides when the sync engine runs and guarantees at most
// one concurrent sync process-wide.
package trigger

import (
	"context"
	"log"
	"os"
	"sync/atomic"

	"github.com/fieldops/expenseq/internal/engine"
)

// Policy serializes sync invocations behind an atomic in-flight flag.
//
// A trigger arriving while a sync is running is skipped, not queued: the
// running sync already covers every pending row, and the next trigger will
// pick up anything newer. There is no cancel-in-flight operation; a
// triggered sync runs to completion or failure.
type Policy struct {
	engine   *engine.Engine
	logger   *log.Logger
	inFlight atomic.Bool

	// OnSyncComplete, if set, is called after every completed sync cycle.
	// The dashboard hooks in here to broadcast results.
	OnSyncComplete func(*engine.Result)
}

// NewPolicy creates a trigger policy around the given engine. If logger is
// nil, a default logger writing to stderr is used.
func NewPolicy(eng *engine.Engine, logger *log.Logger) *Policy {
	if logger == nil {
		logger = log.New(os.Stderr, "[trigger] ", log.LstdFlags)
	}
	return &Policy{
		engine: eng,
		logger: logger,
	}
}

// TriggerSync runs a sync unless one is already in flight.
//
// The returned bool reports whether a sync actually ran; a skip is a normal
// outcome, not an error. The flag is claimed with compare-and-swap so the
// check and the start of the sync cannot interleave with another trigger.
func (p *Policy) TriggerSync(ctx context.Context) (*engine.Result, bool, error) {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.logger.Printf("Sync already in flight, skipping trigger")
		return nil, false, nil
	}
	defer p.inFlight.Store(false)

	res, err := p.engine.SyncAllPending(ctx)
	if err != nil {
		return nil, true, err
	}

	if p.OnSyncComplete != nil {
		p.OnSyncComplete(res)
	}

	return res, true, nil
}

// InFlight reports whether a sync is currently running.
func (p *Policy) InFlight() bool {
	return p.inFlight.Load()
}
