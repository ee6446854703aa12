package store

import (
	"context"
	"runtime"
	"sync/atomic"
)

// writerGate lets Seal wait for every upsert that may have observed an
// older read-only boundary.
//
// Writers register in the slot of the current epoch. Seal publishes the
// new boundary, advances the epoch, and waits for the previous epoch's slot
// to drain. A writer only counts as registered if the epoch did not change
// while it registered, so every writer in a draining slot started before
// the boundary moved, and every later writer sees the new boundary.
//
// flip and wait must be serialized by the caller.
type writerGate struct {
	epoch  atomic.Uint64
	active [2]atomic.Int64

	// pending is set between flip and a successful wait.
	pending bool
}

// enter registers a writer and returns the epoch to pass to exit.
func (g *writerGate) enter() uint64 {
	for {
		e := g.epoch.Load()
		g.active[e&1].Add(1)

		if g.epoch.Load() == e {
			return e
		}

		g.active[e&1].Add(-1)
	}
}

// exit unregisters a writer.
func (g *writerGate) exit(e uint64) {
	g.active[e&1].Add(-1)
}

// flip starts a new epoch.
func (g *writerGate) flip() {
	g.epoch.Add(1)
	g.pending = true
}

// wait blocks until all writers of the epoch before the current one have
// exited, or ctx is done. A canceled wait leaves the gate pending; the next
// Seal finishes it before flipping again.
func (g *writerGate) wait(ctx context.Context) error {
	prev := g.epoch.Load() - 1

	for g.active[prev&1].Load() != 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		runtime.Gosched()
	}

	g.pending = false

	return nil
}
