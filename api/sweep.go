/*
sweep.go - Periodic validity sweep

PURPOSE:
  The validity cascade is lazy: a lapsed account transitions on its next
  read. Deployments that need guaranteed freshness (nightly reports,
  billing exports) run this sweeper, which periodically walks every
  account through the same check.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Each pass is CascadeEngine.Sweep; the per-account transition and its
    downward walk are identical to the lazy path
  - Idempotent: a pass over an already-consistent hierarchy writes nothing

USAGE:
  sweeper := NewCascadeSweeper(handler.Cascade, log, 15*time.Minute)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - hierarchy/cascade.go: Sweep and the lazy check it repeats
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/skycast/reseller-engine/hierarchy"
)

// CascadeSweeper periodically runs the validity check over all accounts.
type CascadeSweeper struct {
	Cascade  *hierarchy.CascadeEngine
	Interval time.Duration
	Log      zerolog.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewCascadeSweeper creates a sweeper with the given interval.
func NewCascadeSweeper(cascade *hierarchy.CascadeEngine, log zerolog.Logger, interval time.Duration) *CascadeSweeper {
	return &CascadeSweeper{
		Cascade:  cascade,
		Interval: interval,
		Log:      log,
		stop:     make(chan struct{}),
	}
}

// Start begins the background sweep loop.
func (cs *CascadeSweeper) Start() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.ticker = time.NewTicker(cs.Interval)
	cs.wg.Add(1)
	go cs.run()

	cs.Log.Info().Dur("interval", cs.Interval).Msg("validity sweeper started")
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (cs *CascadeSweeper) Stop() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.ticker == nil {
		return
	}
	cs.ticker.Stop()
	close(cs.stop)
	cs.wg.Wait()
	cs.ticker = nil

	cs.Log.Info().Msg("validity sweeper stopped")
}

func (cs *CascadeSweeper) run() {
	defer cs.wg.Done()

	// One pass up front so a restart heals a stale hierarchy immediately.
	cs.sweep()

	for {
		select {
		case <-cs.ticker.C:
			cs.sweep()
		case <-cs.stop:
			return
		}
	}
}

func (cs *CascadeSweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	fired, err := cs.Cascade.Sweep(ctx)
	if err != nil {
		cs.Log.Error().Err(err).Msg("validity sweep failed")
		return
	}
	if fired > 0 {
		cs.Log.Info().Int("transitions", fired).Msg("validity sweep completed")
	}
}
