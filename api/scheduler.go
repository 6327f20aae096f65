/*
scheduler.go - Automated recurring roll-forward

PURPOSE:
  Periodically materializes recurring charges that have come due. The
  ledger rolls forward once on open; this scheduler keeps a long-running
  process current as days pass without a restart.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - RollForward itself is idempotent, so overlapping or redundant runs
    are harmless
  - A check that finds nothing due commits nothing

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)

USAGE:
  scheduler := NewRollForwardScheduler(ledger, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RollForward endpoint (manual trigger)
  - ledger/recurring.go: Occurrence generation
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/ledger-core/ledger"
)

// RollForwardScheduler materializes due recurring charges on a timer.
type RollForwardScheduler struct {
	Ledger        *ledger.Ledger
	CheckInterval time.Duration
	Log           zerolog.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewRollForwardScheduler creates a new scheduler.
func NewRollForwardScheduler(l *ledger.Ledger, log zerolog.Logger) *RollForwardScheduler {
	return &RollForwardScheduler{
		Ledger:        l,
		CheckInterval: 1 * time.Hour,
		Log:           log,
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (rs *RollForwardScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.wg.Add(1)

	go rs.run()

	rs.Log.Info().Dur("interval", rs.CheckInterval).Msg("roll-forward scheduler started")
}

// Stop stops the scheduler.
func (rs *RollForwardScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.Log.Info().Msg("roll-forward scheduler stopped")
	}
}

func (rs *RollForwardScheduler) run() {
	defer rs.wg.Done()

	// Run immediately on start
	rs.check()

	for {
		select {
		case <-rs.ticker.C:
			rs.check()
		case <-rs.stop:
			return
		}
	}
}

func (rs *RollForwardScheduler) check() {
	if err := rs.Ledger.RollForward(context.Background()); err != nil {
		rs.Log.Error().Err(err).Msg("roll-forward failed")
	}
}
