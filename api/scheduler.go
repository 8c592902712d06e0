/*
scheduler.go - Periodic rules re-application

PURPOSE:
  Re-applies the classification rules to the whole book on a fixed interval
  so that stored snapshots follow configuration edits and year changes
  without an operator calling POST /api/rules/apply.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Runs once immediately on Start
  - Each pass classifies every policy for its own application year
  - Failures are logged; the next tick tries again

USAGE:
  scheduler := NewRulesScheduler(portfolioService, time.Hour, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ApplyRules endpoint (manual re-application)
  - portfolio/service.go: ApplyRules
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mag/policy-engine/portfolio"
)

// RuleApplier is the part of the portfolio service the scheduler drives.
type RuleApplier interface {
	ApplyRules(ctx context.Context, opts portfolio.ApplyOptions) (portfolio.ApplyResult, error)
}

// RulesScheduler periodically refreshes classification snapshots.
type RulesScheduler struct {
	Applier  RuleApplier
	Interval time.Duration
	Timeout  time.Duration // per pass

	logger *slog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewRulesScheduler creates a scheduler. A non-positive interval yields a
// scheduler whose Start is a no-op.
func NewRulesScheduler(applier RuleApplier, interval time.Duration, logger *slog.Logger) *RulesScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RulesScheduler{
		Applier:  applier,
		Interval: interval,
		Timeout:  5 * time.Minute,
		logger:   logger,
	}
}

// Start begins the scheduler.
func (rs *RulesScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.Interval <= 0 {
		rs.logger.Info("rules scheduler disabled")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.Interval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run()

	rs.logger.Info("rules scheduler started", "interval", rs.Interval)
}

// Stop stops the scheduler and waits for a running pass to finish.
func (rs *RulesScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		rs.logger.Info("rules scheduler stopped")
	}
}

func (rs *RulesScheduler) run() {
	defer rs.wg.Done()

	rs.RunNow()

	for {
		select {
		case <-rs.ticker.C:
			rs.RunNow()
		case <-rs.stop:
			return
		}
	}
}

// RunNow performs one pass synchronously.
func (rs *RulesScheduler) RunNow() {
	ctx, cancel := context.WithTimeout(context.Background(), rs.Timeout)
	defer cancel()

	res, err := rs.Applier.ApplyRules(ctx, portfolio.ApplyOptions{})
	if err != nil {
		rs.logger.Error("scheduled rules application failed", "error", err)
		return
	}
	if res.Updated > 0 || res.Failed > 0 {
		rs.logger.Info("scheduled rules application",
			"processed", res.Processed,
			"updated", res.Updated,
			"failed", res.Failed,
		)
	}
}
