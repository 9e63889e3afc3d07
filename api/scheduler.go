/*
scheduler.go - Automated rent generation sweeper

PURPOSE:
  Periodically ensures that every scope with rent generation enabled has
  obligations for the current and the next month. This is the unattended
  counterpart of the generate/refresh endpoints.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Each sweep processes hostels first, then blocks, with a bounded
    worker pool per phase
  - Scopes with generation disabled are skipped without a run record
  - Ensuring is idempotent, so a tenant living in a hostel and one of its
    blocks is billed once, by whichever scope reaches them first (the
    hostel, given the phase order)
  - Every sweep is bounded by a timeout; a timed out sweep leaves all
    committed obligations in place

CONFIGURATION:
  - Interval:    How often to sweep (default: 1 hour)
  - Concurrency: Scopes processed in parallel within a phase
  - RunTimeout:  Upper bound for one sweep
  - Enabled:     Whether Start launches the loop

USAGE:
  sweeper := NewGenerationSweeper(handler.Store, handler.Scheduler, log)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - billing/generation.go: GenerationScheduler.RunGeneration
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/warp/hostel-billing/billing"
	"github.com/warp/hostel-billing/clock"
)

// SweepResult totals one sweep across all scopes.
type SweepResult struct {
	Scopes    int
	Generated int
	Skipped   int
	Failed    int
	Errors    int
}

// GenerationSweeper triggers generation for all enabled scopes.
type GenerationSweeper struct {
	Store       billing.ScopeStore
	Scheduler   *billing.GenerationScheduler
	Interval    time.Duration
	Concurrency int
	RunTimeout  time.Duration
	Enabled     bool

	log   *zap.Logger
	clock clock.Clock

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewGenerationSweeper(store billing.ScopeStore, scheduler *billing.GenerationScheduler, log *zap.Logger) *GenerationSweeper {
	if log == nil {
		log = zap.NewNop()
	}
	return &GenerationSweeper{
		Store:       store,
		Scheduler:   scheduler,
		Interval:    time.Hour,
		Concurrency: 4,
		RunTimeout:  5 * time.Minute,
		Enabled:     true,
		log:         log.Named("sweeper"),
		clock:       clock.Real{},
	}
}

// WithClock replaces the clock used to pick current and next month.
func (gs *GenerationSweeper) WithClock(c clock.Clock) *GenerationSweeper {
	gs.clock = c
	return gs
}

// Start begins the sweep loop. It runs one sweep immediately.
func (gs *GenerationSweeper) Start() {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	if !gs.Enabled {
		gs.log.Info("disabled, not starting")
		return
	}
	if gs.ticker != nil {
		return
	}

	gs.ticker = time.NewTicker(gs.Interval)
	gs.stop = make(chan struct{})
	gs.wg.Add(1)
	go gs.run(gs.ticker, gs.stop)

	gs.log.Info("started", zap.Duration("interval", gs.Interval), zap.Int("concurrency", gs.Concurrency))
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (gs *GenerationSweeper) Stop() {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	if gs.ticker == nil {
		return
	}
	gs.ticker.Stop()
	close(gs.stop)
	gs.wg.Wait()
	gs.ticker = nil
	gs.log.Info("stopped")
}

func (gs *GenerationSweeper) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer gs.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	gs.RunOnce(ctx)
	for {
		select {
		case <-ticker.C:
			gs.RunOnce(ctx)
		case <-stop:
			return
		}
	}
}

// RunOnce performs a single sweep and returns its totals.
func (gs *GenerationSweeper) RunOnce(ctx context.Context) SweepResult {
	if gs.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, gs.RunTimeout)
		defer cancel()
	}

	started := time.Now()
	periods := billing.CurrentAndNext(gs.clock.Now().UTC())

	scopes, err := gs.Store.ListScopes(ctx)
	if err != nil {
		gs.log.Error("list scopes", zap.Error(err))
		return SweepResult{Errors: 1}
	}
	enabled := lo.Filter(scopes, func(s billing.Scope, _ int) bool { return s.Config.RentGenerationEnabled })

	var total SweepResult
	var mu sync.Mutex
	for _, kind := range []billing.ScopeKind{billing.ScopeHostel, billing.ScopeBlock} {
		phase := lo.Filter(enabled, func(s billing.Scope, _ int) bool { return s.Kind == kind })
		if len(phase) == 0 {
			continue
		}

		p := pool.New().WithMaxGoroutines(max(gs.Concurrency, 1))
		for _, scope := range phase {
			p.Go(func() {
				res, err := gs.Scheduler.RunGeneration(ctx, scope.ID, scope.Kind, periods)

				mu.Lock()
				defer mu.Unlock()
				total.Scopes++
				if res != nil {
					total.Generated += res.GeneratedCount
					total.Skipped += res.Skipped
					total.Failed += len(res.Failures)
				}
				if err != nil {
					total.Errors++
					gs.log.Warn("scope generation failed",
						zap.String("scope_id", string(scope.ID)),
						zap.String("kind", string(scope.Kind)),
						zap.Error(err))
				}
			})
		}
		p.Wait()

		if ctx.Err() != nil {
			break
		}
	}

	if total.Scopes > 0 {
		gs.log.Info("sweep completed",
			zap.Stringers("periods", periods),
			zap.Int("scopes", total.Scopes),
			zap.Int("generated", total.Generated),
			zap.Int("skipped", total.Skipped),
			zap.Int("failed", total.Failed),
			zap.Int("errors", total.Errors),
			zap.Duration("elapsed", time.Since(started)))
	}
	return total
}
