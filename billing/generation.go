/*
generation.go - Batch rent generation across a scope

PURPOSE:
  GenerationScheduler runs the monthly obligation routine for one hostel or
  block: it loads the scope and its active tenants and asks the ledger to
  ensure an obligation per tenant for each target period. The same code
  serves hostel generation, block generation and the block "refresh"
  (current + next month) trigger.

FAILURE ISOLATION:
  Each tenant is committed on its own. An error or panic for one tenant is
  logged, counted and collected in the result, and the batch continues.
  The call itself fails only when the scope or its tenant list cannot be
  loaded, or when the periods are invalid.

CANCELLATION:
  When ctx is done the loop stops between tenants. Everything committed so
  far stays committed; the partial result is returned with ctx.Err().

RUN HISTORY:
  Every call on an enabled scope is recorded as a GenerationRun: running
  first, then completed, interrupted or failed. Disabled scopes are not
  recorded.
*/
package billing

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"

	"github.com/warp/hostel-billing/clock"
)

// Recorder observes generation outcomes. metrics.Metrics implements it.
type Recorder interface {
	ObligationCreated(kind ScopeKind)
	TenantFailed(kind ScopeKind)
	RunFinished(kind ScopeKind, status RunStatus, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObligationCreated(ScopeKind) {}
func (nopRecorder) TenantFailed(ScopeKind) {}
func (nopRecorder) RunFinished(ScopeKind, RunStatus, time.Duration) {}

// TenantFailure is one tenant that could not be processed for a period.
type TenantFailure struct {
	TenantID TenantID
	Period   PeriodKey
	Err      error
}

// GenerationResult aggregates one RunGeneration call. Counts include only
// records actually created, never skips.
type GenerationResult struct {
	RunID          string
	ScopeID        ScopeID
	Kind           ScopeKind
	Disabled       bool
	Periods        []PeriodKey
	GeneratedCount int
	PerPeriod      map[PeriodKey]int
	Skipped        int
	Failures       []TenantFailure
}

// Generated returns the number of obligations created for period.
func (r *GenerationResult) Generated(period PeriodKey) int {
	if r == nil {
		return 0
	}
	return r.PerPeriod[period]
}

// GenerationScheduler orchestrates ledger calls over a scope's tenants.
type GenerationScheduler struct {
	store    Store
	ledger   *ObligationLedger
	log      *zap.Logger
	clock    clock.Clock
	recorder Recorder
}

type SchedulerOption func(*GenerationScheduler)

func WithRecorder(r Recorder) SchedulerOption {
	return func(s *GenerationScheduler) {
		if r != nil {
			s.recorder = r
		}
	}
}

func WithClock(c clock.Clock) SchedulerOption {
	return func(s *GenerationScheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

func NewGenerationScheduler(store Store, ledger *ObligationLedger, log *zap.Logger, opts ...SchedulerOption) *GenerationScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	s := &GenerationScheduler{
		store:    store,
		ledger:   ledger,
		log:      log.Named("generation"),
		clock:    clock.Real{},
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunGeneration ensures obligations for every active tenant of the scope in
// each of periods.
func (s *GenerationScheduler) RunGeneration(ctx context.Context, scopeID ScopeID, kind ScopeKind, periods []PeriodKey) (*GenerationResult, error) {
	if !kind.Valid() {
		return nil, ValidationError("scope kind must be hostel or block")
	}
	if len(periods) == 0 {
		return nil, ValidationError("at least one billing period is required")
	}
	for _, p := range periods {
		if !p.Valid() {
			return nil, ValidationError("invalid billing period")
		}
	}

	scope, err := s.store.GetScope(ctx, scopeID)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s %s", kind, scopeID)
	}
	if scope == nil || scope.Kind != kind {
		return nil, NotFoundError(string(kind), scopeID)
	}

	started := s.clock.Now().UTC()
	result := &GenerationResult{
		RunID:     uuid.NewString(),
		ScopeID:   scope.ID,
		Kind:      kind,
		Periods:   uniquePeriods(periods),
		PerPeriod: make(map[PeriodKey]int),
	}
	log := s.log.With(
		zap.String("run_id", result.RunID),
		zap.String("scope_id", string(scope.ID)),
		zap.String("kind", string(kind)),
	)

	run := GenerationRun{
		ID:        result.RunID,
		ScopeID:   scope.ID,
		Kind:      kind,
		Periods:   result.Periods,
		Status:    RunRunning,
		StartedAt: started,
	}

	// A disabled scope performs no writes at all, not even a run record.
	if !scope.Config.RentGenerationEnabled {
		result.Disabled = true
		log.Info("rent generation disabled, skipping")
		s.recorder.RunFinished(kind, RunDisabled, 0)
		return result, nil
	}

	s.saveRun(ctx, log, run)

	tenants, err := s.store.ActiveTenants(ctx, *scope)
	if err != nil {
		err = errors.Wrapf(err, "load active tenants of %s %s", kind, scopeID)
		s.finish(ctx, log, &run, result, RunFailed, err)
		return nil, err
	}

	log.Info("generation started",
		zap.Int("tenants", len(tenants)),
		zap.Stringers("periods", result.Periods))

	for _, period := range result.Periods {
		for _, tenant := range tenants {
			if err := ctx.Err(); err != nil {
				log.Warn("generation interrupted", zap.Error(err))
				s.finish(ctx, log, &run, result, RunInterrupted, err)
				return result, err
			}
			s.processTenant(ctx, log, *scope, tenant, period, result)
		}
	}

	log.Info("generation completed",
		zap.Int("generated", result.GeneratedCount),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", len(result.Failures)))
	s.finish(ctx, log, &run, result, RunCompleted, nil)
	return result, nil
}

func (s *GenerationScheduler) processTenant(ctx context.Context, log *zap.Logger, scope Scope, tenant Tenant, period PeriodKey, result *GenerationResult) {
	var (
		res EnsureResult
		err error
		pc  panics.Catcher
	)
	pc.Try(func() {
		res, err = s.ledger.EnsureMonthlyObligation(ctx, tenant, scope, period)
	})
	if recovered := pc.Recovered(); recovered != nil {
		err = recovered.AsError()
	}

	if err != nil {
		log.Error("tenant generation failed",
			zap.String("tenant_id", string(tenant.ID)),
			zap.Stringer("period", period),
			zap.Error(err))
		result.Failures = append(result.Failures, TenantFailure{TenantID: tenant.ID, Period: period, Err: err})
		s.recorder.TenantFailed(scope.Kind)
		return
	}

	if !res.Created {
		result.Skipped++
		log.Debug("tenant skipped",
			zap.String("tenant_id", string(tenant.ID)),
			zap.Stringer("period", period),
			zap.String("reason", string(res.Skip)))
		return
	}

	result.GeneratedCount++
	result.PerPeriod[period]++
	s.recorder.ObligationCreated(scope.Kind)
}

func (s *GenerationScheduler) finish(ctx context.Context, log *zap.Logger, run *GenerationRun, result *GenerationResult, status RunStatus, runErr error) {
	completed := s.clock.Now().UTC()
	run.Status = status
	run.Generated = result.GeneratedCount
	run.Skipped = result.Skipped
	run.Failed = len(result.Failures)
	run.CompletedAt = &completed
	if runErr != nil {
		run.Error = runErr.Error()
	}
	// The run record must be written even when ctx was the reason we stopped.
	s.saveRun(context.WithoutCancel(ctx), log, *run)
	s.recorder.RunFinished(run.Kind, status, completed.Sub(run.StartedAt))
}

func (s *GenerationScheduler) saveRun(ctx context.Context, log *zap.Logger, run GenerationRun) {
	if err := s.store.SaveGenerationRun(ctx, run); err != nil {
		log.Warn("failed to record generation run", zap.Error(err))
	}
}

// Runs lists recent generation runs, newest first.
func (s *GenerationScheduler) Runs(ctx context.Context, scopeID ScopeID, limit int) ([]GenerationRun, error) {
	runs, err := s.store.ListGenerationRuns(ctx, scopeID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list generation runs")
	}
	return runs, nil
}
