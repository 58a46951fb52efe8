package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tenantgate/internal/billing"
	"tenantgate/internal/types"
)

const retentionDay = 24 * time.Hour

// RetentionStore pages tenants and deletes their expired events.
type RetentionStore interface {
	ListTenantPlans(ctx context.Context, afterID string, limit int) ([]types.TenantPlan, error)
	DeleteEventsBefore(ctx context.Context, tenantID string, cutoff time.Time) (int64, error)
}

// JobLocker serialises runs across instances.
type JobLocker interface {
	Acquire(ctx context.Context, lockID, workerID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, lockID, workerID string) error
}

// JobRecorder writes job_history rows.
type JobRecorder interface {
	Start(ctx context.Context, jobType string) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, jobErr error) error
}

// CounterPurger removes expired rate-limit windows.
type CounterPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// RetentionMetrics observes completed runs.
type RetentionMetrics interface {
	RecordRetentionRun(deleted int64, tenants int, failures int)
}

// RetentionConfig tunes a run.
type RetentionConfig struct {
	BatchSize     int
	Concurrency   int
	TenantTimeout time.Duration
	LockTTL       time.Duration
	// RunTimeout bounds the whole run on top of the caller's context.
	RunTimeout time.Duration
}

// TenantError is one tenant whose events could not be deleted.
type TenantError struct {
	TenantID string `json:"tenantId"`
	Error    string `json:"error"`
}

// RetentionResult summarises a run. TenantsProcessed counts every tenant
// visited, including failed ones.
type RetentionResult struct {
	Message          string        `json:"message"`
	DeletedCount     int64         `json:"deletedCount"`
	TenantsProcessed int           `json:"tenantsProcessed"`
	Errors           []TenantError `json:"errors,omitempty"`
}

// RetentionServiceConfig holds the dependencies of RetentionService. Locks,
// History, Counters and Metrics are optional.
type RetentionServiceConfig struct {
	Store    RetentionStore
	Registry *billing.Registry
	Locks    JobLocker
	History  JobRecorder
	Counters CounterPurger
	Metrics  RetentionMetrics
	Config   RetentionConfig
	Logger   *slog.Logger
}

// RetentionService deletes each tenant's events older than its plan allows.
type RetentionService struct {
	store    RetentionStore
	registry *billing.Registry
	locks    JobLocker
	history  JobRecorder
	counters CounterPurger
	metrics  RetentionMetrics
	cfg      RetentionConfig
	workerID string
	logger   *slog.Logger
}

func NewRetentionService(c RetentionServiceConfig) *RetentionService {
	cfg := c.Config
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.TenantTimeout <= 0 {
		cfg.TenantTimeout = 30 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 15 * time.Minute
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 10 * time.Minute
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RetentionService{
		store:    c.Store,
		registry: c.Registry,
		locks:    c.Locks,
		history:  c.History,
		counters: c.Counters,
		metrics:  c.Metrics,
		cfg:      cfg,
		workerID: uuid.NewString(),
		logger:   logger.With("job", JobRetention),
	}
}

// Cutoff is the oldest created_at a tenant on plan keeps at now.
func (s *RetentionService) Cutoff(plan types.PlanCode, now time.Time) time.Time {
	days := s.registry.EntitlementsFor(plan).RetentionDays
	return now.Add(-time.Duration(days) * retentionDay)
}

// Run enforces retention for every tenant as of now. A failing tenant is
// reported in Errors and does not stop the run; the returned error is set
// only when tenants could not be listed or ctx ended.
func (s *RetentionService) Run(ctx context.Context, now time.Time) (RetentionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()

	if s.locks != nil {
		ok, err := s.locks.Acquire(ctx, JobRetention, s.workerID, s.cfg.LockTTL)
		if err != nil {
			return RetentionResult{}, err
		}
		if !ok {
			s.logger.InfoContext(ctx, "retention run skipped; lock held elsewhere")
			return RetentionResult{Message: "retention run already in progress"}, nil
		}
		defer func() {
			if err := s.locks.Release(context.WithoutCancel(ctx), JobRetention, s.workerID); err != nil {
				s.logger.WarnContext(ctx, "failed to release retention lock", "error", err)
			}
		}()
	}

	historyID := s.startHistory(ctx)
	started := time.Now()

	res, runErr := s.sweep(ctx, now)

	if s.counters != nil {
		if n, err := s.counters.PurgeExpired(ctx); err != nil {
			s.logger.WarnContext(ctx, "failed to purge rate limit counters", "error", err)
		} else if n > 0 {
			s.logger.InfoContext(ctx, "purged expired rate limit counters", "count", n)
		}
	}

	sort.Slice(res.Errors, func(i, j int) bool { return res.Errors[i].TenantID < res.Errors[j].TenantID })

	switch {
	case runErr != nil:
		res.Message = "retention run aborted"
	case len(res.Errors) > 0:
		res.Message = fmt.Sprintf("retention run completed with %d tenant errors", len(res.Errors))
	default:
		res.Message = "retention run completed"
	}

	s.finishHistory(ctx, historyID, res, runErr)
	if s.metrics != nil {
		s.metrics.RecordRetentionRun(res.DeletedCount, res.TenantsProcessed, len(res.Errors))
	}

	s.logger.InfoContext(ctx, res.Message,
		"deleted", res.DeletedCount,
		"tenants", res.TenantsProcessed,
		"tenant_errors", len(res.Errors),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return res, runErr
}

// sweep pages tenants by id and fans each page out to at most
// cfg.Concurrency workers.
func (s *RetentionService) sweep(ctx context.Context, now time.Time) (RetentionResult, error) {
	var (
		res   RetentionResult
		mu    sync.Mutex
		after string
	)

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		page, err := s.store.ListTenantPlans(ctx, after, s.cfg.BatchSize)
		if err != nil {
			return res, err
		}
		if len(page) == 0 {
			return res, nil
		}

		var g errgroup.Group
		g.SetLimit(s.cfg.Concurrency)
		for _, tp := range page {
			g.Go(func() error {
				deleted, err := s.enforceTenant(ctx, tp, now)

				mu.Lock()
				defer mu.Unlock()
				res.TenantsProcessed++
				if err != nil {
					res.Errors = append(res.Errors, TenantError{TenantID: tp.TenantID, Error: err.Error()})
					return nil
				}
				res.DeletedCount += deleted
				return nil
			})
		}
		_ = g.Wait()

		after = page[len(page)-1].TenantID
		if len(page) < s.cfg.BatchSize {
			return res, nil
		}
	}
}

func (s *RetentionService) enforceTenant(ctx context.Context, tp types.TenantPlan, now time.Time) (int64, error) {
	tctx, cancel := context.WithTimeout(ctx, s.cfg.TenantTimeout)
	defer cancel()

	cutoff := s.Cutoff(tp.Plan, now)
	deleted, err := s.store.DeleteEventsBefore(tctx, tp.TenantID, cutoff)
	if err != nil {
		s.logger.WarnContext(ctx, "retention failed for tenant",
			"tenant_id", tp.TenantID, "plan", tp.Plan, "error", err)
		return 0, err
	}
	if deleted > 0 {
		s.logger.DebugContext(ctx, "deleted expired events",
			"tenant_id", tp.TenantID, "plan", tp.Plan, "cutoff", cutoff, "deleted", deleted)
	}
	return deleted, nil
}

func (s *RetentionService) startHistory(ctx context.Context) int64 {
	if s.history == nil {
		return 0
	}
	id, err := s.history.Start(ctx, JobRetention)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to record job start", "error", err)
		return 0
	}
	return id
}

func (s *RetentionService) finishHistory(ctx context.Context, id int64, res RetentionResult, runErr error) {
	if s.history == nil || id == 0 {
		return
	}
	status, jobErr := "success", runErr
	switch {
	case runErr != nil:
		status = "failed"
	case len(res.Errors) > 0:
		status = "partial"
		jobErr = fmt.Errorf("%d tenants failed", len(res.Errors))
	}
	if err := s.history.Finish(context.WithoutCancel(ctx), id, status, res.TenantsProcessed, jobErr); err != nil {
		s.logger.WarnContext(ctx, "failed to record job finish", "error", err)
	}
}
