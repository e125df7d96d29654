package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/listinglens/listinglens/internal/clock"
	generationdomain "github.com/listinglens/listinglens/internal/generation/domain"
	obsmetrics "github.com/listinglens/listinglens/internal/observability/metrics"
	"github.com/listinglens/listinglens/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	jobDispatch      = "dispatch_jobs"
	jobRecoverySweep = "recovery_sweep"
	jobExpirePending = "expire_pending"

	recoverySweepLockKey = "scheduler:recovery_sweep"
)

type Params struct {
	fx.In

	Log           *zap.Logger
	GenerationSvc generationdomain.Service
	GenID         *snowflake.Node
	Clock         clock.Clock

	Locker *ratelimit.Locker `optional:"true"`
	Config Config            `optional:"true"`
}

// Scheduler drives the background enhancement pipeline: dispatching queued
// jobs to the image provider and sweeping jobs stranded by crashed workers.
type Scheduler struct {
	log           *zap.Logger
	cfg           Config
	genID         *snowflake.Node
	clock         clock.Clock
	generationSvc generationdomain.Service
	locker        *ratelimit.Locker
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenerationSvc == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	return &Scheduler{
		log:           p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:           cfg,
		genID:         p.GenID,
		clock:         p.Clock,
		generationSvc: p.GenerationSvc,
		locker:        p.Locker,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// A deadline mid-batch is a soft timeout: claimed jobs stay in
	// processing and the recovery sweep picks them up next run.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{jobDispatch, s.isJobEnabled(jobDispatch), func(ctx context.Context) error {
			return s.runJob(ctx, jobDispatch, s.cfg.DispatchBatchSize, s.cfg.JobTimeout, s.DispatchJob)
		}},
		{jobRecoverySweep, s.isJobEnabled(jobRecoverySweep), func(ctx context.Context) error {
			return s.runJob(ctx, jobRecoverySweep, s.cfg.RecoveryBatchSize, s.cfg.JobTimeout, s.RecoverySweepJob)
		}},
		{jobExpirePending, s.isJobEnabled(jobExpirePending), func(ctx context.Context) error {
			return s.runJob(ctx, jobExpirePending, s.cfg.ExpiryBatchSize, 30*time.Second, s.ExpirePendingJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// Empty EnabledJobs means all jobs run (monolith mode).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// DispatchJob claims pending enhancement jobs and runs them against the
// image provider.
func (s *Scheduler) DispatchJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, jobDispatch, s.cfg.DispatchBatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	processed, err := s.generationSvc.ProcessQueued(ctx, s.cfg.DispatchBatchSize)
	run.AddProcessed(processed)
	if err != nil {
		s.logSchedulerError(ctx, run, "dispatch batch failed", jobDispatch, err)
		return err
	}
	if processed == 0 {
		obsmetrics.Scheduler().IncBatchDeferred(jobDispatch, obsmetrics.SchedulerBatchDeferredReasonSkipLockedEmpty)
	}
	return nil
}

// RecoverySweepJob re-drives jobs stuck in processing past the staleness
// cutoff. A redis lock keeps the sweep to one instance per deployment; with
// no redis configured every instance sweeps, which is safe because claims
// are serialized by the database.
func (s *Scheduler) RecoverySweepJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, jobRecoverySweep, s.cfg.RecoveryBatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	if s.locker != nil {
		token, acquired, err := s.locker.TryLock(ctx, recoverySweepLockKey, s.cfg.RecoveryLockTTL)
		if err != nil {
			s.logSchedulerError(ctx, run, "recovery sweep lock failed", jobRecoverySweep, err)
			return err
		}
		if !acquired {
			obsmetrics.Scheduler().IncBatchDeferred(jobRecoverySweep, obsmetrics.SchedulerBatchDeferredReasonLockHeld)
			return nil
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), recoverySweepLockKey, token); err != nil {
				s.logger(ctx).Warn("recovery sweep lock release failed", zap.Error(err))
			}
		}()
	}

	recovered, err := s.generationSvc.RecoverStuck(ctx, s.cfg.RecoveryBatchSize)
	run.AddProcessed(recovered)
	if err != nil {
		s.logSchedulerError(ctx, run, "recovery sweep failed", jobRecoverySweep, err)
		return err
	}
	return nil
}

// ExpirePendingJob fails pending jobs that outlived the expiry window.
func (s *Scheduler) ExpirePendingJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, jobExpirePending, s.cfg.ExpiryBatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	expired, err := s.generationSvc.ExpireStale(ctx, s.cfg.ExpiryBatchSize)
	run.AddProcessed(expired)
	if err != nil {
		s.logSchedulerError(ctx, run, "expire pending failed", jobExpirePending, err)
		return err
	}
	return nil
}
