package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/listinglens/listinglens/internal/cloudmetrics"
	"github.com/listinglens/listinglens/internal/config"
	creditdomain "github.com/listinglens/listinglens/internal/credit/domain"
	"github.com/listinglens/listinglens/internal/generation/dispatch"
	generationdomain "github.com/listinglens/listinglens/internal/generation/domain"
	obsmetrics "github.com/listinglens/listinglens/internal/observability/metrics"
	templatedomain "github.com/listinglens/listinglens/internal/template/domain"
	"github.com/listinglens/listinglens/pkg/db/pagination"
)

// stuckThreshold is how long a job may sit in processing before the
// recovery sweep re-claims it.
const stuckThreshold = 10 * time.Minute

// pendingExpiry is how long a pending job may wait before it is failed as
// expired.
const pendingExpiry = 24 * time.Hour

type Params struct {
	fx.In

	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       generationdomain.Repository
	CreditSvc  creditdomain.Service
	Templates  templatedomain.Service
	Client     dispatch.Client
	CreditsCfg *config.CreditsConfigHolder `optional:"true"`
	ObsMetrics *obsmetrics.Metrics         `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	genID      *snowflake.Node
	repo       generationdomain.Repository
	credits    creditdomain.Service
	templates  templatedomain.Service
	client     dispatch.Client
	creditsCfg *config.CreditsConfigHolder
	metrics    *obsmetrics.Metrics
}

func NewService(p Params) generationdomain.Service {
	return &Service{
		log:        p.Log.Named("generation"),
		genID:      p.GenID,
		repo:       p.Repo,
		credits:    p.CreditSvc,
		templates:  p.Templates,
		client:     p.Client,
		creditsCfg: p.CreditsCfg,
		metrics:    p.ObsMetrics,
	}
}

// Create records a pending job after an advisory balance check. The check is
// not a reservation: billing happens once at completion, keyed on the job id,
// and a concurrent spender can still drive the balance negative.
func (s *Service) Create(ctx context.Context, req generationdomain.CreateJobRequest) (*generationdomain.EnhancementJob, error) {
	if req.WorkspaceID == 0 {
		return nil, generationdomain.ErrInvalidWorkspace
	}
	tool := strings.ToLower(strings.TrimSpace(req.Tool))
	if !generationdomain.ValidTools[tool] {
		return nil, generationdomain.ErrInvalidTool
	}
	if err := validateImageURL(req.SourceImageURL); err != nil {
		return nil, err
	}

	cost := s.creditsCfg.Current().CostFor(tool)

	balance, err := s.credits.Balance(ctx, req.WorkspaceID)
	if err != nil {
		return nil, err
	}
	if balance < cost {
		return nil, generationdomain.ErrInsufficientCredits
	}

	if req.TemplateID != nil {
		if _, err := s.templates.Get(ctx, *req.TemplateID); err != nil {
			return nil, err
		}
	}

	job := &generationdomain.EnhancementJob{
		ID:             s.genID.Generate(),
		WorkspaceID:    req.WorkspaceID,
		Tool:           tool,
		TemplateID:     req.TemplateID,
		SourceImageURL: strings.TrimSpace(req.SourceImageURL),
		Status:         generationdomain.JobStatusPending,
		CreditCost:     cost,
	}
	if err := s.repo.Insert(ctx, job); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordEnhancementJob(ctx, tool, string(generationdomain.JobStatusPending))
	}
	s.log.Info("enhancement job created",
		zap.String("job_id", job.ID.String()),
		zap.String("workspace_id", job.WorkspaceID.String()),
		zap.String("tool", tool),
		zap.Int64("credit_cost", cost),
	)
	return job, nil
}

func (s *Service) Get(ctx context.Context, workspaceID, jobID snowflake.ID) (*generationdomain.EnhancementJob, error) {
	job, err := s.repo.FindByID(ctx, workspaceID, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, generationdomain.ErrJobNotFound
	}
	return job, nil
}

func (s *Service) List(ctx context.Context, workspaceID snowflake.ID, page pagination.Pagination) ([]generationdomain.EnhancementJob, *pagination.PageInfo, error) {
	return s.repo.List(ctx, workspaceID, page)
}

// Retry requeues a failed job. A job whose request id survived the failure
// resumes the in-flight request instead of submitting a new one.
func (s *Service) Retry(ctx context.Context, workspaceID, jobID snowflake.ID) (*generationdomain.EnhancementJob, error) {
	job, err := s.repo.FindByID(ctx, workspaceID, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, generationdomain.ErrJobNotFound
	}
	if job.Status != generationdomain.JobStatusFailed {
		return nil, generationdomain.ErrJobNotRetryable
	}

	requeued, err := s.repo.RequeueFailed(ctx, workspaceID, jobID)
	if err != nil {
		return nil, err
	}
	if !requeued {
		return nil, generationdomain.ErrJobNotRetryable
	}

	s.log.Info("enhancement job requeued",
		zap.String("job_id", jobID.String()),
		zap.String("workspace_id", workspaceID.String()),
	)
	return s.repo.FindByID(ctx, workspaceID, jobID)
}

// ProcessQueued claims up to limit pending jobs and runs each through the
// dispatcher. Jobs whose external request outlives the poll window stay in
// processing for the recovery sweep.
func (s *Service) ProcessQueued(ctx context.Context, limit int) (int, error) {
	jobs, err := s.repo.ClaimPending(ctx, limit)
	if err != nil {
		return 0, err
	}
	return s.processClaimed(ctx, jobs), nil
}

// RecoverStuck re-drives jobs stuck in processing since before the stuck
// threshold. Persisted request ids make this safe: the dispatcher resumes
// polling instead of resubmitting.
func (s *Service) RecoverStuck(ctx context.Context, limit int) (int, error) {
	cutoff := time.Now().UTC().Add(-stuckThreshold)
	jobs, err := s.repo.ClaimStuckProcessing(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}
	return s.processClaimed(ctx, jobs), nil
}

// ExpireStale fails pending jobs that the dispatcher never picked up within
// the expiry window. No credits were deducted for them, so failing is a
// pure bookkeeping move.
func (s *Service) ExpireStale(ctx context.Context, limit int) (int, error) {
	cutoff := time.Now().UTC().Add(-pendingExpiry)
	expired, err := s.repo.ExpireStalePending(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		s.log.Warn("expired stale pending jobs", zap.Int("count", expired))
	}
	return expired, nil
}

func (s *Service) processClaimed(ctx context.Context, jobs []generationdomain.EnhancementJob) int {
	processed := 0
	for i := range jobs {
		if ctx.Err() != nil {
			break
		}
		if err := s.processJob(ctx, &jobs[i]); err != nil {
			s.log.Warn("enhancement job attempt failed",
				zap.String("job_id", jobs[i].ID.String()),
				zap.Error(err),
			)
			continue
		}
		processed++
	}
	return processed
}

func (s *Service) processJob(ctx context.Context, job *generationdomain.EnhancementJob) error {
	req := dispatch.SubmitRequest{
		Tool:           job.Tool,
		SourceImageURL: job.SourceImageURL,
	}
	if job.TemplateID != nil {
		template, err := s.templates.Get(ctx, *job.TemplateID)
		if err != nil {
			return s.fail(ctx, job, fmt.Errorf("resolve template: %w", err))
		}
		req.Prompt = template.Prompt
	}

	dispatcher := dispatch.New(s.client, s.log, dispatch.Options{
		KeepRequestIDOnUnknownStatus: s.creditsCfg.Current().KeepRequestIDOnUnknownStatus,
	})

	var existingRequestID string
	if job.ExternalRequestID != nil {
		existingRequestID = *job.ExternalRequestID
	}

	result, err := dispatcher.Run(ctx, &jobStore{repo: s.repo, jobID: job.ID}, existingRequestID, req)
	if err != nil {
		if errors.Is(err, dispatch.ErrStillRunning) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// stays in processing; the recovery sweep resumes it
			return err
		}
		return s.fail(ctx, job, err)
	}

	return s.complete(ctx, job, result)
}

func (s *Service) complete(ctx context.Context, job *generationdomain.EnhancementJob, result *dispatch.Result) error {
	description := fmt.Sprintf("enhancement: %s", job.Tool)
	newBalance, err := s.credits.DeductCredits(ctx, job.WorkspaceID, job.CreditCost, description, job.ID.String())
	if err != nil {
		// completed remotely but unbilled; leave in processing so the
		// recovery sweep retries the deduction with the same job id
		return fmt.Errorf("bill job: %w", err)
	}
	if newBalance == nil {
		s.log.Info("job already billed, skipping deduction",
			zap.String("job_id", job.ID.String()),
		)
	}

	if err := s.repo.MarkCompleted(ctx, job.ID, result.ImageURL); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordEnhancementJob(ctx, job.Tool, string(generationdomain.JobStatusCompleted))
	}
	cloudmetrics.RecordEnhancement(job.Tool)
	s.log.Info("enhancement job completed",
		zap.String("job_id", job.ID.String()),
		zap.String("workspace_id", job.WorkspaceID.String()),
		zap.String("request_id", result.RequestID),
	)
	return nil
}

func (s *Service) fail(ctx context.Context, job *generationdomain.EnhancementJob, cause error) error {
	if err := s.repo.MarkFailed(ctx, job.ID, cause.Error()); err != nil {
		s.log.Error("failed to mark job failed",
			zap.String("job_id", job.ID.String()),
			zap.Error(err),
		)
	}
	if s.metrics != nil {
		s.metrics.RecordEnhancementJob(ctx, job.Tool, string(generationdomain.JobStatusFailed))
	}
	return cause
}

// jobStore binds the dispatcher's persistence callbacks to one job row.
type jobStore struct {
	repo  generationdomain.Repository
	jobID snowflake.ID
}

func (s *jobStore) OnRequestIDReceived(ctx context.Context, requestID string) error {
	return s.repo.SetExternalRequestID(ctx, s.jobID, requestID)
}

func (s *jobStore) OnClearRequestID(ctx context.Context) error {
	return s.repo.ClearExternalRequestID(ctx, s.jobID)
}

func validateImageURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return generationdomain.ErrInvalidImageURL
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return generationdomain.ErrInvalidImageURL
	}
	return nil
}

