package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// JobStatus is the provider-side view of a submitted request.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusInProgress JobStatus = "in_progress"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusUnknown    JobStatus = "unknown"
)

// SubmitRequest describes one external generation call.
type SubmitRequest struct {
	Tool           string
	SourceImageURL string
	Prompt         string
	Params         map[string]any
}

// Result is the terminal output of a completed request.
type Result struct {
	RequestID string
	ImageURL  string
	Raw       []byte
}

// Client talks to the external queue API. Submit starts billed work; Status
// and Result never do.
type Client interface {
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	Status(ctx context.Context, requestID string) (JobStatus, error)
	Result(ctx context.Context, requestID string) (*Result, error)
}

// Store persists the external request id so a retry can resume instead of
// resubmitting. Implementations decide where the pointer lives; the
// dispatcher is storage-agnostic.
type Store interface {
	OnRequestIDReceived(ctx context.Context, requestID string) error
	OnClearRequestID(ctx context.Context) error
}

// Options tune one dispatcher run.
type Options struct {
	// PollInterval between status checks while the request is in flight.
	PollInterval time.Duration

	// MaxPollDuration bounds one Run invocation. The request id stays
	// persisted on expiry so the next retry resumes.
	MaxPollDuration time.Duration

	// KeepRequestIDOnUnknownStatus keeps the persisted id when the
	// provider's status endpoint itself fails. The default clears it,
	// trading a possible duplicate submission against a permanently
	// stuck resume pointer.
	KeepRequestIDOnUnknownStatus bool
}

var (
	// ErrJobFailed reports a terminally failed external request.
	ErrJobFailed = errors.New("external job failed")

	// ErrStillRunning reports that the bounded poll window expired while
	// the provider still works on the request. The persisted id survives
	// so the caller's retry resumes.
	ErrStillRunning = errors.New("external job still running")
)

const (
	defaultPollInterval    = 2 * time.Second
	defaultMaxPollDuration = 5 * time.Minute
)

// Dispatcher wraps one external job call with resume-instead-of-duplicate
// semantics keyed on a persisted request id.
type Dispatcher struct {
	client Client
	log    *zap.Logger
	opts   Options
}

func New(client Client, log *zap.Logger, opts Options) *Dispatcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.MaxPollDuration <= 0 {
		opts.MaxPollDuration = defaultMaxPollDuration
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{client: client, log: log.Named("dispatch"), opts: opts}
}

// Run executes one job attempt. With an empty existingRequestID it submits a
// fresh request and persists the assigned id before any waiting, so a crash
// mid-flight leaves a resumable pointer. With a non-empty id it attaches to
// the in-flight request and never resubmits.
func (d *Dispatcher) Run(ctx context.Context, store Store, existingRequestID string, req SubmitRequest) (*Result, error) {
	requestID := strings.TrimSpace(existingRequestID)

	if requestID == "" {
		submitted, err := d.client.Submit(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("submit: %w", err)
		}
		requestID = submitted
		if err := store.OnRequestIDReceived(ctx, requestID); err != nil {
			// The request is already running remotely. Without the
			// persisted pointer a retry would double-bill, so this
			// is fatal for the attempt.
			return nil, fmt.Errorf("persist request id: %w", err)
		}
		d.log.Info("external job submitted", zap.String("request_id", requestID))
	} else {
		d.log.Info("resuming external job", zap.String("request_id", requestID))
	}

	result, err := d.await(ctx, requestID)
	if err == nil {
		return result, nil
	}
	if errors.Is(err, ErrStillRunning) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// request id stays persisted; the retry resumes
		return nil, err
	}

	return nil, d.cleanup(ctx, store, requestID, err)
}

func (d *Dispatcher) await(ctx context.Context, requestID string) (*Result, error) {
	deadline := time.Now().Add(d.opts.MaxPollDuration)

	for {
		status, err := d.client.Status(ctx, requestID)
		if err != nil {
			return nil, fmt.Errorf("status: %w", err)
		}

		switch status {
		case StatusCompleted:
			result, err := d.client.Result(ctx, requestID)
			if err != nil {
				return nil, fmt.Errorf("result: %w", err)
			}
			return result, nil
		case StatusFailed:
			return nil, ErrJobFailed
		case StatusQueued, StatusInProgress:
		default:
			return nil, fmt.Errorf("unexpected status %q", status)
		}

		if time.Now().After(deadline) {
			return nil, ErrStillRunning
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d.opts.PollInterval):
		}
	}
}

// cleanup decides whether the next retry should resume or start fresh, then
// re-raises the original error.
func (d *Dispatcher) cleanup(ctx context.Context, store Store, requestID string, cause error) error {
	status, statusErr := d.client.Status(ctx, requestID)
	if statusErr != nil {
		status = StatusUnknown
	}

	switch status {
	case StatusQueued, StatusInProgress:
		// still running remotely; keep the pointer so the retry resumes
		d.log.Warn("external job still in flight after error",
			zap.String("request_id", requestID),
			zap.Error(cause),
		)
		return cause
	case StatusCompleted:
		// the work finished; only fetching the result failed. Keep the
		// pointer so the retry resumes and re-fetches instead of paying
		// for a second submission.
		d.log.Warn("external job completed but result fetch failed, keeping request id",
			zap.String("request_id", requestID),
			zap.Error(cause),
		)
		return cause
	case StatusUnknown:
		if d.opts.KeepRequestIDOnUnknownStatus {
			d.log.Warn("status check failed, keeping request id",
				zap.String("request_id", requestID),
				zap.Error(cause),
			)
			return cause
		}
	}

	// terminally failed, or status unknowable under the default policy:
	// clear the pointer so the next retry starts fresh
	if clearErr := store.OnClearRequestID(ctx); clearErr != nil {
		d.log.Error("failed to clear request id",
			zap.String("request_id", requestID),
			zap.Error(clearErr),
		)
	} else {
		d.log.Info("cleared request id after failure",
			zap.String("request_id", requestID),
			zap.String("provider_status", string(status)),
		)
	}
	return cause
}
