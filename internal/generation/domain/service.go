package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"

	"github.com/listinglens/listinglens/pkg/db/pagination"
)

var (
	ErrInvalidWorkspace    = errors.New("invalid_workspace")
	ErrInvalidTool         = errors.New("invalid_tool")
	ErrInvalidImageURL     = errors.New("invalid_image_url")
	ErrJobNotFound         = errors.New("job_not_found")
	ErrInsufficientCredits = errors.New("insufficient_credits")
	ErrJobNotRetryable     = errors.New("job_not_retryable")
)

// ValidTools enumerates the enhancement tools the platform offers.
var ValidTools = map[string]bool{
	"declutter":       true,
	"virtual_staging": true,
	"sky_replacement": true,
	"relight":         true,
	"upscale":         true,
}

type CreateJobRequest struct {
	WorkspaceID    snowflake.ID
	Tool           string
	SourceImageURL string
	TemplateID     *snowflake.ID
}

// Service manages the enhancement job lifecycle. Create and Retry are the
// API-facing entry points; ProcessQueued and RecoverStuck are driven by the
// background scheduler.
type Service interface {
	Create(ctx context.Context, req CreateJobRequest) (*EnhancementJob, error)
	Get(ctx context.Context, workspaceID, jobID snowflake.ID) (*EnhancementJob, error)
	List(ctx context.Context, workspaceID snowflake.ID, page pagination.Pagination) ([]EnhancementJob, *pagination.PageInfo, error)
	Retry(ctx context.Context, workspaceID, jobID snowflake.ID) (*EnhancementJob, error)

	ProcessQueued(ctx context.Context, limit int) (int, error)
	RecoverStuck(ctx context.Context, limit int) (int, error)
	ExpireStale(ctx context.Context, limit int) (int, error)
}
