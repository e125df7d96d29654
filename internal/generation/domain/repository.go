package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/listinglens/listinglens/pkg/db/pagination"
)

// Repository persists enhancement jobs. Claim and recovery selections take
// row locks with SKIP LOCKED so concurrent workers never double-claim.
type Repository interface {
	Insert(ctx context.Context, job *EnhancementJob) error
	FindByID(ctx context.Context, workspaceID, jobID snowflake.ID) (*EnhancementJob, error)
	List(ctx context.Context, workspaceID snowflake.ID, page pagination.Pagination) ([]EnhancementJob, *pagination.PageInfo, error)

	// ClaimPending atomically moves up to limit pending jobs to processing
	// and returns them.
	ClaimPending(ctx context.Context, limit int) ([]EnhancementJob, error)

	// ClaimStuckProcessing re-claims jobs that have sat in processing since
	// before cutoff, for the recovery sweep.
	ClaimStuckProcessing(ctx context.Context, cutoff time.Time, limit int) ([]EnhancementJob, error)

	// ExpireStalePending fails pending jobs older than cutoff that the
	// dispatcher never picked up, and returns how many were expired.
	ExpireStalePending(ctx context.Context, cutoff time.Time, limit int) (int, error)

	SetExternalRequestID(ctx context.Context, jobID snowflake.ID, requestID string) error
	ClearExternalRequestID(ctx context.Context, jobID snowflake.ID) error

	MarkCompleted(ctx context.Context, jobID snowflake.ID, resultURL string) error
	MarkFailed(ctx context.Context, jobID snowflake.ID, message string) error

	// RequeueFailed flips one failed job back to pending. Returns false when
	// the job is not in the failed state.
	RequeueFailed(ctx context.Context, workspaceID, jobID snowflake.ID) (bool, error)
}
