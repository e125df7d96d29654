package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	generationdomain "github.com/listinglens/listinglens/internal/generation/domain"
	obsmetrics "github.com/listinglens/listinglens/internal/observability/metrics"
	"github.com/listinglens/listinglens/pkg/db/option"
	"github.com/listinglens/listinglens/pkg/db/pagination"
)

type repo struct {
	db *gorm.DB
}

func Provide(gdb *gorm.DB) generationdomain.Repository {
	return &repo{db: gdb}
}

func (r *repo) Insert(ctx context.Context, job *generationdomain.EnhancementJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *repo) FindByID(ctx context.Context, workspaceID, jobID snowflake.ID) (*generationdomain.EnhancementJob, error) {
	var job generationdomain.EnhancementJob
	err := r.db.WithContext(ctx).
		Where("id = ? AND workspace_id = ?", jobID, workspaceID).
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *repo) List(ctx context.Context, workspaceID snowflake.ID, page pagination.Pagination) ([]generationdomain.EnhancementJob, *pagination.PageInfo, error) {
	size := page.PageSize
	if size <= 0 {
		size = 20
	}
	if size > 250 {
		size = 250
	}

	stmt := r.db.WithContext(ctx).
		Model(&generationdomain.EnhancementJob{}).
		Where("workspace_id = ?", workspaceID).
		Order("created_at DESC, id DESC")
	stmt = option.ApplyPagination(page).Apply(stmt)

	var rows []generationdomain.EnhancementJob
	if err := stmt.Find(&rows).Error; err != nil {
		return nil, nil, err
	}

	hasMore := len(rows) > size
	if hasMore {
		rows = rows[:size]
	}

	pageInfo := &pagination.PageInfo{HasMore: hasMore}
	if hasMore && len(rows) > 0 {
		last := rows[len(rows)-1]
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        last.ID.String(),
			CreatedAt: last.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return nil, nil, err
		}
		pageInfo.NextPageToken = token
	}

	return rows, pageInfo, nil
}

func (r *repo) ClaimPending(ctx context.Context, limit int) ([]generationdomain.EnhancementJob, error) {
	return r.claim(ctx,
		`SELECT id FROM enhancement_jobs
		 WHERE status = ?
		 ORDER BY created_at ASC, id ASC
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`,
		[]any{generationdomain.JobStatusPending, limit},
		obsmetrics.LockResourceJobsForDispatch,
	)
}

func (r *repo) ClaimStuckProcessing(ctx context.Context, cutoff time.Time, limit int) ([]generationdomain.EnhancementJob, error) {
	return r.claim(ctx,
		`SELECT id FROM enhancement_jobs
		 WHERE status = ? AND updated_at < ?
		 ORDER BY updated_at ASC, id ASC
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`,
		[]any{generationdomain.JobStatusProcessing, cutoff, limit},
		obsmetrics.LockResourceJobsForRecovery,
	)
}

func (r *repo) ExpireStalePending(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	var expired int
	schedMetrics := obsmetrics.Scheduler()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []snowflake.ID
		lockStart := time.Now()
		err := tx.Raw(
			`SELECT id FROM enhancement_jobs
			 WHERE status = ? AND created_at < ?
			 ORDER BY created_at ASC, id ASC
			 LIMIT ?
			 FOR UPDATE SKIP LOCKED`,
			generationdomain.JobStatusPending, cutoff, limit,
		).Scan(&ids).Error
		schedMetrics.ObserveDBLockWait(obsmetrics.LockResourceJobsForExpiry, time.Since(lockStart))
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		result := tx.Model(&generationdomain.EnhancementJob{}).
			Where("id IN ? AND status = ?", ids, generationdomain.JobStatusPending).
			Updates(map[string]any{
				"status":        generationdomain.JobStatusFailed,
				"error_message": "expired before dispatch",
				"updated_at":    time.Now().UTC(),
			})
		if result.Error != nil {
			return result.Error
		}
		expired = int(result.RowsAffected)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return expired, nil
}

// claim selects candidate rows under SKIP LOCKED, flips them to processing
// inside the same transaction, and returns the claimed jobs.
func (r *repo) claim(ctx context.Context, query string, args []any, lockResource string) ([]generationdomain.EnhancementJob, error) {
	var claimed []generationdomain.EnhancementJob
	schedMetrics := obsmetrics.Scheduler()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []snowflake.ID
		lockStart := time.Now()
		if err := tx.Raw(query, args...).Scan(&ids).Error; err != nil {
			schedMetrics.ObserveDBLockWait(lockResource, time.Since(lockStart))
			return err
		}
		schedMetrics.ObserveDBLockWait(lockResource, time.Since(lockStart))
		if len(ids) == 0 {
			return nil
		}

		now := time.Now().UTC()
		if err := tx.Model(&generationdomain.EnhancementJob{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"status":     generationdomain.JobStatusProcessing,
				"started_at": now,
				"attempts":   gorm.Expr("attempts + 1"),
				"updated_at": now,
			}).Error; err != nil {
			return err
		}

		return tx.Where("id IN ?", ids).Find(&claimed).Error
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *repo) SetExternalRequestID(ctx context.Context, jobID snowflake.ID, requestID string) error {
	return r.db.WithContext(ctx).
		Model(&generationdomain.EnhancementJob{}).
		Where("id = ?", jobID).
		Update("external_request_id", requestID).Error
}

func (r *repo) ClearExternalRequestID(ctx context.Context, jobID snowflake.ID) error {
	return r.db.WithContext(ctx).
		Model(&generationdomain.EnhancementJob{}).
		Where("id = ?", jobID).
		Update("external_request_id", nil).Error
}

func (r *repo) MarkCompleted(ctx context.Context, jobID snowflake.ID, resultURL string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&generationdomain.EnhancementJob{}).
		Where("id = ?", jobID).
		Updates(map[string]any{
			"status":           generationdomain.JobStatusCompleted,
			"result_image_url": resultURL,
			"error_message":    nil,
			"completed_at":     now,
			"updated_at":       now,
		}).Error
}

func (r *repo) MarkFailed(ctx context.Context, jobID snowflake.ID, message string) error {
	return r.db.WithContext(ctx).
		Model(&generationdomain.EnhancementJob{}).
		Where("id = ?", jobID).
		Updates(map[string]any{
			"status":        generationdomain.JobStatusFailed,
			"error_message": message,
			"updated_at":    time.Now().UTC(),
		}).Error
}

func (r *repo) RequeueFailed(ctx context.Context, workspaceID, jobID snowflake.ID) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&generationdomain.EnhancementJob{}).
		Where("id = ? AND workspace_id = ? AND status = ?", jobID, workspaceID, generationdomain.JobStatusFailed).
		Updates(map[string]any{
			"status":        generationdomain.JobStatusPending,
			"error_message": nil,
			"updated_at":    time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
