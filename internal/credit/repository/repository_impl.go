package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	creditdomain "github.com/listinglens/listinglens/internal/credit/domain"
	"github.com/listinglens/listinglens/pkg/db/option"
	"github.com/listinglens/listinglens/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() creditdomain.Repository {
	return &repo{}
}

func (r *repo) FindByPaymentID(ctx context.Context, db *gorm.DB, paymentID string) (*creditdomain.CreditTransaction, error) {
	return r.findByKey(ctx, db, "payment_id = ?", paymentID)
}

func (r *repo) FindByImageGenerationID(ctx context.Context, db *gorm.DB, imageGenerationID string) (*creditdomain.CreditTransaction, error) {
	return r.findByKey(ctx, db, "image_generation_id = ?", imageGenerationID)
}

func (r *repo) FindByOriginalPaymentID(ctx context.Context, db *gorm.DB, originalPaymentID string) (*creditdomain.CreditTransaction, error) {
	return r.findByKey(ctx, db, "original_payment_id = ?", originalPaymentID)
}

func (r *repo) findByKey(ctx context.Context, db *gorm.DB, cond, key string) (*creditdomain.CreditTransaction, error) {
	var txn creditdomain.CreditTransaction
	err := db.WithContext(ctx).Where(cond, key).First(&txn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repo) HasBonus(ctx context.Context, db *gorm.DB, workspaceID snowflake.ID) (bool, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&creditdomain.CreditTransaction{}).
		Where("workspace_id = ? AND type = ?", workspaceID, creditdomain.TransactionTypeBonus).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) ListTransactions(ctx context.Context, db *gorm.DB, workspaceID snowflake.ID, page pagination.Pagination) ([]creditdomain.CreditTransaction, *pagination.PageInfo, error) {
	size := page.PageSize
	if size <= 0 {
		size = 20
	}
	if size > 250 {
		size = 250
	}

	stmt := db.WithContext(ctx).
		Model(&creditdomain.CreditTransaction{}).
		Where("workspace_id = ?", workspaceID).
		Order("created_at DESC, id DESC")
	stmt = option.ApplyPagination(page).Apply(stmt)

	var rows []creditdomain.CreditTransaction
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

func (r *repo) ListPackages(ctx context.Context, db *gorm.DB) ([]creditdomain.CreditPackage, error) {
	var packages []creditdomain.CreditPackage
	err := db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("sort_order ASC, credits ASC").
		Find(&packages).Error
	if err != nil {
		return nil, err
	}
	return packages, nil
}
