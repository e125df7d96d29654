package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/listinglens/listinglens/pkg/db/pagination"
	"gorm.io/gorm"
)

// Repository covers the read side of the ledger. Appends happen inside the
// service transaction so the correlation-key check and the balance update
// share one atomic unit.
type Repository interface {
	FindByPaymentID(ctx context.Context, db *gorm.DB, paymentID string) (*CreditTransaction, error)
	FindByImageGenerationID(ctx context.Context, db *gorm.DB, imageGenerationID string) (*CreditTransaction, error)
	FindByOriginalPaymentID(ctx context.Context, db *gorm.DB, originalPaymentID string) (*CreditTransaction, error)
	HasBonus(ctx context.Context, db *gorm.DB, workspaceID snowflake.ID) (bool, error)
	ListTransactions(ctx context.Context, db *gorm.DB, workspaceID snowflake.ID, page pagination.Pagination) ([]CreditTransaction, *pagination.PageInfo, error)
	ListPackages(ctx context.Context, db *gorm.DB) ([]CreditPackage, error)
}
