package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/listinglens/listinglens/pkg/db/pagination"
)

var (
	ErrInvalidWorkspace      = errors.New("invalid_workspace")
	ErrInvalidAmount         = errors.New("invalid_amount")
	ErrInvalidCorrelationKey = errors.New("invalid_correlation_key")
	ErrWorkspaceNotFound     = errors.New("workspace_not_found")
)

// Service is the credit ledger contract. AddCredits, DeductCredits and
// RefundCredits apply an external event at most once: the returned balance is
// nil when the correlation key was already applied, so callers can
// log-and-continue instead of alerting.
type Service interface {
	AddCredits(ctx context.Context, workspaceID snowflake.ID, amount int64, paymentID, packageID, description string) (*int64, error)
	DeductCredits(ctx context.Context, workspaceID snowflake.ID, amount int64, description, imageGenerationID string) (*int64, error)
	RefundCredits(ctx context.Context, workspaceID snowflake.ID, amount int64, originalPaymentID, description string) (*int64, error)

	// GrantSignupBonus credits the onboarding bonus once per workspace.
	GrantSignupBonus(ctx context.Context, workspaceID snowflake.ID, amount int64) (*int64, error)

	// AdjustCredits applies an operator correction. Not idempotent: every
	// call appends a row, so operators must not retry blindly.
	AdjustCredits(ctx context.Context, workspaceID snowflake.ID, amount int64, description string) (int64, error)

	// FindPurchase returns the purchase ledger row for a payment id, scoped
	// to the workspace. Nil when no purchase was recorded.
	FindPurchase(ctx context.Context, workspaceID snowflake.ID, paymentID string) (*CreditTransaction, error)

	Balance(ctx context.Context, workspaceID snowflake.ID) (int64, error)
	ListTransactions(ctx context.Context, workspaceID snowflake.ID, page pagination.Pagination) ([]CreditTransaction, *pagination.PageInfo, error)
	ListPackages(ctx context.Context) ([]CreditPackage, error)
}
