package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// TransactionType classifies a ledger row.
type TransactionType string

const (
	TransactionTypePurchase        TransactionType = "purchase"
	TransactionTypeUsage           TransactionType = "usage"
	TransactionTypeBonus           TransactionType = "bonus"
	TransactionTypeRefund          TransactionType = "refund"
	TransactionTypeAdminAdjustment TransactionType = "admin_adjustment"
)

// CreditTransaction is an immutable ledger row. Positive amounts credit the
// workspace, negative amounts debit it. Rows are never updated or deleted;
// the workspace balance is a denormalized counter maintained in the same
// write transaction.
type CreditTransaction struct {
	ID          snowflake.ID    `gorm:"primaryKey"`
	WorkspaceID snowflake.ID    `gorm:"column:workspace_id;not null;index;uniqueIndex:ux_credit_transactions_signup_bonus,where:type = 'bonus'"`
	Amount      int64           `gorm:"not null"`
	Type        TransactionType `gorm:"type:text;not null;index"`
	Description string          `gorm:"type:text"`

	// Correlation keys close the duplicate-delivery race at the storage
	// layer. Each is set for exactly one transaction type and carries a
	// unique index; NULLs do not collide.
	PaymentID         *string `gorm:"column:payment_id;type:text;uniqueIndex:ux_credit_transactions_payment_id"`
	ImageGenerationID *string `gorm:"column:image_generation_id;type:text;uniqueIndex:ux_credit_transactions_image_generation_id"`
	OriginalPaymentID *string `gorm:"column:original_payment_id;type:text;uniqueIndex:ux_credit_transactions_original_payment_id"`

	PackageID *string   `gorm:"column:package_id;type:text"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index"`
}

// TableName sets the database table name.
func (CreditTransaction) TableName() string { return "credit_transactions" }

// CreditPackage is a purchasable SKU. Read-only at runtime.
type CreditPackage struct {
	ID                snowflake.ID `gorm:"primaryKey"`
	Name              string       `gorm:"type:text;not null"`
	Code              string       `gorm:"type:text;not null;uniqueIndex:ux_credit_packages_code"`
	Credits           int64        `gorm:"not null"`
	PriceUSDCents     int64        `gorm:"column:price_usd_cents;not null"`
	ExternalProductID string       `gorm:"column:external_product_id;type:text"`
	IsActive          bool         `gorm:"column:is_active;not null;default:true"`
	SortOrder         int          `gorm:"column:sort_order;not null;default:0"`
	CreatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CreditPackage) TableName() string { return "credit_packages" }
