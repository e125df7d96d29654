package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/listinglens/listinglens/internal/cloudmetrics"
	creditdomain "github.com/listinglens/listinglens/internal/credit/domain"
	obsmetrics "github.com/listinglens/listinglens/internal/observability/metrics"
	"github.com/listinglens/listinglens/pkg/db"
	"github.com/listinglens/listinglens/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// errAlreadyApplied aborts the write transaction when the correlation key is
// already present. Mapped to the nil no-op sentinel at the boundary.
var errAlreadyApplied = errors.New("already_applied")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       creditdomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       creditdomain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) creditdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("credit.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) AddCredits(ctx context.Context, workspaceID snowflake.ID, amount int64, paymentID, packageID, description string) (*int64, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, creditdomain.ErrInvalidCorrelationKey
	}

	var pkg *string
	if trimmed := strings.TrimSpace(packageID); trimmed != "" {
		pkg = &trimmed
	}

	return s.apply(ctx, workspaceID, amount, applyInput{
		txnType:     creditdomain.TransactionTypePurchase,
		delta:       amount,
		description: description,
		packageID:   pkg,
		lookup: func(tx *gorm.DB) (*creditdomain.CreditTransaction, error) {
			return s.repo.FindByPaymentID(ctx, tx, paymentID)
		},
		decorate: func(txn *creditdomain.CreditTransaction) {
			txn.PaymentID = &paymentID
		},
	})
}

func (s *Service) DeductCredits(ctx context.Context, workspaceID snowflake.ID, amount int64, description, imageGenerationID string) (*int64, error) {
	imageGenerationID = strings.TrimSpace(imageGenerationID)
	if imageGenerationID == "" {
		return nil, creditdomain.ErrInvalidCorrelationKey
	}

	// Deduction is not gated on balance. Billing happens only after a
	// successful generation; the balance pre-check lives upstream and is
	// advisory under concurrency anyway.
	return s.apply(ctx, workspaceID, amount, applyInput{
		txnType:     creditdomain.TransactionTypeUsage,
		delta:       -amount,
		description: description,
		lookup: func(tx *gorm.DB) (*creditdomain.CreditTransaction, error) {
			return s.repo.FindByImageGenerationID(ctx, tx, imageGenerationID)
		},
		decorate: func(txn *creditdomain.CreditTransaction) {
			txn.ImageGenerationID = &imageGenerationID
		},
	})
}

func (s *Service) RefundCredits(ctx context.Context, workspaceID snowflake.ID, amount int64, originalPaymentID, description string) (*int64, error) {
	originalPaymentID = strings.TrimSpace(originalPaymentID)
	if originalPaymentID == "" {
		return nil, creditdomain.ErrInvalidCorrelationKey
	}

	return s.apply(ctx, workspaceID, amount, applyInput{
		txnType:     creditdomain.TransactionTypeRefund,
		delta:       -amount,
		description: description,
		lookup: func(tx *gorm.DB) (*creditdomain.CreditTransaction, error) {
			return s.repo.FindByOriginalPaymentID(ctx, tx, originalPaymentID)
		},
		decorate: func(txn *creditdomain.CreditTransaction) {
			txn.OriginalPaymentID = &originalPaymentID
		},
	})
}

func (s *Service) GrantSignupBonus(ctx context.Context, workspaceID snowflake.ID, amount int64) (*int64, error) {
	return s.apply(ctx, workspaceID, amount, applyInput{
		txnType:     creditdomain.TransactionTypeBonus,
		delta:       amount,
		description: "signup bonus",
		lookup: func(tx *gorm.DB) (*creditdomain.CreditTransaction, error) {
			found, err := s.repo.HasBonus(ctx, tx, workspaceID)
			if err != nil {
				return nil, err
			}
			if found {
				return &creditdomain.CreditTransaction{}, nil
			}
			return nil, nil
		},
	})
}

func (s *Service) AdjustCredits(ctx context.Context, workspaceID snowflake.ID, amount int64, description string) (int64, error) {
	if workspaceID == 0 {
		return 0, creditdomain.ErrInvalidWorkspace
	}
	if amount == 0 {
		return 0, creditdomain.ErrInvalidAmount
	}

	var balance int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.shiftBalance(ctx, tx, workspaceID, amount); err != nil {
			return err
		}

		txn := &creditdomain.CreditTransaction{
			ID:          s.genID.Generate(),
			WorkspaceID: workspaceID,
			Amount:      amount,
			Type:        creditdomain.TransactionTypeAdminAdjustment,
			Description: strings.TrimSpace(description),
			CreatedAt:   time.Now().UTC(),
		}
		if err := tx.WithContext(ctx).Create(txn).Error; err != nil {
			return err
		}

		return s.readBalance(ctx, tx, workspaceID, &balance)
	})
	if err != nil {
		return 0, err
	}

	s.recordTransaction(ctx, creditdomain.TransactionTypeAdminAdjustment)
	return balance, nil
}

func (s *Service) FindPurchase(ctx context.Context, workspaceID snowflake.ID, paymentID string) (*creditdomain.CreditTransaction, error) {
	if workspaceID == 0 {
		return nil, creditdomain.ErrInvalidWorkspace
	}
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, creditdomain.ErrInvalidCorrelationKey
	}
	txn, err := s.repo.FindByPaymentID(ctx, s.db, paymentID)
	if err != nil {
		return nil, err
	}
	if txn == nil || txn.WorkspaceID != workspaceID {
		return nil, nil
	}
	return txn, nil
}

func (s *Service) Balance(ctx context.Context, workspaceID snowflake.ID) (int64, error) {
	if workspaceID == 0 {
		return 0, creditdomain.ErrInvalidWorkspace
	}
	var balance int64
	if err := s.readBalance(ctx, s.db, workspaceID, &balance); err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *Service) ListTransactions(ctx context.Context, workspaceID snowflake.ID, page pagination.Pagination) ([]creditdomain.CreditTransaction, *pagination.PageInfo, error) {
	if workspaceID == 0 {
		return nil, nil, creditdomain.ErrInvalidWorkspace
	}
	return s.repo.ListTransactions(ctx, s.db, workspaceID, page)
}

func (s *Service) ListPackages(ctx context.Context) ([]creditdomain.CreditPackage, error) {
	return s.repo.ListPackages(ctx, s.db)
}

type applyInput struct {
	txnType     creditdomain.TransactionType
	delta       int64
	description string
	packageID   *string
	lookup      func(tx *gorm.DB) (*creditdomain.CreditTransaction, error)
	decorate    func(txn *creditdomain.CreditTransaction)
}

// apply runs the idempotent append: existence check, balance shift and ledger
// insert in one storage transaction. A duplicate correlation key, whether seen
// by the lookup or by the unique index when two deliveries race, rolls the
// transaction back and surfaces as (nil, nil).
func (s *Service) apply(ctx context.Context, workspaceID snowflake.ID, amount int64, in applyInput) (*int64, error) {
	if workspaceID == 0 {
		return nil, creditdomain.ErrInvalidWorkspace
	}
	if amount <= 0 {
		return nil, creditdomain.ErrInvalidAmount
	}

	var balance int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := in.lookup(tx)
		if err != nil {
			return err
		}
		if existing != nil {
			return errAlreadyApplied
		}

		if err := s.shiftBalance(ctx, tx, workspaceID, in.delta); err != nil {
			return err
		}

		txn := &creditdomain.CreditTransaction{
			ID:          s.genID.Generate(),
			WorkspaceID: workspaceID,
			Amount:      in.delta,
			Type:        in.txnType,
			Description: strings.TrimSpace(in.description),
			PackageID:   in.packageID,
			CreatedAt:   time.Now().UTC(),
		}
		if in.decorate != nil {
			in.decorate(txn)
		}
		if err := tx.WithContext(ctx).Create(txn).Error; err != nil {
			return err
		}

		return s.readBalance(ctx, tx, workspaceID, &balance)
	})
	if errors.Is(err, errAlreadyApplied) || db.IsDuplicateKeyErr(err) {
		s.log.Debug("credit event already applied",
			zap.String("workspace_id", workspaceID.String()),
			zap.String("type", string(in.txnType)),
		)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	s.recordTransaction(ctx, in.txnType)
	if in.delta > 0 {
		cloudmetrics.RecordCreditsGranted(string(in.txnType), in.delta)
	} else {
		cloudmetrics.RecordCreditsConsumed(-in.delta)
	}
	return &balance, nil
}

func (s *Service) shiftBalance(ctx context.Context, tx *gorm.DB, workspaceID snowflake.ID, delta int64) error {
	result := tx.WithContext(ctx).Exec(
		`UPDATE workspaces SET credits = credits + ?, updated_at = ? WHERE id = ?`,
		delta, time.Now().UTC(), workspaceID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return creditdomain.ErrWorkspaceNotFound
	}
	return nil
}

func (s *Service) readBalance(ctx context.Context, tx *gorm.DB, workspaceID snowflake.ID, out *int64) error {
	row := tx.WithContext(ctx).Raw(`SELECT credits FROM workspaces WHERE id = ?`, workspaceID).Row()
	if row == nil {
		return gorm.ErrInvalidDB
	}
	if err := row.Scan(out); err != nil {
		return creditdomain.ErrWorkspaceNotFound
	}
	return nil
}

func (s *Service) recordTransaction(ctx context.Context, txnType creditdomain.TransactionType) {
	if s.obsMetrics == nil {
		return
	}
	s.obsMetrics.RecordCreditTransaction(ctx, string(txnType))
}
