package service

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	creditdomain "github.com/listinglens/listinglens/internal/credit/domain"
	"github.com/listinglens/listinglens/internal/credit/repository"
	workspacedomain "github.com/listinglens/listinglens/internal/workspace/domain"
	"github.com/listinglens/listinglens/pkg/db"
	"github.com/listinglens/listinglens/pkg/db/pagination"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupService(t *testing.T) (creditdomain.Service, *gorm.DB, snowflake.ID) {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	// One connection so concurrent transactions serialize instead of
	// tripping SQLITE_BUSY.
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, gdb.AutoMigrate(
		&workspacedomain.Workspace{},
		&creditdomain.CreditTransaction{},
		&creditdomain.CreditPackage{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(Params{
		DB:    gdb,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
	})

	workspaceID := node.Generate()
	require.NoError(t, gdb.Create(&workspacedomain.Workspace{
		ID:                workspaceID,
		Name:              "Maple Street Realty",
		Slug:              "maple-street-realty",
		Credits:           10,
		OwnerEmail:        "owner@maple.example",
		OwnerPasswordHash: "x",
	}).Error)

	return svc, gdb, workspaceID
}

func countTransactions(t *testing.T, gdb *gorm.DB, workspaceID snowflake.ID) int64 {
	t.Helper()
	var count int64
	require.NoError(t, gdb.Model(&creditdomain.CreditTransaction{}).Where("workspace_id = ?", workspaceID).Count(&count).Error)
	return count
}

func currentBalance(t *testing.T, gdb *gorm.DB, workspaceID snowflake.ID) int64 {
	t.Helper()
	var ws workspacedomain.Workspace
	require.NoError(t, gdb.First(&ws, "id = ?", workspaceID).Error)
	return ws.Credits
}

func TestAddCreditsAppliedAtMostOnce(t *testing.T) {
	svc, gdb, workspaceID := setupService(t)
	ctx := context.Background()

	balance, err := svc.AddCredits(ctx, workspaceID, 25, "pay_1", "pkg_popular", "25 credit pack")
	require.NoError(t, err)
	require.NotNil(t, balance)
	require.EqualValues(t, 35, *balance)

	// identical redelivery is a no-op
	balance, err = svc.AddCredits(ctx, workspaceID, 25, "pay_1", "pkg_popular", "25 credit pack")
	require.NoError(t, err)
	require.Nil(t, balance)

	require.EqualValues(t, 1, countTransactions(t, gdb, workspaceID))
	require.EqualValues(t, 35, currentBalance(t, gdb, workspaceID))
}

func TestDeductCreditsAppliedAtMostOnce(t *testing.T) {
	svc, gdb, workspaceID := setupService(t)
	ctx := context.Background()

	balance, err := svc.DeductCredits(ctx, workspaceID, 1, "declutter", "img_abc")
	require.NoError(t, err)
	require.NotNil(t, balance)
	require.EqualValues(t, 9, *balance)

	balance, err = svc.DeductCredits(ctx, workspaceID, 1, "declutter", "img_abc")
	require.NoError(t, err)
	require.Nil(t, balance)

	require.EqualValues(t, 1, countTransactions(t, gdb, workspaceID))
	require.EqualValues(t, 9, currentBalance(t, gdb, workspaceID))

	var txn creditdomain.CreditTransaction
	require.NoError(t, gdb.First(&txn, "image_generation_id = ?", "img_abc").Error)
	require.EqualValues(t, -1, txn.Amount)
	require.Equal(t, creditdomain.TransactionTypeUsage, txn.Type)
}

func TestDeductCreditsAllowsNegativeBalance(t *testing.T) {
	// Deduction happens after successful generation; it must not be gated
	// on the remaining balance.
	svc, _, workspaceID := setupService(t)

	balance, err := svc.DeductCredits(context.Background(), workspaceID, 50, "upscale", "img_big")
	require.NoError(t, err)
	require.NotNil(t, balance)
	require.EqualValues(t, -40, *balance)
}

func TestRefundCreditsAppliedAtMostOnce(t *testing.T) {
	svc, gdb, workspaceID := setupService(t)
	ctx := context.Background()

	_, err := svc.AddCredits(ctx, workspaceID, 25, "pay_1", "pkg_popular", "")
	require.NoError(t, err)

	balance, err := svc.RefundCredits(ctx, workspaceID, 25, "pay_1", "chargeback")
	require.NoError(t, err)
	require.NotNil(t, balance)
	require.EqualValues(t, 10, *balance)

	balance, err = svc.RefundCredits(ctx, workspaceID, 25, "pay_1", "chargeback")
	require.NoError(t, err)
	require.Nil(t, balance)

	require.EqualValues(t, 2, countTransactions(t, gdb, workspaceID))
	require.EqualValues(t, 10, currentBalance(t, gdb, workspaceID))
}

func TestConcurrentDuplicateDelivery(t *testing.T) {
	svc, gdb, workspaceID := setupService(t)

	const callers = 5
	results := make([]*int64, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.AddCredits(context.Background(), workspaceID, 25, "pay_dup", "pkg_popular", "")
		}(i)
	}
	wg.Wait()

	applied := 0
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		if results[i] != nil {
			applied++
			require.EqualValues(t, 35, *results[i])
		}
	}
	require.Equal(t, 1, applied)
	require.EqualValues(t, 1, countTransactions(t, gdb, workspaceID))
	require.EqualValues(t, 35, currentBalance(t, gdb, workspaceID))
}

func TestLedgerSumsToBalanceUnderConcurrency(t *testing.T) {
	svc, gdb, workspaceID := setupService(t)

	const ops = 40
	rng := rand.New(rand.NewSource(7))
	amounts := make([]int64, ops)
	for i := range amounts {
		amounts[i] = int64(rng.Intn(20) + 1)
	}

	errs := make([]error, ops)
	var wg sync.WaitGroup
	for i := 0; i < ops; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			switch i % 3 {
			case 0:
				_, errs[i] = svc.AddCredits(context.Background(), workspaceID, amounts[i], fmt.Sprintf("pay_%d", i), "", "")
			case 1:
				_, errs[i] = svc.DeductCredits(context.Background(), workspaceID, amounts[i], "", fmt.Sprintf("img_%d", i))
			default:
				_, errs[i] = svc.AddCredits(context.Background(), workspaceID, amounts[i], fmt.Sprintf("pay_bonus_%d", i), "", "")
			}
		}(i)
	}
	wg.Wait()
	for i := range errs {
		require.NoError(t, errs[i])
	}

	var sum int64
	require.NoError(t, gdb.Model(&creditdomain.CreditTransaction{}).
		Where("workspace_id = ?", workspaceID).
		Select("COALESCE(SUM(amount), 0)").Scan(&sum).Error)

	require.EqualValues(t, 10+sum, currentBalance(t, gdb, workspaceID))
}

func TestNonPositiveAmountRejected(t *testing.T) {
	svc, gdb, workspaceID := setupService(t)
	ctx := context.Background()

	for _, amount := range []int64{0, -5} {
		_, err := svc.AddCredits(ctx, workspaceID, amount, "pay_x", "", "")
		require.ErrorIs(t, err, creditdomain.ErrInvalidAmount)

		_, err = svc.DeductCredits(ctx, workspaceID, amount, "", "img_x")
		require.ErrorIs(t, err, creditdomain.ErrInvalidAmount)

		_, err = svc.RefundCredits(ctx, workspaceID, amount, "pay_x", "")
		require.ErrorIs(t, err, creditdomain.ErrInvalidAmount)
	}

	require.EqualValues(t, 0, countTransactions(t, gdb, workspaceID))
	require.EqualValues(t, 10, currentBalance(t, gdb, workspaceID))
}

func TestMissingCorrelationKeyRejected(t *testing.T) {
	svc, _, workspaceID := setupService(t)
	ctx := context.Background()

	_, err := svc.AddCredits(ctx, workspaceID, 5, "  ", "", "")
	require.ErrorIs(t, err, creditdomain.ErrInvalidCorrelationKey)

	_, err = svc.DeductCredits(ctx, workspaceID, 5, "", "")
	require.ErrorIs(t, err, creditdomain.ErrInvalidCorrelationKey)

	_, err = svc.RefundCredits(ctx, workspaceID, 5, "", "")
	require.ErrorIs(t, err, creditdomain.ErrInvalidCorrelationKey)
}

func TestUnknownWorkspaceRejected(t *testing.T) {
	svc, _, _ := setupService(t)

	_, err := svc.AddCredits(context.Background(), snowflake.ID(999), 5, "pay_nope", "", "")
	require.ErrorIs(t, err, creditdomain.ErrWorkspaceNotFound)
}

func TestSignupBonusGrantedOnce(t *testing.T) {
	svc, gdb, workspaceID := setupService(t)
	ctx := context.Background()

	balance, err := svc.GrantSignupBonus(ctx, workspaceID, 10)
	require.NoError(t, err)
	require.NotNil(t, balance)
	require.EqualValues(t, 20, *balance)

	balance, err = svc.GrantSignupBonus(ctx, workspaceID, 10)
	require.NoError(t, err)
	require.Nil(t, balance)

	require.EqualValues(t, 1, countTransactions(t, gdb, workspaceID))
}

func TestBonusUniqueIndexBackstop(t *testing.T) {
	// The existence check runs before the insert; the partial unique index
	// is what holds when two signup retries race past it.
	_, gdb, workspaceID := setupService(t)

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	require.NoError(t, gdb.Create(&creditdomain.CreditTransaction{
		ID:          node.Generate(),
		WorkspaceID: workspaceID,
		Amount:      10,
		Type:        creditdomain.TransactionTypeBonus,
		Description: "signup bonus",
	}).Error)

	err = gdb.Create(&creditdomain.CreditTransaction{
		ID:          node.Generate(),
		WorkspaceID: workspaceID,
		Amount:      10,
		Type:        creditdomain.TransactionTypeBonus,
		Description: "signup bonus",
	}).Error
	require.True(t, db.IsDuplicateKeyErr(err))

	// other transaction types for the same workspace are unaffected
	require.NoError(t, gdb.Create(&creditdomain.CreditTransaction{
		ID:          node.Generate(),
		WorkspaceID: workspaceID,
		Amount:      -2,
		Type:        creditdomain.TransactionTypeAdminAdjustment,
		Description: "correction",
	}).Error)
}

func TestAdjustCreditsNotIdempotent(t *testing.T) {
	svc, gdb, workspaceID := setupService(t)
	ctx := context.Background()

	balance, err := svc.AdjustCredits(ctx, workspaceID, -3, "support goodwill reversal")
	require.NoError(t, err)
	require.EqualValues(t, 7, balance)

	balance, err = svc.AdjustCredits(ctx, workspaceID, -3, "support goodwill reversal")
	require.NoError(t, err)
	require.EqualValues(t, 4, balance)

	require.EqualValues(t, 2, countTransactions(t, gdb, workspaceID))

	_, err = svc.AdjustCredits(ctx, workspaceID, 0, "noop")
	require.ErrorIs(t, err, creditdomain.ErrInvalidAmount)
}

func TestListTransactionsNewestFirst(t *testing.T) {
	svc, _, workspaceID := setupService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.AddCredits(ctx, workspaceID, int64(i+1), fmt.Sprintf("pay_%d", i), "", "")
		require.NoError(t, err)
	}

	rows, pageInfo, err := svc.ListTransactions(ctx, workspaceID, pagination.Pagination{PageSize: 3})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.NotNil(t, pageInfo)
	require.True(t, pageInfo.HasMore)
	require.NotEmpty(t, pageInfo.NextPageToken)

	for i := 1; i < len(rows); i++ {
		require.True(t, rows[i-1].ID >= rows[i].ID)
	}
}

func TestBalanceRead(t *testing.T) {
	svc, _, workspaceID := setupService(t)

	balance, err := svc.Balance(context.Background(), workspaceID)
	require.NoError(t, err)
	require.EqualValues(t, 10, balance)

	_, err = svc.Balance(context.Background(), snowflake.ID(404))
	require.ErrorIs(t, err, creditdomain.ErrWorkspaceNotFound)
}
