package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	creditdomain "github.com/listinglens/listinglens/internal/credit/domain"
	creditrepository "github.com/listinglens/listinglens/internal/credit/repository"
	creditservice "github.com/listinglens/listinglens/internal/credit/service"
	paymentdomain "github.com/listinglens/listinglens/internal/payment/domain"
	paymentrepository "github.com/listinglens/listinglens/internal/payment/repository"
	workspacedomain "github.com/listinglens/listinglens/internal/workspace/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func setupPaymentService(t *testing.T) (*Service, *gorm.DB, snowflake.ID) {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, gdb.AutoMigrate(
		&workspacedomain.Workspace{},
		&creditdomain.CreditTransaction{},
		&paymentdomain.EventRecord{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	creditSvc := creditservice.NewService(creditservice.Params{
		DB:    gdb,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  creditrepository.Provide(),
	})

	svc := NewService(Params{
		Log:       zap.NewNop(),
		GenID:     node,
		CreditSvc: creditSvc,
		Repo:      paymentrepository.Provide(gdb),
	})

	workspaceID := node.Generate()
	require.NoError(t, gdb.Create(&workspacedomain.Workspace{
		ID:                workspaceID,
		Name:              "Harborview Homes",
		Slug:              "harborview-homes",
		Credits:           10,
		OwnerEmail:        "owner@harborview.example",
		OwnerPasswordHash: "x",
	}).Error)

	return svc, gdb, workspaceID
}

func purchaseEvent(workspaceID snowflake.ID, paymentID string, credits int64) *paymentdomain.PaymentEvent {
	return &paymentdomain.PaymentEvent{
		Provider:        "dodo",
		ProviderEventID: "payment.succeeded:" + paymentID,
		PaymentID:       paymentID,
		Type:            paymentdomain.EventTypePaymentSucceeded,
		WorkspaceID:     workspaceID,
		Credits:         credits,
		PackageID:       "pkg_popular",
		Amount:          2900,
		Currency:        "USD",
		OccurredAt:      time.Now().UTC(),
	}
}

func TestProcessEventCreditsPurchase(t *testing.T) {
	svc, gdb, workspaceID := setupPaymentService(t)
	payload := []byte(`{"type":"payment.succeeded"}`)

	err := svc.ProcessEvent(context.Background(), purchaseEvent(workspaceID, "pay_1", 25), payload)
	require.NoError(t, err)

	var ws workspacedomain.Workspace
	require.NoError(t, gdb.First(&ws, "id = ?", workspaceID).Error)
	require.EqualValues(t, 35, ws.Credits)

	var record paymentdomain.EventRecord
	require.NoError(t, gdb.First(&record, "provider_event_id = ?", "payment.succeeded:pay_1").Error)
	require.NotNil(t, record.ProcessedAt)
}

func TestProcessEventRedeliveryIsNoop(t *testing.T) {
	svc, gdb, workspaceID := setupPaymentService(t)
	payload := []byte(`{"type":"payment.succeeded"}`)

	require.NoError(t, svc.ProcessEvent(context.Background(), purchaseEvent(workspaceID, "pay_1", 25), payload))

	err := svc.ProcessEvent(context.Background(), purchaseEvent(workspaceID, "pay_1", 25), payload)
	require.ErrorIs(t, err, paymentdomain.ErrEventAlreadyProcessed)

	var ws workspacedomain.Workspace
	require.NoError(t, gdb.First(&ws, "id = ?", workspaceID).Error)
	require.EqualValues(t, 35, ws.Credits)

	var txns int64
	require.NoError(t, gdb.Model(&creditdomain.CreditTransaction{}).Count(&txns).Error)
	require.EqualValues(t, 1, txns)
}

func TestProcessEventRecoversUnprocessedInboxRow(t *testing.T) {
	// A crash between inbox insert and ledger write leaves processed_at
	// NULL; the next redelivery must finish the work exactly once.
	svc, gdb, workspaceID := setupPaymentService(t)
	payload := []byte(`{"type":"payment.succeeded"}`)

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	require.NoError(t, gdb.Create(&paymentdomain.EventRecord{
		ID:              node.Generate(),
		WorkspaceID:     workspaceID,
		Provider:        "dodo",
		ProviderEventID: "payment.succeeded:pay_1",
		EventType:       paymentdomain.EventTypePaymentSucceeded,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      time.Now().UTC(),
	}).Error)

	require.NoError(t, svc.ProcessEvent(context.Background(), purchaseEvent(workspaceID, "pay_1", 25), payload))

	var ws workspacedomain.Workspace
	require.NoError(t, gdb.First(&ws, "id = ?", workspaceID).Error)
	require.EqualValues(t, 35, ws.Credits)

	var record paymentdomain.EventRecord
	require.NoError(t, gdb.First(&record, "provider_event_id = ?", "payment.succeeded:pay_1").Error)
	require.NotNil(t, record.ProcessedAt)
}

func TestProcessEventRefund(t *testing.T) {
	svc, gdb, workspaceID := setupPaymentService(t)
	payload := []byte(`{"type":"payment.succeeded"}`)

	require.NoError(t, svc.ProcessEvent(context.Background(), purchaseEvent(workspaceID, "pay_1", 25), payload))

	refund := &paymentdomain.PaymentEvent{
		Provider:        "dodo",
		ProviderEventID: "refund.succeeded:ref_1",
		PaymentID:       "pay_1",
		Type:            paymentdomain.EventTypeRefundSucceeded,
		WorkspaceID:     workspaceID,
		Credits:         25,
		Currency:        "USD",
		OccurredAt:      time.Now().UTC(),
	}
	require.NoError(t, svc.ProcessEvent(context.Background(), refund, []byte(`{"type":"refund.succeeded"}`)))

	var ws workspacedomain.Workspace
	require.NoError(t, gdb.First(&ws, "id = ?", workspaceID).Error)
	require.EqualValues(t, 10, ws.Credits)
}

func TestProcessEventFailureHasNoLedgerEffect(t *testing.T) {
	svc, gdb, workspaceID := setupPaymentService(t)

	failed := &paymentdomain.PaymentEvent{
		Provider:        "dodo",
		ProviderEventID: "payment.failed:pay_1",
		PaymentID:       "pay_1",
		Type:            paymentdomain.EventTypePaymentFailed,
		WorkspaceID:     workspaceID,
		Credits:         25,
		Currency:        "USD",
		OccurredAt:      time.Now().UTC(),
	}
	require.NoError(t, svc.ProcessEvent(context.Background(), failed, []byte(`{"type":"payment.failed"}`)))

	var ws workspacedomain.Workspace
	require.NoError(t, gdb.First(&ws, "id = ?", workspaceID).Error)
	require.EqualValues(t, 10, ws.Credits)

	var txns int64
	require.NoError(t, gdb.Model(&creditdomain.CreditTransaction{}).Count(&txns).Error)
	require.EqualValues(t, 0, txns)
}

func TestProcessEventValidation(t *testing.T) {
	svc, _, workspaceID := setupPaymentService(t)
	ctx := context.Background()

	err := svc.ProcessEvent(ctx, nil, []byte(`{}`))
	require.ErrorIs(t, err, paymentdomain.ErrInvalidEvent)

	event := purchaseEvent(workspaceID, "pay_1", 25)
	err = svc.ProcessEvent(ctx, event, []byte(`not-json`))
	require.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)

	bad := purchaseEvent(0, "pay_1", 25)
	err = svc.ProcessEvent(ctx, bad, []byte(`{}`))
	require.ErrorIs(t, err, paymentdomain.ErrInvalidWorkspace)

	bad = purchaseEvent(workspaceID, "pay_1", 0)
	err = svc.ProcessEvent(ctx, bad, []byte(`{}`))
	require.ErrorIs(t, err, paymentdomain.ErrInvalidCredits)
}
