package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/listinglens/listinglens/internal/cloudmetrics"
	creditdomain "github.com/listinglens/listinglens/internal/credit/domain"
	obsmetrics "github.com/listinglens/listinglens/internal/observability/metrics"
	paymentdomain "github.com/listinglens/listinglens/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	GenID      *snowflake.Node
	CreditSvc  creditdomain.Service
	Repo       paymentdomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	genID      *snowflake.Node
	creditSvc  creditdomain.Service
	repo       paymentdomain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		log:        p.Log.Named("payment.service"),
		genID:      p.GenID,
		creditSvc:  p.CreditSvc,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
	}
}

// ProcessEvent records the delivery in the inbox and applies its credit
// effect. The inbox dedupes provider redelivery; the ledger's correlation
// keys close the remaining race, so a crash between insert and ledger write
// is recovered by the next redelivery without double-crediting.
func (s *Service) ProcessEvent(ctx context.Context, event *paymentdomain.PaymentEvent, payload []byte) error {
	if event == nil {
		return paymentdomain.ErrInvalidEvent
	}
	if !json.Valid(payload) {
		return paymentdomain.ErrInvalidPayload
	}
	if err := validateEvent(event); err != nil {
		return err
	}

	now := time.Now().UTC()
	received := paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		WorkspaceID:     event.WorkspaceID,
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      now,
	}

	inserted, err := s.repo.InsertEvent(ctx, &received)
	if err != nil {
		return err
	}
	stored := &received
	if !inserted {
		stored, err = s.repo.LoadEvent(ctx, event.Provider, event.ProviderEventID)
		if err != nil {
			return err
		}
		if stored == nil {
			return paymentdomain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			return paymentdomain.ErrEventAlreadyProcessed
		}
	}

	if err := s.applyCreditEffect(ctx, event); err != nil {
		return err
	}

	if err := s.repo.MarkProcessed(ctx, stored.ID, now); err != nil {
		return err
	}

	if inserted {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordPaymentEvent(ctx, event.Provider, event.Type)
		}
		cloudmetrics.RecordPayment(event.Provider)
	}

	return nil
}

func (s *Service) applyCreditEffect(ctx context.Context, event *paymentdomain.PaymentEvent) error {
	switch event.Type {
	case paymentdomain.EventTypePaymentSucceeded:
		description := fmt.Sprintf("purchase of %d credits", event.Credits)
		balance, err := s.creditSvc.AddCredits(ctx, event.WorkspaceID, event.Credits, event.PaymentID, event.PackageID, description)
		if err != nil {
			return err
		}
		if balance == nil {
			s.log.Info("payment already credited",
				zap.String("payment_id", event.PaymentID),
				zap.String("workspace_id", event.WorkspaceID.String()),
			)
		}
		return nil

	case paymentdomain.EventTypeRefundSucceeded:
		description := fmt.Sprintf("refund of %d credits", event.Credits)
		balance, err := s.creditSvc.RefundCredits(ctx, event.WorkspaceID, event.Credits, event.PaymentID, description)
		if err != nil {
			return err
		}
		if balance == nil {
			s.log.Info("refund already applied",
				zap.String("payment_id", event.PaymentID),
				zap.String("workspace_id", event.WorkspaceID.String()),
			)
		}
		return nil

	case paymentdomain.EventTypePaymentFailed, paymentdomain.EventTypeRefundFailed:
		// recorded for audit; no ledger effect
		s.log.Warn("payment provider reported failure",
			zap.String("event_type", event.Type),
			zap.String("payment_id", event.PaymentID),
			zap.String("workspace_id", event.WorkspaceID.String()),
		)
		return nil

	default:
		return paymentdomain.ErrInvalidEvent
	}
}

func validateEvent(event *paymentdomain.PaymentEvent) error {
	event.Provider = strings.ToLower(strings.TrimSpace(event.Provider))
	if event.Provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	event.ProviderEventID = strings.TrimSpace(event.ProviderEventID)
	if event.ProviderEventID == "" {
		return paymentdomain.ErrInvalidEvent
	}
	event.PaymentID = strings.TrimSpace(event.PaymentID)
	if event.PaymentID == "" {
		return paymentdomain.ErrInvalidEvent
	}
	event.Type = strings.TrimSpace(event.Type)
	if event.Type == "" {
		return paymentdomain.ErrInvalidEvent
	}
	if event.WorkspaceID == 0 {
		return paymentdomain.ErrInvalidWorkspace
	}
	if event.Credits <= 0 {
		return paymentdomain.ErrInvalidCredits
	}
	if event.OccurredAt.IsZero() {
		return paymentdomain.ErrInvalidEvent
	}
	return nil
}
