package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/listinglens/listinglens/internal/config"
	"github.com/listinglens/listinglens/internal/payment/adapters"
	paymentdomain "github.com/listinglens/listinglens/internal/payment/domain"
	paymentservice "github.com/listinglens/listinglens/internal/payment/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	PaymentSvc *paymentservice.Service
	Adapters   *adapters.Registry
	Cfg        config.Config
}

type Service struct {
	log        *zap.Logger
	paymentSvc *paymentservice.Service
	adapters   *adapters.Registry
	secret     string
	production bool
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		log:        p.Log.Named("payment.webhook"),
		paymentSvc: p.PaymentSvc,
		adapters:   p.Adapters,
		secret:     strings.TrimSpace(p.Cfg.PaymentWebhookSecret),
		production: p.Cfg.IsProduction(),
	}
}

func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	if s.adapters == nil || !s.adapters.ProviderExists(provider) {
		return paymentdomain.ErrProviderNotFound
	}
	if !json.Valid(payload) {
		return paymentdomain.ErrInvalidPayload
	}

	// Unverified ingestion is a development convenience only. Production
	// without a secret is a hard configuration error, never a silent pass.
	allowUnverified := s.secret == "" && !s.production
	if s.secret == "" && s.production {
		return paymentdomain.ErrInvalidConfig
	}

	adapter, err := s.adapters.NewAdapter(provider, paymentdomain.AdapterConfig{
		Provider: provider,
		Config: map[string]any{
			"webhook_secret":   s.secret,
			"allow_unverified": allowUnverified,
		},
	})
	if err != nil {
		return err
	}

	if allowUnverified {
		s.log.Warn("accepting unverified webhook outside production", zap.String("provider", provider))
	} else if err := adapter.Verify(ctx, payload, headers); err != nil {
		return err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			s.log.Debug("ignoring unhandled webhook event", zap.String("provider", provider))
			return nil
		}
		return err
	}
	if event.RawPayload == nil {
		event.RawPayload = payload
	}

	err = s.paymentSvc.ProcessEvent(ctx, event, payload)
	if errors.Is(err, paymentdomain.ErrEventAlreadyProcessed) {
		s.log.Info("webhook event already processed",
			zap.String("provider", provider),
			zap.String("provider_event_id", event.ProviderEventID),
		)
		return nil
	}
	return err
}
