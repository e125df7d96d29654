package payment

import (
	"github.com/listinglens/listinglens/internal/payment/adapters"
	"github.com/listinglens/listinglens/internal/payment/adapters/dodo"
	"github.com/listinglens/listinglens/internal/payment/repository"
	paymentservice "github.com/listinglens/listinglens/internal/payment/service"
	"github.com/listinglens/listinglens/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			dodo.NewFactory(),
		)
	}),
	fx.Provide(paymentservice.NewService),
	fx.Provide(webhook.NewService),
)
