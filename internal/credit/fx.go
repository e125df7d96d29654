package credit

import (
	"github.com/listinglens/listinglens/internal/credit/repository"
	"github.com/listinglens/listinglens/internal/credit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("credit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
