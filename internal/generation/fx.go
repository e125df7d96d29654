package generation

import (
	"go.uber.org/fx"

	"github.com/listinglens/listinglens/internal/generation/dispatch"
	"github.com/listinglens/listinglens/internal/generation/repository"
	"github.com/listinglens/listinglens/internal/generation/service"
	"github.com/listinglens/listinglens/internal/providers/imagen"
)

var Module = fx.Module("generation.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(p imagen.Provider) dispatch.Client { return p }),
	fx.Provide(service.NewService),
)
