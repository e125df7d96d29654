package template

import (
	"go.uber.org/fx"

	"github.com/listinglens/listinglens/internal/template/repository"
	"github.com/listinglens/listinglens/internal/template/service"
)

var Module = fx.Module("template.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
