package workspace

import (
	"go.uber.org/fx"

	"github.com/listinglens/listinglens/internal/workspace/repository"
	"github.com/listinglens/listinglens/internal/workspace/service"
)

var Module = fx.Module("workspace.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
