package apikey

import (
	"github.com/listinglens/listinglens/internal/apikey/repository"
	"github.com/listinglens/listinglens/internal/apikey/service"
	"go.uber.org/fx"
)

var Module = fx.Module("apikey.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
