package imagen

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/listinglens/listinglens/internal/config"
)

var Module = fx.Module("provider.imagen",
	fx.Provide(provideImageProvider),
)

func provideImageProvider(cfg config.Config, log *zap.Logger) Provider {
	if cfg.ImageGenAPIKey == "" {
		return NewNoOpProvider(log)
	}
	return NewProvider(Config{
		BaseURL: cfg.ImageGenBaseURL,
		APIKey:  cfg.ImageGenAPIKey,
	}, log)
}
