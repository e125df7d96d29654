package cloudmetrics

import (
	"context"
	"runtime"
	"time"

	"github.com/listinglens/listinglens/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const pushInterval = 30 * time.Minute

// Reporter owns the cloud metrics registry and pushes it on an interval.
type Reporter struct {
	registry *prometheus.Registry
	pusher   Pusher
	metrics  *metrics
	log      *zap.Logger
}

func NewReporter(cfg config.Config, pusher Pusher, logger *zap.Logger) *Reporter {
	if pusher == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := prometheus.NewRegistry()
	m := newMetrics(registry)
	setRecorder(&recorder{metrics: m, orgID: cfg.Cloud.OrganizationID})
	return &Reporter{
		registry: registry,
		pusher:   pusher,
		metrics:  m,
		log:      logger.Named("cloudmetrics"),
	}
}

func (r *Reporter) Push(ctx context.Context) error {
	if r == nil {
		return nil
	}
	return r.pusher.Push(ctx, r.registry)
}

func (r *Reporter) collect(ctx context.Context, db *gorm.DB) {
	if r == nil {
		return
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	r.metrics.memoryUsage.Set(float64(m.Sys))

	if db == nil {
		return
	}
	var count int64
	if err := db.WithContext(ctx).Table("workspaces").Count(&count).Error; err != nil {
		return
	}
	r.metrics.workspacesTotal.Set(float64(count))
}

var Module = fx.Module("cloud.metrics",
	fx.Provide(NewPusher),
	fx.Provide(NewReporter),
	fx.Invoke(func(lc fx.Lifecycle, reporter *Reporter, logger *zap.Logger, db *gorm.DB) {
		if reporter == nil {
			return
		}

		if logger == nil {
			logger = zap.NewNop()
		}

		ctx, cancel := context.WithCancel(context.Background())
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				logger.Info("starting cloud metrics background worker")
				go func() {
					ticker := time.NewTicker(pushInterval)
					defer ticker.Stop()

					reporter.collect(ctx, db)
					if err := reporter.Push(ctx); err != nil {
						logger.Error("initial cloud metrics push failed", zap.Error(err))
					}

					for {
						select {
						case <-ticker.C:
							reporter.collect(ctx, db)
							if err := reporter.Push(ctx); err != nil {
								logger.Error("periodic cloud metrics push failed", zap.Error(err))
							}
						case <-ctx.Done():
							logger.Info("stopping cloud metrics background worker")
							return
						}
					}
				}()
				return nil
			},
			OnStop: func(context.Context) error {
				cancel()
				return nil
			},
		})
	}),
)
