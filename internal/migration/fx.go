package migration

import (
	apikeydomain "github.com/listinglens/listinglens/internal/apikey/domain"
	"github.com/listinglens/listinglens/internal/config"
	creditdomain "github.com/listinglens/listinglens/internal/credit/domain"
	generationdomain "github.com/listinglens/listinglens/internal/generation/domain"
	paymentdomain "github.com/listinglens/listinglens/internal/payment/domain"
	"github.com/listinglens/listinglens/internal/seed"
	templatedomain "github.com/listinglens/listinglens/internal/template/domain"
	workspacedomain "github.com/listinglens/listinglens/internal/workspace/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			// sqlite and mysql are local development targets; let gorm
			// derive the schema instead of maintaining parallel SQL.
			if err := conn.AutoMigrate(
				&workspacedomain.Workspace{},
				&workspacedomain.WorkspaceMember{},
				&apikeydomain.APIKey{},
				&creditdomain.CreditTransaction{},
				&creditdomain.CreditPackage{},
				&paymentdomain.EventRecord{},
				&generationdomain.EnhancementJob{},
				&templatedomain.StyleTemplate{},
			); err != nil {
				return err
			}
		}

		return seed.EnsureCatalog(conn)
	}),
)
