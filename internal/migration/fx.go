package migration

import (
	"github.com/smallbiznis/paymentsvc/internal/config"
	"github.com/smallbiznis/paymentsvc/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		log = log.Named("migration")
		if !cfg.DBMigrateOnStart {
			log.Info("schema migration disabled")
			return nil
		}
		if cfg.DBType != db.DialectPostgres {
			log.Warn("schema migration only runs on postgres, expecting a provisioned schema",
				zap.String("type", cfg.DBType),
			)
			return nil
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		if err := RunMigrations(sqlDB); err != nil {
			return err
		}
		log.Info("schema migrated")
		return nil
	}),
)
