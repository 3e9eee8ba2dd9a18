package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paymentsvc/internal/billing"
	"github.com/smallbiznis/paymentsvc/internal/clock"
	"github.com/smallbiznis/paymentsvc/internal/config"
	"github.com/smallbiznis/paymentsvc/internal/lock"
	"github.com/smallbiznis/paymentsvc/internal/migration"
	"github.com/smallbiznis/paymentsvc/internal/notification"
	"github.com/smallbiznis/paymentsvc/internal/observability"
	"github.com/smallbiznis/paymentsvc/internal/payment"
	"github.com/smallbiznis/paymentsvc/internal/server"
	"github.com/smallbiznis/paymentsvc/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		lock.Module,

		// Functional Domains
		billing.Module,
		payment.Module,
		notification.Module,

		server.Module,

		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
