package payment

import (
	"github.com/smallbiznis/paymentsvc/internal/clock"
	"github.com/smallbiznis/paymentsvc/internal/config"
	"github.com/smallbiznis/paymentsvc/internal/payment/adapters"
	"github.com/smallbiznis/paymentsvc/internal/payment/adapters/iamport"
	"github.com/smallbiznis/paymentsvc/internal/payment/adapters/sandbox"
	"github.com/smallbiznis/paymentsvc/internal/payment/domain"
	"github.com/smallbiznis/paymentsvc/internal/payment/repository"
	paymentservice "github.com/smallbiznis/paymentsvc/internal/payment/service"
	"github.com/smallbiznis/paymentsvc/internal/payment/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			iamport.NewFactory(),
			sandbox.NewFactory(),
		)
	}),
	fx.Provide(NewGateway),
	fx.Provide(paymentservice.NewService),
	fx.Provide(webhook.NewService),
)

// NewGateway builds the configured provider client.
func NewGateway(registry *adapters.Registry, cfg config.Config, clk clock.Clock, log *zap.Logger) (domain.Gateway, error) {
	return registry.NewGateway(cfg.Gateway.Provider, domain.GatewayConfig{
		BaseURL:   cfg.Gateway.BaseURL,
		APIKey:    cfg.Gateway.APIKey,
		APISecret: cfg.Gateway.APISecret,
		Timeout:   cfg.Gateway.Timeout,
		RateLimit: cfg.Gateway.RateLimit,
		RateBurst: cfg.Gateway.RateBurst,
		Now:       clk.Now,
	}, log)
}
