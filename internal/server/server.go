package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/paymentsvc/internal/config"
	"github.com/smallbiznis/paymentsvc/internal/observability"
	obsmiddleware "github.com/smallbiznis/paymentsvc/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/paymentsvc/internal/observability/metrics"
	obstracing "github.com/smallbiznis/paymentsvc/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/paymentsvc/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	paymentSvc paymentdomain.Service
	reconciler paymentdomain.Reconciler
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	PaymentSvc paymentdomain.Service
	Reconciler paymentdomain.Reconciler
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		paymentSvc: p.PaymentSvc,
		reconciler: p.Reconciler,
	}

	svc.registerBillingRoutes()
	svc.registerPaymentRoutes()
	svc.registerWebhookRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerBillingRoutes() {
	billings := s.engine.Group("/v1/billings")

	billings.POST("/token", s.IssueBillingToken)
	billings.GET("/:identityToken", s.GetBilling)
	billings.PUT("/:identityToken/card", s.UpdateCard)
	billings.PUT("/:identityToken/phone", s.UpdateContactPhone)
	billings.PUT("/:identityToken/email", s.UpdateContactEmail)
}

func (s *Server) registerPaymentRoutes() {
	payments := s.engine.Group("/v1/payments")

	payments.GET("", s.ListPayments)
	payments.POST("/charge", s.ChargeNow)
	payments.POST("/schedule", s.ScheduleCharge)
	payments.POST("/refund", s.Refund)
	payments.GET("/:paymentId", s.GetPayment)
	payments.POST("/:paymentId/cancel-schedule", s.CancelSchedule)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/gateway", s.HandleGatewayWebhook)
}
