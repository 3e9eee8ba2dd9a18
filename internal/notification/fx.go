package notification

import (
	"context"

	"github.com/smallbiznis/paymentsvc/internal/config"
	"github.com/smallbiznis/paymentsvc/internal/notification/dispatcher"
	"github.com/smallbiznis/paymentsvc/internal/notification/domain"
	"github.com/smallbiznis/paymentsvc/internal/notification/publisher"
	"github.com/smallbiznis/paymentsvc/internal/notification/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notification",
	fx.Provide(repository.Provide),
	fx.Provide(NewEmitter),
	fx.Provide(dispatcher.New),
	fx.Invoke(runDispatcher),
)

func NewEmitter(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (domain.Emitter, error) {
	notifyCfg := cfg.Notification
	if len(notifyCfg.Brokers) == 0 {
		log.Warn("no kafka brokers configured, notifications go to the log")
		return publisher.NewLogEmitter(log), nil
	}

	emitter, err := publisher.NewKafkaEmitter(publisher.KafkaConfig{
		Brokers:  notifyCfg.Brokers,
		ClientID: notifyCfg.ClientID,
		Topic:    notifyCfg.Topic,
	}, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := emitter.Ping(ctx); err != nil {
				log.Warn("kafka not reachable yet", zap.Error(err))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return emitter.Close()
		},
	})
	return emitter, nil
}

func runDispatcher(lc fx.Lifecycle, d *dispatcher.Dispatcher) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return d.Start()
		},
		OnStop: func(ctx context.Context) error {
			d.Stop()
			return nil
		},
	})
}
