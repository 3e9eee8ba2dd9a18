package publisher

import (
	"context"

	"github.com/smallbiznis/paymentsvc/internal/notification/domain"
	"go.uber.org/zap"
)

// LogEmitter writes notifications to the log. It is selected when no broker
// is configured.
type LogEmitter struct {
	log *zap.Logger
}

func NewLogEmitter(log *zap.Logger) *LogEmitter {
	return &LogEmitter{log: log.Named("notification.log")}
}

func (e *LogEmitter) Publish(ctx context.Context, msg domain.Message) error {
	e.log.Info("notification",
		zap.String("event", msg.EventType),
		zap.String("message_id", msg.ID.String()),
		zap.String("aggregate_id", msg.AggregateID),
		zap.ByteString("payload", msg.Payload),
	)
	return nil
}

func (e *LogEmitter) Close() error {
	return nil
}
