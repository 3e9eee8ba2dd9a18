package publisher

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/paymentsvc/internal/notification/domain"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

type KafkaConfig struct {
	Brokers  []string
	ClientID string
	Topic    string
}

// KafkaEmitter publishes outbox messages keyed by domain token so events of
// one subscription stay ordered within a partition.
type KafkaEmitter struct {
	client *kgo.Client
	topic  string
	log    *zap.Logger
}

func NewKafkaEmitter(cfg KafkaConfig, log *zap.Logger) (*KafkaEmitter, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		topic = domain.EventPaymentCompleted
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	return &KafkaEmitter{
		client: client,
		topic:  topic,
		log:    log.Named("notification.kafka"),
	}, nil
}

func (e *KafkaEmitter) Publish(ctx context.Context, msg domain.Message) error {
	record := &kgo.Record{
		Topic: e.topic,
		Key:   []byte(msg.PartitionKey),
		Value: []byte(msg.Payload),
		Headers: []kgo.RecordHeader{
			{Key: "event", Value: []byte(msg.EventType)},
			{Key: "message_id", Value: []byte(msg.ID.String())},
		},
	}
	if err := e.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return err
	}
	e.log.Debug("notification published", zap.String("event", msg.EventType), zap.String("message_id", msg.ID.String()))
	return nil
}

func (e *KafkaEmitter) Ping(ctx context.Context) error {
	return e.client.Ping(ctx)
}

func (e *KafkaEmitter) Close() error {
	e.client.Close()
	return nil
}
