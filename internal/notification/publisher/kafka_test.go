package publisher

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/paymentsvc/internal/notification/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kfake"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func completedMessage(t *testing.T) *domain.Message {
	t.Helper()
	msg, err := domain.NewPaymentCompleted(42, domain.PaymentCompleted{
		DomainToken: "sub-1",
		PaymentID:   "pay-1",
	}, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return msg
}

func TestKafkaEmitterPublishesKeyedRecord(t *testing.T) {
	const topic = "payments.completed"
	cluster, err := kfake.NewCluster(kfake.NumBrokers(1), kfake.SeedTopics(1, topic))
	require.NoError(t, err)
	t.Cleanup(cluster.Close)

	emitter, err := NewKafkaEmitter(KafkaConfig{
		Brokers:  cluster.ListenAddrs(),
		ClientID: "paymentsvc-test",
		Topic:    topic,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = emitter.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg := completedMessage(t)
	require.NoError(t, emitter.Publish(ctx, *msg))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(cluster.ListenAddrs()...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	t.Cleanup(consumer.Close)

	var records []*kgo.Record
	for len(records) == 0 {
		fetches := consumer.PollFetches(ctx)
		require.NoError(t, ctx.Err())
		require.Empty(t, fetches.Errors())
		records = append(records, fetches.Records()...)
	}

	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "sub-1", string(rec.Key))
	assert.JSONEq(t, `{"domainToken":"sub-1","paymentId":"pay-1"}`, string(rec.Value))

	headers := map[string]string{}
	for _, h := range rec.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, domain.EventPaymentCompleted, headers["event"])
	assert.Equal(t, msg.ID.String(), headers["message_id"])
}

func TestKafkaEmitterDefaultsTopicToEventName(t *testing.T) {
	emitter, err := NewKafkaEmitter(KafkaConfig{Brokers: []string{"127.0.0.1:1"}}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = emitter.Close() })
	assert.Equal(t, domain.EventPaymentCompleted, emitter.topic)

	_, err = NewKafkaEmitter(KafkaConfig{}, zap.NewNop())
	assert.Error(t, err)
}

func TestLogEmitterWritesNotification(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	emitter := NewLogEmitter(zap.New(core))

	msg := completedMessage(t)
	require.NoError(t, emitter.Publish(context.Background(), *msg))
	require.NoError(t, emitter.Close())

	entries := logs.FilterMessage("notification").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, domain.EventPaymentCompleted, fields["event"])
	assert.Equal(t, msg.ID.String(), fields["message_id"])
	assert.Equal(t, "pay-1", fields["aggregate_id"])
}
