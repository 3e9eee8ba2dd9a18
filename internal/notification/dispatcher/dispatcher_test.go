package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paymentsvc/internal/clock"
	"github.com/smallbiznis/paymentsvc/internal/config"
	"github.com/smallbiznis/paymentsvc/internal/notification/domain"
	"github.com/smallbiznis/paymentsvc/internal/notification/repository"
	"github.com/smallbiznis/paymentsvc/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordingEmitter struct {
	mu       sync.Mutex
	messages []domain.Message
	failWith error
}

func (e *recordingEmitter) Publish(ctx context.Context, msg domain.Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failWith != nil {
		return e.failWith
	}
	e.messages = append(e.messages, msg)
	return nil
}

func (e *recordingEmitter) Close() error { return nil }

func (e *recordingEmitter) published() []domain.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.Message(nil), e.messages...)
}

type fixture struct {
	db      *gorm.DB
	repo    domain.Repository
	emitter *recordingEmitter
	clock   *clock.FakeClock
	node    *snowflake.Node
	d       *Dispatcher
}

func newFixture(t *testing.T, cfg config.OutboxConfig) *fixture {
	t.Helper()
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	f := &fixture{
		db:      testutil.NewDB(t),
		repo:    repository.Provide(),
		emitter: &recordingEmitter{},
		clock:   clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		node:    node,
	}
	f.d = New(Params{
		DB:      f.db,
		Log:     zap.NewNop(),
		Repo:    f.repo,
		Emitter: f.emitter,
		Config:  config.NewStaticOutboxConfigHolder(cfg),
		Clock:   f.clock,
	})
	return f
}

func (f *fixture) enqueue(t *testing.T, paymentID string) *domain.Message {
	t.Helper()
	msg, err := domain.NewPaymentCompleted(f.node.Generate(), domain.PaymentCompleted{DomainToken: "d1", PaymentID: paymentID}, f.clock.Now())
	require.NoError(t, err)
	require.NoError(t, f.repo.Insert(context.Background(), f.db, msg))
	return msg
}

func (f *fixture) reload(t *testing.T, paymentID string) *domain.Message {
	t.Helper()
	msg, err := f.repo.FindByAggregate(context.Background(), f.db, domain.EventPaymentCompleted, paymentID)
	require.NoError(t, err)
	require.NotNil(t, msg)
	return msg
}

func TestDispatchPendingPublishesOnce(t *testing.T) {
	f := newFixture(t, config.DefaultOutboxConfig())
	f.enqueue(t, "pay-1")
	f.enqueue(t, "pay-2")

	n, err := f.d.DispatchPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	published := f.emitter.published()
	require.Len(t, published, 2)
	assert.Equal(t, "d1", published[0].PartitionKey)
	assert.JSONEq(t, `{"domainToken":"d1","paymentId":"pay-1"}`, string(published[0].Payload))

	msg := f.reload(t, "pay-1")
	assert.Equal(t, domain.StatusPublished, msg.Status)
	assert.Equal(t, 1, msg.Attempts)
	assert.NotNil(t, msg.PublishedAt)

	f.clock.Advance(time.Hour)
	n, err = f.d.DispatchPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, f.emitter.published(), 2)
}

func TestDispatchPendingRetriesThenFails(t *testing.T) {
	cfg := config.DefaultOutboxConfig()
	cfg.MaxAttempts = 2
	cfg.RetryBackoff = time.Minute
	f := newFixture(t, cfg)
	f.emitter.failWith = errors.New("broker down")
	f.enqueue(t, "pay-1")

	n, err := f.d.DispatchPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	msg := f.reload(t, "pay-1")
	assert.Equal(t, domain.StatusPending, msg.Status)
	assert.Equal(t, 1, msg.Attempts)
	require.NotNil(t, msg.LastError)
	assert.Equal(t, "broker down", *msg.LastError)
	assert.True(t, msg.NextAttemptAt.After(f.clock.Now()))

	// not due yet
	_, err = f.d.DispatchPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.reload(t, "pay-1").Attempts)

	f.clock.Advance(2 * time.Minute)
	_, err = f.d.DispatchPending(context.Background())
	require.NoError(t, err)

	msg = f.reload(t, "pay-1")
	assert.Equal(t, domain.StatusFailed, msg.Status)
	assert.Equal(t, 2, msg.Attempts)
}

func TestDispatchRecoversAfterTransientFailure(t *testing.T) {
	cfg := config.DefaultOutboxConfig()
	cfg.RetryBackoff = time.Second
	f := newFixture(t, cfg)
	f.emitter.failWith = errors.New("timeout")
	f.enqueue(t, "pay-1")

	_, err := f.d.DispatchPending(context.Background())
	require.NoError(t, err)

	f.emitter.mu.Lock()
	f.emitter.failWith = nil
	f.emitter.mu.Unlock()
	f.clock.Advance(time.Minute)

	n, err := f.d.DispatchPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	msg := f.reload(t, "pay-1")
	assert.Equal(t, domain.StatusPublished, msg.Status)
	assert.Equal(t, 2, msg.Attempts)
	assert.Nil(t, msg.LastError)
}

func TestStartStop(t *testing.T) {
	cfg := config.DefaultOutboxConfig()
	cfg.PollInterval = 10 * time.Millisecond
	f := newFixture(t, cfg)
	f.enqueue(t, "pay-1")

	require.NoError(t, f.d.Start())
	assert.Error(t, f.d.Start())

	assert.Eventually(t, func() bool { return len(f.emitter.published()) == 1 }, time.Second, 10*time.Millisecond)
	f.d.Stop()
	f.d.Stop()
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, backoff(time.Second, 1))
	assert.Equal(t, 4*time.Second, backoff(time.Second, 3))
	assert.Equal(t, 32*time.Second, backoff(time.Second, 12))
}
