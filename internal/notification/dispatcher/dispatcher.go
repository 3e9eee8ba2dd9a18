package dispatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/smallbiznis/paymentsvc/internal/clock"
	"github.com/smallbiznis/paymentsvc/internal/config"
	"github.com/smallbiznis/paymentsvc/internal/notification/domain"
	obsmetrics "github.com/smallbiznis/paymentsvc/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxErrorLength = 512

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Repo    domain.Repository
	Emitter domain.Emitter
	Config  *config.OutboxConfigHolder
	Clock   clock.Clock
	Metrics *obsmetrics.OutboxMetrics `optional:"true"`
}

// Dispatcher drains the payment outbox into the Emitter.
type Dispatcher struct {
	db      *gorm.DB
	log     *zap.Logger
	repo    domain.Repository
	emitter domain.Emitter
	config  *config.OutboxConfigHolder
	clock   clock.Clock
	metrics *obsmetrics.OutboxMetrics

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

func New(p Params) *Dispatcher {
	return &Dispatcher{
		db:      p.DB,
		log:     p.Log.Named("notification.dispatcher"),
		repo:    p.Repo,
		emitter: p.Emitter,
		config:  p.Config,
		clock:   p.Clock,
		metrics: p.Metrics,
	}
}

func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return errors.New("dispatcher already running")
	}
	d.running = true
	d.stopCh = make(chan struct{})

	d.wg.Add(1)
	go d.loop()
	d.log.Info("outbox dispatcher started")
	return nil
}

func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.stopCh)
	d.mu.Unlock()

	d.wg.Wait()
	d.log.Info("outbox dispatcher stopped")
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-d.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		if _, err := d.DispatchPending(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.log.Error("outbox poll failed", zap.Error(err))
		}

		timer := time.NewTimer(d.config.Get().PollInterval)
		select {
		case <-d.stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// DispatchPending publishes one batch of due messages and returns how many
// were published.
func (d *Dispatcher) DispatchPending(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { d.metrics.ObserveBatch(time.Since(start)) }()

	cfg := d.config.Get()
	now := d.clock.Now()

	messages, err := d.repo.ListDue(ctx, d.db, now, cfg.BatchSize)
	if err != nil {
		d.metrics.IncError(err)
		return 0, err
	}

	published := 0
	for _, msg := range messages {
		if ctx.Err() != nil {
			return published, ctx.Err()
		}
		ok, err := d.dispatch(ctx, msg, cfg, now)
		if err != nil {
			d.metrics.IncError(err)
			d.log.Error("outbox dispatch failed", zap.String("message_id", msg.ID.String()), zap.Error(err))
			continue
		}
		if ok {
			published++
		}
	}

	if backlog, err := d.repo.CountPending(ctx, d.db); err == nil {
		d.metrics.SetBacklog(backlog)
	}
	return published, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, msg *domain.Message, cfg config.OutboxConfig, now time.Time) (bool, error) {
	claimed, err := d.repo.Claim(ctx, d.db, msg, now, now.Add(cfg.RetryBackoff))
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}

	attempts := msg.Attempts + 1
	publishErr := d.emitter.Publish(ctx, *msg)
	if publishErr == nil {
		if err := d.repo.MarkPublished(ctx, d.db, msg.ID, d.clock.Now()); err != nil {
			return false, err
		}
		d.metrics.AddDispatched(obsmetrics.OutboxStatusPublished, 1)
		return true, nil
	}

	d.metrics.IncError(&obsmetrics.PublishError{Err: publishErr})
	lastErr := truncate(publishErr.Error())
	if attempts >= cfg.MaxAttempts {
		d.log.Error("outbox message exhausted retries",
			zap.String("message_id", msg.ID.String()),
			zap.String("event", msg.EventType),
			zap.Int("attempts", attempts),
			zap.Error(publishErr),
		)
		d.metrics.AddDispatched(obsmetrics.OutboxStatusFailed, 1)
		return false, d.repo.MarkFailed(ctx, d.db, msg.ID, attempts, lastErr)
	}

	d.log.Warn("outbox publish failed, will retry",
		zap.String("message_id", msg.ID.String()),
		zap.Int("attempts", attempts),
		zap.Error(publishErr),
	)
	d.metrics.AddDispatched(obsmetrics.OutboxStatusRetry, 1)
	return false, d.repo.MarkRetry(ctx, d.db, msg.ID, attempts, lastErr, now.Add(backoff(cfg.RetryBackoff, attempts)))
}

// backoff doubles base per attempt, capped at 32x.
func backoff(base time.Duration, attempts int) time.Duration {
	shift := attempts - 1
	if shift > 5 {
		shift = 5
	}
	if shift < 0 {
		shift = 0
	}
	return base << shift
}

func truncate(s string) string {
	if len(s) <= maxErrorLength {
		return s
	}
	return s[:maxErrorLength]
}
