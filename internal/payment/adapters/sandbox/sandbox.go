package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/paymentsvc/internal/payment/domain"
	"go.uber.org/zap"
)

const (
	OpCharge         = "charge"
	OpSchedule       = "schedule"
	OpCancelSchedule = "cancel_schedule"
	OpRefund         = "refund"
	OpFetchDetail    = "fetch_detail"
	OpFetchCard      = "fetch_card"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "sandbox"
}

func (f *Factory) NewGateway(cfg domain.GatewayConfig, log *zap.Logger) (domain.Gateway, error) {
	return New(cfg.Now, log), nil
}

// Gateway is a deterministic in-memory provider. It approves every charge,
// keeps schedules until Settle is called and answers details for the
// transactions it created.
type Gateway struct {
	mu        sync.Mutex
	now       func() time.Time
	log       *zap.Logger
	charges   map[string]*charge
	schedules map[string]*schedule
	cards     map[string]domain.BillingCard
	failures  map[string]error
}

type charge struct {
	transactionID string
	merchantRef   string
	customerRef   string
	amount        int64
	refunded      int64
	paidAt        time.Time
	scheduled     bool
}

type schedule struct {
	merchantRef string
	customerRef string
	amount      int64
	scheduleAt  time.Time
}

func New(now func() time.Time, log *zap.Logger) *Gateway {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{
		now:       now,
		log:       log.Named("gateway.sandbox"),
		charges:   map[string]*charge{},
		schedules: map[string]*schedule{},
		cards:     map[string]domain.BillingCard{},
		failures:  map[string]error{},
	}
}

func (g *Gateway) Provider() string {
	return "sandbox"
}

// FailNext makes the next call of op return err.
func (g *Gateway) FailNext(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[op] = err
}

func (g *Gateway) SetCard(customerRef string, card domain.BillingCard) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cards[customerRef] = card
}

// Settle executes a registered schedule and returns the transaction id the
// gateway would report in its webhook.
func (g *Gateway) Settle(merchantRef string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.schedules[merchantRef]
	if !ok {
		return "", fmt.Errorf("%w: no schedule %s", domain.ErrGatewayRejected, merchantRef)
	}
	delete(g.schedules, merchantRef)
	c := g.newCharge(s.merchantRef, s.customerRef, s.amount, true)
	return c.transactionID, nil
}

func (g *Gateway) HasSchedule(merchantRef string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.schedules[merchantRef]
	return ok
}

func (g *Gateway) Charge(ctx context.Context, req domain.ChargeRequest) (*domain.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure(OpCharge); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.CustomerRef) == "" || req.Amount <= 0 {
		return nil, fmt.Errorf("%w: invalid charge request", domain.ErrGatewayRejected)
	}
	c := g.newCharge(req.MerchantRef, req.CustomerRef, req.Amount, false)
	return &domain.ChargeResult{
		TransactionID: c.transactionID,
		MerchantRef:   c.merchantRef,
		CustomerRef:   c.customerRef,
		PaidAt:        c.paidAt,
		ReceiptURL:    receiptURL(c.transactionID),
	}, nil
}

func (g *Gateway) Schedule(ctx context.Context, req domain.ScheduleRequest) (*domain.ScheduleResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure(OpSchedule); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.MerchantRef) == "" || req.Amount <= 0 {
		return nil, fmt.Errorf("%w: invalid schedule request", domain.ErrGatewayRejected)
	}
	if _, exists := g.schedules[req.MerchantRef]; exists {
		return nil, fmt.Errorf("%w: duplicate merchant ref", domain.ErrGatewayRejected)
	}
	at := req.ScheduleAt.UTC().Truncate(time.Second)
	g.schedules[req.MerchantRef] = &schedule{
		merchantRef: req.MerchantRef,
		customerRef: req.CustomerRef,
		amount:      req.Amount,
		scheduleAt:  at,
	}
	return &domain.ScheduleResult{MerchantRef: req.MerchantRef, CustomerRef: req.CustomerRef, ScheduledAt: at}, nil
}

func (g *Gateway) CancelSchedule(ctx context.Context, customerRef, merchantRef string) error {
	if strings.TrimSpace(merchantRef) == "" {
		return domain.ErrMissingMerchantRef
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure(OpCancelSchedule); err != nil {
		return err
	}
	s, ok := g.schedules[merchantRef]
	if !ok || s.customerRef != customerRef {
		return fmt.Errorf("%w: schedule %s not revocable", domain.ErrGatewayNotApproved, merchantRef)
	}
	delete(g.schedules, merchantRef)
	return nil
}

func (g *Gateway) Refund(ctx context.Context, req domain.RefundRequest) (*domain.RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure(OpRefund); err != nil {
		return nil, err
	}
	c, ok := g.charges[req.TransactionID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown transaction", domain.ErrGatewayRejected)
	}
	if req.Amount <= 0 || c.refunded+req.Amount > c.amount {
		return nil, fmt.Errorf("%w: refund exceeds captured amount", domain.ErrGatewayNotApproved)
	}
	c.refunded += req.Amount
	return &domain.RefundResult{Amount: req.Amount, RefundedAt: g.now()}, nil
}

func (g *Gateway) FetchPaymentDetail(ctx context.Context, transactionID string) (*domain.PaymentDetail, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure(OpFetchDetail); err != nil {
		return nil, err
	}
	c, ok := g.charges[transactionID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown transaction", domain.ErrGatewayRejected)
	}
	return &domain.PaymentDetail{
		TransactionID: c.transactionID,
		MerchantRef:   c.merchantRef,
		CustomerRef:   c.customerRef,
		Amount:        c.amount,
		PaidAt:        c.paidAt,
		ReceiptURL:    receiptURL(c.transactionID),
		Scheduled:     c.scheduled,
	}, nil
}

func (g *Gateway) FetchBillingCard(ctx context.Context, customerRef string) (*domain.BillingCard, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure(OpFetchCard); err != nil {
		return nil, err
	}
	if card, ok := g.cards[customerRef]; ok {
		return &card, nil
	}
	return &domain.BillingCard{CardName: "Sandbox Card", CardNumber: "0000-****-****-0000"}, nil
}

func (g *Gateway) newCharge(merchantRef, customerRef string, amount int64, scheduled bool) *charge {
	c := &charge{
		transactionID: "imps_" + strings.ToLower(ulid.Make().String()),
		merchantRef:   merchantRef,
		customerRef:   customerRef,
		amount:        amount,
		paidAt:        g.now().Truncate(time.Second),
		scheduled:     scheduled,
	}
	g.charges[c.transactionID] = c
	g.log.Debug("sandbox charge", zap.String("transaction_id", c.transactionID), zap.Bool("scheduled", scheduled))
	return c
}

func (g *Gateway) takeFailure(op string) error {
	err, ok := g.failures[op]
	if !ok {
		return nil
	}
	delete(g.failures, op)
	return err
}

func receiptURL(transactionID string) string {
	return "https://sandbox.paymentsvc.local/receipts/" + transactionID
}
