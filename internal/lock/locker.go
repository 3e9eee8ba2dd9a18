package lock

import (
	"context"
	"errors"
	"time"
)

var ErrNotAcquired = errors.New("lock_not_acquired")

// Locker serializes read-modify-write sequences per key. Acquire blocks until
// the key is free, the context ends or the wait budget runs out; the last two
// yield ErrNotAcquired.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

const retryInterval = 25 * time.Millisecond

func BillingKey(identityToken string) string {
	return "billing:" + identityToken
}

func PaymentKey(paymentID string) string {
	return "payment:" + paymentID
}
