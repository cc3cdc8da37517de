// Package lock serializes writers on one identity. Upserts take the lock of
// their document number, then the lock of the stored entity they resolved to,
// always in that order.
package lock

import (
	"context"
	"time"

	dErrors "kycvault/pkg/domain-errors"
)

// DefaultTimeout bounds the lock wait when the caller's context has no deadline.
const DefaultTimeout = 5 * time.Second

// Locker runs fn while holding the lock for key.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

func withDefaultTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

func lockAborted(err error) error {
	return dErrors.Wrap(err, dErrors.CodeTimeout, "record lock not acquired")
}
