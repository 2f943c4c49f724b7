// Package locker serializes mutations of a single payment record or consultant account.
// Different keys never contend.
package locker

import (
	"context"
	"errors"
)

var ErrLockTimeout = errors.New("locker: timed out waiting for lock")

type Locker interface {
	// Lock blocks until the key is held or ctx is done. The returned func releases it.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

func PaymentKey(intentID string) string { return "payment:" + intentID }

func AccountKey(connectedAccountID string) string { return "account:" + connectedAccountID }
