package logging

import (
	"context"
	"time"
)

// DetachContext returns a context that keeps parent's values but is not
// cancelled when parent is.
func DetachContext(parent context.Context) context.Context {
	return context.WithoutCancel(parent)
}

// DetachContextWithTimeout detaches from parent and applies its own timeout.
//
//	ctx, cancel := logging.DetachContextWithTimeout(ctx, 5*time.Second)
//	defer cancel()
//	err := store.Record(ctx, rec)
func DetachContextWithTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), timeout)
}
