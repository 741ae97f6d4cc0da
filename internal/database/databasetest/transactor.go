// Package databasetest provides a Transactor for repository fakes
package databasetest

import (
	"context"
	"sync"
)

type txKey struct{}

// SerialTransactor serializes units of work the way row locks would for a single entity.
// It does not roll back fake state on error.
type SerialTransactor struct {
	mu sync.Mutex
}

// WithinTransaction runs fn while holding the transactor lock
func (t *SerialTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return fn(context.WithValue(ctx, txKey{}, true))
}
