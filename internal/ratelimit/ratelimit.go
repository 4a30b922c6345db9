// Package ratelimit implements the per-connection sliding-window
// message limiter on top of github.com/ulule/limiter/v3, the same
// rate-limiting library used elsewhere in the signaling stack for HTTP
// and WebSocket admission control.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// Limiter admits or denies inbound frames for a single connection
// under an N-per-W sliding window.
type Limiter struct {
	inner *limiter.Limiter
	key   string
}

// Factory builds one Limiter per connection, all backed by a single
// shared in-memory store so the sweep goroutine ulule/limiter runs
// internally is not duplicated per connection.
type Factory struct {
	store limiter.Store
	rate  limiter.Rate
}

// NewFactory constructs a Factory admitting n messages per window.
func NewFactory(n int64, window time.Duration) *Factory {
	return &Factory{
		store: memory.NewStore(),
		rate:  limiter.Rate{Period: window, Limit: n},
	}
}

// For returns a Limiter scoped to clientID. Each connection must call
// this exactly once and reuse the result; the underlying key is only
// unique per clientID within a single Factory; callers running
// multiple rooms from one Factory must namespace clientID themselves
// (the hub does this by combining room code and clientId).
func (f *Factory) For(clientID string) *Limiter {
	return &Limiter{
		inner: limiter.New(f.store, f.rate),
		key:   clientID,
	}
}

// TryAdmit reports whether a frame arriving now should be relayed.
func (l *Limiter) TryAdmit(ctx context.Context) (bool, error) {
	ctx2, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	result, err := l.inner.Get(ctx2, l.key)
	if err != nil {
		return false, fmt.Errorf("rate limiter: %w", err)
	}
	return !result.Reached, nil
}
