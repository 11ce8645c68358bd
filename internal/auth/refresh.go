package auth

import (
	"context"
	"fmt"
	"time"
)

// RefreshFunc exchanges the current credential for a new one.
type RefreshFunc func(ctx context.Context, token string) (string, error)

// Refresher re-derives the principal from a refreshed credential.
type Refresher struct {
	resolver *Resolver
	refresh  RefreshFunc
	timeout  time.Duration
}

// NewRefresher builds a Refresher. timeout <= 0 falls back to 10s.
func NewRefresher(resolver *Resolver, fn RefreshFunc, timeout time.Duration) *Refresher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Refresher{resolver: resolver, refresh: fn, timeout: timeout}
}

// Refresh returns the new token and its principal. Any failure, including the
// timeout firing, degrades to a nil principal and ErrUnauthenticated.
func (r *Refresher) Refresh(ctx context.Context, token string) (string, *Principal, error) {
	if r == nil || r.refresh == nil {
		return "", nil, ErrUnauthenticated
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type result struct {
		token string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		tok, err := r.refresh(ctx, token)
		done <- result{token: tok, err: err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return "", nil, fmt.Errorf("%w: refresh: %v", ErrUnauthenticated, ctx.Err())
	case res = <-done:
	}
	if res.err != nil {
		return "", nil, fmt.Errorf("%w: refresh: %v", ErrUnauthenticated, res.err)
	}
	p, err := r.resolver.Resolve(res.token)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return res.token, p, nil
}
