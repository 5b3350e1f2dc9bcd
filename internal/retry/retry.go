// Package retry implements the backed-off retry policy for catalog calls
// that fail with a rate-limit signal.
//
// This is deliberately not the same mechanism as the issuance collision
// loop: a uniqueness conflict is answered with a fresh candidate and no
// wait, a rate limit with the same call after a growing delay.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-perks/internal/catalog"
)

// Policy retries an operation on catalog.ErrRateLimited with exponential
// backoff. Any other failure, and exhaustion of the retry budget, propagate
// the operation's error unchanged.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries uint64
	// InitialDelay is the wait before the first retry; each subsequent
	// wait doubles. There is no jitter: the delays are part of the
	// component's contract and callers rely on the progression.
	InitialDelay time.Duration

	// timer overrides the wait implementation in tests.
	timer backoff.Timer
}

// NewPolicy returns a Policy with the given budget.
func NewPolicy(maxRetries uint64, initialDelay time.Duration) Policy {
	return Policy{MaxRetries: maxRetries, InitialDelay: initialDelay}
}

// Do runs op, retrying on rate-limit failures until the budget is spent.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = p.InitialDelay << p.MaxRetries
	b.MaxElapsedTime = 0
	b.Reset()

	lg := zctx.From(ctx)
	attempt := 0

	operation := func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, catalog.ErrRateLimited) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		lg.Warn("Catalog rate limited, backing off",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
		)
	}

	timer := p.timer
	if timer == nil {
		timer = &defaultTimer{}
	}

	wrapped := backoff.WithContext(backoff.WithMaxRetries(b, p.MaxRetries), ctx)
	return backoff.RetryNotifyWithTimer(operation, wrapped, notify, timer)
}

// defaultTimer is the real-clock timer used outside tests.
type defaultTimer struct {
	t *time.Timer
}

func (t *defaultTimer) Start(d time.Duration) {
	if t.t == nil {
		t.t = time.NewTimer(d)
		return
	}
	t.t.Reset(d)
}

func (t *defaultTimer) C() <-chan time.Time {
	return t.t.C
}

func (t *defaultTimer) Stop() {
	if t.t != nil {
		t.t.Stop()
	}
}
