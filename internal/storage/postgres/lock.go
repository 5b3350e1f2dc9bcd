// Package postgres provides the optional coordination layer: per-customer
// issuance locks held in PostgreSQL.
//
// The catalog service exposes no transaction or conditional-write primitive
// for customer annotations, so two concurrent issuance requests for the
// same customer could each pass the idempotency read and create two codes.
// Deployments that run more than one instance point the service at a
// database and get session-scoped advisory locks; without a database the
// residual race stands and is documented, not assumed away.
package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
)

// lockNamespace spreads issuance locks away from other advisory-lock users
// of the same database.
const lockNamespace int64 = 0x7065726b73 // "perks"

// NewPool creates a pgxpool.Pool for the coordination database.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse database config")
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create connection pool")
	}
	return pool, nil
}

// IssuanceLocker serializes welcome-code issuance per customer with
// session-scoped advisory locks. The lock is held on a dedicated pooled
// connection until release, so a crashed holder frees it when its session
// dies rather than leaving it stuck.
type IssuanceLocker struct {
	pool *pgxpool.Pool
}

// NewIssuanceLocker returns an IssuanceLocker using the given pool.
func NewIssuanceLocker(pool *pgxpool.Pool) *IssuanceLocker {
	return &IssuanceLocker{pool: pool}
}

// Lock blocks until the per-customer lock is acquired, then returns a
// release function. The customer id is folded into the lock namespace so
// unrelated advisory locks on a shared database cannot collide with ours.
func (l *IssuanceLocker) Lock(ctx context.Context, customerID int64) (func(), error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "acquire connection")
	}

	key := lockNamespace ^ customerID
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", key); err != nil {
		conn.Release()
		return nil, errors.Wrap(err, "advisory lock")
	}

	release := func() {
		// Unlock on a fresh context: the request context may already be
		// cancelled, and the session must not keep the lock.
		_, _ = conn.Exec(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", key)
		conn.Release()
	}
	return release, nil
}
