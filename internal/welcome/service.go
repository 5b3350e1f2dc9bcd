// Package welcome issues the one-per-customer welcome discount code.
package welcome

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-perks/internal/catalog"
)

// maxCreateAttempts bounds the collision loop. Collisions are independent
// random events, so there is no wait between attempts; three consecutive
// conflicts on ~41 bits of entropy means the rule is saturated or the
// generator is broken, and either way backing off would not help.
const maxCreateAttempts = 3

// Annotation field keys written at issuance.
const (
	fieldWelcomeCode      = "welcome_code"
	fieldWelcomeCodeUsed  = "welcome_code_used"
	fieldWelcomeEmailSent = "welcome_email_sent"
)

// ErrAttemptsExhausted is returned when every candidate code collided.
var ErrAttemptsExhausted = errors.New("code creation attempts exhausted")

// Catalog is the slice of the catalog client the issuance path uses.
type Catalog interface {
	GetWelcomeCode(ctx context.Context, customerID int64) (string, error)
	SetWelcomeFields(ctx context.Context, customerID int64, fields []catalog.Field) error
	CreateDiscountCode(ctx context.Context, ruleID int64, code string) (*catalog.DiscountCode, error)
}

// Locker serializes issuance per customer across service instances. A nil
// Locker disables coordination; the read-then-write issuance then carries a
// residual race between concurrent requests for the same customer, bounded
// by the catalog's own uniqueness constraint on the code itself.
type Locker interface {
	Lock(ctx context.Context, customerID int64) (release func(), err error)
}

// IssueResult is the outcome of an issuance request.
type IssueResult struct {
	Code   string
	Reused bool
}

// Service is the issuance coordinator.
type Service struct {
	catalog Catalog
	locker  Locker
	gen     Generator
	ruleID  int64
}

// NewService creates an issuance Service for the given price rule.
// locker may be nil.
func NewService(c Catalog, locker Locker, ruleID int64) *Service {
	return &Service{catalog: c, locker: locker, ruleID: ruleID}
}

// Issue returns the customer's welcome code, creating one if none exists.
//
// The idempotency read always happens before any creation attempt: a
// customer that already holds a code gets it back with Reused=true and no
// further catalog calls are made.
func (s *Service) Issue(ctx context.Context, rawCustomerID string) (IssueResult, error) {
	id, err := ParseCustomerID(rawCustomerID)
	if err != nil {
		return IssueResult{}, err
	}
	lg := zctx.From(ctx).With(zap.Int64("customer_id", id.Int64()))

	if s.locker != nil {
		release, err := s.locker.Lock(ctx, id.Int64())
		if err != nil {
			return IssueResult{}, errors.Wrap(err, "acquire issuance lock")
		}
		defer release()
	}

	// Idempotency check. Only a definite "no annotation yet" continues to
	// creation; any other failure means we could not determine whether a
	// code exists, and guessing would risk a second code.
	existing, err := s.catalog.GetWelcomeCode(ctx, id.Int64())
	switch {
	case err == nil && existing != "":
		lg.Info("Welcome code reused", zap.String("code", existing))
		return IssueResult{Code: existing, Reused: true}, nil
	case err != nil && !errors.Is(err, catalog.ErrNotFound):
		return IssueResult{}, errors.Wrap(err, "idempotency check")
	}

	code, err := s.createUnique(ctx, lg)
	if err != nil {
		return IssueResult{}, err
	}

	err = s.catalog.SetWelcomeFields(ctx, id.Int64(), []catalog.Field{
		{Key: fieldWelcomeCode, Value: code},
		{Key: fieldWelcomeCodeUsed, Value: "false"},
		{Key: fieldWelcomeEmailSent, Value: "false"},
	})
	if err != nil {
		return IssueResult{}, errors.Wrap(err, "record welcome code")
	}

	lg.Info("Welcome code issued", zap.String("code", code))
	return IssueResult{Code: code, Reused: false}, nil
}

// createUnique runs the bounded collision loop: each attempt registers a
// fresh candidate, a uniqueness conflict moves to the next candidate, and
// any other failure aborts immediately so it is never masked as retriable.
func (s *Service) createUnique(ctx context.Context, lg *zap.Logger) (string, error) {
	for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
		candidate := s.gen.Generate()

		created, err := s.catalog.CreateDiscountCode(ctx, s.ruleID, candidate)
		if err == nil {
			return created.Code, nil
		}
		if !errors.Is(err, catalog.ErrConflict) {
			return "", errors.Wrap(err, "create discount code")
		}
		lg.Warn("Candidate code collided",
			zap.String("candidate", candidate),
			zap.Int("attempt", attempt),
		)
	}
	return "", ErrAttemptsExhausted
}
