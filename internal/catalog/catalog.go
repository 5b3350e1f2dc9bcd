// Package catalog talks to the external catalog service, the system of
// record for customers and discount codes.
package catalog

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Failure classes surfaced by the catalog service. Callers branch on these
// with errors.Is; anything else arrives as an *APIError.
var (
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("catalog: not found")
	// ErrConflict is returned when a discount code violates the uniqueness
	// constraint of its price rule.
	ErrConflict = errors.New("catalog: code already exists")
	// ErrRateLimited is returned when the catalog service throttles the call.
	ErrRateLimited = errors.New("catalog: rate limited")
)

// APIError is a catalog failure outside the recognised classes.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return "catalog: " + e.Code + ": " + e.Message
	}
	return "catalog: " + e.Message
}

// DiscountCode is a single-use promotional code registered under a price
// rule. All fields are immutable from this service's point of view;
// UsageCount is incremented by the storefront checkout, not by us.
type DiscountCode struct {
	ID         string
	Code       string
	UsageCount int
	CreatedAt  time.Time
}

// Customer is the subset of the customer record the core needs.
type Customer struct {
	ID        int64
	Email     string
	FirstName string
}

// Field is one key/value pair of a batched customer annotation write.
type Field struct {
	Key   string
	Value string
}

// Page is one page of a discount-code listing. NextToken is the opaque
// continuation reference; empty means this was the last page.
type Page struct {
	Items     []DiscountCode
	NextToken string
}

// Client is the call surface of the catalog service.
type Client interface {
	// GetCustomer loads a customer record by its numeric id.
	GetCustomer(ctx context.Context, customerID int64) (*Customer, error)

	// GetWelcomeCode reads the customer's welcome-code annotation.
	// Returns ErrNotFound when the annotation has never been written.
	GetWelcomeCode(ctx context.Context, customerID int64) (string, error)

	// SetWelcomeFields writes the welcome annotation fields in one batched
	// call. The write is not conditional; callers serialize access.
	SetWelcomeFields(ctx context.Context, customerID int64, fields []Field) error

	// CreateDiscountCode registers code under the price rule. Returns
	// ErrConflict when the code string is already taken within the rule.
	CreateDiscountCode(ctx context.Context, ruleID int64, code string) (*DiscountCode, error)

	// ListDiscountCodes returns one page of codes for the rule. Pass the
	// NextToken of the previous page to continue; empty starts from the top.
	ListDiscountCodes(ctx context.Context, ruleID int64, pageToken string) (*Page, error)

	// DeleteDiscountCode removes a code by its catalog id.
	DeleteDiscountCode(ctx context.Context, ruleID int64, codeID string) error
}
