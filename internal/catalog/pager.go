package catalog

import (
	"context"

	"github.com/go-faster/errors"
)

// Lister is the subset of Client the pagination walker needs. Wrapping a
// Client call in a retry policy yields another Lister.
type Lister interface {
	ListDiscountCodes(ctx context.Context, ruleID int64, pageToken string) (*Page, error)
}

// ListerFunc adapts a function to the Lister interface.
type ListerFunc func(ctx context.Context, ruleID int64, pageToken string) (*Page, error)

func (f ListerFunc) ListDiscountCodes(ctx context.Context, ruleID int64, pageToken string) (*Page, error) {
	return f(ctx, ruleID, pageToken)
}

// FetchAllCodes walks every page of the rule's discount codes and returns
// them eagerly, in page order. An absent continuation token terminates the
// walk; the page count is unbounded but assumed finite.
func FetchAllCodes(ctx context.Context, lister Lister, ruleID int64) ([]DiscountCode, error) {
	var (
		all   []DiscountCode
		token string
	)
	for {
		page, err := lister.ListDiscountCodes(ctx, ruleID, token)
		if err != nil {
			return nil, errors.Wrap(err, "fetch page")
		}
		all = append(all, page.Items...)

		if page.NextToken == "" {
			return all, nil
		}
		token = page.NextToken
	}
}
