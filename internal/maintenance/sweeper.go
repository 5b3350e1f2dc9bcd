// Package maintenance implements the periodic sweep that retires stale
// welcome codes and reports aggregate usage statistics.
package maintenance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront-perks/internal/catalog"
	"github.com/xenking/storefront-perks/internal/report"
	"github.com/xenking/storefront-perks/internal/retry"
)

// sampleSize bounds the per-run observability sample.
const sampleSize = 5

// Catalog is the slice of the catalog client the sweep uses.
type Catalog interface {
	ListDiscountCodes(ctx context.Context, ruleID int64, pageToken string) (*catalog.Page, error)
	DeleteDiscountCode(ctx context.Context, ruleID int64, codeID string) error
}

// CodeSample is one sampled code in the stats.
type CodeSample struct {
	Code       string    `json:"code"`
	UsageCount int       `json:"usage_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Stats summarizes the code population at one point of the run.
type Stats struct {
	Total  int          `json:"total"`
	Used   int          `json:"used"`
	Unused int          `json:"unused"`
	Sample []CodeSample `json:"sample,omitempty"`
}

// Report is the outcome of one maintenance run.
type Report struct {
	DeletedCount int       `json:"deleted_count"`
	Before       Stats     `json:"stats_before"`
	After        Stats     `json:"stats_after"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Sweeper drives a maintenance run: fetch, classify, delete, refetch,
// report. Deletions run strictly one at a time to stay inside the catalog's
// shared rate-limit budget.
type Sweeper struct {
	catalog   Catalog
	retry     retry.Policy
	notifier  report.Notifier
	ruleID    int64
	retention time.Duration

	now func() time.Time
}

// NewSweeper creates a Sweeper. retention is the maximum code age; anything
// older is deleted. notifier may be nil to disable reporting.
func NewSweeper(c Catalog, p retry.Policy, n report.Notifier, ruleID int64, retention time.Duration) *Sweeper {
	return &Sweeper{
		catalog:   c,
		retry:     p,
		notifier:  n,
		ruleID:    ruleID,
		retention: retention,
		now:       time.Now,
	}
}

// Run executes one maintenance sweep.
//
// A deletion that still fails after its retry budget fails the whole run;
// deletions already performed are not counted or rolled back. Reporting
// failures never fail the run.
func (s *Sweeper) Run(ctx context.Context) (*Report, error) {
	lg := zctx.From(ctx)
	startedAt := s.now()

	codes, err := s.fetchAll(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "fetch codes")
	}
	before := computeStats(codes)
	lg.Info("Maintenance fetch complete",
		zap.Int("total", before.Total),
		zap.Int("used", before.Used),
	)

	stale := s.classifyStale(codes)
	deleted := 0
	for _, dc := range stale {
		err := s.retry.Do(ctx, func(ctx context.Context) error {
			return s.catalog.DeleteDiscountCode(ctx, s.ruleID, dc.ID)
		})
		if err != nil {
			return nil, errors.Wrapf(err, "delete code %s", dc.Code)
		}
		deleted++
	}
	lg.Info("Stale codes deleted", zap.Int("count", deleted))

	refetched, err := s.fetchAll(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "refetch codes")
	}
	after := computeStats(refetched)

	rep := &Report{
		DeletedCount: deleted,
		Before:       before,
		After:        after,
		StartedAt:    startedAt,
		FinishedAt:   s.now(),
	}

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, formatSummary(rep)); err != nil {
			lg.Warn("Maintenance report delivery failed", zap.Error(err))
		}
	}
	return rep, nil
}

// fetchAll walks every page, reading each one through the retry policy.
func (s *Sweeper) fetchAll(ctx context.Context) ([]catalog.DiscountCode, error) {
	lister := catalog.ListerFunc(func(ctx context.Context, ruleID int64, token string) (*catalog.Page, error) {
		var page *catalog.Page
		err := s.retry.Do(ctx, func(ctx context.Context) error {
			var err error
			page, err = s.catalog.ListDiscountCodes(ctx, ruleID, token)
			return err
		})
		return page, err
	})
	return catalog.FetchAllCodes(ctx, lister, s.ruleID)
}

// classifyStale returns the codes older than the retention threshold.
func (s *Sweeper) classifyStale(codes []catalog.DiscountCode) []catalog.DiscountCode {
	now := s.now()
	var stale []catalog.DiscountCode
	for _, dc := range codes {
		if now.Sub(dc.CreatedAt) > s.retention {
			stale = append(stale, dc)
		}
	}
	return stale
}

func computeStats(codes []catalog.DiscountCode) Stats {
	st := Stats{Total: len(codes)}
	for _, dc := range codes {
		if dc.UsageCount > 0 {
			st.Used++
		} else {
			st.Unused++
		}
	}
	for _, dc := range codes[:min(sampleSize, len(codes))] {
		st.Sample = append(st.Sample, CodeSample{
			Code:       dc.Code,
			UsageCount: dc.UsageCount,
			CreatedAt:  dc.CreatedAt,
		})
	}
	return st
}

// formatSummary renders the human-readable run summary for the report sink.
func formatSummary(rep *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Welcome-code maintenance finished in %s\n",
		rep.FinishedAt.Sub(rep.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(&b, "Deleted: %d stale codes\n", rep.DeletedCount)
	fmt.Fprintf(&b, "Before: %d total, %d used, %d unused (%s%% redeemed)\n",
		rep.Before.Total, rep.Before.Used, rep.Before.Unused, usageRate(rep.Before))
	fmt.Fprintf(&b, "After: %d total, %d used, %d unused",
		rep.After.Total, rep.After.Used, rep.After.Unused)
	return b.String()
}

// usageRate is the redeemed percentage, exact decimal arithmetic so the
// report never shows float artifacts like 33.333333333333336.
func usageRate(st Stats) decimal.Decimal {
	if st.Total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(st.Used)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(st.Total))).
		Round(1)
}
