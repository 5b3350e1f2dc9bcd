// Command code-audit inspects gzipped discount-code dump files exported from
// the catalog. It reports how many codes conform to the welcome-code format
// and flags codes that appear in more than one dump, which points at repeated
// issuance for the same customer.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront-perks/internal/report"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
	progressEvery = 1_000_000
	maxExamples   = 10

	codePrefix    = "WELCOME-"
	codeSuffixLen = 8

	// maxDumpFiles bounds the audit: the duplicate bitmask holds one bit
	// per file, so more than 64 dumps would alias.
	maxDumpFiles = 64
)

// fileStats accumulates per-file conformance counters during pass 1.
type fileStats struct {
	total         uint64
	conformant    uint64
	nonConformant []string
}

// fileResult holds candidate duplicate codes found in a single file during
// pass 2, as a bitmask of which file contributed them.
type fileResult struct {
	candidates map[string]uint
}

func main() {
	var (
		dumpDir    string
		webhookURL string
	)

	flag.StringVar(&dumpDir, "dump-dir", "dumps", "directory containing *.gz code dump files")
	flag.StringVar(&webhookURL, "report-webhook-url", "", "optional incoming-webhook URL for the audit summary")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dumpDir, webhookURL); err != nil {
		slog.Error("code audit failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("code audit completed successfully")
}

func run(ctx context.Context, dumpDir, webhookURL string) error {
	files, err := filepath.Glob(filepath.Join(dumpDir, "*.gz"))
	if err != nil {
		return errors.Wrap(err, "list dump files")
	}
	if len(files) == 0 {
		return errors.Errorf("no *.gz dump files in %s", dumpDir)
	}
	if len(files) > maxDumpFiles {
		return errors.Errorf("%d dump files exceed the limit of %d", len(files), maxDumpFiles)
	}
	sort.Strings(files)

	// Pass 1: build one bloom filter per file and count conformance.
	slog.Info("pass 1: scanning dumps", slog.Int("files", len(files)))

	filters := make([]*bloom.BloomFilter, len(files))
	stats := make([]fileStats, len(files))

	g, scanCtx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(scanFile(scanCtx, i, f, filters, stats))
	}
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "scan dumps")
	}

	// Pass 2: find codes appearing in two or more dumps. A second exact pass
	// confirms bloom hits, so false positives from pass 1 cannot reach the
	// final report on their own.
	var duplicates []string
	if len(files) > 1 {
		slog.Info("pass 2: cross-checking dumps for duplicates")
		duplicates, err = findDuplicates(ctx, files, filters)
		if err != nil {
			return errors.Wrap(err, "find duplicates")
		}
	}

	summary := formatSummary(files, stats, duplicates)
	fmt.Println(summary)

	if webhookURL != "" {
		if err := report.NewWebhook(webhookURL).Notify(ctx, summary); err != nil {
			slog.Warn("audit summary not delivered", slog.String("error", err.Error()))
		}
	}

	return nil
}

// scanFile streams one dump, feeding every code into its bloom filter and
// tallying welcome-format conformance.
func scanFile(ctx context.Context, idx int, path string, filters []*bloom.BloomFilter, stats []fileStats) func() error {
	return func() error {
		filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
		var st fileStats

		if err := streamGzFile(ctx, path, func(code string) {
			st.total++
			filter.AddString(code)

			if conformant(code) {
				st.conformant++
			} else if len(st.nonConformant) < maxExamples {
				st.nonConformant = append(st.nonConformant, code)
			}

			if st.total%progressEvery == 0 {
				slog.Info("pass 1 progress",
					slog.Int("file", idx+1),
					slog.Uint64("codes", st.total),
				)
			}
		}); err != nil {
			return errors.Wrapf(err, "scan %s", path)
		}

		slog.Info("pass 1 complete",
			slog.String("file", filepath.Base(path)),
			slog.Uint64("total", st.total),
			slog.Uint64("conformant", st.conformant),
		)

		filters[idx] = filter
		stats[idx] = st
		return nil
	}
}

// findDuplicates re-streams each file and checks codes against the OTHER
// files' bloom filters. A code counts as duplicated when it appears in two
// or more dumps.
func findDuplicates(ctx context.Context, files []string, filters []*bloom.BloomFilter) ([]string, error) {
	results := make([]fileResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(findCandidatesInFile(ctx, i, f, filters, results))
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for _, r := range results {
		for code, mask := range r.candidates {
			merged[code] |= mask
		}
	}

	var duplicates []string
	for code, mask := range merged {
		if bits.OnesCount(mask) >= 2 {
			duplicates = append(duplicates, code)
		}
	}
	sort.Strings(duplicates)

	return duplicates, nil
}

func findCandidatesInFile(
	ctx context.Context,
	idx int,
	path string,
	filters []*bloom.BloomFilter,
	results []fileResult,
) func() error {
	return func() error {
		candidates := make(map[string]uint)
		fileBit := uint(1) << uint(idx)

		if err := streamGzFile(ctx, path, func(code string) {
			for j, f := range filters {
				if j == idx {
					continue
				}
				if f.TestString(code) {
					candidates[code] |= fileBit
					break
				}
			}
		}); err != nil {
			return errors.Wrapf(err, "cross-check %s", path)
		}

		results[idx] = fileResult{candidates: candidates}
		return nil
	}
}

// conformant reports whether code matches the welcome-code shape: the fixed
// prefix followed by exactly eight characters from [A-Z0-9].
func conformant(code string) bool {
	suffix, ok := strings.CutPrefix(code, codePrefix)
	if !ok || len(suffix) != codeSuffixLen {
		return false
	}
	for i := 0; i < len(suffix); i++ {
		c := suffix[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

func formatSummary(files []string, stats []fileStats, duplicates []string) string {
	var total, conformant uint64
	for _, st := range stats {
		total += st.total
		conformant += st.conformant
	}

	rate := decimal.Zero
	if total > 0 {
		rate = decimal.NewFromUint64(conformant).
			Div(decimal.NewFromUint64(total)).
			Mul(decimal.NewFromInt(100)).
			Round(1)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Code audit: %d codes across %d dumps, %s%% conformant, %d duplicated.\n",
		total, len(files), rate.String(), len(duplicates))

	for i, f := range files {
		fmt.Fprintf(&b, "  %s: %d codes, %d conformant\n",
			filepath.Base(f), stats[i].total, stats[i].conformant)
		for _, code := range stats[i].nonConformant {
			fmt.Fprintf(&b, "    non-conformant: %q\n", code)
		}
	}

	for i, code := range duplicates {
		if i == maxExamples {
			fmt.Fprintf(&b, "  ... %d more duplicates\n", len(duplicates)-maxExamples)
			break
		}
		fmt.Fprintf(&b, "  duplicated: %q\n", code)
	}

	return strings.TrimRight(b.String(), "\n")
}

// streamGzFile opens a gzip-compressed file and calls fn for each non-empty
// line.
func streamGzFile(ctx context.Context, path string, fn func(code string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			fn(line)
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}
