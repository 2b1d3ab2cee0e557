// Package merge implements the incremental-update algorithm: folding a batch
// of newly fetched rows into an existing partition without loss or
// duplication.
//
// The merge policy is a business rule, not an accident of ordering:
// re-fetched rows supersede previously stored rows on natural-key collision,
// so a corrected restatement replaces the stale value. Within one incoming
// batch, the later row wins the same way.
package merge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/xtxerr/yieldstore/internal/errors"
	"github.com/xtxerr/yieldstore/internal/logging"
	"github.com/xtxerr/yieldstore/internal/market"
	"github.com/xtxerr/yieldstore/internal/storage/index"
	"github.com/xtxerr/yieldstore/internal/storage/parquet"
	"github.com/xtxerr/yieldstore/internal/storage/partition"
)

// Outcome reports what one merge did to one partition.
type Outcome struct {
	Key     partition.Key
	Written bool
	Rows    int // rows in the partition after the merge
	Added   int // incoming rows with a new natural key
	Updated int // incoming rows that replaced a differing stored row
}

// Merger folds incoming row batches into partitions. Writes to different
// keys may run concurrently; writes to the same key must be serialized by
// the caller. The index is refreshed synchronously after every write.
type Merger struct {
	store    parquet.Store
	resolver partition.Resolver
	index    *index.Index
	log      *slog.Logger
}

// New creates a merger over the given store, resolver and index.
func New(store parquet.Store, resolver partition.Resolver, ix *index.Index) *Merger {
	return &Merger{
		store:    store,
		resolver: resolver,
		index:    ix,
		log:      logging.Component("merge"),
	}
}

// MergePrices merges incoming price rows into the partition at key.
//
// An empty batch is a no-op: an existing partition is left untouched and a
// missing one is never materialized. Invalid rows abort the batch before
// anything is read or written; callers that prefer drop-over-abort filter
// first.
func (m *Merger) MergePrices(ctx context.Context, key partition.Key, incoming []market.PriceRow) (Outcome, error) {
	if key.Dataset != market.DatasetPrices {
		return Outcome{}, fmt.Errorf("%w: %s: MergePrices wants a prices key", errors.ErrInvalidKey, key)
	}
	if err := key.Validate(); err != nil {
		return Outcome{}, err
	}
	for i, row := range incoming {
		if err := row.Validate(); err != nil {
			return Outcome{}, fmt.Errorf("row %d: %w", i, err)
		}
		if row.Ticker != key.Ticker || row.Date.Year() != key.Year {
			return Outcome{}, fmt.Errorf("%w: row %d (%s %s) outside partition %s",
				errors.ErrInvalidRow, i, row.Ticker, row.Date, key)
		}
	}

	path, err := m.resolver.Resolve(key)
	if err != nil {
		return Outcome{}, err
	}

	existing, err := m.store.ReadPrices(path)
	if err != nil && !errors.IsNotFound(err) {
		return Outcome{}, fmt.Errorf("read existing: %w", err)
	}

	if len(incoming) == 0 {
		return Outcome{Key: key, Rows: len(existing)}, nil
	}

	merged, added, updated := mergeRows(existing, incoming,
		market.PriceRow.Key,
		func(a, b market.PriceRow) bool { return a.Date < b.Date },
		func(a, b market.PriceRow) bool { return a == b },
	)

	out := Outcome{Key: key, Rows: len(merged), Added: added, Updated: updated}
	if identical(existing, merged, func(a, b market.PriceRow) bool { return a == b }) {
		return out, nil
	}

	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	if err := m.store.WritePrices(path, merged); err != nil {
		// A failed write may still have published (the directory sync after
		// the rename can fail); drop the cached descriptor so the next
		// lookup re-probes disk instead of trusting a stale entry.
		m.index.Forget(key)
		return Outcome{}, fmt.Errorf("write %s: %w", key, err)
	}
	out.Written = true

	m.refreshPriceEntry(key, path, merged)
	m.log.Debug("partition merged", "key", key.String(), "rows", out.Rows, "added", added, "updated", updated)
	return out, nil
}

// MergeFundamentals merges incoming fundamentals rows into the partition at
// key. Semantics match MergePrices with the natural key
// (ticker, fiscal_period) and fiscal period as the sort component.
func (m *Merger) MergeFundamentals(ctx context.Context, key partition.Key, incoming []market.FundamentalsRow) (Outcome, error) {
	if !key.Dataset.Fundamentals() {
		return Outcome{}, fmt.Errorf("%w: %s: MergeFundamentals wants a fundamentals key", errors.ErrInvalidKey, key)
	}
	if err := key.Validate(); err != nil {
		return Outcome{}, err
	}
	for i, row := range incoming {
		if err := row.Validate(); err != nil {
			return Outcome{}, fmt.Errorf("row %d: %w", i, err)
		}
		if row.Ticker != key.Ticker {
			return Outcome{}, fmt.Errorf("%w: row %d (%s) outside partition %s",
				errors.ErrInvalidRow, i, row.Ticker, key)
		}
	}

	path, err := m.resolver.Resolve(key)
	if err != nil {
		return Outcome{}, err
	}

	existing, err := m.store.ReadFundamentals(path)
	if err != nil && !errors.IsNotFound(err) {
		return Outcome{}, fmt.Errorf("read existing: %w", err)
	}

	if len(incoming) == 0 {
		return Outcome{Key: key, Rows: len(existing)}, nil
	}

	merged, added, updated := mergeRows(existing, incoming,
		market.FundamentalsRow.Key,
		func(a, b market.FundamentalsRow) bool { return a.FiscalPeriod < b.FiscalPeriod },
		eqFundamentals,
	)

	out := Outcome{Key: key, Rows: len(merged), Added: added, Updated: updated}
	if identical(existing, merged, eqFundamentals) {
		return out, nil
	}

	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	if err := m.store.WriteFundamentals(path, merged); err != nil {
		m.index.Forget(key)
		return Outcome{}, fmt.Errorf("write %s: %w", key, err)
	}
	out.Written = true

	m.refreshFundamentalsEntry(key, path, merged)
	m.log.Debug("partition merged", "key", key.String(), "rows", out.Rows, "added", added, "updated", updated)
	return out, nil
}

// LatestPriceDate returns the newest stored price date for a ticker, or
// ok=false if the ticker has no price partitions. Partition keys come from
// a directory listing; only the newest year's descriptor is needed, served
// from the index when warm and probed from storage otherwise. The ingestion
// layer uses this as its fetch cursor.
func (m *Merger) LatestPriceDate(ctx context.Context, ticker string) (market.Date, bool, error) {
	keys, err := m.tickerKeys(market.DatasetPrices, ticker)
	if err != nil {
		return 0, false, err
	}
	if len(keys) == 0 {
		return 0, false, nil
	}

	// Partitions are year-bounded, so only the newest year can hold the
	// latest date.
	last := keys[len(keys)-1]
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	d, err := m.index.Load(last)
	if err != nil {
		return 0, false, fmt.Errorf("load %s: %w", last, err)
	}
	return d.MaxDate, true, nil
}

// LatestFiscalPeriod returns the newest stored fiscal period for a ticker
// in a fundamentals dataset, or ok=false if none exists.
func (m *Merger) LatestFiscalPeriod(ctx context.Context, ds market.Dataset, ticker string) (string, bool, error) {
	if !ds.Fundamentals() {
		return "", false, fmt.Errorf("%w: %s is not a fundamentals dataset", errors.ErrInvalidDataset, ds)
	}
	keys, err := m.tickerKeys(ds, ticker)
	if err != nil {
		return "", false, err
	}
	if len(keys) == 0 {
		return "", false, nil
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	d, err := m.index.Load(keys[0])
	if err != nil {
		return "", false, fmt.Errorf("load %s: %w", keys[0], err)
	}
	return d.MaxPeriod, true, nil
}

// tickerKeys returns a ticker's partition keys for a dataset, sorted by
// year. Keys are always enumerated from storage (directory names only,
// never file contents): a partially warm index must not hide partitions
// written before this process started. The index contributes descriptors
// through Load, nothing more.
func (m *Merger) tickerKeys(ds market.Dataset, ticker string) ([]partition.Key, error) {
	files, err := m.store.List(m.resolver.TickerDir(ds, ticker))
	if err != nil {
		return nil, fmt.Errorf("list %s/%s: %w", ds, ticker, err)
	}
	keys := make([]partition.Key, 0, len(files))
	for _, path := range files {
		k, err := m.resolver.ParsePath(path)
		if err != nil {
			continue
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Year < keys[j].Year })
	return keys, nil
}

func (m *Merger) refreshPriceEntry(key partition.Key, path string, rows []market.PriceRow) {
	d := partition.Descriptor{Key: key, RowCount: int64(len(rows))}
	for _, row := range rows {
		if d.MinDate.IsZero() || row.Date.Before(d.MinDate) {
			d.MinDate = row.Date
		}
		if row.Date.After(d.MaxDate) {
			d.MaxDate = row.Date
		}
	}
	d.LastModified = m.modTime(path)
	m.index.Put(d)
}

func (m *Merger) refreshFundamentalsEntry(key partition.Key, path string, rows []market.FundamentalsRow) {
	d := partition.Descriptor{Key: key, RowCount: int64(len(rows))}
	for _, row := range rows {
		if d.MinPeriod == "" || row.FiscalPeriod < d.MinPeriod {
			d.MinPeriod = row.FiscalPeriod
		}
		if row.FiscalPeriod > d.MaxPeriod {
			d.MaxPeriod = row.FiscalPeriod
		}
	}
	d.LastModified = m.modTime(path)
	m.index.Put(d)
}

func (m *Merger) modTime(path string) time.Time {
	info, err := m.store.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime
}

// mergeRows concatenates existing and incoming rows, deduplicates on the
// natural key with incoming rows winning (and within incoming, later rows
// winning), and sorts the result ascending by the temporal component.
// A stable sort preserves key order for equal temporal components.
func mergeRows[T any](existing, incoming []T, keyOf func(T) string, less, eq func(a, b T) bool) (merged []T, added, updated int) {
	pos := make(map[string]int, len(existing)+len(incoming))
	merged = make([]T, 0, len(existing)+len(incoming))

	for _, row := range existing {
		if i, ok := pos[keyOf(row)]; ok {
			// Stored duplicates should not exist; keep the later row so a
			// rewrite heals the partition.
			merged[i] = row
			continue
		}
		pos[keyOf(row)] = len(merged)
		merged = append(merged, row)
	}
	stored := make([]T, len(merged))
	copy(stored, merged)

	for _, row := range incoming {
		k := keyOf(row)
		if i, ok := pos[k]; ok {
			merged[i] = row
		} else {
			pos[k] = len(merged)
			merged = append(merged, row)
			added++
		}
	}

	// Count stored rows whose final value changed; in-batch duplicates are
	// settled by then (later row wins).
	for i := range stored {
		if !eq(stored[i], merged[i]) {
			updated++
		}
	}

	sort.SliceStable(merged, func(i, j int) bool { return less(merged[i], merged[j]) })
	return merged, added, updated
}

// identical reports whether two row slices are row-for-row equal.
func identical[T any](a, b []T, eq func(x, y T) bool) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !eq(a[i], b[i]) {
			return false
		}
	}
	return true
}

func eqFundamentals(a, b market.FundamentalsRow) bool {
	return a.Ticker == b.Ticker &&
		a.FiscalPeriod == b.FiscalPeriod &&
		a.ReportDate == b.ReportDate &&
		eqFloatPtr(a.Revenue, b.Revenue) &&
		eqFloatPtr(a.NetIncome, b.NetIncome) &&
		eqFloatPtr(a.EPS, b.EPS) &&
		eqFloatPtr(a.TotalAssets, b.TotalAssets) &&
		eqFloatPtr(a.TotalLiabilities, b.TotalLiabilities) &&
		eqFloatPtr(a.TotalEquity, b.TotalEquity) &&
		eqFloatPtr(a.OperatingCashFlow, b.OperatingCashFlow) &&
		eqFloatPtr(a.Shares, b.Shares)
}

func eqFloatPtr(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
