package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/xtxerr/yieldstore/internal/errors"
	"github.com/xtxerr/yieldstore/internal/market"
	"github.com/xtxerr/yieldstore/internal/storage/parquet"
	"github.com/xtxerr/yieldstore/internal/storage/partition"
)

func newTestIndex(t *testing.T) (*Index, parquet.Store, partition.Resolver) {
	t.Helper()
	store := parquet.NewLocalStore(parquet.DefaultOptions())
	resolver := partition.Resolver{Root: filepath.ToSlash(t.TempDir())}
	return New(store, resolver), store, resolver
}

func writePrices(t *testing.T, store parquet.Store, r partition.Resolver, ticker string, year int, dates ...string) partition.Key {
	t.Helper()
	key := partition.PricesKey(ticker, year)
	path, err := r.Resolve(key)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	rows := make([]market.PriceRow, len(dates))
	for i, d := range dates {
		rows[i] = market.PriceRow{
			Ticker: ticker, Date: market.MustParseDate(d),
			Open: 1, High: 2, Low: 0.5, Close: 1.5, AdjClose: 1.5, Volume: 100,
		}
	}
	if err := store.WritePrices(path, rows); err != nil {
		t.Fatalf("WritePrices: %v", err)
	}
	return key
}

func TestGetPutForget(t *testing.T) {
	ix, _, _ := newTestIndex(t)

	key := partition.PricesKey("AAPL", 2024)
	if _, ok := ix.Get(key); ok {
		t.Fatal("Get on empty index returned an entry")
	}

	d := partition.Descriptor{Key: key, RowCount: 10}
	ix.Put(d)

	got, ok := ix.Get(key)
	if !ok {
		t.Fatal("Get after Put missed")
	}
	if got.RowCount != 10 {
		t.Errorf("RowCount = %d, want 10", got.RowCount)
	}
	if ix.Len() != 1 {
		t.Errorf("Len = %d, want 1", ix.Len())
	}

	ix.Forget(key)
	if _, ok := ix.Get(key); ok {
		t.Error("Get after Forget returned an entry")
	}
}

func TestLoadProbesCold(t *testing.T) {
	ix, store, resolver := newTestIndex(t)
	key := writePrices(t, store, resolver, "AAPL", 2024, "2024-01-02", "2024-01-03", "2024-01-04")

	d, err := ix.Load(key)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if d.RowCount != 3 {
		t.Errorf("RowCount = %d, want 3", d.RowCount)
	}
	if d.MinDate != market.MustParseDate("2024-01-02") {
		t.Errorf("MinDate = %s", d.MinDate)
	}
	if d.MaxDate != market.MustParseDate("2024-01-04") {
		t.Errorf("MaxDate = %s", d.MaxDate)
	}

	// Second load must come from cache.
	if _, ok := ix.Get(key); !ok {
		t.Error("Load did not cache the descriptor")
	}
}

func TestLoadAbsentNotCached(t *testing.T) {
	ix, _, _ := newTestIndex(t)
	key := partition.PricesKey("MSFT", 2024)

	if _, err := ix.Load(key); !errors.IsNotFound(err) {
		t.Fatalf("Load absent: want not-found, got %v", err)
	}
	if ix.Len() != 0 {
		t.Error("absence was cached")
	}
}

func TestKeysSorted(t *testing.T) {
	ix, store, resolver := newTestIndex(t)
	for _, p := range []struct {
		ticker string
		year   int
	}{
		{"MSFT", 2023}, {"AAPL", 2024}, {"AAPL", 2023}, {"MSFT", 2024},
	} {
		key := writePrices(t, store, resolver, p.ticker, p.year,
			fmt.Sprintf("%d-06-01", p.year))
		if _, err := ix.Load(key); err != nil {
			t.Fatalf("Load: %v", err)
		}
	}

	keys := ix.Keys(market.DatasetPrices)
	want := []partition.Key{
		partition.PricesKey("AAPL", 2023),
		partition.PricesKey("AAPL", 2024),
		partition.PricesKey("MSFT", 2023),
		partition.PricesKey("MSFT", 2024),
	}
	if len(keys) != len(want) {
		t.Fatalf("got %d keys, want %d", len(keys), len(want))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("key %d: got %s, want %s", i, keys[i], want[i])
		}
	}

	if got := ix.Keys(market.DatasetFundamentalsAnnual); len(got) != 0 {
		t.Errorf("Keys for empty dataset = %v", got)
	}
}

func TestRebuild(t *testing.T) {
	ix, store, resolver := newTestIndex(t)
	k1 := writePrices(t, store, resolver, "AAPL", 2024, "2024-01-02", "2024-03-01")
	k2 := writePrices(t, store, resolver, "AAPL", 2023, "2023-06-15")

	// A stale cache entry for a partition that no longer exists must be
	// dropped by the wholesale swap.
	ix.Put(partition.Descriptor{Key: partition.PricesKey("GONE", 2020), RowCount: 99})

	if err := ix.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if ix.Len() != 2 {
		t.Fatalf("Len = %d, want 2", ix.Len())
	}
	d1, ok := ix.Get(k1)
	if !ok || d1.RowCount != 2 {
		t.Errorf("k1 descriptor = %+v, ok=%v", d1, ok)
	}
	if _, ok := ix.Get(k2); !ok {
		t.Error("k2 missing after rebuild")
	}
	if _, ok := ix.Get(partition.PricesKey("GONE", 2020)); ok {
		t.Error("stale entry survived rebuild")
	}
}

func TestRebuildSkipsStrayFiles(t *testing.T) {
	ix, store, resolver := newTestIndex(t)
	writePrices(t, store, resolver, "AAPL", 2024, "2024-01-02")

	stray := filepath.Join(filepath.FromSlash(resolver.Root), "notes.parquet")
	if err := os.WriteFile(stray, []byte("not a partition"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := ix.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if ix.Len() != 1 {
		t.Errorf("Len = %d, want 1", ix.Len())
	}
}

func TestRebuildCancelled(t *testing.T) {
	ix, store, resolver := newTestIndex(t)
	writePrices(t, store, resolver, "AAPL", 2024, "2024-01-02")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := ix.Rebuild(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("want context.Canceled, got %v", err)
	}
}

func TestProbeFundamentals(t *testing.T) {
	_, store, resolver := newTestIndex(t)
	key := partition.FundamentalsKey(market.DatasetFundamentalsQuarterly, "AAPL")
	path, err := resolver.Resolve(key)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	rows := []market.FundamentalsRow{
		{Ticker: "AAPL", FiscalPeriod: "2023-Q4", ReportDate: market.MustParseDate("2024-02-01")},
		{Ticker: "AAPL", FiscalPeriod: "2024-Q2", ReportDate: market.MustParseDate("2024-08-01")},
		{Ticker: "AAPL", FiscalPeriod: "2024-Q1", ReportDate: market.MustParseDate("2024-05-02")},
	}
	if err := store.WriteFundamentals(path, rows); err != nil {
		t.Fatalf("WriteFundamentals: %v", err)
	}

	d, err := Probe(store, resolver, key)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if d.RowCount != 3 {
		t.Errorf("RowCount = %d, want 3", d.RowCount)
	}
	if d.MinPeriod != "2023-Q4" || d.MaxPeriod != "2024-Q2" {
		t.Errorf("period range = [%s, %s]", d.MinPeriod, d.MaxPeriod)
	}
}
