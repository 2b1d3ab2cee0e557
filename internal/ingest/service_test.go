package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/xtxerr/yieldstore/internal/errors"
	"github.com/xtxerr/yieldstore/internal/market"
	"github.com/xtxerr/yieldstore/internal/storage"
	"github.com/xtxerr/yieldstore/internal/storage/config"
)

// fakeProvider serves canned batches and records the cursors it was asked
// for.
type fakeProvider struct {
	mu           sync.Mutex
	prices       map[string][]market.PriceRow
	fundamentals map[string][]market.FundamentalsRow
	errs         map[string]error
	cursors      map[string]market.Date
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		prices:       make(map[string][]market.PriceRow),
		fundamentals: make(map[string][]market.FundamentalsRow),
		errs:         make(map[string]error),
		cursors:      make(map[string]market.Date),
	}
}

func (p *fakeProvider) FetchPrices(ctx context.Context, ticker string, since market.Date) ([]market.PriceRow, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cursors[ticker] = since
	if err := p.errs[ticker]; err != nil {
		return nil, err
	}
	var out []market.PriceRow
	for _, r := range p.prices[ticker] {
		if since.IsZero() || !r.Date.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (p *fakeProvider) FetchFundamentals(ctx context.Context, ticker string, ds market.Dataset) ([]market.FundamentalsRow, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ds != market.DatasetFundamentalsQuarterly {
		return nil, nil
	}
	return p.fundamentals[ticker], nil
}

func (p *fakeProvider) cursor(ticker string) market.Date {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursors[ticker]
}

func newTestStorage(t *testing.T) *storage.Service {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	st, err := storage.New(cfg)
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestIngest(t *testing.T, st *storage.Service, p Provider, mutate func(*config.IngestConfig)) *Service {
	t.Helper()
	cfg := config.IngestConfig{Workers: 2, DefaultStartDate: "2020-01-01"}
	if mutate != nil {
		mutate(&cfg)
	}
	svc, err := New(st, p, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc
}

func price(ticker, date string, close float64) market.PriceRow {
	return market.PriceRow{
		Ticker: ticker, Date: market.MustParseDate(date),
		Open: close, High: close, Low: close, Close: close, AdjClose: close,
		Volume: 100,
	}
}

func TestUpdateAll(t *testing.T) {
	st := newTestStorage(t)
	p := newFakeProvider()
	p.prices["AAPL"] = []market.PriceRow{
		price("AAPL", "2024-01-02", 100),
		price("AAPL", "2024-01-03", 101),
	}
	rev := 50.0
	p.fundamentals["AAPL"] = []market.FundamentalsRow{{
		Ticker: "AAPL", FiscalPeriod: "2024-Q1",
		ReportDate: market.MustParseDate("2024-05-02"),
		Revenue:    &rev,
	}}

	svc := newTestIngest(t, st, p, nil)
	rep, err := svc.UpdateAll(context.Background(), []string{"AAPL"}, true)
	if err != nil {
		t.Fatalf("UpdateAll: %v", err)
	}
	if rep.TickersProcessed != 1 || len(rep.Failures) != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if rep.PricesWritten != 2 {
		t.Errorf("PricesWritten = %d, want 2", rep.PricesWritten)
	}
	if rep.FundamentalsWritten != 1 {
		t.Errorf("FundamentalsWritten = %d, want 1", rep.FundamentalsWritten)
	}

	// A ticker with no history fetches from the configured start date.
	if c := p.cursor("AAPL"); c != market.MustParseDate("2020-01-01") {
		t.Errorf("cursor = %s, want default start", c)
	}
}

func TestIncrementalCursor(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()

	// Seed history through storage directly.
	if _, err := st.UpdatePrices(ctx, "AAPL", []market.PriceRow{
		price("AAPL", "2024-01-02", 100),
		price("AAPL", "2024-01-05", 101),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	p := newFakeProvider()
	p.prices["AAPL"] = []market.PriceRow{
		price("AAPL", "2024-01-05", 101), // boundary day, already stored
		price("AAPL", "2024-01-08", 102),
	}
	svc := newTestIngest(t, st, p, nil)

	rep, err := svc.UpdatePricesIncremental(ctx, []string{"AAPL"})
	if err != nil {
		t.Fatalf("UpdatePricesIncremental: %v", err)
	}

	// Cursor is the day after the stored maximum.
	if c := p.cursor("AAPL"); c != market.MustParseDate("2024-01-06") {
		t.Errorf("cursor = %s, want 2024-01-06", c)
	}
	if rep.PricesWritten != 1 {
		t.Errorf("PricesWritten = %d, want 1 (only the new day)", rep.PricesWritten)
	}

	rows, err := st.Query().Prices().Ticker("AAPL").Collect(ctx)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(rows) != 3 {
		t.Errorf("stored %d rows, want 3", len(rows))
	}
}

func TestPerTickerFailureIsolation(t *testing.T) {
	st := newTestStorage(t)
	p := newFakeProvider()
	p.prices["AAPL"] = []market.PriceRow{price("AAPL", "2024-01-02", 100)}
	p.errs["BROKEN"] = errors.New("provider 500")
	p.prices["MSFT"] = []market.PriceRow{price("MSFT", "2024-01-02", 200)}

	svc := newTestIngest(t, st, p, nil)
	rep, err := svc.UpdateAll(context.Background(), []string{"AAPL", "BROKEN", "MSFT"}, false)
	if err != nil {
		t.Fatalf("UpdateAll: %v", err)
	}
	if rep.TickersProcessed != 2 {
		t.Errorf("TickersProcessed = %d, want 2", rep.TickersProcessed)
	}
	if got := rep.Failed(); len(got) != 1 || got[0] != "BROKEN" {
		t.Errorf("Failed = %v", got)
	}
	if rep.PricesWritten != 2 {
		t.Errorf("PricesWritten = %d, want 2", rep.PricesWritten)
	}

	// The healthy tickers' data landed despite the failure.
	tickers, err := st.Query().ListTickers(context.Background(), market.DatasetPrices)
	if err != nil {
		t.Fatalf("ListTickers: %v", err)
	}
	if len(tickers) != 2 {
		t.Errorf("tickers = %v", tickers)
	}
}

func TestDropInvalidPolicy(t *testing.T) {
	batch := []market.PriceRow{
		price("AAPL", "2024-01-02", 100),
		{Ticker: "AAPL", Date: market.MustParseDate("2024-01-03"), Close: -1}, // negative close
		price("AAPL", "2024-01-04", 101),
	}

	t.Run("abort by default", func(t *testing.T) {
		st := newTestStorage(t)
		p := newFakeProvider()
		p.prices["AAPL"] = batch
		svc := newTestIngest(t, st, p, nil)

		rep, err := svc.UpdateAll(context.Background(), []string{"AAPL"}, false)
		if err != nil {
			t.Fatalf("UpdateAll: %v", err)
		}
		if len(rep.Failures) != 1 {
			t.Fatalf("report = %+v, want one failure", rep)
		}
		if !errors.Is(rep.Failures["AAPL"], errors.ErrInvalidRow) {
			t.Errorf("failure = %v", rep.Failures["AAPL"])
		}
		// Aborted batch wrote nothing.
		if _, err := st.Query().Prices().Ticker("AAPL").Collect(context.Background()); !errors.Is(err, errors.ErrDatasetNotFound) {
			t.Errorf("want no partitions, got %v", err)
		}
	})

	t.Run("drop when configured", func(t *testing.T) {
		st := newTestStorage(t)
		p := newFakeProvider()
		p.prices["AAPL"] = batch
		svc := newTestIngest(t, st, p, func(c *config.IngestConfig) { c.DropInvalid = true })

		rep, err := svc.UpdateAll(context.Background(), []string{"AAPL"}, false)
		if err != nil {
			t.Fatalf("UpdateAll: %v", err)
		}
		if len(rep.Failures) != 0 || rep.RowsDropped != 1 || rep.PricesWritten != 2 {
			t.Errorf("report = %+v, want 2 written 1 dropped", rep)
		}
	})
}

func TestUpdateAllCancelled(t *testing.T) {
	st := newTestStorage(t)
	p := newFakeProvider()
	svc := newTestIngest(t, st, p, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.UpdateAll(ctx, []string{"AAPL", "MSFT"}, false)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("want context.Canceled, got %v", err)
	}
}

func TestCSVProviderPrices(t *testing.T) {
	dir := t.TempDir()
	csv := "date,open,high,low,close,adjusted_close,volume\n" +
		"2024-01-02,184.0,186.1,183.2,185.5,185.5,50000000\n" +
		"2024-01-03,185.5,187.0,185.0,186.2,186.2,42000000\n"
	if err := os.WriteFile(filepath.Join(dir, "AAPL.csv"), []byte(csv), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	p := CSVProvider{Dir: dir}
	rows, err := p.FetchPrices(context.Background(), "AAPL", 0)
	if err != nil {
		t.Fatalf("FetchPrices: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].Ticker != "AAPL" || rows[0].Volume != 50000000 || rows[0].Close != 185.5 {
		t.Errorf("row 0 = %+v", rows[0])
	}

	// since filters out older days.
	rows, err = p.FetchPrices(context.Background(), "AAPL", market.MustParseDate("2024-01-03"))
	if err != nil {
		t.Fatalf("FetchPrices: %v", err)
	}
	if len(rows) != 1 || rows[0].Date != market.MustParseDate("2024-01-03") {
		t.Errorf("filtered rows = %+v", rows)
	}

	// Missing file is an empty batch.
	rows, err = p.FetchPrices(context.Background(), "ZZZZ", 0)
	if err != nil || rows != nil {
		t.Errorf("missing file: rows=%v err=%v", rows, err)
	}
}

func TestCSVProviderFundamentals(t *testing.T) {
	dir := t.TempDir()
	csv := "fiscal_period,report_date,revenue,net_income,eps,total_assets,total_liabilities,total_equity,operating_cash_flow,shares\n" +
		"2024-Q1,2024-05-02,100.5,,1.25,,,,,\n"
	if err := os.WriteFile(filepath.Join(dir, "AAPL_quarterly.csv"), []byte(csv), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	p := CSVProvider{Dir: dir}
	rows, err := p.FetchFundamentals(context.Background(), "AAPL", market.DatasetFundamentalsQuarterly)
	if err != nil {
		t.Fatalf("FetchFundamentals: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	r := rows[0]
	if r.FiscalPeriod != "2024-Q1" || r.ReportDate != market.MustParseDate("2024-05-02") {
		t.Errorf("row = %+v", r)
	}
	if r.Revenue == nil || *r.Revenue != 100.5 {
		t.Errorf("Revenue = %v", r.Revenue)
	}
	if r.NetIncome != nil {
		t.Error("empty cell parsed as a value")
	}
	if r.EPS == nil || *r.EPS != 1.25 {
		t.Errorf("EPS = %v", r.EPS)
	}

	if _, err := p.FetchFundamentals(context.Background(), "AAPL", market.DatasetPrices); err == nil {
		t.Error("prices dataset accepted by fundamentals fetch")
	}
}

func TestCSVProviderMalformed(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "BAD.csv"),
		[]byte("date,open,high,low,close,adjusted_close,volume\nnot-a-date,1,2,3,4,5,6\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	p := CSVProvider{Dir: dir}
	if _, err := p.FetchPrices(context.Background(), "BAD", 0); err == nil {
		t.Error("malformed date accepted")
	}
}
