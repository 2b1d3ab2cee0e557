// Package ingest orchestrates bulk and incremental updates: fetching rows
// from a data provider and folding them into partitions through the merger.
//
// The remote provider itself (rate limits, retries) is deliberately outside
// this module; it arrives here as an interface whose batches are already
// complete. Per-ticker failures are isolated: one ticker's fault never
// aborts its siblings, and the report carries every outcome.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/yieldstore/internal/logging"
	"github.com/xtxerr/yieldstore/internal/market"
	"github.com/xtxerr/yieldstore/internal/storage"
	"github.com/xtxerr/yieldstore/internal/storage/config"
)

// Provider supplies market data batches. FetchPrices honors the since
// cursor (zero means full history) and may return rows in any order.
type Provider interface {
	FetchPrices(ctx context.Context, ticker string, since market.Date) ([]market.PriceRow, error)
	FetchFundamentals(ctx context.Context, ticker string, ds market.Dataset) ([]market.FundamentalsRow, error)
}

// Service runs updates over a set of tickers with a bounded worker pool.
// Each worker owns one ticker at a time, so no two workers ever write the
// same partition key.
type Service struct {
	storage  *storage.Service
	provider Provider

	workers      int
	dropInvalid  bool
	defaultStart market.Date

	log *slog.Logger
}

// New creates an ingestion service.
func New(st *storage.Service, p Provider, cfg config.IngestConfig) (*Service, error) {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	var start market.Date
	if cfg.DefaultStartDate != "" {
		d, err := market.ParseDate(cfg.DefaultStartDate)
		if err != nil {
			return nil, fmt.Errorf("default start date: %w", err)
		}
		start = d
	}
	return &Service{
		storage:      st,
		provider:     p,
		workers:      workers,
		dropInvalid:  cfg.DropInvalid,
		defaultStart: start,
		log:          logging.Component("ingest"),
	}, nil
}

// Report summarizes one update run.
type Report struct {
	TickersProcessed    int
	PricesWritten       int
	FundamentalsWritten int
	RowsDropped         int
	Failures            map[string]error
}

// Failed returns the tickers that failed, sorted.
func (r Report) Failed() []string {
	out := make([]string, 0, len(r.Failures))
	for t := range r.Failures {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

type tickerResult struct {
	ticker       string
	prices       int
	fundamentals int
	dropped      int
	err          error
}

// UpdateAll fetches and merges prices (and optionally fundamentals) for
// every given ticker. Tickers run in parallel up to the configured worker
// count. Cancelling ctx stops scheduling new tickers; in-flight merges
// finish their current partition.
func (s *Service) UpdateAll(ctx context.Context, tickers []string, includeFundamentals bool) (Report, error) {
	results := make([]tickerResult, len(tickers))

	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, ticker := range tickers {
		if err := ctx.Err(); err != nil {
			results[i] = tickerResult{ticker: ticker, err: err}
			continue
		}
		g.Go(func() error {
			results[i] = s.updateTicker(ctx, ticker, includeFundamentals)
			return nil
		})
	}
	// Workers record their own outcomes and never return errors.
	_ = g.Wait()

	return s.summarize(results), ctx.Err()
}

// UpdatePricesIncremental fetches only rows newer than each ticker's stored
// cursor. Tickers with no stored history start at the configured default
// start date.
func (s *Service) UpdatePricesIncremental(ctx context.Context, tickers []string) (Report, error) {
	return s.UpdateAll(ctx, tickers, false)
}

func (s *Service) updateTicker(ctx context.Context, ticker string, includeFundamentals bool) tickerResult {
	res := tickerResult{ticker: ticker}

	since, ok, err := s.storage.Merger().LatestPriceDate(ctx, ticker)
	if err != nil {
		res.err = fmt.Errorf("latest date: %w", err)
		return res
	}
	cursor := s.defaultStart
	if ok {
		// Fetch strictly after what is stored; a re-fetched boundary day
		// would be deduplicated anyway.
		cursor = since.AddDays(1)
	}

	rows, err := s.provider.FetchPrices(ctx, ticker, cursor)
	if err != nil {
		res.err = fmt.Errorf("fetch prices: %w", err)
		return res
	}
	rows, res.dropped, err = s.filterPrices(ticker, rows)
	if err != nil {
		res.err = err
		return res
	}

	outcomes, err := s.storage.UpdatePrices(ctx, ticker, rows)
	if err != nil {
		res.err = err
		return res
	}
	for _, out := range outcomes {
		if out.Written {
			res.prices += out.Added + out.Updated
		}
	}

	if includeFundamentals {
		for _, ds := range []market.Dataset{market.DatasetFundamentalsQuarterly, market.DatasetFundamentalsAnnual} {
			frows, err := s.provider.FetchFundamentals(ctx, ticker, ds)
			if err != nil {
				res.err = fmt.Errorf("fetch %s: %w", ds, err)
				return res
			}
			frows, dropped, err := s.filterFundamentals(ticker, frows)
			if err != nil {
				res.err = err
				return res
			}
			res.dropped += dropped
			out, err := s.storage.UpdateFundamentals(ctx, ds, ticker, frows)
			if err != nil {
				res.err = err
				return res
			}
			if out.Written {
				res.fundamentals += out.Added + out.Updated
			}
		}
	}

	return res
}

// filterPrices applies the batch validation policy: with drop_invalid set,
// bad rows are removed and counted; otherwise the first bad row aborts the
// ticker's batch.
func (s *Service) filterPrices(ticker string, rows []market.PriceRow) ([]market.PriceRow, int, error) {
	kept := rows[:0]
	dropped := 0
	for i, row := range rows {
		if err := row.Validate(); err != nil {
			if !s.dropInvalid {
				return nil, 0, fmt.Errorf("row %d: %w", i, err)
			}
			dropped++
			continue
		}
		kept = append(kept, row)
	}
	if dropped > 0 {
		s.log.Warn("dropped invalid price rows", "ticker", ticker, "dropped", dropped)
	}
	return kept, dropped, nil
}

func (s *Service) filterFundamentals(ticker string, rows []market.FundamentalsRow) ([]market.FundamentalsRow, int, error) {
	kept := rows[:0]
	dropped := 0
	for i, row := range rows {
		if err := row.Validate(); err != nil {
			if !s.dropInvalid {
				return nil, 0, fmt.Errorf("row %d: %w", i, err)
			}
			dropped++
			continue
		}
		kept = append(kept, row)
	}
	if dropped > 0 {
		s.log.Warn("dropped invalid fundamentals rows", "ticker", ticker, "dropped", dropped)
	}
	return kept, dropped, nil
}

func (s *Service) summarize(results []tickerResult) Report {
	rep := Report{Failures: make(map[string]error)}
	for _, r := range results {
		if r.ticker == "" {
			continue
		}
		if r.err != nil {
			rep.Failures[r.ticker] = r.err
			s.log.Error("ticker update failed", "ticker", r.ticker, "error", r.err)
			continue
		}
		rep.TickersProcessed++
		rep.PricesWritten += r.prices
		rep.FundamentalsWritten += r.fundamentals
		rep.RowsDropped += r.dropped
	}
	s.log.Info("update complete",
		"tickers", rep.TickersProcessed,
		"prices", rep.PricesWritten,
		"fundamentals", rep.FundamentalsWritten,
		"failures", len(rep.Failures))
	return rep
}
