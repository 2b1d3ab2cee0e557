package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/xtxerr/yieldstore/internal/errors"
	"github.com/xtxerr/yieldstore/internal/logging"
	"github.com/xtxerr/yieldstore/internal/market"
	"github.com/xtxerr/yieldstore/internal/storage/config"
	"github.com/xtxerr/yieldstore/internal/storage/index"
	"github.com/xtxerr/yieldstore/internal/storage/merge"
	"github.com/xtxerr/yieldstore/internal/storage/parquet"
	"github.com/xtxerr/yieldstore/internal/storage/partition"
	"github.com/xtxerr/yieldstore/internal/storage/query"
	"github.com/xtxerr/yieldstore/internal/storage/stats"
)

// Service is the main storage service that wires all components.
type Service struct {
	config   *config.Config
	store    parquet.Store
	resolver partition.Resolver
	index    *index.Index
	merger   *merge.Merger
	query    *query.Service
	log      *slog.Logger
}

// New creates a storage service over the configured data root.
func New(cfg *config.Config) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	opts := parquet.Options{
		Compression:      parquet.ParseCompressionType(cfg.Compression.Algorithm),
		CompressionLevel: cfg.Compression.Level,
	}
	store := parquet.NewLocalStore(opts)
	resolver := partition.Resolver{Root: filepath.ToSlash(cfg.DataDir)}
	ix := index.New(store, resolver)

	qs, err := query.New(store, resolver, cfg.Query.MemoryLimit)
	if err != nil {
		return nil, fmt.Errorf("create query service: %w", err)
	}

	return &Service{
		config:   cfg,
		store:    store,
		resolver: resolver,
		index:    ix,
		merger:   merge.New(store, resolver, ix),
		query:    qs,
		log:      logging.Component("storage"),
	}, nil
}

// Close releases the query engine. Partition files need no shutdown step;
// every write is already published atomically.
func (s *Service) Close() error {
	return s.query.Close()
}

// Query returns the query service.
func (s *Service) Query() *query.Service { return s.query }

// Merger returns the incremental merger.
func (s *Service) Merger() *merge.Merger { return s.merger }

// Index returns the partition index.
func (s *Service) Index() *index.Index { return s.index }

// Store returns the columnar store.
func (s *Service) Store() parquet.Store { return s.store }

// Resolver returns the partition path resolver.
func (s *Service) Resolver() partition.Resolver { return s.resolver }

// RebuildIndex recomputes the partition catalog from on-disk state. It is
// cancellable between partitions.
func (s *Service) RebuildIndex(ctx context.Context) error {
	return s.index.Rebuild(ctx)
}

// UpdatePrices merges a batch of price rows for one ticker, splitting the
// batch across year partitions. Outcomes are returned per partition, in
// year order.
func (s *Service) UpdatePrices(ctx context.Context, ticker string, rows []market.PriceRow) ([]merge.Outcome, error) {
	byYear := make(map[int][]market.PriceRow)
	for i, row := range rows {
		if err := row.Validate(); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		if row.Ticker != ticker {
			return nil, fmt.Errorf("%w: row %d ticker %q in batch for %q",
				errors.ErrInvalidRow, i, row.Ticker, ticker)
		}
		year := row.Date.Year()
		byYear[year] = append(byYear[year], row)
	}

	years := make([]int, 0, len(byYear))
	for y := range byYear {
		years = append(years, y)
	}
	sort.Ints(years)

	outcomes := make([]merge.Outcome, 0, len(years))
	for _, year := range years {
		out, err := s.merger.MergePrices(ctx, partition.PricesKey(ticker, year), byYear[year])
		if err != nil {
			return outcomes, fmt.Errorf("merge %s/%d: %w", ticker, year, err)
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

// UpdateFundamentals merges a batch of fundamentals rows for one ticker
// into the quarterly or annual dataset.
func (s *Service) UpdateFundamentals(ctx context.Context, ds market.Dataset, ticker string, rows []market.FundamentalsRow) (merge.Outcome, error) {
	return s.merger.MergeFundamentals(ctx, partition.FundamentalsKey(ds, ticker), rows)
}

// ReplaceCompanies overwrites the dataset-wide companies metadata table.
// Metadata tables are provider snapshots, replaced wholesale rather than
// merged.
func (s *Service) ReplaceCompanies(ctx context.Context, rows []market.CompanyRow) error {
	for i, row := range rows {
		if err := row.Validate(); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	key := partition.MetadataKey("companies")
	path, err := s.resolver.Resolve(key)
	if err != nil {
		return err
	}
	if err := s.store.WriteCompanies(path, rows); err != nil {
		return fmt.Errorf("write companies table: %w", err)
	}

	d, err := index.Probe(s.store, s.resolver, key)
	if err != nil {
		return fmt.Errorf("probe companies table: %w", err)
	}
	s.index.Put(d)
	s.log.Info("companies table replaced", "rows", len(rows))
	return nil
}

// PriceSummary computes one ticker's coverage and distribution summary by
// streaming its stored rows through the query service.
func (s *Service) PriceSummary(ctx context.Context, ticker string) (stats.TickerSummary, error) {
	acc, err := stats.NewAccumulator(ticker)
	if err != nil {
		return stats.TickerSummary{}, err
	}
	err = s.query.Prices().Ticker(ticker).Each(ctx, func(row market.PriceRow) error {
		acc.Add(row)
		return nil
	})
	if err != nil {
		return stats.TickerSummary{}, err
	}
	return acc.Summary(), nil
}

// Summary computes summaries for every ticker in the prices dataset.
func (s *Service) Summary(ctx context.Context) ([]stats.TickerSummary, error) {
	tickers, err := s.query.ListTickers(ctx, market.DatasetPrices)
	if err != nil {
		return nil, err
	}
	out := make([]stats.TickerSummary, 0, len(tickers))
	for _, t := range tickers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sum, err := s.PriceSummary(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("summarize %s: %w", t, err)
		}
		out = append(out, sum)
	}
	return out, nil
}
