// Package query serves analytical reads over the partitioned dataset.
//
// Pruning happens before any partition is read: the candidate file set is
// computed from partition keys (directory listings only), so a single-ticker
// query never opens another ticker's partitions. Execution then goes through
// DuckDB's read_parquet over exactly that file list, which pushes column and
// predicate pruning into the Parquet reader.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/yieldstore/internal/errors"
	"github.com/xtxerr/yieldstore/internal/logging"
	"github.com/xtxerr/yieldstore/internal/market"
	"github.com/xtxerr/yieldstore/internal/storage/parquet"
	"github.com/xtxerr/yieldstore/internal/storage/partition"
)

// Service provides query capabilities over stored partitions.
type Service struct {
	db       *sql.DB
	store    parquet.Store
	resolver partition.Resolver
	log      *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// Stats holds query statistics.
type Stats struct {
	QueriesExecuted int64
	FilesScanned    int64
	RowsReturned    int64
	Errors          int64
}

// New creates a query service backed by an in-memory DuckDB instance.
// memoryLimit is passed to DuckDB when non-empty (e.g. "1GB").
func New(store parquet.Store, resolver partition.Resolver, memoryLimit string) (*Service, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	if memoryLimit != "" {
		if _, err := db.Exec(fmt.Sprintf("SET memory_limit='%s'", memoryLimit)); err != nil {
			db.Close()
			return nil, fmt.Errorf("set memory limit: %w", err)
		}
	}

	return &Service{
		db:       db,
		store:    store,
		resolver: resolver,
		log:      logging.Component("query"),
	}, nil
}

// Close closes the query service.
func (s *Service) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Stats returns a snapshot of query statistics.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Service) record(files, rows int, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.QueriesExecuted++
	s.stats.FilesScanned += int64(files)
	s.stats.RowsReturned += int64(rows)
	if failed {
		s.stats.Errors++
	}
}

// ListTickers returns the tickers with at least one partition in a dataset,
// sorted. Listing inspects directory names only, never file contents.
func (s *Service) ListTickers(ctx context.Context, ds market.Dataset) ([]string, error) {
	if !ds.PartitionedByTicker() {
		return nil, fmt.Errorf("%w: %s is not ticker-partitioned", errors.ErrInvalidDataset, ds)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	keys, err := s.datasetKeys(ds)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var tickers []string
	for _, k := range keys {
		if !seen[k.Ticker] {
			seen[k.Ticker] = true
			tickers = append(tickers, k.Ticker)
		}
	}
	sort.Strings(tickers)
	return tickers, nil
}

// Companies reads the dataset-wide companies metadata table. A missing
// table is an empty result, not an error.
func (s *Service) Companies(ctx context.Context) ([]market.CompanyRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.resolver.Resolve(partition.MetadataKey("companies"))
	if err != nil {
		return nil, err
	}
	rows, err := s.store.ReadCompanies(path)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return rows, nil
}

// datasetKeys enumerates every partition key of a dataset from storage.
// ErrDatasetNotFound when the dataset has no partitions at all.
func (s *Service) datasetKeys(ds market.Dataset) ([]partition.Key, error) {
	files, err := s.store.List(s.resolver.DatasetDir(ds))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", ds, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s", errors.ErrDatasetNotFound, ds)
	}
	keys := make([]partition.Key, 0, len(files))
	for _, path := range files {
		k, err := s.resolver.ParsePath(path)
		if err != nil {
			continue
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// tickerKeys enumerates a single ticker's partition keys without listing
// the rest of the dataset. It distinguishes "ticker absent" (empty keys)
// from "dataset absent" (ErrDatasetNotFound).
func (s *Service) tickerKeys(ds market.Dataset, ticker string) ([]partition.Key, error) {
	files, err := s.store.List(s.resolver.TickerDir(ds, ticker))
	if err != nil {
		return nil, fmt.Errorf("list %s/%s: %w", ds, ticker, err)
	}
	if len(files) == 0 {
		// Only now inspect the dataset level, still directory names only.
		all, err := s.store.List(s.resolver.DatasetDir(ds))
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", ds, err)
		}
		if len(all) == 0 {
			return nil, fmt.Errorf("%w: %s", errors.ErrDatasetNotFound, ds)
		}
		return nil, nil
	}
	keys := make([]partition.Key, 0, len(files))
	for _, path := range files {
		k, err := s.resolver.ParsePath(path)
		if err != nil {
			continue
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// readParquetList renders a DuckDB read_parquet source over an explicit
// file list. Paths come from the resolver, but quotes are escaped anyway.
func readParquetList(paths []string) string {
	quoted := make([]string, len(paths))
	for i, p := range paths {
		quoted[i] = "'" + strings.ReplaceAll(p, "'", "''") + "'"
	}
	return "read_parquet([" + strings.Join(quoted, ", ") + "])"
}
