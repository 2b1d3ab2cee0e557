// Package partition defines partition keys and the mapping between logical
// keys and their on-disk Hive-style paths.
//
// The path layout is an on-disk schema contract shared with every past
// write; changing it is a data migration, never a rename.
package partition

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xtxerr/yieldstore/internal/errors"
	"github.com/xtxerr/yieldstore/internal/market"
)

// DataFileName is the leaf file name of every ticker-partitioned dataset.
const DataFileName = "data.parquet"

// Key identifies one physical partition. Ticker and Year are zero when the
// dataset does not partition by them. For the metadata dataset, Ticker
// carries the table name instead of a ticker symbol.
type Key struct {
	Dataset market.Dataset
	Ticker  string
	Year    int
}

// PricesKey returns the key of a prices partition.
func PricesKey(ticker string, year int) Key {
	return Key{Dataset: market.DatasetPrices, Ticker: ticker, Year: year}
}

// FundamentalsKey returns the key of a fundamentals partition.
func FundamentalsKey(ds market.Dataset, ticker string) Key {
	return Key{Dataset: ds, Ticker: ticker}
}

// MetadataKey returns the key of a dataset-wide metadata table.
func MetadataKey(table string) Key {
	return Key{Dataset: market.DatasetMetadata, Ticker: table}
}

// String renders the key for logs.
func (k Key) String() string {
	switch {
	case k.Dataset.PartitionedByYear():
		return fmt.Sprintf("%s/ticker=%s/year=%d", k.Dataset, k.Ticker, k.Year)
	case k.Dataset.PartitionedByTicker():
		return fmt.Sprintf("%s/ticker=%s", k.Dataset, k.Ticker)
	default:
		return fmt.Sprintf("%s/%s", k.Dataset, k.Ticker)
	}
}

// Validate checks that the key carries exactly the components its dataset
// partitions by. A violation is a programmer error, reported as
// ErrInvalidKey and never retried.
func (k Key) Validate() error {
	if k.Ticker == "" {
		return fmt.Errorf("%w: %s: missing ticker", errors.ErrInvalidKey, k.Dataset)
	}
	if strings.ContainsAny(k.Ticker, "/\\=") {
		return fmt.Errorf("%w: %s: ticker %q contains path characters", errors.ErrInvalidKey, k.Dataset, k.Ticker)
	}
	if k.Dataset.PartitionedByYear() {
		if k.Year < 1900 || k.Year > 2200 {
			return fmt.Errorf("%w: %s: year %d out of range", errors.ErrInvalidKey, k, k.Year)
		}
	} else if k.Year != 0 {
		return fmt.Errorf("%w: %s: dataset does not partition by year", errors.ErrInvalidKey, k)
	}
	return nil
}

// Descriptor is cached metadata about one partition. It is derived from
// storage and never authoritative: any component may recompute it from the
// partition contents.
type Descriptor struct {
	Key      Key
	RowCount int64

	// Temporal coverage. Prices partitions populate MinDate/MaxDate;
	// fundamentals partitions populate MinPeriod/MaxPeriod.
	MinDate   market.Date
	MaxDate   market.Date
	MinPeriod string
	MaxPeriod string

	LastModified time.Time
}

// Resolver maps partition keys to canonical storage paths and back.
// Paths always use forward slashes so the same form addresses a local
// filesystem or an object-store URI.
type Resolver struct {
	// Root is the configured storage root, without a trailing slash.
	Root string
}

// Resolve returns the canonical path for a key:
//
//	{root}/prices/ticker={T}/year={YYYY}/data.parquet
//	{root}/fundamentals_quarterly/ticker={T}/data.parquet
//	{root}/fundamentals_annual/ticker={T}/data.parquet
//	{root}/metadata/{table}.parquet
func (r Resolver) Resolve(k Key) (string, error) {
	if err := k.Validate(); err != nil {
		return "", err
	}
	switch {
	case k.Dataset.PartitionedByYear():
		return fmt.Sprintf("%s/%s/ticker=%s/year=%d/%s",
			r.Root, k.Dataset, k.Ticker, k.Year, DataFileName), nil
	case k.Dataset.PartitionedByTicker():
		return fmt.Sprintf("%s/%s/ticker=%s/%s",
			r.Root, k.Dataset, k.Ticker, DataFileName), nil
	default:
		return fmt.Sprintf("%s/%s/%s.parquet", r.Root, k.Dataset, k.Ticker), nil
	}
}

// DatasetDir returns the directory that holds every partition of a dataset.
func (r Resolver) DatasetDir(ds market.Dataset) string {
	return r.Root + "/" + ds.String()
}

// TickerDir returns the directory holding a ticker's partitions within a
// ticker-partitioned dataset.
func (r Resolver) TickerDir(ds market.Dataset, ticker string) string {
	return fmt.Sprintf("%s/%s/ticker=%s", r.Root, ds, ticker)
}

// ParsePath is the inverse of Resolve. It recovers the key encoded in a
// storage path, used when rebuilding the partition index by walking the
// root. Paths that do not follow the layout return ErrInvalidKey.
func (r Resolver) ParsePath(path string) (Key, error) {
	rel := strings.TrimPrefix(strings.TrimPrefix(path, r.Root), "/")
	parts := strings.Split(rel, "/")
	if len(parts) < 2 {
		return Key{}, fmt.Errorf("%w: path %q too short", errors.ErrInvalidKey, path)
	}

	ds, err := market.ParseDataset(parts[0])
	if err != nil {
		return Key{}, fmt.Errorf("%w: path %q: %v", errors.ErrInvalidKey, path, err)
	}

	switch {
	case ds.PartitionedByYear():
		if len(parts) != 4 || parts[3] != DataFileName {
			return Key{}, fmt.Errorf("%w: path %q: want %s/ticker=T/year=Y/%s", errors.ErrInvalidKey, path, ds, DataFileName)
		}
		ticker, ok := strings.CutPrefix(parts[1], "ticker=")
		if !ok || ticker == "" {
			return Key{}, fmt.Errorf("%w: path %q: bad ticker segment", errors.ErrInvalidKey, path)
		}
		ys, ok := strings.CutPrefix(parts[2], "year=")
		if !ok {
			return Key{}, fmt.Errorf("%w: path %q: bad year segment", errors.ErrInvalidKey, path)
		}
		year, err := strconv.Atoi(ys)
		if err != nil {
			return Key{}, fmt.Errorf("%w: path %q: bad year %q", errors.ErrInvalidKey, path, ys)
		}
		return Key{Dataset: ds, Ticker: ticker, Year: year}, nil

	case ds.PartitionedByTicker():
		if len(parts) != 3 || parts[2] != DataFileName {
			return Key{}, fmt.Errorf("%w: path %q: want %s/ticker=T/%s", errors.ErrInvalidKey, path, ds, DataFileName)
		}
		ticker, ok := strings.CutPrefix(parts[1], "ticker=")
		if !ok || ticker == "" {
			return Key{}, fmt.Errorf("%w: path %q: bad ticker segment", errors.ErrInvalidKey, path)
		}
		return Key{Dataset: ds, Ticker: ticker}, nil

	default:
		if len(parts) != 2 || !strings.HasSuffix(parts[1], ".parquet") {
			return Key{}, fmt.Errorf("%w: path %q: want %s/{table}.parquet", errors.ErrInvalidKey, path, ds)
		}
		table := strings.TrimSuffix(parts[1], ".parquet")
		if table == "" {
			return Key{}, fmt.Errorf("%w: path %q: empty table name", errors.ErrInvalidKey, path)
		}
		return Key{Dataset: ds, Ticker: table}, nil
	}
}
