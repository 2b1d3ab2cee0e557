// Package index maintains the in-memory catalog of existing partitions and
// their coverage, used to decide what is "new" during incremental updates
// and to prune queries.
//
// The index is a best-effort cache over on-disk state, never the source of
// truth. It is owned explicitly by the storage service and passed by
// reference; rebuilding it from storage is idempotent and never mutates a
// partition.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/xtxerr/yieldstore/internal/logging"
	"github.com/xtxerr/yieldstore/internal/market"
	"github.com/xtxerr/yieldstore/internal/storage/parquet"
	"github.com/xtxerr/yieldstore/internal/storage/partition"
)

// Index is a lock-protected map from partition key to descriptor.
// Descriptors are refreshed synchronously after every successful merge
// write; cold lookups fall back to probing storage, deduplicated through
// singleflight so concurrent readers of the same key trigger one probe.
type Index struct {
	mu      sync.RWMutex
	entries map[partition.Key]partition.Descriptor

	sf       singleflight.Group
	store    parquet.Store
	resolver partition.Resolver
	log      *slog.Logger
}

// New creates an empty index over the given store and resolver.
func New(store parquet.Store, resolver partition.Resolver) *Index {
	return &Index{
		entries:  make(map[partition.Key]partition.Descriptor),
		store:    store,
		resolver: resolver,
		log:      logging.Component("index"),
	}
}

// Get returns the cached descriptor for a key, if present. It never touches
// storage.
func (ix *Index) Get(key partition.Key) (partition.Descriptor, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	d, ok := ix.entries[key]
	return d, ok
}

// Put records a descriptor. Called by the merger after a successful write.
func (ix *Index) Put(d partition.Descriptor) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.entries[d.Key] = d
}

// Forget drops a cached descriptor.
func (ix *Index) Forget(key partition.Key) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.entries, key)
}

// Len returns the number of cataloged partitions.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Keys returns the cataloged keys for a dataset, sorted by ticker then year.
func (ix *Index) Keys(ds market.Dataset) []partition.Key {
	ix.mu.RLock()
	keys := make([]partition.Key, 0, len(ix.entries))
	for k := range ix.entries {
		if k.Dataset == ds {
			keys = append(keys, k)
		}
	}
	ix.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Ticker != keys[j].Ticker {
			return keys[i].Ticker < keys[j].Ticker
		}
		return keys[i].Year < keys[j].Year
	})
	return keys
}

// Load returns the descriptor for a key, probing storage on a cache miss.
// Absent partitions return ErrNotFound; absence is not cached.
func (ix *Index) Load(key partition.Key) (partition.Descriptor, error) {
	if d, ok := ix.Get(key); ok {
		return d, nil
	}

	v, err, _ := ix.sf.Do(key.String(), func() (any, error) {
		// Another caller may have filled the entry while we waited.
		if d, ok := ix.Get(key); ok {
			return d, nil
		}
		d, err := Probe(ix.store, ix.resolver, key)
		if err != nil {
			return partition.Descriptor{}, err
		}
		ix.Put(d)
		return d, nil
	})
	if err != nil {
		return partition.Descriptor{}, err
	}
	return v.(partition.Descriptor), nil
}

// Rebuild recomputes the whole catalog from on-disk state. It replaces the
// entry map wholesale on success and checks ctx between partitions so a
// long rebuild can be cancelled; it is never interrupted mid-probe.
func (ix *Index) Rebuild(ctx context.Context) error {
	files, err := ix.store.List(ix.resolver.Root)
	if err != nil {
		return fmt.Errorf("list partitions: %w", err)
	}

	entries := make(map[partition.Key]partition.Descriptor, len(files))
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		key, err := ix.resolver.ParsePath(path)
		if err != nil {
			// Stray files under the root are skipped, not fatal.
			ix.log.Warn("skipping unrecognized file", "path", path, "error", err)
			continue
		}
		d, err := Probe(ix.store, ix.resolver, key)
		if err != nil {
			return fmt.Errorf("probe %s: %w", key, err)
		}
		entries[key] = d
	}

	ix.mu.Lock()
	ix.entries = entries
	ix.mu.Unlock()

	ix.log.Info("index rebuilt", "partitions", len(entries))
	return nil
}

// Probe derives a partition's descriptor from its stored contents. It is a
// pure function of on-disk state and performs no writes.
func Probe(st parquet.Store, r partition.Resolver, key partition.Key) (partition.Descriptor, error) {
	path, err := r.Resolve(key)
	if err != nil {
		return partition.Descriptor{}, err
	}

	info, err := st.Stat(path)
	if err != nil {
		return partition.Descriptor{}, err
	}

	d := partition.Descriptor{Key: key, LastModified: info.ModTime}

	switch {
	case key.Dataset == market.DatasetPrices:
		rows, err := st.ReadPrices(path)
		if err != nil {
			return partition.Descriptor{}, err
		}
		d.RowCount = int64(len(rows))
		for _, row := range rows {
			if d.MinDate.IsZero() || row.Date.Before(d.MinDate) {
				d.MinDate = row.Date
			}
			if row.Date.After(d.MaxDate) {
				d.MaxDate = row.Date
			}
		}

	case key.Dataset.Fundamentals():
		rows, err := st.ReadFundamentals(path)
		if err != nil {
			return partition.Descriptor{}, err
		}
		d.RowCount = int64(len(rows))
		for _, row := range rows {
			if d.MinPeriod == "" || row.FiscalPeriod < d.MinPeriod {
				d.MinPeriod = row.FiscalPeriod
			}
			if row.FiscalPeriod > d.MaxPeriod {
				d.MaxPeriod = row.FiscalPeriod
			}
		}

	default:
		rows, err := st.ReadCompanies(path)
		if err != nil {
			return partition.Descriptor{}, err
		}
		d.RowCount = int64(len(rows))
	}

	return d, nil
}
