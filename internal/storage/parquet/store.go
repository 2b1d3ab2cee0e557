package parquet

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/xtxerr/yieldstore/internal/market"
)

// FileInfo describes a stored partition file.
type FileInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Store is the capability interface for partition storage. All methods are
// path-addressed; paths come from partition.Resolver and are opaque here.
//
// Read methods return ErrNotFound when no partition exists at the path.
// Write methods are all-or-nothing: on error the previous contents remain
// intact. I/O faults are surfaced unmodified, never swallowed or retried.
type Store interface {
	ReadPrices(path string) ([]market.PriceRow, error)
	WritePrices(path string, rows []market.PriceRow) error

	ReadFundamentals(path string) ([]market.FundamentalsRow, error)
	WriteFundamentals(path string, rows []market.FundamentalsRow) error

	ReadCompanies(path string) ([]market.CompanyRow, error)
	WriteCompanies(path string, rows []market.CompanyRow) error

	Exists(path string) (bool, error)
	Stat(path string) (FileInfo, error)

	// List returns every partition file under dir, recursively, sorted.
	// A missing dir is an empty listing, not an error.
	List(dir string) ([]string, error)
}

// walkParquetFiles lists *.parquet files under dir on a local filesystem.
func walkParquetFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".parquet") {
			files = append(files, filepath.ToSlash(path))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
