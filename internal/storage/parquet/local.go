package parquet

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
	"github.com/xtxerr/yieldstore/internal/market"
)

// LocalStore stores partition files on a local filesystem.
type LocalStore struct {
	opts Options
}

// NewLocalStore creates a local filesystem store.
func NewLocalStore(opts Options) *LocalStore {
	return &LocalStore{opts: opts}
}

// ReadPrices reads a prices partition.
func (s *LocalStore) ReadPrices(path string) ([]market.PriceRow, error) {
	return readAll[market.PriceRow](path)
}

// WritePrices writes a prices partition atomically.
func (s *LocalStore) WritePrices(path string, rows []market.PriceRow) error {
	return writeAtomic(path, rows, s.opts)
}

// ReadFundamentals reads a fundamentals partition.
func (s *LocalStore) ReadFundamentals(path string) ([]market.FundamentalsRow, error) {
	return readAll[market.FundamentalsRow](path)
}

// WriteFundamentals writes a fundamentals partition atomically.
func (s *LocalStore) WriteFundamentals(path string, rows []market.FundamentalsRow) error {
	return writeAtomic(path, rows, s.opts)
}

// ReadCompanies reads a metadata companies table.
func (s *LocalStore) ReadCompanies(path string) ([]market.CompanyRow, error) {
	return readAll[market.CompanyRow](path)
}

// WriteCompanies writes a metadata companies table atomically.
func (s *LocalStore) WriteCompanies(path string, rows []market.CompanyRow) error {
	return writeAtomic(path, rows, s.opts)
}

// Exists reports whether a partition file exists at path.
func (s *LocalStore) Exists(path string) (bool, error) {
	_, err := os.Stat(filepath.FromSlash(path))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", path, err)
}

// Stat returns file metadata for a partition.
func (s *LocalStore) Stat(path string) (FileInfo, error) {
	st, err := os.Stat(filepath.FromSlash(path))
	if err != nil {
		if os.IsNotExist(err) {
			return FileInfo{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return FileInfo{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return FileInfo{Path: path, Size: st.Size(), ModTime: st.ModTime()}, nil
}

// List returns every partition file under dir, recursively, sorted.
func (s *LocalStore) List(dir string) ([]string, error) {
	files, err := walkParquetFiles(filepath.FromSlash(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	return files, nil
}

// readAll reads a full partition file into a typed row batch.
func readAll[T any](path string) ([]T, error) {
	f, err := os.Open(filepath.FromSlash(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	reader := parquet.NewGenericReader[T](f)
	defer reader.Close()

	numRows := reader.NumRows()
	if numRows == 0 {
		return nil, nil
	}

	rows := make([]T, numRows)
	n, err := reader.Read(rows)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return rows[:n], nil
}

// writeAtomic serializes rows to a sibling temporary file, syncs it, and
// publishes it with a single rename. On any failure before the rename the
// temporary file is removed and the previous contents of path remain
// untouched. A directory-sync failure after the rename is still reported as
// an error even though the new contents are already visible; callers that
// cache state derived from the file must treat a write error as "unknown",
// not "unchanged".
func writeAtomic[T any](path string, rows []T, opts Options) error {
	target := filepath.FromSlash(path)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(target)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	writer := parquet.NewGenericWriter[T](tmp,
		parquet.Compression(getCompression(opts.Compression)),
	)

	if _, err := writer.Write(rows); err != nil {
		cleanup()
		return fmt.Errorf("write rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close writer: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("publish %s: %w", path, err)
	}

	// Make the rename itself durable.
	if err := syncDir(dir); err != nil {
		return fmt.Errorf("sync directory %s: %w", dir, err)
	}
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

var _ Store = (*LocalStore)(nil)
