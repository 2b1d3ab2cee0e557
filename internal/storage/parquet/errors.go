package parquet

import (
	"github.com/xtxerr/yieldstore/internal/errors"
)

var (
	ErrNotFound     = errors.ErrNotFound
	ErrWriterClosed = errors.ErrWriterClosed
)
