// Package errors consolidates sentinel error definitions for the project.
//
// This package provides:
// - Sentinel errors for all error conditions
// - Error category checking functions
// - Convenience wrappers for the standard errors package
package errors

import (
	"errors"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Absence conditions. ErrNotFound is not a failure for callers that
	// probe before acting; they branch on it.
	ErrNotFound        = errors.New("not found")
	ErrDatasetNotFound = errors.New("dataset has no partitions")
	ErrTickerNotFound  = errors.New("ticker not found")

	// Validation errors. ErrInvalidKey is a programmer error and is never
	// retried. ErrInvalidRow is reported per row; batch policy decides
	// whether to drop the row or abort the batch.
	ErrInvalidKey     = errors.New("invalid partition key")
	ErrInvalidRow     = errors.New("invalid row")
	ErrInvalidRange   = errors.New("invalid date range")
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrMissingField   = errors.New("missing required field")
	ErrInvalidDataset = errors.New("invalid dataset")

	// State errors.
	ErrStoreClosed  = errors.New("store is closed")
	ErrWriterClosed = errors.New("writer is closed")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// New is a convenience wrapper for errors.New
var New = errors.New

// IsNotFound returns true if err is an absence condition.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrDatasetNotFound) ||
		errors.Is(err, ErrTickerNotFound)
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidKey) ||
		errors.Is(err, ErrInvalidRow) ||
		errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidDataset)
}
