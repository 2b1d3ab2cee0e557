package market

import (
	"fmt"

	"github.com/xtxerr/yieldstore/internal/errors"
)

// PriceRow is one daily price observation. The natural key is
// (Ticker, Date): a partition holds at most one row per date.
type PriceRow struct {
	Ticker   string  `parquet:"ticker,zstd"`
	Date     Date    `parquet:"date"`
	Open     float64 `parquet:"open"`
	High     float64 `parquet:"high"`
	Low      float64 `parquet:"low"`
	Close    float64 `parquet:"close"`
	AdjClose float64 `parquet:"adjusted_close"`
	Volume   int64   `parquet:"volume"`
}

// Key returns the natural key of the row.
func (r PriceRow) Key() string { return r.Ticker + "\x00" + r.Date.String() }

// Validate checks the row against the schema invariants. Violations are
// reported as ErrInvalidRow; the caller decides drop-vs-abort.
func (r PriceRow) Validate() error {
	if r.Ticker == "" {
		return fmt.Errorf("%w: missing ticker", errors.ErrInvalidRow)
	}
	if r.Date.IsZero() {
		return fmt.Errorf("%w: %s: missing date", errors.ErrInvalidRow, r.Ticker)
	}
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"open", r.Open},
		{"high", r.High},
		{"low", r.Low},
		{"close", r.Close},
		{"adjusted_close", r.AdjClose},
	} {
		if f.value < 0 {
			return fmt.Errorf("%w: %s %s: negative %s", errors.ErrInvalidRow, r.Ticker, r.Date, f.name)
		}
	}
	if r.Volume < 0 {
		return fmt.Errorf("%w: %s %s: negative volume", errors.ErrInvalidRow, r.Ticker, r.Date)
	}
	return nil
}

// FundamentalsRow is one reported fiscal period for a company. The natural
// key is (Ticker, FiscalPeriod). FiscalPeriod sorts chronologically as a
// string: "2024-Q1" for quarterly data, "2024" for annual.
//
// Statement fields are pointers because providers report them sparsely;
// nil means "not reported", which is distinct from zero.
type FundamentalsRow struct {
	Ticker       string `parquet:"ticker,zstd"`
	FiscalPeriod string `parquet:"fiscal_period,zstd"`
	ReportDate   Date   `parquet:"report_date"`

	Revenue           *float64 `parquet:"revenue,optional"`
	NetIncome         *float64 `parquet:"net_income,optional"`
	EPS               *float64 `parquet:"eps,optional"`
	TotalAssets       *float64 `parquet:"total_assets,optional"`
	TotalLiabilities  *float64 `parquet:"total_liabilities,optional"`
	TotalEquity       *float64 `parquet:"total_equity,optional"`
	OperatingCashFlow *float64 `parquet:"operating_cash_flow,optional"`
	Shares            *float64 `parquet:"shares,optional"`
}

// Key returns the natural key of the row.
func (r FundamentalsRow) Key() string { return r.Ticker + "\x00" + r.FiscalPeriod }

// Validate checks the row against the schema invariants.
func (r FundamentalsRow) Validate() error {
	if r.Ticker == "" {
		return fmt.Errorf("%w: missing ticker", errors.ErrInvalidRow)
	}
	if r.FiscalPeriod == "" {
		return fmt.Errorf("%w: %s: missing fiscal period", errors.ErrInvalidRow, r.Ticker)
	}
	return nil
}

// CompanyRow is one entry in the dataset-wide companies metadata table.
type CompanyRow struct {
	Ticker   string `parquet:"ticker,zstd"`
	Name     string `parquet:"name,zstd"`
	Sector   string `parquet:"sector,zstd"`
	Industry string `parquet:"industry,zstd"`
	Currency string `parquet:"currency,zstd"`
}

// Validate checks the row against the schema invariants.
func (r CompanyRow) Validate() error {
	if r.Ticker == "" {
		return fmt.Errorf("%w: missing ticker", errors.ErrInvalidRow)
	}
	return nil
}

// QuarterPeriod formats a quarterly fiscal period identifier.
func QuarterPeriod(year, quarter int) string {
	return fmt.Sprintf("%04d-Q%d", year, quarter)
}

// AnnualPeriod formats an annual fiscal period identifier.
func AnnualPeriod(year int) string {
	return fmt.Sprintf("%04d", year)
}
