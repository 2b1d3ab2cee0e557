package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/xtxerr/yieldstore/internal/market"
)

// CSVProvider reads provider batch exports from a local directory, one file
// per ticker:
//
//	{dir}/{TICKER}.csv            prices
//	{dir}/{TICKER}_quarterly.csv  quarterly fundamentals
//	{dir}/{TICKER}_annual.csv     annual fundamentals
//
// Price files carry a header row and the columns
// date,open,high,low,close,adjusted_close,volume. Fundamentals files carry
// fiscal_period,report_date,revenue,net_income,eps,total_assets,
// total_liabilities,total_equity,operating_cash_flow,shares; empty cells
// are nulls.
//
// A missing file yields an empty batch, mirroring a provider with no data
// for the ticker. This is offline glue for bulk exports; the live remote
// client stays outside this module.
type CSVProvider struct {
	Dir string
}

// FetchPrices reads a ticker's price batch, filtered to dates after since.
func (p CSVProvider) FetchPrices(ctx context.Context, ticker string, since market.Date) ([]market.PriceRow, error) {
	records, err := p.readFile(ctx, ticker+".csv")
	if err != nil || records == nil {
		return nil, err
	}

	var rows []market.PriceRow
	for i, rec := range records {
		if len(rec) != 7 {
			return nil, fmt.Errorf("%s.csv row %d: want 7 columns, got %d", ticker, i+2, len(rec))
		}
		date, err := market.ParseDate(rec[0])
		if err != nil {
			return nil, fmt.Errorf("%s.csv row %d: %w", ticker, i+2, err)
		}
		if !since.IsZero() && date.Before(since) {
			continue
		}
		row := market.PriceRow{Ticker: ticker, Date: date}
		for j, dst := range []*float64{&row.Open, &row.High, &row.Low, &row.Close, &row.AdjClose} {
			v, err := strconv.ParseFloat(rec[j+1], 64)
			if err != nil {
				return nil, fmt.Errorf("%s.csv row %d col %d: %w", ticker, i+2, j+2, err)
			}
			*dst = v
		}
		vol, err := strconv.ParseInt(rec[6], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s.csv row %d: volume: %w", ticker, i+2, err)
		}
		row.Volume = vol
		rows = append(rows, row)
	}
	return rows, nil
}

// FetchFundamentals reads a ticker's fundamentals batch for a dataset.
func (p CSVProvider) FetchFundamentals(ctx context.Context, ticker string, ds market.Dataset) ([]market.FundamentalsRow, error) {
	var suffix string
	switch ds {
	case market.DatasetFundamentalsQuarterly:
		suffix = "_quarterly.csv"
	case market.DatasetFundamentalsAnnual:
		suffix = "_annual.csv"
	default:
		return nil, fmt.Errorf("csv provider: %s is not a fundamentals dataset", ds)
	}

	records, err := p.readFile(ctx, ticker+suffix)
	if err != nil || records == nil {
		return nil, err
	}

	var rows []market.FundamentalsRow
	for i, rec := range records {
		if len(rec) != 10 {
			return nil, fmt.Errorf("%s%s row %d: want 10 columns, got %d", ticker, suffix, i+2, len(rec))
		}
		row := market.FundamentalsRow{Ticker: ticker, FiscalPeriod: rec[0]}
		if rec[1] != "" {
			d, err := market.ParseDate(rec[1])
			if err != nil {
				return nil, fmt.Errorf("%s%s row %d: %w", ticker, suffix, i+2, err)
			}
			row.ReportDate = d
		}
		for j, dst := range []**float64{
			&row.Revenue, &row.NetIncome, &row.EPS,
			&row.TotalAssets, &row.TotalLiabilities, &row.TotalEquity,
			&row.OperatingCashFlow, &row.Shares,
		} {
			cell := rec[j+2]
			if cell == "" {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("%s%s row %d col %d: %w", ticker, suffix, i+2, j+3, err)
			}
			*dst = &v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// readFile returns the data records of a CSV file, skipping the header.
// A missing file returns (nil, nil).
func (p CSVProvider) readFile(ctx context.Context, name string) ([][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(p.Dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	if _, err := r.Read(); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s header: %w", name, err)
	}
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return records, nil
}

var _ Provider = CSVProvider{}
