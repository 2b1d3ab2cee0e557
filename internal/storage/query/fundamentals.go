package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/xtxerr/yieldstore/internal/errors"
	"github.com/xtxerr/yieldstore/internal/market"
	"github.com/xtxerr/yieldstore/internal/storage/partition"
)

// FundamentalsQuery accumulates predicates over a fundamentals dataset.
// Like PriceQuery, it is lazy and restartable.
type FundamentalsQuery struct {
	svc        *Service
	dataset    market.Dataset
	ticker     string
	fromPeriod string
	toPeriod   string
	limit      int
}

// Fundamentals starts a query over a fundamentals dataset.
func (s *Service) Fundamentals(ds market.Dataset) *FundamentalsQuery {
	return &FundamentalsQuery{svc: s, dataset: ds}
}

// Ticker restricts the query to one ticker.
func (q *FundamentalsQuery) Ticker(t string) *FundamentalsQuery {
	q.ticker = t
	return q
}

// FromPeriod restricts the query to fiscal periods >= p.
func (q *FundamentalsQuery) FromPeriod(p string) *FundamentalsQuery {
	q.fromPeriod = p
	return q
}

// ToPeriod restricts the query to fiscal periods <= p.
func (q *FundamentalsQuery) ToPeriod(p string) *FundamentalsQuery {
	q.toPeriod = p
	return q
}

// Limit caps the number of returned rows.
func (q *FundamentalsQuery) Limit(n int) *FundamentalsQuery {
	q.limit = n
	return q
}

func (q *FundamentalsQuery) prune() ([]string, error) {
	if !q.dataset.Fundamentals() {
		return nil, fmt.Errorf("%w: %s is not a fundamentals dataset", errors.ErrInvalidDataset, q.dataset)
	}
	var (
		keys []partition.Key
		err  error
	)
	if q.ticker != "" {
		keys, err = q.svc.tickerKeys(q.dataset, q.ticker)
	} else {
		keys, err = q.svc.datasetKeys(q.dataset)
	}
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, k := range keys {
		path, err := q.svc.resolver.Resolve(k)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// Each runs the query and streams rows to fn in ascending fiscal-period
// order.
func (q *FundamentalsQuery) Each(ctx context.Context, fn func(market.FundamentalsRow) error) error {
	paths, err := q.prune()
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		q.svc.record(0, 0, false)
		return nil
	}

	sqlText := `
		SELECT ticker, fiscal_period, report_date,
		       revenue, net_income, eps,
		       total_assets, total_liabilities, total_equity,
		       operating_cash_flow, shares
		FROM ` + readParquetList(paths) + `
		WHERE 1=1`
	var args []any
	if q.ticker != "" {
		sqlText += " AND ticker = ?"
		args = append(args, q.ticker)
	}
	if q.fromPeriod != "" {
		sqlText += " AND fiscal_period >= ?"
		args = append(args, q.fromPeriod)
	}
	if q.toPeriod != "" {
		sqlText += " AND fiscal_period <= ?"
		args = append(args, q.toPeriod)
	}
	sqlText += " ORDER BY fiscal_period, ticker"
	if q.limit > 0 {
		sqlText += fmt.Sprintf(" LIMIT %d", q.limit)
	}

	rows, err := q.svc.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		q.svc.record(len(paths), 0, true)
		return fmt.Errorf("query fundamentals: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		row, err := scanFundamentalsRow(rows)
		if err != nil {
			q.svc.record(len(paths), count, true)
			return err
		}
		if err := fn(row); err != nil {
			q.svc.record(len(paths), count, false)
			return err
		}
		count++
	}
	if err := rows.Err(); err != nil {
		q.svc.record(len(paths), count, true)
		return fmt.Errorf("query fundamentals: %w", err)
	}

	q.svc.record(len(paths), count, false)
	return nil
}

// Collect runs the query and returns all matching rows.
func (q *FundamentalsQuery) Collect(ctx context.Context) ([]market.FundamentalsRow, error) {
	var out []market.FundamentalsRow
	err := q.Each(ctx, func(r market.FundamentalsRow) error {
		out = append(out, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func scanFundamentalsRow(rows *sql.Rows) (market.FundamentalsRow, error) {
	var (
		row        market.FundamentalsRow
		reportDate int32
		revenue, netIncome, eps, assets, liabilities, equity, ocf, shares sql.NullFloat64
	)
	if err := rows.Scan(&row.Ticker, &row.FiscalPeriod, &reportDate,
		&revenue, &netIncome, &eps, &assets, &liabilities, &equity, &ocf, &shares); err != nil {
		return market.FundamentalsRow{}, fmt.Errorf("scan fundamentals row: %w", err)
	}
	row.ReportDate = market.Date(reportDate)
	row.Revenue = nullableFloat(revenue)
	row.NetIncome = nullableFloat(netIncome)
	row.EPS = nullableFloat(eps)
	row.TotalAssets = nullableFloat(assets)
	row.TotalLiabilities = nullableFloat(liabilities)
	row.TotalEquity = nullableFloat(equity)
	row.OperatingCashFlow = nullableFloat(ocf)
	row.Shares = nullableFloat(shares)
	return row, nil
}

func nullableFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// TTMResult holds trailing-twelve-month sums over the last four quarters.
// A field is nil when no included quarter reported it.
type TTMResult struct {
	Ticker            string
	Quarters          int
	LastPeriod        string
	Revenue           *float64
	NetIncome         *float64
	EPS               *float64
	OperatingCashFlow *float64
}

// TTM computes trailing-twelve-month flow sums for a ticker from the
// quarterly fundamentals dataset, optionally as of a fiscal period
// (asOfPeriod empty means latest). Fewer than four stored quarters still
// produce a result; Quarters reports how many were included.
func (s *Service) TTM(ctx context.Context, ticker, asOfPeriod string) (TTMResult, error) {
	q := s.Fundamentals(market.DatasetFundamentalsQuarterly).Ticker(ticker)
	if asOfPeriod != "" {
		q.ToPeriod(asOfPeriod)
	}
	rows, err := q.Collect(ctx)
	if err != nil {
		return TTMResult{}, err
	}
	if len(rows) == 0 {
		return TTMResult{Ticker: ticker}, nil
	}
	if len(rows) > 4 {
		rows = rows[len(rows)-4:]
	}

	res := TTMResult{
		Ticker:     ticker,
		Quarters:   len(rows),
		LastPeriod: rows[len(rows)-1].FiscalPeriod,
	}
	for _, r := range rows {
		res.Revenue = addNullable(res.Revenue, r.Revenue)
		res.NetIncome = addNullable(res.NetIncome, r.NetIncome)
		res.EPS = addNullable(res.EPS, r.EPS)
		res.OperatingCashFlow = addNullable(res.OperatingCashFlow, r.OperatingCashFlow)
	}
	return res, nil
}

// addNullable sums reported values, treating nil as "not reported" rather
// than zero.
func addNullable(acc, v *float64) *float64 {
	if v == nil {
		return acc
	}
	if acc == nil {
		f := *v
		return &f
	}
	f := *acc + *v
	return &f
}
