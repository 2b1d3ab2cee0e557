package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/xtxerr/yieldstore/internal/market"
	"github.com/xtxerr/yieldstore/internal/storage/partition"
)

// PriceQuery accumulates predicates over the prices dataset. Nothing is
// resolved or read until a terminal call (Collect, Each, ...); every
// terminal call re-executes the prune-then-read pipeline, so a query value
// can be collected repeatedly and always reflects current storage.
type PriceQuery struct {
	svc    *Service
	ticker string
	from   market.Date
	to     market.Date
	limit  int
}

// Prices starts a price query.
func (s *Service) Prices() *PriceQuery {
	return &PriceQuery{svc: s}
}

// Ticker restricts the query to one ticker.
func (q *PriceQuery) Ticker(t string) *PriceQuery {
	q.ticker = t
	return q
}

// From restricts the query to dates >= d.
func (q *PriceQuery) From(d market.Date) *PriceQuery {
	q.from = d
	return q
}

// To restricts the query to dates <= d.
func (q *PriceQuery) To(d market.Date) *PriceQuery {
	q.to = d
	return q
}

// Limit caps the number of returned rows.
func (q *PriceQuery) Limit(n int) *PriceQuery {
	q.limit = n
	return q
}

// prune computes the candidate partition files from the accumulated
// predicates against partition keys alone. No partition contents are read.
func (q *PriceQuery) prune() ([]string, error) {
	var (
		keys []partition.Key
		err  error
	)
	if q.ticker != "" {
		keys, err = q.svc.tickerKeys(market.DatasetPrices, q.ticker)
	} else {
		keys, err = q.svc.datasetKeys(market.DatasetPrices)
	}
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, k := range keys {
		if !q.from.IsZero() && k.Year < q.from.Year() {
			continue
		}
		if !q.to.IsZero() && k.Year > q.to.Year() {
			continue
		}
		path, err := q.svc.resolver.Resolve(k)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// Each runs the query and streams rows to fn in ascending date order.
// fn returning an error stops the scan and surfaces that error.
func (q *PriceQuery) Each(ctx context.Context, fn func(market.PriceRow) error) error {
	paths, err := q.prune()
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		// Partitions exist for the dataset, none match the filter.
		q.svc.record(0, 0, false)
		return nil
	}

	sqlText := `
		SELECT ticker, date, open, high, low, close, adjusted_close, volume
		FROM ` + readParquetList(paths) + `
		WHERE 1=1`
	var args []any
	if q.ticker != "" {
		sqlText += " AND ticker = ?"
		args = append(args, q.ticker)
	}
	if !q.from.IsZero() {
		sqlText += " AND date >= ?"
		args = append(args, int32(q.from))
	}
	if !q.to.IsZero() {
		sqlText += " AND date <= ?"
		args = append(args, int32(q.to))
	}
	sqlText += " ORDER BY date, ticker"
	if q.limit > 0 {
		sqlText += fmt.Sprintf(" LIMIT %d", q.limit)
	}

	rows, err := q.svc.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		q.svc.record(len(paths), 0, true)
		return fmt.Errorf("query prices: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var (
			row  market.PriceRow
			date int32
		)
		if err := rows.Scan(&row.Ticker, &date, &row.Open, &row.High, &row.Low,
			&row.Close, &row.AdjClose, &row.Volume); err != nil {
			q.svc.record(len(paths), count, true)
			return fmt.Errorf("scan price row: %w", err)
		}
		row.Date = market.Date(date)
		if err := fn(row); err != nil {
			q.svc.record(len(paths), count, false)
			return err
		}
		count++
	}
	if err := rows.Err(); err != nil {
		q.svc.record(len(paths), count, true)
		return fmt.Errorf("query prices: %w", err)
	}

	q.svc.record(len(paths), count, false)
	return nil
}

// Collect runs the query and returns all matching rows.
func (q *PriceQuery) Collect(ctx context.Context) ([]market.PriceRow, error) {
	var out []market.PriceRow
	err := q.Each(ctx, func(r market.PriceRow) error {
		out = append(out, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Latest returns the most recent price row matching the query's predicates.
// ok=false when nothing matches. All pruned candidates stay in the scan: a
// To bound can push the answer into an older year than the newest partition,
// and Parquet row-group statistics keep the DESC-limit scan cheap.
func (q *PriceQuery) Latest(ctx context.Context) (market.PriceRow, bool, error) {
	paths, err := q.prune()
	if err != nil {
		return market.PriceRow{}, false, err
	}
	if len(paths) == 0 {
		return market.PriceRow{}, false, nil
	}

	sqlText := `
		SELECT ticker, date, open, high, low, close, adjusted_close, volume
		FROM ` + readParquetList(paths) + `
		WHERE 1=1`
	var args []any
	if q.ticker != "" {
		sqlText += " AND ticker = ?"
		args = append(args, q.ticker)
	}
	if !q.from.IsZero() {
		sqlText += " AND date >= ?"
		args = append(args, int32(q.from))
	}
	if !q.to.IsZero() {
		sqlText += " AND date <= ?"
		args = append(args, int32(q.to))
	}
	sqlText += " ORDER BY date DESC, ticker LIMIT 1"

	var (
		row  market.PriceRow
		date int32
	)
	err = q.svc.db.QueryRowContext(ctx, sqlText, args...).Scan(&row.Ticker, &date,
		&row.Open, &row.High, &row.Low, &row.Close, &row.AdjClose, &row.Volume)
	if err == sql.ErrNoRows {
		q.svc.record(len(paths), 0, false)
		return market.PriceRow{}, false, nil
	}
	if err != nil {
		q.svc.record(len(paths), 0, true)
		return market.PriceRow{}, false, fmt.Errorf("query latest price: %w", err)
	}
	row.Date = market.Date(date)
	q.svc.record(len(paths), 1, false)
	return row, true, nil
}

// DateRange returns the minimum and maximum stored dates matching the
// query. ok=false when nothing matches.
func (q *PriceQuery) DateRange(ctx context.Context) (min, max market.Date, ok bool, err error) {
	paths, err := q.prune()
	if err != nil {
		return 0, 0, false, err
	}
	if len(paths) == 0 {
		return 0, 0, false, nil
	}

	sqlText := `SELECT min(date), max(date) FROM ` + readParquetList(paths)

	var lo, hi *int32
	if err := q.svc.db.QueryRowContext(ctx, sqlText).Scan(&lo, &hi); err != nil {
		q.svc.record(len(paths), 0, true)
		return 0, 0, false, fmt.Errorf("query date range: %w", err)
	}
	q.svc.record(len(paths), 1, false)
	if lo == nil || hi == nil {
		return 0, 0, false, nil
	}
	return market.Date(*lo), market.Date(*hi), true, nil
}
