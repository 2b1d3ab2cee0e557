// Package stats summarizes stored price history: row coverage plus
// approximate close and volume distributions via DDSketch.
package stats

import (
	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/yieldstore/internal/market"
)

// sketchAccuracy is the DDSketch relative accuracy (1% error).
const sketchAccuracy = 0.01

// TickerSummary describes one ticker's stored price history.
type TickerSummary struct {
	Ticker  string
	Rows    int64
	MinDate market.Date
	MaxDate market.Date

	CloseP50  float64
	CloseP90  float64
	CloseP99  float64
	VolumeP50 float64
	VolumeP90 float64
	VolumeP99 float64
}

// Accumulator builds a TickerSummary from a stream of price rows.
type Accumulator struct {
	ticker  string
	rows    int64
	minDate market.Date
	maxDate market.Date

	closeSketch  *ddsketch.DDSketch
	volumeSketch *ddsketch.DDSketch
}

// NewAccumulator creates an accumulator for one ticker.
func NewAccumulator(ticker string) (*Accumulator, error) {
	closeSketch, err := ddsketch.NewDefaultDDSketch(sketchAccuracy)
	if err != nil {
		return nil, err
	}
	volumeSketch, err := ddsketch.NewDefaultDDSketch(sketchAccuracy)
	if err != nil {
		return nil, err
	}
	return &Accumulator{
		ticker:       ticker,
		closeSketch:  closeSketch,
		volumeSketch: volumeSketch,
	}, nil
}

// Add folds one price row into the summary.
func (a *Accumulator) Add(row market.PriceRow) {
	a.rows++
	if a.minDate.IsZero() || row.Date.Before(a.minDate) {
		a.minDate = row.Date
	}
	if row.Date.After(a.maxDate) {
		a.maxDate = row.Date
	}

	// DDSketch only accepts strictly positive values; halted or zero-volume
	// days are simply not part of the distribution.
	if row.Close > 0 {
		_ = a.closeSketch.Add(row.Close)
	}
	if row.Volume > 0 {
		_ = a.volumeSketch.Add(float64(row.Volume))
	}
}

// Summary returns the accumulated summary.
func (a *Accumulator) Summary() TickerSummary {
	s := TickerSummary{
		Ticker:  a.ticker,
		Rows:    a.rows,
		MinDate: a.minDate,
		MaxDate: a.maxDate,
	}
	s.CloseP50 = quantile(a.closeSketch, 0.50)
	s.CloseP90 = quantile(a.closeSketch, 0.90)
	s.CloseP99 = quantile(a.closeSketch, 0.99)
	s.VolumeP50 = quantile(a.volumeSketch, 0.50)
	s.VolumeP90 = quantile(a.volumeSketch, 0.90)
	s.VolumeP99 = quantile(a.volumeSketch, 0.99)
	return s
}

func quantile(sk *ddsketch.DDSketch, q float64) float64 {
	v, err := sk.GetValueAtQuantile(q)
	if err != nil {
		return 0
	}
	return v
}
