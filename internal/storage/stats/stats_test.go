package stats

import (
	"fmt"
	"math"
	"testing"

	"github.com/xtxerr/yieldstore/internal/market"
)

func TestEmptyAccumulator(t *testing.T) {
	acc, err := NewAccumulator("AAPL")
	if err != nil {
		t.Fatalf("NewAccumulator: %v", err)
	}
	s := acc.Summary()
	if s.Ticker != "AAPL" || s.Rows != 0 {
		t.Errorf("summary = %+v", s)
	}
	if !s.MinDate.IsZero() || !s.MaxDate.IsZero() {
		t.Errorf("empty summary has dates: [%s, %s]", s.MinDate, s.MaxDate)
	}
	if s.CloseP50 != 0 || s.VolumeP99 != 0 {
		t.Errorf("empty summary has quantiles: %+v", s)
	}
}

func TestAccumulatorCoverage(t *testing.T) {
	acc, err := NewAccumulator("AAPL")
	if err != nil {
		t.Fatalf("NewAccumulator: %v", err)
	}

	// Out-of-order dates; min/max must not depend on arrival order.
	for _, d := range []string{"2024-03-01", "2024-01-02", "2024-02-15"} {
		acc.Add(market.PriceRow{
			Ticker: "AAPL", Date: market.MustParseDate(d),
			Close: 100, Volume: 1000,
		})
	}

	s := acc.Summary()
	if s.Rows != 3 {
		t.Errorf("Rows = %d", s.Rows)
	}
	if s.MinDate != market.MustParseDate("2024-01-02") {
		t.Errorf("MinDate = %s", s.MinDate)
	}
	if s.MaxDate != market.MustParseDate("2024-03-01") {
		t.Errorf("MaxDate = %s", s.MaxDate)
	}
}

func TestAccumulatorQuantiles(t *testing.T) {
	acc, err := NewAccumulator("AAPL")
	if err != nil {
		t.Fatalf("NewAccumulator: %v", err)
	}

	// Closes 1..1000; the sketch guarantees 1% relative accuracy.
	for i := 1; i <= 1000; i++ {
		acc.Add(market.PriceRow{
			Ticker: "AAPL",
			Date:   market.MustParseDate(fmt.Sprintf("%04d-06-15", 1000+i)),
			Close:  float64(i),
			Volume: int64(i) * 10,
		})
	}

	s := acc.Summary()
	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"CloseP50", s.CloseP50, 500},
		{"CloseP90", s.CloseP90, 900},
		{"CloseP99", s.CloseP99, 990},
		{"VolumeP50", s.VolumeP50, 5000},
		{"VolumeP90", s.VolumeP90, 9000},
	}
	for _, c := range checks {
		if rel := math.Abs(c.got-c.want) / c.want; rel > 0.02 {
			t.Errorf("%s = %v, want %v within 2%%", c.name, c.got, c.want)
		}
	}
}

func TestAccumulatorSkipsNonPositive(t *testing.T) {
	acc, err := NewAccumulator("AAPL")
	if err != nil {
		t.Fatalf("NewAccumulator: %v", err)
	}

	// A halted day: zero close and volume. Counted as a row but excluded
	// from the distributions.
	acc.Add(market.PriceRow{Ticker: "AAPL", Date: market.MustParseDate("2024-01-02")})
	acc.Add(market.PriceRow{
		Ticker: "AAPL", Date: market.MustParseDate("2024-01-03"),
		Close: 50, Volume: 500,
	})

	s := acc.Summary()
	if s.Rows != 2 {
		t.Errorf("Rows = %d", s.Rows)
	}
	if math.Abs(s.CloseP50-50)/50 > 0.02 {
		t.Errorf("CloseP50 = %v, want ~50", s.CloseP50)
	}
}
