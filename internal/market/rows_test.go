package market

import (
	"testing"

	"github.com/xtxerr/yieldstore/internal/errors"
)

func validPrice() PriceRow {
	return PriceRow{
		Ticker: "AAPL", Date: MustParseDate("2024-01-02"),
		Open: 184.0, High: 186.0, Low: 183.5, Close: 185.5, AdjClose: 185.5,
		Volume: 50_000_000,
	}
}

func TestPriceRowValidate(t *testing.T) {
	if err := validPrice().Validate(); err != nil {
		t.Fatalf("valid row: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*PriceRow)
	}{
		{"missing ticker", func(r *PriceRow) { r.Ticker = "" }},
		{"missing date", func(r *PriceRow) { r.Date = 0 }},
		{"negative close", func(r *PriceRow) { r.Close = -1 }},
		{"negative volume", func(r *PriceRow) { r.Volume = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			row := validPrice()
			tc.mutate(&row)
			err := row.Validate()
			if err == nil {
				t.Fatal("want error")
			}
			if !errors.Is(err, errors.ErrInvalidRow) {
				t.Errorf("want ErrInvalidRow, got %v", err)
			}
		})
	}
}

func TestFundamentalsRowValidate(t *testing.T) {
	rev := 1000.0
	row := FundamentalsRow{Ticker: "AAPL", FiscalPeriod: "2024-Q1", Revenue: &rev}
	if err := row.Validate(); err != nil {
		t.Fatalf("valid row: %v", err)
	}

	row.FiscalPeriod = ""
	if err := row.Validate(); !errors.Is(err, errors.ErrInvalidRow) {
		t.Errorf("missing period: want ErrInvalidRow, got %v", err)
	}
}

func TestFiscalPeriodFormatting(t *testing.T) {
	if p := QuarterPeriod(2024, 3); p != "2024-Q3" {
		t.Errorf("QuarterPeriod = %q", p)
	}
	if p := AnnualPeriod(2024); p != "2024" {
		t.Errorf("AnnualPeriod = %q", p)
	}
	// Quarterly periods must sort chronologically as strings.
	if !(QuarterPeriod(2023, 4) < QuarterPeriod(2024, 1)) {
		t.Error("period ordering broken across years")
	}
}

func TestPriceRowKeyUniquePerDate(t *testing.T) {
	a := validPrice()
	b := validPrice()
	if a.Key() != b.Key() {
		t.Error("same ticker+date should share a key")
	}
	b.Date = b.Date.AddDays(1)
	if a.Key() == b.Key() {
		t.Error("different dates should not share a key")
	}
}
