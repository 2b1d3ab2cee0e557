package market

import (
	"fmt"
	"time"
)

// DateFormat is the canonical string form of a Date.
const DateFormat = "2006-01-02"

// Date is a calendar date with day granularity, stored as days since the
// Unix epoch. The representation is a plain int32 so it maps directly onto
// a Parquet column with no conversion layer. The zero value means "no date"
// and is reported by IsZero; market data never legitimately falls on
// 1970-01-01.
type Date int32

// NewDate returns the Date for the given year, month and day.
func NewDate(year int, month time.Month, day int) Date {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return Date(t.Unix() / 86400)
}

// DateOf truncates t to day granularity in UTC.
func DateOf(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return NewDate(y, m, d)
}

// ParseDate parses a Date in ISO-8601 form ("2006-01-02").
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateFormat, s)
	if err != nil {
		return 0, fmt.Errorf("invalid date %q want format %q: %w", s, DateFormat, err)
	}
	return DateOf(t), nil
}

// MustParseDate is like ParseDate but panics on error. For tests and
// constants only.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err.Error())
	}
	return d
}

// Time returns the canonical time.Time for the date (midnight UTC).
func (d Date) Time() time.Time {
	return time.Unix(int64(d)*86400, 0).UTC()
}

// String formats the date as ISO-8601.
func (d Date) String() string { return d.Time().Format(DateFormat) }

// Year returns the calendar year of the date.
func (d Date) Year() int { return d.Time().Year() }

// Before reports whether d falls before x.
func (d Date) Before(x Date) bool { return d < x }

// After reports whether d falls after x.
func (d Date) After(x Date) bool { return d > x }

// AddDays returns the date i days after d.
func (d Date) AddDays(i int) Date { return d + Date(i) }

// IsZero reports whether the date is unset.
func (d Date) IsZero() bool { return d == 0 }
