package engine

import (
	"fmt"
	"strconv"
	"time"
)

// =============================================================================
// DATE - Day-granularity calendar date
// =============================================================================

// Date is a calendar date. Time-of-day is always discarded so that day
// arithmetic is calendar subtraction, not elapsed time.
type Date struct {
	Time time.Time
}

const DateLayout = "2006-01-02"

// Constructors
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func Today() Date { return DateOf(time.Now()) }

// ParseDate parses a YYYY-MM-DD date. Longer timestamps are accepted and
// truncated to their first ten characters, the way the billing exports
// deliver them ("2025-03-01T00:00:00").
func ParseDate(field, s string) (Date, error) {
	if s == "" {
		return Date{}, &ValidationError{Field: field, Reason: "required"}
	}
	raw := s
	if len(s) > len(DateLayout) {
		s = s[:len(DateLayout)]
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, &ValidationError{Field: field, Value: raw, Reason: "expected YYYY-MM-DD"}
	}
	return DateOf(t), nil
}

// ParseOptionalDate returns nil for an empty string.
func ParseOptionalDate(field, s string) (*Date, error) {
	if s == "" {
		return nil, nil
	}
	d, err := ParseDate(field, s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ParsePeriod validates a YYYY-MM period and returns its year and month.
func ParsePeriod(period string) (int, time.Month, error) {
	if len(period) != 7 || period[4] != '-' {
		return 0, 0, &ValidationError{Field: "period", Value: period, Reason: "expected YYYY-MM"}
	}
	year, err := strconv.Atoi(period[:4])
	if err != nil {
		return 0, 0, &ValidationError{Field: "period", Value: period, Reason: "expected YYYY-MM"}
	}
	month, err := strconv.Atoi(period[5:])
	if err != nil || month < 1 || month > 12 {
		return 0, 0, &ValidationError{Field: "period", Value: period, Reason: "month out of range"}
	}
	return year, time.Month(month), nil
}

// Comparison
func (d Date) Before(other Date) bool { return d.Time.Before(other.Time) }
func (d Date) After(other Date) bool  { return d.Time.After(other.Time) }
func (d Date) Equal(other Date) bool  { return d.Time.Equal(other.Time) }
func (d Date) IsZero() bool           { return d.Time.IsZero() }

// Arithmetic
func (d Date) AddDays(n int) Date   { return Date{Time: d.Time.AddDate(0, 0, n)} }
func (d Date) AddMonths(n int) Date { return Date{Time: d.Time.AddDate(0, n, 0)} }

// Properties
func (d Date) Year() int         { return d.Time.Year() }
func (d Date) Month() time.Month { return d.Time.Month() }
func (d Date) Day() int          { return d.Time.Day() }

// Period returns the YYYY-MM month containing the date.
func (d Date) Period() string {
	return fmt.Sprintf("%04d-%02d", d.Year(), int(d.Month()))
}

func (d Date) String() string { return d.Time.Format(DateLayout) }

// =============================================================================
// DATE UTILITIES
// =============================================================================

// DaysBetween returns the signed number of calendar days from -> to.
// Both dates are day-granular UTC midnights, so the hour difference is always
// a multiple of 24; rounding only guards against hand-built values.
func DaysBetween(from, to Date) int {
	hours := to.Time.Sub(from.Time).Hours()
	if hours < 0 {
		return -int(-hours/24 + 0.5)
	}
	return int(hours/24 + 0.5)
}

func StartOfYear(year int) Date { return NewDate(year, time.January, 1) }
func EndOfYear(year int) Date   { return NewDate(year, time.December, 31) }
