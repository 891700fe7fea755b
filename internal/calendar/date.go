package calendar

import (
	"errors"
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

var (
	// ErrInvalidDate indicates a value that is not a YYYY-MM-DD calendar date.
	ErrInvalidDate = errors.New("calendar: invalid date")
	// ErrInvalidMonth indicates a year/month pair outside the supported range.
	ErrInvalidMonth = errors.New("calendar: invalid month")
)

// Date is a calendar day without a time component, formatted YYYY-MM-DD.
// The fixed-width format keeps lexical and chronological order identical.
type Date string

// DateOf returns the calendar day of instant in location.
func DateOf(instant time.Time, location *time.Location) Date {
	if location == nil {
		location = time.UTC
	}
	return Date(instant.In(location).Format(dateLayout))
}

// ParseDate validates raw input and returns a Date.
func ParseDate(raw string) (Date, error) {
	parsed, err := time.Parse(dateLayout, raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}
	return Date(parsed.Format(dateLayout)), nil
}

// String returns the YYYY-MM-DD representation.
func (d Date) String() string {
	return string(d)
}

// Bounds returns [start of day, start of next day) in location. The next day
// is derived with AddDate so month and year ends roll over correctly.
func (d Date) Bounds(location *time.Location) (time.Time, time.Time, error) {
	if location == nil {
		location = time.UTC
	}
	parsed, err := time.ParseInLocation(dateLayout, string(d), location)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, string(d))
	}
	start := time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, location)
	return start, start.AddDate(0, 0, 1), nil
}

// MonthRange returns the first day of the month and the first day of the next month.
func MonthRange(year, month int) (Date, Date, error) {
	if year < 1 || year > 9999 || month < 1 || month > 12 {
		return "", "", fmt.Errorf("%w: %d-%d", ErrInvalidMonth, year, month)
	}
	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	next := first.AddDate(0, 1, 0)
	return Date(first.Format(dateLayout)), Date(next.Format(dateLayout)), nil
}
