// Package timeutil provides UTC calendar-date utilities for Lesson Insights.
// All learning analytics are bucketed by UTC calendar day, and weeks start on
// Monday (ISO weekday numbering).
package timeutil

import (
	"fmt"
	"time"
)

// FormatDate is the wire format of a calendar date (YYYY-MM-DD).
const FormatDate = "2006-01-02"

// Date is a UTC calendar date. The zero value is not a valid date.
// Date is comparable and safe to use as a map key.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// NewDate builds a normalized Date. Out-of-range days roll over the way
// time.Date does (e.g. Jan 32 becomes Feb 1).
func NewDate(year int, month time.Month, day int) Date {
	return DateOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// DateOf returns the UTC calendar date of t.
func DateOf(t time.Time) Date {
	u := t.UTC()
	return Date{Year: u.Year(), Month: u.Month(), Day: u.Day()}
}

// Today returns the current UTC date.
func Today() Date {
	return DateOf(time.Now())
}

// ParseDate parses a YYYY-MM-DD string as a UTC date.
func ParseDate(s string) (Date, error) {
	t, err := time.ParseInLocation(FormatDate, s, time.UTC)
	if err != nil {
		return Date{}, fmt.Errorf("timeutil: invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// MustParseDate is ParseDate for literals known to be valid. It panics otherwise.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Time returns midnight UTC of the date.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool {
	return d == Date{}
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// AddDays returns the date n days after d (n may be negative).
func (d Date) AddDays(n int) Date {
	return DateOf(d.Time().AddDate(0, 0, n))
}

// Before reports whether d is strictly before other.
func (d Date) Before(other Date) bool {
	return d.Time().Before(other.Time())
}

// After reports whether d is strictly after other.
func (d Date) After(other Date) bool {
	return d.Time().After(other.Time())
}

// Weekday returns the ISO weekday, Monday = 1 ... Sunday = 7.
func (d Date) Weekday() int {
	wd := int(d.Time().Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DaysBetween returns the signed number of calendar days from a to b.
// UTC has no DST, so every day is exactly 24 hours.
func DaysBetween(a, b Date) int {
	return int(b.Time().Sub(a.Time()).Hours() / 24)
}

// DateRange is an inclusive range of UTC dates.
type DateRange struct {
	Start Date `json:"startDate"`
	End   Date `json:"endDate"`
}

// Contains reports whether d falls inside the range (inclusive).
func (r DateRange) Contains(d Date) bool {
	return !d.Before(r.Start) && !d.After(r.End)
}

// Days returns the number of days in the range, 0 if End precedes Start.
func (r DateRange) Days() int {
	n := DaysBetween(r.Start, r.End) + 1
	if n < 0 {
		return 0
	}
	return n
}

// RangeForDays returns the inclusive range of n days ending at end.
func RangeForDays(n int, end Date) DateRange {
	if n < 1 {
		n = 1
	}
	return DateRange{Start: end.AddDays(-(n - 1)), End: end}
}

// DailyRange returns n ascending dates ending at today inclusive.
func DailyRange(n int, today Date) []Date {
	if n <= 0 {
		return []Date{}
	}
	days := make([]Date, n)
	for i := 0; i < n; i++ {
		days[i] = today.AddDays(i - (n - 1))
	}
	return days
}

// WeekStart returns the Monday of the week containing d.
func WeekStart(d Date) Date {
	return d.AddDays(-(d.Weekday() - 1))
}

// WeekEnd returns the Sunday of the week containing d.
func WeekEnd(d Date) Date {
	return WeekStart(d).AddDays(6)
}

// LastWeekStart returns the Monday of the week before the one containing d.
func LastWeekStart(d Date) Date {
	return WeekStart(d).AddDays(-7)
}

// WeeklyRange returns n ascending Mondays; the last one is the Monday of the
// week containing today.
func WeeklyRange(n int, today Date) []Date {
	if n <= 0 {
		return []Date{}
	}
	current := WeekStart(today)
	weeks := make([]Date, n)
	for i := 0; i < n; i++ {
		weeks[i] = current.AddDays(-7 * (n - 1 - i))
	}
	return weeks
}
