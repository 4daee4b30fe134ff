package domain

import (
	"fmt"
	"time"
)

// ============================================================
// Billing periods
// ============================================================

// Period identifies a statement by its reference month and year.
type Period struct {
	Month int `json:"month"`
	Year  int `json:"year"`
}

// String formats the period as YYYY-MM.
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// Next returns the following period.
func (p Period) Next() Period {
	if p.Month == 12 {
		return Period{Month: 1, Year: p.Year + 1}
	}
	return Period{Month: p.Month + 1, Year: p.Year}
}

// Prev returns the preceding period.
func (p Period) Prev() Period {
	if p.Month == 1 {
		return Period{Month: 12, Year: p.Year - 1}
	}
	return Period{Month: p.Month - 1, Year: p.Year}
}

// Before reports whether p is strictly earlier than o.
func (p Period) Before(o Period) bool {
	if p.Year != o.Year {
		return p.Year < o.Year
	}
	return p.Month < o.Month
}

// ResolvePeriod maps a purchase date to the statement it belongs to.
// The closing day itself already counts as past closing. The comparison uses
// the raw closingDay; clamping only applies when building statement dates.
func ResolvePeriod(date time.Time, closingDay int) Period {
	p := Period{Month: int(date.Month()), Year: date.Year()}
	if date.Day() >= closingDay {
		return p.Next()
	}
	return p
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// DateInMonth builds year-month-day, clamping day to the last day of the month.
func DateInMonth(year int, month time.Month, day int) time.Time {
	if last := DaysIn(year, month); day > last {
		day = last
	}
	if day < 1 {
		day = 1
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// AddMonthsClamped moves date by n months keeping the day of month, clamped
// to the end of shorter months (Jan 31 + 1 month = Feb 28/29).
func AddMonthsClamped(date time.Time, n int) time.Time {
	y, m, d := date.Date()
	total := int(m) - 1 + n
	year := y + total/12
	month := total % 12
	if month < 0 {
		month += 12
		year--
	}
	return DateInMonth(year, time.Month(month+1), d)
}

// StatementDates derives the closing and due dates for a statement.
// The statement for month M covers the cycle that closed during M-1, so the
// closing date falls on closingDay of the preceding month and the due date on
// dueDay of the reference month.
func StatementDates(p Period, closingDay, dueDay int) (closing, due time.Time) {
	prev := p.Prev()
	closing = DateInMonth(prev.Year, time.Month(prev.Month), closingDay)
	due = DateInMonth(p.Year, time.Month(p.Month), dueDay)
	return closing, due
}

// DateOnly truncates t to midnight UTC of its calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
