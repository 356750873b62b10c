package types

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// Day is a calendar day without a time-of-day component. Quota resets are
// keyed by Day in the engine's reference timezone, so two instants on the
// same wall-clock date compare equal regardless of their hour.
//
// The zero value is no day at all; IsZero reports it. Days are comparable
// with == and order with Before/After.
type Day struct {
	Year  int
	Month time.Month
	Day   int
}

// DayOf returns the calendar day of t in t's own location. Convert t with
// time.Time.In first to evaluate it in a reference timezone.
func DayOf(t time.Time) Day {
	y, m, d := t.Date()
	return Day{Year: y, Month: m, Day: d}
}

// Today returns the current calendar day in the given location.
func Today(loc *time.Location) Day {
	return DayOf(time.Now().In(loc))
}

// ParseDay parses a day in ISO 8601 form, "2006-01-02".
func ParseDay(s string) (Day, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Day{}, fmt.Errorf("types: parse day %q: %w", s, err)
	}
	return DayOf(t), nil
}

// String returns the day in ISO 8601 form, "2006-01-02". The zero Day
// returns an empty string.
func (d Day) String() string {
	if d.IsZero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// IsZero reports whether d is the zero Day.
func (d Day) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

// Before reports whether d falls before other.
func (d Day) Before(other Day) bool {
	if d.Year != other.Year {
		return d.Year < other.Year
	}
	if d.Month != other.Month {
		return d.Month < other.Month
	}
	return d.Day < other.Day
}

// After reports whether d falls after other.
func (d Day) After(other Day) bool {
	return other.Before(d)
}

// AddDays returns the day n days after d. Negative n moves backward.
// Out-of-range values normalize the way time.Date does, so month and year
// boundaries carry correctly.
func (d Day) AddDays(n int) Day {
	t := time.Date(d.Year, d.Month, d.Day+n, 0, 0, 0, 0, time.UTC)
	return DayOf(t)
}

// Time returns midnight of d in the given location.
func (d Day) Time(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// MarshalText implements encoding.TextMarshaler.
func (d Day) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Day) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*d = Day{}
		return nil
	}
	parsed, err := ParseDay(string(data))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Value implements driver.Valuer. Zero days store as NULL.
func (d Day) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.String(), nil
}

// Scan implements sql.Scanner. Accepts DATE columns (time.Time), text, and NULL.
func (d *Day) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = Day{}
		return nil
	case time.Time:
		*d = DayOf(v)
		return nil
	case string:
		return d.UnmarshalText([]byte(v))
	case []byte:
		return d.UnmarshalText(v)
	default:
		return fmt.Errorf("types: cannot scan %T into Day", src)
	}
}
