package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDayOf(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	tests := []struct {
		name string
		t    time.Time
		want Day
	}{
		{"midday UTC", time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC), Day{2024, time.March, 15}},
		{"just before midnight", time.Date(2024, 3, 15, 23, 59, 59, 0, time.UTC), Day{2024, time.March, 15}},
		{"midnight is next day", time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC), Day{2024, time.March, 16}},
		{"tz shifts the date", time.Date(2024, 3, 16, 2, 30, 0, 0, time.UTC).In(ny), Day{2024, time.March, 15}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DayOf(tt.t); got != tt.want {
				t.Errorf("DayOf: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDayString(t *testing.T) {
	tests := []struct {
		name string
		day  Day
		want string
	}{
		{"normal", Day{2024, time.March, 5}, "2024-03-05"},
		{"padded", Day{2024, time.November, 30}, "2024-11-30"},
		{"zero", Day{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.day.String(); got != tt.want {
				t.Errorf("String: got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseDayRoundTrip(t *testing.T) {
	original := Day{2024, time.December, 31}
	parsed, err := ParseDay(original.String())
	if err != nil {
		t.Fatalf("ParseDay failed: %v", err)
	}
	if parsed != original {
		t.Errorf("round-trip mismatch: %v != %v", parsed, original)
	}

	if _, err := ParseDay("not-a-day"); err == nil {
		t.Error("expected error for malformed input")
	}
}

func TestDayOrdering(t *testing.T) {
	tests := []struct {
		name   string
		a, b   Day
		before bool
	}{
		{"same day", Day{2024, time.March, 15}, Day{2024, time.March, 15}, false},
		{"earlier day", Day{2024, time.March, 14}, Day{2024, time.March, 15}, true},
		{"earlier month", Day{2024, time.February, 28}, Day{2024, time.March, 1}, true},
		{"earlier year", Day{2023, time.December, 31}, Day{2024, time.January, 1}, true},
		{"later day", Day{2024, time.March, 16}, Day{2024, time.March, 15}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Before(tt.b); got != tt.before {
				t.Errorf("Before: got %v, want %v", got, tt.before)
			}
			if got := tt.a.After(tt.b); got != (tt.b.Before(tt.a)) {
				t.Errorf("After disagrees with Before")
			}
		})
	}
}

func TestDayAddDays(t *testing.T) {
	tests := []struct {
		name string
		day  Day
		n    int
		want Day
	}{
		{"next day", Day{2024, time.March, 15}, 1, Day{2024, time.March, 16}},
		{"month boundary", Day{2024, time.January, 31}, 1, Day{2024, time.February, 1}},
		{"leap day", Day{2024, time.February, 28}, 1, Day{2024, time.February, 29}},
		{"year boundary", Day{2023, time.December, 31}, 1, Day{2024, time.January, 1}},
		{"backward", Day{2024, time.March, 1}, -1, Day{2024, time.February, 29}},
		{"week ahead", Day{2024, time.March, 15}, 7, Day{2024, time.March, 22}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.day.AddDays(tt.n); got != tt.want {
				t.Errorf("AddDays(%d): got %v, want %v", tt.n, got, tt.want)
			}
		})
	}
}

func TestDayJSON(t *testing.T) {
	type holder struct {
		Reset Day `json:"reset"`
	}

	data, err := json.Marshal(holder{Reset: Day{2024, time.March, 15}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"reset":"2024-03-15"}` {
		t.Errorf("unexpected JSON: %s", data)
	}

	var h holder
	if err := json.Unmarshal(data, &h); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if h.Reset != (Day{2024, time.March, 15}) {
		t.Errorf("round-trip mismatch: %v", h.Reset)
	}
}

func TestDayScan(t *testing.T) {
	tests := []struct {
		name string
		src  any
		want Day
	}{
		{"time.Time", time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC), Day{2024, time.March, 15}},
		{"string", "2024-03-15", Day{2024, time.March, 15}},
		{"bytes", []byte("2024-03-15"), Day{2024, time.March, 15}},
		{"nil", nil, Day{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Day
			if err := d.Scan(tt.src); err != nil {
				t.Fatalf("Scan failed: %v", err)
			}
			if d != tt.want {
				t.Errorf("Scan: got %v, want %v", d, tt.want)
			}
		})
	}

	var d Day
	if err := d.Scan(42); err == nil {
		t.Error("expected error scanning int")
	}
}

func TestDayValue(t *testing.T) {
	v, err := Day{2024, time.March, 15}.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}
	if v != "2024-03-15" {
		t.Errorf("Value: got %v, want 2024-03-15", v)
	}

	v, err = Day{}.Value()
	if err != nil {
		t.Fatalf("Value(zero) failed: %v", err)
	}
	if v != nil {
		t.Errorf("expected nil for zero day, got %v", v)
	}
}
