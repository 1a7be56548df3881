package schedule

import (
	"errors"
	"testing"
	"time"

	"github.com/banshee-data/ethotrack/internal/timeutil"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		t.Fatalf("bad fixture %q: %v", s, err)
	}
	return ts
}

func TestCheckTimeRange_SingleRange(t *testing.T) {
	s, err := New("2020-01-01 00:00:00 > 2020-01-02 00:00:00", time.UTC)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		at   string
		want bool
	}{
		{"2020-01-01 12:00:00", true},
		{"2020-01-02 00:00:01", false},
		{"2020-01-02 00:00:00", false}, // end boundary excluded
		{"2020-01-01 00:00:00", false}, // start boundary excluded
		{"2019-12-31 23:59:59", false},
	}
	for _, tt := range tests {
		if got := s.CheckTimeRange(mustTime(t, tt.at)); got != tt.want {
			t.Errorf("CheckTimeRange(%s) = %v, want %v", tt.at, got, tt.want)
		}
	}
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name string
		spec string
	}{
		{"reversed", "2020-01-02 00:00:00 > 2020-01-01 00:00:00"},
		{"zero length", "2020-01-01 00:00:00 > 2020-01-01 00:00:00"},
		{"both empty", " > "},
		{"no separator", "2020-01-01 00:00:00"},
		{"bad date", "2020-13-01 00:00:00 > "},
		{"short date", "2020-01-01 > 2020-01-02"},
		{"overlap", "2020-01-01 00:00:00 > 2020-01-03 00:00:00, 2020-01-02 00:00:00 > 2020-01-04 00:00:00"},
		{"touching", "2020-01-01 00:00:00 > 2020-01-02 00:00:00, 2020-01-02 00:00:00 > 2020-01-03 00:00:00"},
		{"open overlap", " > 2020-01-02 00:00:00, 2020-01-01 00:00:00 > "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.spec, time.UTC)
			var dre *DateRangeError
			if !errors.As(err, &dre) {
				t.Fatalf("New(%q) error = %v, want *DateRangeError", tt.spec, err)
			}
		})
	}
}

func TestCheckTimeRange_OpenEnded(t *testing.T) {
	s, err := New(" > 2020-01-01 00:00:00,2021-01-01 00:00:00 >", time.UTC)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !s.CheckTimeRange(mustTime(t, "1999-05-05 10:00:00")) {
		t.Error("open start should include the distant past")
	}
	if s.CheckTimeRange(mustTime(t, "2020-06-01 00:00:00")) {
		t.Error("gap between ranges should be closed")
	}
	if !s.CheckTimeRange(mustTime(t, "2090-01-01 00:00:00")) {
		t.Error("open end should include the distant future")
	}
	if got := len(s.Ranges()); got != 2 {
		t.Errorf("Ranges() len = %d, want 2", got)
	}
	if got, want := s.String(), "> 2020-01-01 00:00:00, 2021-01-01 00:00:00 >"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestCheckTimeRange_UnsortedInput(t *testing.T) {
	s, err := New("2021-01-01 00:00:00 > 2021-01-02 00:00:00, 2020-01-01 00:00:00 > 2020-01-02 00:00:00", time.UTC)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r := s.Ranges()
	if !r[0].Start.Before(r[1].Start) {
		t.Errorf("ranges not sorted: %v", r)
	}
	if !s.CheckTimeRange(mustTime(t, "2020-01-01 06:00:00")) {
		t.Error("instant in the earlier range should be inside")
	}
}

func TestEmptyScheduleAlwaysOpen(t *testing.T) {
	s, err := New("  ", time.UTC)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !s.Check() || !s.CheckTimeRange(time.Time{}) {
		t.Error("empty schedule should always be open")
	}
	var nilSched *Scheduler
	if !nilSched.Check() {
		t.Error("nil scheduler should always be open")
	}
}

func TestCheck_UsesClock(t *testing.T) {
	clock := timeutil.NewMockClock(mustTime(t, "2020-01-01 23:59:58"))
	s, err := NewWithClock("2020-01-01 00:00:00 > 2020-01-02 00:00:00", time.UTC, clock)
	if err != nil {
		t.Fatalf("NewWithClock: %v", err)
	}
	if !s.Check() {
		t.Error("expected open before the end boundary")
	}
	clock.Advance(2 * time.Second)
	if s.Check() {
		t.Error("expected closed at the end boundary")
	}
}

func TestNew_Location(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	s, err := New("2020-01-01 10:00:00 > 2020-01-01 11:00:00", loc)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// 10:30 local is 08:30 UTC
	if !s.CheckTimeRange(mustTime(t, "2020-01-01 08:30:00")) {
		t.Error("range should be interpreted in the given location")
	}
	if s.CheckTimeRange(mustTime(t, "2020-01-01 10:30:00")) {
		t.Error("10:30 UTC is 12:30 local and outside the range")
	}
}
