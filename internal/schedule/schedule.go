// Package schedule parses the date ranges that gate actuation.
//
// A schedule is a comma-separated list of "<start> > <end>" ranges in
// "2006-01-02 15:04:05" format. Either side may be empty, meaning unbounded,
// but not both. Ranges may not overlap, and an instant exactly on a
// boundary is outside the range.
package schedule

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/banshee-data/ethotrack/internal/timeutil"
)

// DateLayout is the format of each range endpoint.
const DateLayout = "2006-01-02 15:04:05"

var rangePattern = regexp.MustCompile(`^\s*(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})?\s*>\s*(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})?\s*$`)

// DateRangeError reports a schedule string that cannot be used.
type DateRangeError struct {
	Range  string
	Reason string
}

func (e *DateRangeError) Error() string {
	return fmt.Sprintf("invalid date range %q: %s", e.Range, e.Reason)
}

// Range is one open interval. Unbounded sides are the zero time (start)
// and the maximum representable time (end).
type Range struct {
	Start, End time.Time
}

// Contains reports whether Start < t < End.
func (r Range) Contains(t time.Time) bool {
	return t.After(r.Start) && t.Before(r.End)
}

var (
	unboundedStart = time.Unix(0, 0)
	unboundedEnd   = time.Unix(math.MaxInt64/2, 0)
)

// Scheduler answers whether an instant falls inside any configured range.
// An empty schedule string is always open.
type Scheduler struct {
	ranges []Range
	clock  timeutil.Clock
	always bool
}

// New parses spec with endpoints interpreted in loc (UTC when nil).
func New(spec string, loc *time.Location) (*Scheduler, error) {
	return NewWithClock(spec, loc, timeutil.RealClock{})
}

// NewWithClock is New with an injected clock for Check.
func NewWithClock(spec string, loc *time.Location, clock timeutil.Clock) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := &Scheduler{clock: clock}
	if strings.TrimSpace(spec) == "" {
		s.always = true
		return s, nil
	}

	for _, part := range strings.Split(spec, ",") {
		r, err := parseRange(part, loc)
		if err != nil {
			return nil, err
		}
		s.ranges = append(s.ranges, r)
	}

	sort.Slice(s.ranges, func(i, j int) bool { return s.ranges[i].Start.Before(s.ranges[j].Start) })
	for i := 1; i < len(s.ranges); i++ {
		prev, cur := s.ranges[i-1], s.ranges[i]
		if !cur.Start.After(prev.End) {
			return nil, &DateRangeError{Range: spec, Reason: fmt.Sprintf("range starting %s overlaps the previous one", cur.Start.Format(DateLayout))}
		}
	}
	return s, nil
}

func parseRange(text string, loc *time.Location) (Range, error) {
	m := rangePattern.FindStringSubmatch(text)
	if m == nil {
		return Range{}, &DateRangeError{Range: text, Reason: `expected "<start> > <end>"`}
	}
	if m[1] == "" && m[2] == "" {
		return Range{}, &DateRangeError{Range: text, Reason: "both ends are empty"}
	}

	r := Range{Start: unboundedStart, End: unboundedEnd}
	var err error
	if m[1] != "" {
		if r.Start, err = time.ParseInLocation(DateLayout, m[1], loc); err != nil {
			return Range{}, &DateRangeError{Range: text, Reason: err.Error()}
		}
	}
	if m[2] != "" {
		if r.End, err = time.ParseInLocation(DateLayout, m[2], loc); err != nil {
			return Range{}, &DateRangeError{Range: text, Reason: err.Error()}
		}
	}
	if !r.End.After(r.Start) {
		return Range{}, &DateRangeError{Range: text, Reason: "end is not after start"}
	}
	return r, nil
}

// Ranges returns the parsed ranges in chronological order.
func (s *Scheduler) Ranges() []Range {
	return append([]Range(nil), s.ranges...)
}

// CheckTimeRange reports whether t lies strictly inside a range.
func (s *Scheduler) CheckTimeRange(t time.Time) bool {
	if s == nil || s.always {
		return true
	}
	for _, r := range s.ranges {
		if r.Contains(t) {
			return true
		}
	}
	return false
}

// Check is CheckTimeRange at the scheduler clock's current time.
func (s *Scheduler) Check() bool {
	if s == nil || s.always {
		return true
	}
	return s.CheckTimeRange(s.clock.Now())
}

func (s *Scheduler) String() string {
	if s == nil || s.always {
		return "always"
	}
	parts := make([]string, 0, len(s.ranges))
	for _, r := range s.ranges {
		start, end := "", ""
		if !r.Start.Equal(unboundedStart) {
			start = r.Start.Format(DateLayout)
		}
		if !r.End.Equal(unboundedEnd) {
			end = r.End.Format(DateLayout)
		}
		parts = append(parts, strings.TrimSpace(start+" > "+end))
	}
	return strings.Join(parts, ", ")
}
