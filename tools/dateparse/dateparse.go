package dateparse

import (
	"fmt"
	"time"
)

// Layout is the calendar-date format accepted on the command line.
const Layout = "2006-01-02"

// Range is an inclusive calendar-date range. Start and End are midnight UTC
// instants; the time-of-day component is never meaningful.
type Range struct {
	Start time.Time
	End   time.Time
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(Layout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse date '%s': %w", s, err)
	}
	return t, nil
}

// ParseRange parses a start and end date and validates the pair. The range is
// rejected when start > end or when either date falls outside the window
// [now-10y, now+1d].
func ParseRange(startStr, endStr string, now time.Time) (Range, error) {
	start, err := ParseDate(startStr)
	if err != nil {
		return Range{}, err
	}
	end, err := ParseDate(endStr)
	if err != nil {
		return Range{}, err
	}

	r := Range{Start: start, End: end}
	if err := r.Validate(now); err != nil {
		return Range{}, err
	}
	return r, nil
}

// Validate checks the range invariants against the given reference time.
func (r Range) Validate(now time.Time) error {
	if r.Start.After(r.End) {
		return fmt.Errorf("range start %s is after end %s", r.Start.Format(Layout), r.End.Format(Layout))
	}
	earliest := now.AddDate(-10, 0, 0)
	latest := now.AddDate(0, 0, 1)
	if r.Start.Before(earliest) {
		return fmt.Errorf("range start %s is more than 10 years in the past", r.Start.Format(Layout))
	}
	if r.End.After(latest) {
		return fmt.Errorf("range end %s is in the future", r.End.Format(Layout))
	}
	return nil
}

// Days returns the number of calendar days covered, inclusive of both ends.
func (r Range) Days() int {
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

// Contains reports whether the date d falls inside the range.
func (r Range) Contains(d time.Time) bool {
	return !d.Before(r.Start) && !d.After(r.End)
}

// Overlaps reports whether two inclusive ranges share at least one day.
func (r Range) Overlaps(other Range) bool {
	return !r.Start.After(other.End) && !other.Start.After(r.End)
}

// String formats the range as "start..end".
func (r Range) String() string {
	return r.Start.Format(Layout) + ".." + r.End.Format(Layout)
}

// Chunks subdivides the range into consecutive sub-ranges of at most
// windowDays days. A non-positive window yields the range unchanged.
func (r Range) Chunks(windowDays int) []Range {
	if windowDays <= 0 || r.Days() <= windowDays {
		return []Range{r}
	}

	var chunks []Range
	start := r.Start
	for !start.After(r.End) {
		end := start.AddDate(0, 0, windowDays-1)
		if end.After(r.End) {
			end = r.End
		}
		chunks = append(chunks, Range{Start: start, End: end})
		start = end.AddDate(0, 0, 1)
	}
	return chunks
}
