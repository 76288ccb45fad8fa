package slidingwindow

import (
	"iter"
	"time"
)

// DateLayout is the ISO date layout used for window starts in persisted state
// and in API requests.
const DateLayout = time.DateOnly

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AddDays returns the day n days after d (n may be negative).
func AddDays(d time.Time, n int) time.Time {
	return d.AddDate(0, 0, n)
}

// timestampLayouts are the accepted layouts for dates and record timestamps.
var timestampLayouts = []string{
	DateLayout,
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
}

// ParseDate parses an ISO date or a timestamp and returns its calendar day,
// taken in the timestamp's own offset.
func ParseDate(s string) (time.Time, error) {
	var err error
	for _, layout := range timestampLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, err
}

// FormatDate formats a day as an ISO date.
func FormatDate(d time.Time) string {
	return d.Format(DateLayout)
}

// Window is a closed date interval [Start, End]. Start identifies the window
// since the granularity is fixed per stream.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow builds the window starting at start and covering granularityDays days.
func NewWindow(start time.Time, granularityDays int) Window {
	start = Day(start)
	return Window{Start: start, End: AddDays(start, granularityDays-1)}
}

func (w Window) String() string {
	return FormatDate(w.Start) + ".." + FormatDate(w.End)
}

// Windows yields every window start from next to end inclusive, stepping by
// granularityDays. Nothing is yielded when next is after end.
func Windows(next, end time.Time, granularityDays int) iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		if granularityDays <= 0 {
			return
		}
		for d := Day(next); !d.After(end); d = AddDays(d, granularityDays) {
			if !yield(d) {
				return
			}
		}
	}
}

// EndBound returns the last eligible window start: the configured end capped
// at yesterday. A zero configured end means yesterday. Today is never
// eligible because its data is still incomplete.
func EndBound(configuredEnd, today time.Time) time.Time {
	yesterday := AddDays(Day(today), -1)
	if configuredEnd.IsZero() {
		return yesterday
	}
	end := Day(configuredEnd)
	if end.After(yesterday) {
		return yesterday
	}
	return end
}
