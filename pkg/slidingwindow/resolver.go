package slidingwindow

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Period is a calendar length expressed in months and days.
type Period struct {
	Months int
	Days   int
}

// Before returns the day that lies p before d.
func (p Period) Before(d time.Time) time.Time {
	return Day(d).AddDate(0, -p.Months, -p.Days)
}

func (p Period) String() string {
	switch {
	case p.Months == 0:
		return fmt.Sprintf("%d days", p.Days)
	case p.Days == 0:
		return fmt.Sprintf("%d months", p.Months)
	default:
		return fmt.Sprintf("%d months %d days", p.Months, p.Days)
	}
}

var (
	// DefaultRetention is how far back the insights API serves data.
	DefaultRetention = Period{Months: 37}
	// DefaultLookback is how long insights data keeps changing after it was generated.
	DefaultLookback = Period{Days: 28}
)

// Range holds the day boundaries of a sync run, all derived from "today".
type Range struct {
	Today   time.Time
	Oldest  time.Time // today - retention; nothing older may be requested.
	Refresh time.Time // today - lookback; windows from here on are always refetched.
	End     time.Time // last eligible window start.
}

// NewRange computes the sync boundaries for today.
func NewRange(today time.Time, cfg Config) Range {
	today = Day(today)
	return Range{
		Today:   today,
		Oldest:  cfg.Retention.Before(today),
		Refresh: cfg.Lookback.Before(today),
		End:     EndBound(cfg.EndDate, today),
	}
}

// ResolveStart returns the first window start to walk in this run.
//
// With a cursor, the run resumes one window after it, but never later than
// the refresh boundary and never earlier than the configured start date.
// Without a cursor it starts at the configured start date. The retention
// floor wins over everything else.
func ResolveStart(log *zap.SugaredLogger, s *State, cfg Config, r Range) time.Time {
	startDate := Day(cfg.StartDate)

	var start time.Time
	if cursor, ok := s.Cursor(); ok {
		start = AddDays(cursor, s.Granularity())
		if start.After(r.Refresh) {
			log.Infow("cursor is within the refresh period, resuming from the refresh boundary",
				"lookback", cfg.Lookback.String(),
				"cursor", FormatDate(cursor),
				"refreshBoundary", FormatDate(r.Refresh),
			)
			start = r.Refresh
		}
		if start.Before(startDate) {
			log.Warnw("ignoring saved cursor older than the configured start date",
				"cursor", FormatDate(cursor),
				"startDate", FormatDate(startDate),
			)
			start = startDate
		}
	} else {
		start = startDate
	}

	if start.Before(r.Oldest) {
		log.Warnw("data older than the retention period is not available, starting from the oldest date",
			"retention", cfg.Retention.String(),
			"requestedStart", FormatDate(start),
			"oldest", FormatDate(r.Oldest),
		)
		start = r.Oldest
	}
	return start
}
