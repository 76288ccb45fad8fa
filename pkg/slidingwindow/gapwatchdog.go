package slidingwindow

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StartGapWatchdog periodically checks the state of m and warns when the
// cursor lags the refresh boundary by more than maxLagDays, or when more than
// maxTracked windows are completed but not folded. A zero limit disables the
// corresponding check. It returns when ctx is done.
func StartGapWatchdog(
	ctx context.Context,
	log *zap.SugaredLogger,
	m *Manager,
	interval time.Duration,
	maxLagDays, maxTracked int,
) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			checkGaps(log, m, maxLagDays, maxTracked)
		}
	}
}

func checkGaps(log *zap.SugaredLogger, m *Manager, maxLagDays, maxTracked int) {
	s := m.State()
	r := NewRange(m.now(), m.cfg)

	if cursor, ok := s.Cursor(); ok && maxLagDays > 0 {
		// A cursor one window before the boundary is fully caught up.
		lag := int(r.Refresh.Sub(cursor).Hours()/24) - s.Granularity()
		if lag > maxLagDays {
			log.Warnw("cursor lags the refresh boundary",
				"stream", m.cfg.Stream,
				"cursor", FormatDate(cursor),
				"refreshBoundary", FormatDate(r.Refresh),
				"lagDays", lag,
			)
		}
	}

	if tracked := s.Len(); maxTracked > 0 && tracked > maxTracked {
		completed := s.Completed()
		log.Warnw("too many completed windows waiting on a gap",
			"stream", m.cfg.Stream,
			"tracked", tracked,
			"resumePointer", FormatDate(m.ResumePointer()),
			"firstTracked", FormatDate(completed[0]),
		)
	}
}
