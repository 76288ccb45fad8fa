package slidingwindow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/jg100/airbyte/pkg/metrics"
	"go.uber.org/zap"
)

// ErrInvalidUpdatedAt is returned when freshness filtering meets a record
// whose updated-at field is missing or not a date.
var ErrInvalidUpdatedAt = errors.New("invalid updated-at timestamp")

// Manager orchestrates the sync of one stream: it resolves where to resume,
// plans the window jobs, drains their results in submission order and
// advances the state after each fully consumed window.
type Manager struct {
	log      *zap.SugaredLogger
	cfg      Config
	executor Executor
	metrics  *metrics.Metrics
	now      func() time.Time

	mu      sync.Mutex
	state   *State
	pointer time.Time // resume pointer: the next window the cursor waits for.
}

// NewManager creates a Manager with an empty state and returns an error if
// arguments are invalid. m may be nil to disable metrics.
func NewManager(
	log *zap.SugaredLogger,
	cfg Config,
	executor Executor,
	m *metrics.Metrics,
) (*Manager, error) {
	if log == nil {
		return nil, errors.New("invalid logger: must not be nil")
	}
	if executor == nil {
		return nil, errors.New("invalid executor: must not be nil")
	}
	if cfg.StartDate.IsZero() {
		return nil, errors.New("invalid start date: must be set")
	}
	if !cfg.EndDate.IsZero() && cfg.EndDate.Before(cfg.StartDate) {
		return nil, errors.New("invalid end date: must not be before start date")
	}
	s, err := NewState(cfg.GranularityDays)
	if err != nil {
		return nil, err
	}

	return &Manager{
		log:      log,
		cfg:      cfg,
		executor: executor,
		metrics:  m,
		now:      time.Now,
		state:    s,
	}, nil
}

// Load replaces the state with the one decoded from blob. A blob written with
// a different granularity is discarded and the stream resyncs from scratch.
func (m *Manager) Load(blob []byte) error {
	s, err := LoadState(m.log, blob, m.cfg.GranularityDays)
	if err != nil {
		return fmt.Errorf("failed to load state for stream %s: %w", m.cfg.Stream, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
	return nil
}

// State returns a snapshot of the current state.
func (m *Manager) State() *State {
	return m.currentState().Clone()
}

// Checkpoint returns the current state encoded for persistence. It may be
// called at any time, including while Sync is running.
func (m *Manager) Checkpoint() ([]byte, error) {
	return json.Marshal(m.currentState())
}

// ResumePointer returns the window the cursor waits for, or the zero time
// before the first sync.
func (m *Manager) ResumePointer() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pointer
}

// Config returns the stream configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Sync runs one sync and yields the emitted records in window order. The run
// stops at the first error, which is yielded last. A window is marked
// completed only after all of its records were yielded, so a caller that
// stops early leaves the state as of the last fully consumed window.
//
// Sync must not be called concurrently with itself.
func (m *Manager) Sync(ctx context.Context) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		s := m.currentState()
		r := NewRange(m.now(), m.cfg)
		watermark, hasWatermark := s.Cursor()

		start := ResolveStart(m.log, s, m.cfg, r)
		decisions := Plan(s, start, r, m.cfg.Params)
		m.recordPlan(start, r, decisions)

		// Stable windows skipped at the front may now be foldable.
		next, _ := s.Advance(start, r.End, r.Refresh)
		m.setPointer(next)
		m.updateWindowMetrics(s)

		specs := JobSpecs(decisions)
		if len(specs) == 0 {
			return
		}

		for job, err := range m.executor.Run(ctx, specs) {
			if err != nil {
				m.metrics.IncError(metrics.ErrTypeJobFailed)
				yield(nil, fmt.Errorf("stream %s: %w", m.cfg.Stream, err))
				return
			}

			w := job.Spec.Window
			records, filtered, err := m.filter(job.Records, watermark, hasWatermark, r.Today)
			if err != nil {
				m.metrics.IncError(metrics.ErrTypeInvalidRecord)
				yield(nil, fmt.Errorf("stream %s window %s: %w", m.cfg.Stream, w, err))
				return
			}
			for i, rec := range records {
				if !yield(rec, nil) {
					m.metrics.AddRecords(i+1, filtered)
					return
				}
			}
			m.metrics.AddRecords(len(records), filtered)

			m.completeWindow(s, w.Start, r)
		}
	}
}

// completeWindow marks a consumed window and advances the cursor when the
// window is the one the cursor waits for.
func (m *Manager) completeWindow(s *State, start time.Time, r Range) {
	s.MarkCompleted(start)

	advanced := false
	if pointer := m.ResumePointer(); start.Equal(pointer) {
		next, changed := s.Advance(pointer, r.End, r.Refresh)
		m.setPointer(next)
		advanced = changed
	}
	m.metrics.CompleteWindow(advanced)
	m.updateWindowMetrics(s)

	cursor, _ := s.Cursor()
	m.log.Debugw("window completed",
		"stream", m.cfg.Stream,
		"window", FormatDate(start),
		"cursor", formatOptional(cursor),
		"resumePointer", FormatDate(m.ResumePointer()),
		"tracked", s.Len(),
	)
}

// filter withholds records that are not newer than the watermark or that
// claim an update on or after today. Without an updated-at field or a
// watermark every record passes.
func (m *Manager) filter(
	records []Record,
	watermark time.Time,
	hasWatermark bool,
	today time.Time,
) ([]Record, int, error) {
	if m.cfg.UpdatedAtField == "" || !hasWatermark {
		return records, 0, nil
	}
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		updated, err := updatedAt(rec, m.cfg.UpdatedAtField)
		if err != nil {
			return nil, 0, err
		}
		if updated.After(watermark) && updated.Before(today) {
			out = append(out, rec)
		}
	}
	return out, len(records) - len(out), nil
}

func updatedAt(rec Record, field string) (time.Time, error) {
	switch v := rec[field].(type) {
	case string:
		d, err := ParseDate(v)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: field %s: %w", ErrInvalidUpdatedAt, field, err)
		}
		return d, nil
	case time.Time:
		return Day(v), nil
	case nil:
		return time.Time{}, fmt.Errorf("%w: field %s is missing", ErrInvalidUpdatedAt, field)
	default:
		return time.Time{}, fmt.Errorf("%w: field %s has type %T", ErrInvalidUpdatedAt, field, v)
	}
}

func (m *Manager) recordPlan(start time.Time, r Range, decisions []Decision) {
	counts := make(map[Action]int, 3)
	for _, d := range decisions {
		counts[d.Action]++
	}
	for _, a := range []Action{ActionSubmit, ActionSkip, ActionResubmit} {
		m.metrics.AddWindowsPlanned(a.String(), counts[a])
	}
	m.log.Infow("planned sync",
		"stream", m.cfg.Stream,
		"start", FormatDate(start),
		"end", FormatDate(r.End),
		"refreshBoundary", FormatDate(r.Refresh),
		"submit", counts[ActionSubmit],
		"skip", counts[ActionSkip],
		"resubmit", counts[ActionResubmit],
	)
}

func (m *Manager) updateWindowMetrics(s *State) {
	cursor, _ := s.Cursor()
	m.metrics.UpdateWindowMetrics(cursor, m.ResumePointer(), s.Len())
}

func (m *Manager) currentState() *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setPointer(d time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pointer = d
}

func formatOptional(d time.Time) string {
	if d.IsZero() {
		return ""
	}
	return FormatDate(d)
}
