package slidingwindow

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrInvalidGranularity is returned for a window size below one day.
var ErrInvalidGranularity = errors.New("invalid granularity: must be greater than 0")

// State is the resumable sync state of a stream: the cursor (start of the last
// folded window) and the set of completed windows not yet folded into it.
//
// At rest the completed set only holds windows strictly after the cursor.
// State is safe for concurrent use so checkpointers can read it while a sync
// is running.
type State struct {
	mu          sync.Mutex
	cursor      time.Time              // zero when no window was folded yet.
	completed   map[time.Time]struct{} // completed, unfolded window starts.
	granularity int                    // window size in days the state was produced with.
}

// NewState returns an empty state for the given granularity.
func NewState(granularityDays int) (*State, error) {
	if granularityDays <= 0 {
		return nil, ErrInvalidGranularity
	}
	return &State{
		completed:   make(map[time.Time]struct{}),
		granularity: granularityDays,
	}, nil
}

// Cursor returns the cursor and whether it is set.
func (s *State) Cursor() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor, !s.cursor.IsZero()
}

// Granularity returns the window size in days.
func (s *State) Granularity() int {
	return s.granularity
}

// Completed returns the tracked completed windows in ascending order.
func (s *State) Completed() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedCompleted()
}

// Len returns the number of tracked completed windows.
func (s *State) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.completed)
}

// IsCompleted reports whether the window starting at d is tracked as completed.
func (s *State) IsCompleted(d time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.completed[Day(d)]
	return ok
}

// MarkCompleted tracks the window starting at d as completed.
// Windows at or before the cursor are already folded and are ignored.
func (s *State) MarkCompleted(d time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d = Day(d)
	if s.folded(d) {
		return
	}
	s.completed[d] = struct{}{}
}

// Unmark stops tracking the window starting at d. It returns false if the
// window was not tracked.
func (s *State) Unmark(d time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d = Day(d)
	if _, ok := s.completed[d]; !ok {
		return false
	}
	delete(s.completed, d)
	return true
}

// Advance folds the contiguous run of completed windows that starts at the
// resume pointer into the cursor and returns the new resume pointer.
//
// The window sequence is regenerated from the pointer on every call. Folding
// stops at the first window that is not completed (a gap) and at the first
// window starting on or after refresh, which stays tracked because its data
// may still change. Windows at or before the cursor count as folded.
// The second return value reports whether the cursor moved.
func (s *State) Advance(pointer, end, refresh time.Time) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	original := s.cursor
	next := Day(pointer)
	for d := range Windows(next, end, s.granularity) {
		if s.folded(d) {
			next = AddDays(d, s.granularity)
			continue
		}
		if !d.Before(refresh) {
			break
		}
		if _, ok := s.completed[d]; !ok {
			break
		}
		delete(s.completed, d)
		s.cursor = d
		next = AddDays(d, s.granularity)
	}
	// Drop marks the cursor has overtaken; they are committed.
	for d := range s.completed {
		if s.folded(d) {
			delete(s.completed, d)
		}
	}
	return next, !s.cursor.Equal(original)
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &State{
		cursor:      s.cursor,
		completed:   make(map[time.Time]struct{}, len(s.completed)),
		granularity: s.granularity,
	}
	for d := range s.completed {
		c.completed[d] = struct{}{}
	}
	return c
}

// Map returns the persisted representation as a generic mapping.
func (s *State) Map() map[string]any {
	p := s.persisted()
	m := map[string]any{
		"completed_windows": p.CompletedWindows,
		"granularity_days":  p.Granularity,
	}
	if p.Cursor != "" {
		m["cursor"] = p.Cursor
	}
	return m
}

// MarshalJSON encodes the state with the keys cursor, completed_windows and
// granularity_days.
func (s *State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.persisted())
}

// UnmarshalJSON decodes a persisted state. It also understands the legacy keys
// date_start, slices and time_increment. A missing granularity means 1 day.
func (s *State) UnmarshalJSON(data []byte) error {
	var raw rawState
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode state: %w", err)
	}
	decoded, err := raw.toState()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = decoded.cursor
	s.completed = decoded.completed
	s.granularity = decoded.granularity
	return nil
}

// LoadState hydrates a state from a persisted blob. An empty blob yields an
// empty state. A blob produced with a different granularity is discarded as
// a whole and an empty state is returned instead.
func LoadState(log *zap.SugaredLogger, blob []byte, granularityDays int) (*State, error) {
	empty, err := NewState(granularityDays)
	if err != nil {
		return nil, err
	}
	blob = bytes.TrimSpace(blob)
	if len(blob) == 0 || bytes.Equal(blob, []byte("null")) {
		return empty, nil
	}

	var raw rawState
	if err := json.Unmarshal(blob, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	if g := raw.granularity(); g != granularityDays {
		log.Infow("ignoring saved state: granularity changed, starting full resync",
			"savedGranularityDays", g,
			"granularityDays", granularityDays,
		)
		return empty, nil
	}
	return raw.toState()
}

// folded reports whether d is at or before the cursor. Callers hold s.mu.
func (s *State) folded(d time.Time) bool {
	return !s.cursor.IsZero() && !d.After(s.cursor)
}

func (s *State) sortedCompleted() []time.Time {
	out := make([]time.Time, 0, len(s.completed))
	for d := range s.completed {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b time.Time) int { return a.Compare(b) })
	return out
}

func (s *State) persisted() persistedState {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := persistedState{
		CompletedWindows: make([]string, 0, len(s.completed)),
		Granularity:      s.granularity,
	}
	if !s.cursor.IsZero() {
		p.Cursor = FormatDate(s.cursor)
	}
	for _, d := range s.sortedCompleted() {
		p.CompletedWindows = append(p.CompletedWindows, FormatDate(d))
	}
	return p
}

type persistedState struct {
	Cursor           string   `json:"cursor,omitempty"`
	CompletedWindows []string `json:"completed_windows"`
	Granularity      int      `json:"granularity_days"`
}

// rawState accepts both the current and the legacy key names.
type rawState struct {
	Cursor           *string  `json:"cursor"`
	DateStart        *string  `json:"date_start"`
	CompletedWindows []string `json:"completed_windows"`
	Slices           []string `json:"slices"`
	GranularityDays  *int     `json:"granularity_days"`
	TimeIncrement    *int     `json:"time_increment"`
}

func (r rawState) granularity() int {
	switch {
	case r.GranularityDays != nil:
		return *r.GranularityDays
	case r.TimeIncrement != nil:
		return *r.TimeIncrement
	default:
		return 1
	}
}

func (r rawState) toState() (*State, error) {
	s, err := NewState(r.granularity())
	if err != nil {
		return nil, err
	}

	cursor := r.Cursor
	if cursor == nil {
		cursor = r.DateStart
	}
	if cursor != nil && *cursor != "" {
		c, err := ParseDate(*cursor)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor %q: %w", *cursor, err)
		}
		s.cursor = c
	}

	windows := r.CompletedWindows
	if windows == nil {
		windows = r.Slices
	}
	for _, w := range windows {
		d, err := ParseDate(w)
		if err != nil {
			return nil, fmt.Errorf("invalid completed window %q: %w", w, err)
		}
		if s.folded(d) {
			continue
		}
		s.completed[d] = struct{}{}
	}
	return s, nil
}
