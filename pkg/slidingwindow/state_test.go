package slidingwindow

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestState(t *testing.T, granularity int, cursor time.Time, completed ...time.Time) *State {
	t.Helper()
	s, err := NewState(granularity)
	if err != nil {
		t.Fatalf("NewState(%d) unexpected error: %v", granularity, err)
	}
	s.cursor = cursor
	for _, d := range completed {
		s.completed[d] = struct{}{}
	}
	return s
}

func assertCursor(t *testing.T, s *State, want time.Time) {
	t.Helper()
	got, ok := s.Cursor()
	if want.IsZero() {
		if ok {
			t.Fatalf("Cursor()=%s, want unset", FormatDate(got))
		}
		return
	}
	if !ok || !got.Equal(want) {
		t.Fatalf("Cursor()=%s (set=%v), want %s", FormatDate(got), ok, FormatDate(want))
	}
}

func assertCompleted(t *testing.T, s *State, want ...time.Time) {
	t.Helper()
	got := s.Completed()
	if len(got) != len(want) {
		t.Fatalf("Completed()=%v, want %v", got, want)
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("Completed()[%d]=%s, want %s", i, FormatDate(got[i]), FormatDate(want[i]))
		}
	}
}

func TestNewState(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		granularity int
		wantErr     bool
	}{
		{name: "daily", granularity: 1},
		{name: "weekly", granularity: 7},
		{name: "zero granularity", granularity: 0, wantErr: true},
		{name: "negative granularity", granularity: -1, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, err := NewState(tt.granularity)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidGranularity) {
					t.Fatalf("NewState(%d) error=%v, want ErrInvalidGranularity", tt.granularity, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewState(%d) unexpected error: %v", tt.granularity, err)
			}
			if s.Granularity() != tt.granularity {
				t.Fatalf("Granularity()=%d, want %d", s.Granularity(), tt.granularity)
			}
			assertCursor(t, s, time.Time{})
			assertCompleted(t, s)
		})
	}
}

func TestMarkCompleted(t *testing.T) {
	t.Parallel()
	s := newTestState(t, 1, day(5))

	s.MarkCompleted(day(7).Add(3 * time.Hour))
	if !s.IsCompleted(day(7)) {
		t.Fatalf("IsCompleted(day 7)=false after MarkCompleted")
	}

	// At or before the cursor the window is already folded.
	s.MarkCompleted(day(5))
	s.MarkCompleted(day(2))
	assertCompleted(t, s, day(7))

	if !s.Unmark(day(7)) {
		t.Fatalf("Unmark(day 7)=false, want true")
	}
	if s.Unmark(day(7)) {
		t.Fatalf("second Unmark(day 7)=true, want false")
	}
	assertCompleted(t, s)
}

func TestAdvance(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name          string
		granularity   int
		cursor        time.Time
		completed     []time.Time
		pointer       time.Time
		end           time.Time
		refresh       time.Time
		wantPointer   time.Time
		wantCursor    time.Time
		wantCompleted []time.Time
		wantChanged   bool
	}{
		{
			name:          "folds only the contiguous prefix",
			granularity:   1,
			completed:     days(0, 1, 3),
			pointer:       day(0),
			end:           day(10),
			refresh:       day(100),
			wantPointer:   day(2),
			wantCursor:    day(1),
			wantCompleted: days(3),
			wantChanged:   true,
		},
		{
			name:          "gap at the pointer keeps everything tracked",
			granularity:   1,
			completed:     days(1, 2),
			pointer:       day(0),
			end:           day(10),
			refresh:       day(100),
			wantPointer:   day(0),
			wantCompleted: days(1, 2),
		},
		{
			name:          "stops at the refresh boundary",
			granularity:   1,
			completed:     days(0, 1, 2, 3, 4),
			pointer:       day(0),
			end:           day(4),
			refresh:       day(3),
			wantPointer:   day(3),
			wantCursor:    day(2),
			wantCompleted: days(3, 4),
			wantChanged:   true,
		},
		{
			name:          "multi-day windows",
			granularity:   3,
			cursor:        day(0),
			completed:     days(3, 6, 12),
			pointer:       day(3),
			end:           day(20),
			refresh:       day(100),
			wantPointer:   day(9),
			wantCursor:    day(6),
			wantCompleted: days(12),
			wantChanged:   true,
		},
		{
			name:          "folded windows behind the cursor are passed over",
			granularity:   1,
			cursor:        day(5),
			completed:     days(6, 7),
			pointer:       day(2),
			end:           day(10),
			refresh:       day(100),
			wantPointer:   day(8),
			wantCursor:    day(7),
			wantCompleted: nil,
			wantChanged:   true,
		},
		{
			name:          "stops at the end bound",
			granularity:   1,
			completed:     days(0, 1),
			pointer:       day(0),
			end:           day(1),
			refresh:       day(100),
			wantPointer:   day(2),
			wantCursor:    day(1),
			wantCompleted: nil,
			wantChanged:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newTestState(t, tt.granularity, tt.cursor, tt.completed...)
			next, changed := s.Advance(tt.pointer, tt.end, tt.refresh)
			if !next.Equal(tt.wantPointer) {
				t.Fatalf("Advance() pointer=%s, want %s", FormatDate(next), FormatDate(tt.wantPointer))
			}
			if changed != tt.wantChanged {
				t.Fatalf("Advance() changed=%v, want %v", changed, tt.wantChanged)
			}
			assertCursor(t, s, tt.wantCursor)
			assertCompleted(t, s, tt.wantCompleted...)
		})
	}
}

func TestAdvance_Idempotent(t *testing.T) {
	t.Parallel()
	s := newTestState(t, 1, time.Time{}, days(0, 1, 3)...)
	next, _ := s.Advance(day(0), day(10), day(100))
	again, changed := s.Advance(next, day(10), day(100))
	if changed || !again.Equal(next) {
		t.Fatalf("second Advance()=(%s, %v), want (%s, false)", FormatDate(again), changed, FormatDate(next))
	}
	assertCursor(t, s, day(1))
	assertCompleted(t, s, day(3))
}

func TestState_JSONRoundTrip(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		state func(t *testing.T) *State
	}{
		{
			name:  "empty",
			state: func(t *testing.T) *State { return newTestState(t, 1, time.Time{}) },
		},
		{
			name:  "completed without cursor",
			state: func(t *testing.T) *State { return newTestState(t, 1, time.Time{}, days(3, 1)...) },
		},
		{
			name:  "cursor and completed",
			state: func(t *testing.T) *State { return newTestState(t, 7, day(7), days(21, 14)...) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			want := tt.state(t)
			blob, err := json.Marshal(want)
			if err != nil {
				t.Fatalf("Marshal() unexpected error: %v", err)
			}
			got, err := LoadState(zap.NewNop().Sugar(), blob, want.Granularity())
			if err != nil {
				t.Fatalf("LoadState(%s) unexpected error: %v", blob, err)
			}
			wantCursor, _ := want.Cursor()
			assertCursor(t, got, wantCursor)
			assertCompleted(t, got, want.Completed()...)

			var decoded State
			if err := json.Unmarshal(blob, &decoded); err != nil {
				t.Fatalf("Unmarshal() unexpected error: %v", err)
			}
			if decoded.Granularity() != want.Granularity() {
				t.Fatalf("Granularity()=%d, want %d", decoded.Granularity(), want.Granularity())
			}
		})
	}
}

func TestState_MarshalJSON(t *testing.T) {
	t.Parallel()
	s := newTestState(t, 1, day(4), days(7, 6)...)
	blob, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal() unexpected error: %v", err)
	}
	want := `{"cursor":"2024-01-05","completed_windows":["2024-01-07","2024-01-08"],"granularity_days":1}`
	if string(blob) != want {
		t.Fatalf("Marshal()=%s, want %s", blob, want)
	}

	empty := newTestState(t, 2, time.Time{})
	blob, err = json.Marshal(empty)
	if err != nil {
		t.Fatalf("Marshal() unexpected error: %v", err)
	}
	if want := `{"completed_windows":[],"granularity_days":2}`; string(blob) != want {
		t.Fatalf("Marshal()=%s, want %s", blob, want)
	}

	m := s.Map()
	if m["cursor"] != "2024-01-05" || m["granularity_days"] != 1 {
		t.Fatalf("Map()=%v", m)
	}
}

func TestLoadState(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name          string
		blob          string
		granularity   int
		wantCursor    time.Time
		wantCompleted []time.Time
		wantErr       bool
	}{
		{name: "empty blob", blob: "", granularity: 1},
		{name: "null blob", blob: "null", granularity: 1},
		{name: "empty object", blob: "{}", granularity: 1},
		{
			name:          "current keys",
			blob:          `{"cursor":"2024-01-05","completed_windows":["2024-01-08"],"granularity_days":1}`,
			granularity:   1,
			wantCursor:    day(4),
			wantCompleted: days(7),
		},
		{
			name:          "legacy keys",
			blob:          `{"date_start":"2024-01-05","slices":["2024-01-08","2024-01-09"],"time_increment":1}`,
			granularity:   1,
			wantCursor:    day(4),
			wantCompleted: days(7, 8),
		},
		{
			name:          "missing granularity means one day",
			blob:          `{"cursor":"2024-01-05","slices":["2024-01-07"]}`,
			granularity:   1,
			wantCursor:    day(4),
			wantCompleted: days(6),
		},
		{
			name:          "cursor given as timestamp",
			blob:          `{"cursor":"2024-01-05T00:00:00+00:00","granularity_days":1}`,
			granularity:   1,
			wantCursor:    day(4),
		},
		{
			name:          "completed windows at or before the cursor are dropped",
			blob:          `{"cursor":"2024-01-05","completed_windows":["2024-01-03","2024-01-05","2024-01-06"],"granularity_days":1}`,
			granularity:   1,
			wantCursor:    day(4),
			wantCompleted: days(5),
		},
		{
			name:        "granularity change discards everything",
			blob:        `{"cursor":"2024-01-05","completed_windows":["2024-01-08"],"granularity_days":7}`,
			granularity: 1,
		},
		{
			name:        "legacy granularity change discards everything",
			blob:        `{"date_start":"2024-01-05","time_increment":1}`,
			granularity: 3,
		},
		{name: "bad cursor", blob: `{"cursor":"not-a-date"}`, granularity: 1, wantErr: true},
		{name: "bad completed window", blob: `{"slices":["2024-13-01"]}`, granularity: 1, wantErr: true},
		{name: "not json", blob: `{`, granularity: 1, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, err := LoadState(zap.NewNop().Sugar(), []byte(tt.blob), tt.granularity)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("LoadState(%s) expected error", tt.blob)
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadState(%s) unexpected error: %v", tt.blob, err)
			}
			if s.Granularity() != tt.granularity {
				t.Fatalf("Granularity()=%d, want %d", s.Granularity(), tt.granularity)
			}
			assertCursor(t, s, tt.wantCursor)
			assertCompleted(t, s, tt.wantCompleted...)
		})
	}
}

func TestLoadState_LogsGranularityChange(t *testing.T) {
	t.Parallel()
	core, recorded := observer.New(zap.InfoLevel)
	log := zap.New(core).Sugar()

	blob := []byte(`{"cursor":"2024-01-05","granularity_days":7}`)
	s, err := LoadState(log, blob, 1)
	if err != nil {
		t.Fatalf("LoadState() unexpected error: %v", err)
	}
	assertCursor(t, s, time.Time{})

	entries := recorded.FilterMessage("ignoring saved state: granularity changed, starting full resync").All()
	if len(entries) != 1 {
		t.Fatalf("expected one granularity log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["savedGranularityDays"] != int64(7) || fields["granularityDays"] != int64(1) {
		t.Fatalf("unexpected log fields: %v", fields)
	}
}

func TestClone(t *testing.T) {
	t.Parallel()
	s := newTestState(t, 1, day(1), day(3))
	c := s.Clone()
	c.MarkCompleted(day(5))
	c.Advance(day(2), day(10), day(100))

	assertCursor(t, s, day(1))
	assertCompleted(t, s, day(3))
	assertCompleted(t, c, day(3), day(5))
}
