package sessions

import (
	"errors"
	"math/rand"
	"sort"
	"testing"
	"time"

	"chronos/internal/models"
)

var day = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func newTestSegmenter() *Segmenter {
	return NewSegmenter(DefaultThresholds(), "test")
}

type want struct {
	start, end time.Time
	active     bool
	focus      bool
	brk        bool
}

func assertSessions(t *testing.T, got []models.ActivitySession, expected []want) {
	t.Helper()
	if len(got) != len(expected) {
		t.Fatalf("Expected %d sessions, got %d: %+v", len(expected), len(got), got)
	}
	for i, w := range expected {
		g := got[i]
		if !g.StartTime.Equal(w.start) || !g.EndTime.Equal(w.end) {
			t.Errorf("session %d: expected [%s, %s), got [%s, %s)", i,
				w.start.Format(time.TimeOnly), w.end.Format(time.TimeOnly),
				g.StartTime.Format(time.TimeOnly), g.EndTime.Format(time.TimeOnly))
		}
		if g.IsActive != w.active || g.IsFocus != w.focus || g.IsBreak != w.brk {
			t.Errorf("session %d: expected active=%v focus=%v break=%v, got active=%v focus=%v break=%v",
				i, w.active, w.focus, w.brk, g.IsActive, g.IsFocus, g.IsBreak)
		}
	}
}

func TestSegment_NoEvents(t *testing.T) {
	_, err := newTestSegmenter().Segment(1, nil, nil)
	if !errors.Is(err, ErrNoEvents) {
		t.Fatalf("Expected ErrNoEvents, got %v", err)
	}
}

func TestSegment_SingleEvent(t *testing.T) {
	got, err := newTestSegmenter().Segment(7, []time.Time{at(0, 1)}, nil)
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	assertSessions(t, got, []want{{start: at(0, 0), end: at(0, 1), active: true}})

	if got[0].UserID != 7 {
		t.Errorf("Expected user 7, got %d", got[0].UserID)
	}
	if got[0].SchemaVersion != "test" {
		t.Errorf("Expected schema version 'test', got %q", got[0].SchemaVersion)
	}
}

func TestSegment_GapBoundary(t *testing.T) {
	gap := DefaultThresholds().Gap

	tests := []struct {
		name     string
		second   time.Time
		expected []want
	}{
		{
			name:   "gap equal to threshold merges",
			second: at(0, 1).Add(time.Minute + gap),
			expected: []want{
				{start: at(0, 0), end: at(0, 7), active: true},
			},
		},
		{
			name:   "gap one nanosecond over threshold splits",
			second: at(0, 1).Add(time.Minute + gap + time.Nanosecond),
			expected: []want{
				{start: at(0, 0), end: at(0, 1), active: true},
				{start: at(0, 1), end: at(0, 6).Add(time.Nanosecond)},
				{start: at(0, 6).Add(time.Nanosecond), end: at(0, 7).Add(time.Nanosecond), active: true},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := newTestSegmenter().Segment(1, []time.Time{at(0, 1), tt.second}, nil)
			if err != nil {
				t.Fatalf("Segment failed: %v", err)
			}
			assertSessions(t, got, tt.expected)
		})
	}
}

func TestSegment_FocusBoundary(t *testing.T) {
	everyMinute := func(last time.Time) []time.Time {
		var events []time.Time
		for ts := at(0, 1); ts.Before(last); ts = ts.Add(time.Minute) {
			events = append(events, ts)
		}
		return append(events, last)
	}

	tests := []struct {
		name  string
		last  time.Time
		focus bool
	}{
		{name: "exactly focus threshold", last: at(0, 15), focus: true},
		{name: "one nanosecond short", last: at(0, 15).Add(-time.Nanosecond), focus: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := newTestSegmenter().Segment(1, everyMinute(tt.last), nil)
			if err != nil {
				t.Fatalf("Segment failed: %v", err)
			}
			assertSessions(t, got, []want{{start: at(0, 0), end: tt.last, active: true, focus: tt.focus}})
		})
	}
}

// focusBlock returns one event per five minutes covering [from-1m, to]
func focusBlock(from, to time.Time) []time.Time {
	var events []time.Time
	for ts := from; !ts.After(to); ts = ts.Add(5 * time.Minute) {
		events = append(events, ts)
	}
	return events
}

func TestSegment_BreakClassification(t *testing.T) {
	tests := []struct {
		name   string
		events []time.Time
		brk    bool
	}{
		{
			name:   "short gap between focus sessions",
			events: append(focusBlock(at(0, 1), at(0, 21)), focusBlock(at(0, 51), at(1, 11))...),
			brk:    true,
		},
		{
			name:   "gap exactly break threshold",
			events: append(focusBlock(at(0, 1), at(0, 21)), focusBlock(at(0, 52), at(1, 12))...),
			brk:    true,
		},
		{
			name: "gap over break threshold",
			events: append(focusBlock(at(0, 1), at(0, 21)),
				focusBlock(at(0, 52).Add(time.Nanosecond), at(1, 12).Add(time.Nanosecond))...),
			brk: false,
		},
		{
			name:   "following session is not focus",
			events: append(focusBlock(at(0, 1), at(0, 21)), at(0, 40)),
			brk:    false,
		},
		{
			name:   "preceding session is not focus",
			events: append([]time.Time{at(0, 1)}, focusBlock(at(0, 20), at(0, 40))...),
			brk:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := newTestSegmenter().Segment(1, tt.events, nil)
			if err != nil {
				t.Fatalf("Segment failed: %v", err)
			}
			if len(got) != 3 {
				t.Fatalf("Expected 3 sessions, got %d", len(got))
			}
			if got[1].IsActive {
				t.Fatal("Expected middle session to be inactive")
			}
			if got[1].IsBreak != tt.brk {
				t.Errorf("Expected is_break=%v, got %v (gap %s)", tt.brk, got[1].IsBreak, got[1].Duration())
			}
		})
	}
}

func TestSegment_LearningScenario(t *testing.T) {
	events := []time.Time{at(0, 1)}
	events = append(events, focusBlock(at(0, 5), at(0, 35))...)
	events = append(events, at(1, 1))
	events = append(events, focusBlock(at(1, 5), at(1, 30))...)

	got, err := newTestSegmenter().Segment(1, events, nil)
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	assertSessions(t, got, []want{
		{start: at(0, 0), end: at(0, 35), active: true, focus: true},
		{start: at(0, 35), end: at(1, 0), brk: true},
		{start: at(1, 0), end: at(1, 30), active: true, focus: true},
	})
}

func TestSegment_UnsortedInput(t *testing.T) {
	events := []time.Time{at(0, 30), at(0, 1), at(0, 3)}

	got, err := newTestSegmenter().Segment(1, events, nil)
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	assertSessions(t, got, []want{
		{start: at(0, 0), end: at(0, 3), active: true},
		{start: at(0, 3), end: at(0, 29)},
		{start: at(0, 29), end: at(0, 30), active: true},
	})
}

func TestSegment_CarryOver(t *testing.T) {
	prevDay := day.Add(-time.Minute)

	tests := []struct {
		name     string
		carry    models.Interval
		events   []time.Time
		expected []want
	}{
		{
			name:   "close event extends carried session",
			carry:  models.Interval{StartTime: prevDay, EndTime: day},
			events: []time.Time{at(0, 5)},
			expected: []want{
				{start: prevDay, end: at(0, 5), active: true},
			},
		},
		{
			name:   "distant event follows carried session",
			carry:  models.Interval{StartTime: at(10, 0), EndTime: at(10, 20)},
			events: []time.Time{at(12, 0)},
			expected: []want{
				{start: at(10, 0), end: at(10, 20), active: true, focus: true},
				{start: at(10, 20), end: at(11, 59)},
				{start: at(11, 59), end: at(12, 0), active: true},
			},
		},
		{
			name:   "replayed events are already covered",
			carry:  models.Interval{StartTime: at(10, 0), EndTime: at(10, 20)},
			events: []time.Time{at(10, 1), at(10, 10), at(10, 20)},
			expected: []want{
				{start: at(10, 0), end: at(10, 20), active: true, focus: true},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			carry := tt.carry
			got, err := newTestSegmenter().Segment(1, tt.events, &carry)
			if err != nil {
				t.Fatalf("Segment failed: %v", err)
			}
			assertSessions(t, got, tt.expected)
		})
	}
}

// checkTimeline asserts the stored-timeline invariants independently of validate
func checkTimeline(t *testing.T, got []models.ActivitySession, th Thresholds) {
	t.Helper()
	if len(got) == 0 {
		t.Fatal("Expected at least one session")
	}
	if !got[0].IsActive || !got[len(got)-1].IsActive {
		t.Fatal("Expected first and last sessions to be active")
	}
	if !sort.SliceIsSorted(got, func(i, j int) bool { return got[i].StartTime.Before(got[j].StartTime) }) {
		t.Fatal("Expected sessions sorted by start_time")
	}
	for i, s := range got {
		if i > 0 && !got[i-1].EndTime.Equal(s.StartTime) {
			t.Fatalf("session %d is not contiguous with its predecessor", i)
		}
		if s.IsBreak {
			if s.IsActive || s.Duration() > th.Break || !got[i-1].IsFocus || !got[i+1].IsFocus {
				t.Fatalf("session %d is an invalid break", i)
			}
		} else if !s.IsActive && s.Duration() <= th.Gap {
			t.Fatalf("session %d is an inactive session shorter than the gap", i)
		}
		if s.IsFocus != (s.IsActive && s.Duration() >= th.Focus) {
			t.Fatalf("session %d has wrong focus flag", i)
		}
	}
}

func TestSegment_RandomSequencesKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	seg := newTestSegmenter()

	for run := 0; run < 200; run++ {
		n := 1 + rng.Intn(60)
		events := make([]time.Time, 0, n)
		ts := day
		for i := 0; i < n; i++ {
			// mostly short pauses, sometimes long ones
			step := time.Duration(rng.Intn(8)) * time.Minute
			if rng.Intn(6) == 0 {
				step = time.Duration(5+rng.Intn(60)) * time.Minute
			}
			ts = ts.Add(step + time.Duration(rng.Intn(60))*time.Second)
			events = append(events, ts)
		}
		rng.Shuffle(len(events), func(i, j int) { events[i], events[j] = events[j], events[i] })

		got, err := seg.Segment(int64(run), events, nil)
		if err != nil {
			t.Fatalf("run %d: Segment failed: %v", run, err)
		}
		checkTimeline(t, got, seg.Thresholds())
	}
}
