package workhours

import (
	"testing"
	"time"

	"github.com/meridian/chat-insights/internal/schedule"
)

func ts(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("bad timestamp %q: %v", value, err)
	}
	return parsed
}

func window(startHour, endHour int) schedule.Window {
	return schedule.Window{Start: schedule.Clock(startHour * 3600), End: schedule.Clock(endHour * 3600)}
}

// weekdaysOnly is Mon-Fri 09:00-18:00 with the weekend closed.
func weekdaysOnly() schedule.Week {
	var wk schedule.Week
	for d := schedule.Monday; d <= schedule.Friday; d++ {
		wk[d] = window(9, 18)
	}
	return wk
}

func mondayOnly(startHour, endHour int) schedule.Week {
	var wk schedule.Week
	wk[schedule.Monday] = window(startHour, endHour)
	return wk
}

func TestWorkingSecondsWithinDay(t *testing.T) {
	c := New(time.UTC, false)
	// 2025-01-06 is a Monday.
	got := c.WorkingSeconds(ts(t, "2025-01-06T10:00:00Z"), ts(t, "2025-01-06T10:05:00Z"), mondayOnly(9, 18))
	if got != 300 {
		t.Errorf("WorkingSeconds = %v, want 300", got)
	}
}

func TestWorkingSecondsStraddlesWindowStart(t *testing.T) {
	t0 := "2025-01-06T08:30:00Z"
	t1 := "2025-01-06T09:30:00Z"

	correct := New(time.UTC, false)
	if got := correct.WorkingSeconds(ts(t, t0), ts(t, t1), mondayOnly(9, 18)); got != 1800 {
		t.Errorf("correct mode = %v, want 1800", got)
	}

	compat := New(time.UTC, true)
	if got := compat.WorkingSeconds(ts(t, t0), ts(t, t1), mondayOnly(9, 18)); got != 0 {
		t.Errorf("strict same-day mode = %v, want 0", got)
	}
}

func TestWorkingSecondsClosedWeekend(t *testing.T) {
	c := New(time.UTC, false)
	// Saturday 10:00 through Monday 10:00: only Monday 09:00-10:00 counts.
	got := c.WorkingSeconds(ts(t, "2025-01-04T10:00:00Z"), ts(t, "2025-01-06T10:00:00Z"), weekdaysOnly())
	if got != 3600 {
		t.Errorf("WorkingSeconds = %v, want 3600", got)
	}
}

func TestWorkingSecondsOvernightWindow(t *testing.T) {
	c := New(time.UTC, false)
	// Monday 22:00-06:00 wraps into Tuesday. From Monday 23:30 to Tuesday
	// 02:30 the open stretches are 23:30-24:00 and 00:00-02:30.
	wk := mondayOnly(22, 6)
	got := c.WorkingSeconds(ts(t, "2025-01-06T23:30:00Z"), ts(t, "2025-01-07T02:30:00Z"), wk)
	if got != 10800 {
		t.Errorf("WorkingSeconds = %v, want 10800", got)
	}
}

func TestWorkingSecondsOvernightFullWindow(t *testing.T) {
	c := New(time.UTC, false)
	wk := mondayOnly(22, 6)
	// The whole window is 8 hours: 2 on Monday night, 6 on Tuesday morning.
	got := c.WorkingSeconds(ts(t, "2025-01-06T20:00:00Z"), ts(t, "2025-01-07T12:00:00Z"), wk)
	if got != 8*3600 {
		t.Errorf("WorkingSeconds = %v, want %v", got, 8*3600)
	}
}

func TestWorkingSecondsEmptyAndReversedIntervals(t *testing.T) {
	c := New(time.UTC, false)
	at := ts(t, "2025-01-06T10:00:00Z")
	if got := c.WorkingSeconds(at, at, weekdaysOnly()); got != 0 {
		t.Errorf("zero-length interval = %v, want 0", got)
	}
	if got := c.WorkingSeconds(at.Add(time.Hour), at, weekdaysOnly()); got != 0 {
		t.Errorf("reversed interval = %v, want 0", got)
	}
}

func TestWorkingSecondsClosedDay(t *testing.T) {
	c := New(time.UTC, false)
	// Saturday is closed; an interval inside it counts nothing.
	got := c.WorkingSeconds(ts(t, "2025-01-04T09:00:00Z"), ts(t, "2025-01-04T17:00:00Z"), weekdaysOnly())
	if got != 0 {
		t.Errorf("WorkingSeconds = %v, want 0", got)
	}
}

func TestWorkingSecondsBoundaryInstants(t *testing.T) {
	c := New(time.UTC, false)
	wk := mondayOnly(9, 18)

	// Window end is exclusive: only the second before 18:00 counts.
	got := c.WorkingSeconds(ts(t, "2025-01-06T17:59:59Z"), ts(t, "2025-01-06T18:00:01Z"), wk)
	if got != 1 {
		t.Errorf("across end boundary = %v, want 1", got)
	}

	// Window start is inclusive.
	got = c.WorkingSeconds(ts(t, "2025-01-06T08:59:59Z"), ts(t, "2025-01-06T09:00:01Z"), wk)
	if got != 1 {
		t.Errorf("across start boundary = %v, want 1", got)
	}

	// Entirely after close.
	got = c.WorkingSeconds(ts(t, "2025-01-06T18:00:00Z"), ts(t, "2025-01-06T19:00:00Z"), wk)
	if got != 0 {
		t.Errorf("after close = %v, want 0", got)
	}
}

func TestWorkingSecondsMultiWeek(t *testing.T) {
	c := New(time.UTC, false)
	// Monday 09:00 to the following Monday 09:00 over a Mon-Fri week:
	// five full nine-hour days.
	got := c.WorkingSeconds(ts(t, "2025-01-06T09:00:00Z"), ts(t, "2025-01-13T09:00:00Z"), weekdaysOnly())
	if got != 5*9*3600 {
		t.Errorf("WorkingSeconds = %v, want %v", got, 5*9*3600)
	}
}

func TestWorkingSecondsSplitAdditivity(t *testing.T) {
	c := New(time.UTC, false)
	wk := weekdaysOnly()

	triples := []struct {
		name       string
		t0, tm, t1 string
	}{
		{"split inside one day", "2025-01-06T08:00:00Z", "2025-01-06T12:00:00Z", "2025-01-08T10:00:00Z"},
		{"split on a closed day", "2025-01-06T08:00:00Z", "2025-01-11T15:00:00Z", "2025-01-13T10:00:00Z"},
		{"split at a window edge", "2025-01-06T10:00:00Z", "2025-01-06T18:00:00Z", "2025-01-07T10:00:00Z"},
	}

	for _, tt := range triples {
		t.Run(tt.name, func(t *testing.T) {
			t0, tm, t1 := ts(t, tt.t0), ts(t, tt.tm), ts(t, tt.t1)
			whole := c.WorkingSeconds(t0, t1, wk)
			left := c.WorkingSeconds(t0, tm, wk)
			right := c.WorkingSeconds(tm, t1, wk)

			if left+right != whole {
				t.Errorf("split %v + %v != whole %v", left, right, whole)
			}
			if left > whole {
				t.Errorf("prefix %v exceeds whole %v", left, whole)
			}
			if whole < 0 || whole > t1.Sub(t0).Seconds() {
				t.Errorf("whole %v outside [0, %v]", whole, t1.Sub(t0).Seconds())
			}
		})
	}
}

func TestStrictSameDayFastPath(t *testing.T) {
	compat := New(time.UTC, true)

	tests := []struct {
		name string
		t0   string
		t1   string
		week schedule.Week
		want float64
	}{
		{"fully inside window", "2025-01-06T10:00:00Z", "2025-01-06T10:05:00Z", mondayOnly(9, 18), 300},
		{"touches both edges", "2025-01-06T09:00:00Z", "2025-01-06T18:00:00Z", mondayOnly(9, 18), 9 * 3600},
		{"crosses window start", "2025-01-06T08:30:00Z", "2025-01-06T09:30:00Z", mondayOnly(9, 18), 0},
		{"crosses window end", "2025-01-06T17:30:00Z", "2025-01-06T18:30:00Z", mondayOnly(9, 18), 0},
		{"spans civil days", "2025-01-06T10:00:00Z", "2025-01-07T10:00:00Z", weekdaysOnly(), 0},
		{"closed day", "2025-01-04T10:00:00Z", "2025-01-04T11:00:00Z", weekdaysOnly(), 0},
		{"overnight window never contains", "2025-01-06T23:00:00Z", "2025-01-06T23:30:00Z", mondayOnly(22, 6), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := compat.WorkingSeconds(ts(t, tt.t0), ts(t, tt.t1), tt.week)
			if got != tt.want {
				t.Errorf("WorkingSeconds = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWorkingSecondsReferenceZone(t *testing.T) {
	// Calendar kept in UTC+05:30. Instants arrive as UTC and must be
	// evaluated against the calendar's wall clock, including the weekday
	// flip around the zone's midnight.
	ist := time.FixedZone("UTC+0530", 5*3600+30*60)
	c := New(ist, false)
	wk := mondayOnly(9, 18)

	// Monday 05:00Z is Monday 10:30 on the calendar's clock.
	got := c.WorkingSeconds(ts(t, "2025-01-06T05:00:00Z"), ts(t, "2025-01-06T06:00:00Z"), wk)
	if got != 3600 {
		t.Errorf("inside window = %v, want 3600", got)
	}

	// Monday 13:00Z is Monday 18:30 local, past close.
	got = c.WorkingSeconds(ts(t, "2025-01-06T13:00:00Z"), ts(t, "2025-01-06T14:00:00Z"), wk)
	if got != 0 {
		t.Errorf("after close = %v, want 0", got)
	}

	// Sunday 22:00Z is already Monday 03:30 local; the window opens at
	// Monday 09:00 local, which is 03:30Z.
	got = c.WorkingSeconds(ts(t, "2025-01-05T22:00:00Z"), ts(t, "2025-01-06T04:30:00Z"), wk)
	if got != 3600 {
		t.Errorf("weekday flip = %v, want 3600", got)
	}
}

func TestWorkingSecondsSubSecondPrecision(t *testing.T) {
	c := New(time.UTC, false)
	t0 := ts(t, "2025-01-06T10:00:00Z")
	t1 := t0.Add(2500 * time.Millisecond)
	got := c.WorkingSeconds(t0, t1, mondayOnly(9, 18))
	if got != 2.5 {
		t.Errorf("WorkingSeconds = %v, want 2.5", got)
	}
}
