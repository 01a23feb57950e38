// Package schedule resolves the effective weekly working-hours calendar for
// a principal (user, team, org) under the priority order self > team > org >
// default, and defines the week/window types the interval calculator consumes.
package schedule

import (
	"fmt"
	"strings"
	"time"
)

// Weekday numbers days Monday=0 through Sunday=6, the calendar order the
// weekly schedule array is indexed by.
type Weekday int

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

var weekdayNames = [7]string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}

var weekdayByName = map[string]Weekday{
	"mon": Monday, "monday": Monday,
	"tue": Tuesday, "tuesday": Tuesday,
	"wed": Wednesday, "wednesday": Wednesday,
	"thu": Thursday, "thursday": Thursday,
	"fri": Friday, "friday": Friday,
	"sat": Saturday, "saturday": Saturday,
	"sun": Sunday, "sunday": Sunday,
}

func (d Weekday) String() string {
	if d < Monday || d > Sunday {
		return fmt.Sprintf("weekday(%d)", int(d))
	}
	return weekdayNames[d]
}

// ParseWeekday maps a schedule-store day name ("mon".."sun", full names
// accepted) to a Weekday.
func ParseWeekday(s string) (Weekday, error) {
	d, ok := weekdayByName[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("unknown weekday %q", s)
	}
	return d, nil
}

// FromTime converts the standard library's Sunday-based weekday to the
// Monday-based numbering used here. The mapping is tabulated explicitly so
// the two encodings can never drift apart silently.
func FromTime(d time.Weekday) Weekday {
	switch d {
	case time.Monday:
		return Monday
	case time.Tuesday:
		return Tuesday
	case time.Wednesday:
		return Wednesday
	case time.Thursday:
		return Thursday
	case time.Friday:
		return Friday
	case time.Saturday:
		return Saturday
	case time.Sunday:
		return Sunday
	}
	return Monday
}

// Clock is a wall-clock time of day in seconds since midnight.
type Clock int

// ParseClock parses a schedule-store time literal in HH:MM:SS form.
func ParseClock(s string) (Clock, error) {
	var h, m, sec int
	s = strings.TrimSpace(s)
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec); err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 || sec < 0 || sec > 59 {
		return 0, fmt.Errorf("invalid time %q: out of range", s)
	}
	return Clock(h*3600 + m*60 + sec), nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", int(c)/3600, int(c)/60%60, int(c)%60)
}

// Seconds returns the clock value as seconds since midnight.
func (c Clock) Seconds() int { return int(c) }

// Window is a working interval for one weekday, half-open on the right:
// [Start, End). When End < Start the window wraps past midnight into the
// next calendar day. A zero window (Start == End) is a closed day.
type Window struct {
	Start Clock
	End   Clock
}

// Closed reports whether the window contributes no working time at all.
// Both 00:00:00-00:00:00 rows and absent weekdays produce a zero window.
func (w Window) Closed() bool { return w.Start == w.End }

// Overnight reports whether the window wraps into the next calendar day.
func (w Window) Overnight() bool { return !w.Closed() && w.End < w.Start }

func (w Window) String() string {
	if w.Closed() {
		return "closed"
	}
	return fmt.Sprintf("%s-%s", w.Start, w.End)
}

// Week is an effective weekly schedule: one window per weekday, indexed
// Monday..Sunday. Closed windows mark days off.
type Week [7]Window

// Open reports whether the given weekday has any working window.
func (wk Week) Open(d Weekday) bool {
	return d >= Monday && d <= Sunday && !wk[d].Closed()
}

// DefaultWeek is the built-in fallback calendar used when no schedule rows
// exist for a principal: 09:00-18:00 every day of the week.
func DefaultWeek() Week {
	var wk Week
	for d := range wk {
		wk[d] = Window{Start: 9 * 3600, End: 18 * 3600}
	}
	return wk
}
