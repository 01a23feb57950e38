// Package workhours computes how many seconds of a timestamp interval fall
// inside a weekly working-hours calendar. It is the arithmetic core of the
// response-time engine: every response-time metric is a working-seconds
// measurement between two message instants.
package workhours

import (
	"time"

	"github.com/meridian/chat-insights/internal/schedule"
)

// Calculator evaluates interval intersections against weekly calendars.
// All weekday and time-of-day decisions use Loc, the calendar's reference
// zone, so a single calculation never mixes zones.
type Calculator struct {
	Loc *time.Location

	// StrictSameDay switches on the legacy fast path: a same-day interval
	// counts in full when it sits entirely inside the day's window and as
	// zero otherwise, and any interval spanning civil days counts as zero.
	StrictSameDay bool
}

// New returns a Calculator for the given reference zone. A nil location
// means UTC.
func New(loc *time.Location, strictSameDay bool) *Calculator {
	if loc == nil {
		loc = time.UTC
	}
	return &Calculator{Loc: loc, StrictSameDay: strictSameDay}
}

// WorkingSeconds returns the number of seconds in [t0, t1) that intersect
// the week's working windows.
//
// Windows are half-open on the right, so the instant at a window's end is
// excluded and consecutive days never double-count midnight. An overnight
// window (end before start) wraps into the following calendar day. Closed
// days contribute nothing. The result is non-negative and never exceeds
// t1 minus t0.
func (c *Calculator) WorkingSeconds(t0, t1 time.Time, week schedule.Week) float64 {
	if !t0.Before(t1) {
		return 0
	}
	t0 = t0.In(c.Loc)
	t1 = t1.In(c.Loc)

	if c.StrictSameDay {
		return c.sameDayContained(t0, t1, week)
	}

	var total time.Duration
	day := midnight(t0, c.Loc)
	last := midnight(t1, c.Loc)
	for !day.After(last) {
		for _, seg := range c.daySegments(day, week) {
			total += overlap(seg.from, seg.to, t0, t1)
		}
		day = day.AddDate(0, 0, 1)
	}
	return total.Seconds()
}

// sameDayContained reproduces the legacy fast-path semantics: full span for
// a same-day interval wholly inside the window, zero for everything else.
func (c *Calculator) sameDayContained(t0, t1 time.Time, week schedule.Week) float64 {
	y0, m0, d0 := t0.Date()
	y1, m1, d1 := t1.Date()
	if y0 != y1 || m0 != m1 || d0 != d1 {
		return 0
	}
	w := week[schedule.FromTime(t0.Weekday())]
	if w.Closed() {
		return 0
	}
	tod0 := secondsOfDay(t0)
	tod1 := secondsOfDay(t1)
	if tod0 >= float64(w.Start.Seconds()) && tod1 <= float64(w.End.Seconds()) {
		return t1.Sub(t0).Seconds()
	}
	return 0
}

type segment struct {
	from, to time.Time
}

// daySegments returns the working intervals that touch the calendar day
// starting at the given midnight: the day's own window (clipped at the next
// midnight when it wraps) plus the tail spilling over from the previous
// day's overnight window. Overlapping pieces are merged so no instant is
// counted twice.
func (c *Calculator) daySegments(day time.Time, week schedule.Week) []segment {
	next := day.AddDate(0, 0, 1)
	segs := make([]segment, 0, 2)

	prev := week[schedule.FromTime(day.AddDate(0, 0, -1).Weekday())]
	if prev.Overnight() {
		segs = append(segs, segment{from: day, to: clockOn(day, prev.End, c.Loc)})
	}

	own := week[schedule.FromTime(day.Weekday())]
	if !own.Closed() {
		start := clockOn(day, own.Start, c.Loc)
		if own.Overnight() {
			segs = append(segs, segment{from: start, to: next})
		} else {
			segs = append(segs, segment{from: start, to: clockOn(day, own.End, c.Loc)})
		}
	}

	if len(segs) == 2 {
		if segs[1].from.Before(segs[0].from) {
			segs[0], segs[1] = segs[1], segs[0]
		}
		if !segs[1].from.After(segs[0].to) {
			if segs[1].to.After(segs[0].to) {
				segs[0].to = segs[1].to
			}
			segs = segs[:1]
		}
	}
	return segs
}

func overlap(aFrom, aTo, bFrom, bTo time.Time) time.Duration {
	lo := aFrom
	if bFrom.After(lo) {
		lo = bFrom
	}
	hi := aTo
	if bTo.Before(hi) {
		hi = bTo
	}
	if !hi.After(lo) {
		return 0
	}
	return hi.Sub(lo)
}

func midnight(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// clockOn places a wall-clock value on a calendar day.
func clockOn(day time.Time, c schedule.Clock, loc *time.Location) time.Time {
	s := c.Seconds()
	return time.Date(day.Year(), day.Month(), day.Day(), s/3600, s/60%60, s%60, 0, loc)
}

func secondsOfDay(t time.Time) float64 {
	return float64(t.Hour()*3600+t.Minute()*60+t.Second()) + float64(t.Nanosecond())/1e9
}
