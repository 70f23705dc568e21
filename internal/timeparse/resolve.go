// Package timeparse turns loosely formatted start and end values into
// concrete event times.
package timeparse

import (
	"slices"
	"strings"
	"time"
)

const (
	FieldStart = "start"
	FieldEnd   = "end"
)

// Span is a reference interval: the existing event when updating, or the
// default placement of a new event.
type Span struct {
	Start time.Time
	End   time.Time
}

func (s Span) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

type Request struct {
	Reference Span
	RawStart  string
	RawEnd    string
	// Day, when set, is the date a clock-only start lands on instead of the
	// reference date.
	Day       time.Time
	Utterance string
	Now       time.Time
	Location  *time.Location
}

type Result struct {
	Start        time.Time
	End          time.Time
	StartChanged bool
	EndChanged   bool
	// StartHasClock is false when the start came from a date or weekday
	// alone and its time of day was taken from the reference.
	StartHasClock bool
	// Invalid lists FieldStart and/or FieldEnd when a value could not be
	// resolved or the range is inverted.
	Invalid []string
}

func (r Result) Valid() bool {
	return len(r.Invalid) == 0
}

func (r Result) IsInvalid(field string) bool {
	for _, f := range r.Invalid {
		if f == field {
			return true
		}
	}
	return false
}

// Resolve applies the resolution rules in order: absolute values with
// weekday correction, bare weekdays, relative days, clock-only values, end
// durations and finally the reference duration. It never performs I/O.
func Resolve(req Request) Result {
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	loc := req.Location
	if loc == nil {
		loc = now.Location()
	}
	now = now.In(loc)
	ref := Span{Start: req.Reference.Start.In(loc), End: req.Reference.End.In(loc)}

	res := Result{Start: ref.Start, End: ref.End}
	var shift time.Duration

	rawStart := strings.TrimSpace(req.RawStart)
	switch {
	case rawStart != "":
		if t, dateOnly, ok := parseAbsolute(rawStart, loc); ok {
			if dateOnly {
				t = onDate(t, ref.Start)
			}
			if named := FindWeekdays(req.Utterance); len(named) > 0 && !slices.Contains(named, t.Weekday()) {
				wd, _ := TargetWeekday(req.Utterance)
				corrected := onDate(NextWeekday(now, wd), t)
				shift = corrected.Sub(t)
				t = corrected
			}
			res.Start = t
			res.StartChanged = true
			res.StartHasClock = !dateOnly
		} else if f, ok := parseFragment(rawStart); ok {
			day := ref.Start
			switch {
			case f.hasDate():
				day = dayFor(ref.Start, now, f.weekday, f.hasWeekday, f.relative)
			case !req.Day.IsZero():
				day = req.Day.In(loc)
			}
			if f.hasClock {
				res.Start = withClock(day, f.clock.hour, f.clock.minute)
				res.StartHasClock = true
			} else {
				res.Start = day
			}
			res.StartChanged = true
		} else {
			res.Invalid = append(res.Invalid, FieldStart)
		}
	default:
		wd, hasWeekday := TargetWeekday(req.Utterance)
		rel := FindRelativeDay(req.Utterance)
		if hasWeekday || rel != NoRelativeDay {
			res.Start = dayFor(ref.Start, now, wd, hasWeekday, rel)
			res.StartChanged = true
		}
	}

	rawEnd := strings.TrimSpace(req.RawEnd)
	if rawEnd != "" {
		if d, ok := parseDuration(rawEnd); ok {
			res.End = res.Start.Add(d)
			res.EndChanged = true
		} else if t, dateOnly, ok := parseAbsolute(rawEnd, loc); ok {
			if dateOnly {
				t = onDate(t, ref.End)
			}
			res.End = t.Add(shift)
			res.EndChanged = true
		} else if f, ok := parseFragment(rawEnd); ok && f.hasClock {
			day := res.Start
			if f.hasDate() {
				day = dayFor(res.Start, now, f.weekday, f.hasWeekday, f.relative)
			}
			res.End = withClock(day, f.clock.hour, f.clock.minute)
			res.EndChanged = true
		} else {
			res.Invalid = append(res.Invalid, FieldEnd)
		}
	}
	if !res.EndChanged {
		res.End = res.Start.Add(ref.Duration())
	}

	if !res.IsInvalid(FieldEnd) && !res.End.After(res.Start) {
		res.Invalid = append(res.Invalid, FieldEnd)
	}
	return res
}

// dayFor places the clock of base onto the day selected by a weekday or
// relative day reference.
func dayFor(base, now time.Time, wd time.Weekday, hasWeekday bool, rel RelativeDay) time.Time {
	switch {
	case hasWeekday:
		return onDate(NextWeekday(now, wd), base)
	case rel == Today:
		return onDate(now, base)
	case rel == Tomorrow:
		return base.AddDate(0, 0, 1)
	case rel == NextWeek:
		return base.AddDate(0, 0, 7)
	default:
		return base
	}
}
