package calendar

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

const maxOccurrencesPerEvent = 5000

// ParseRule parses one recurrence line ("RRULE:FREQ=WEEKLY;BYDAY=MO" or the
// bare "FREQ=..." form).
func ParseRule(line string) (*rrule.ROption, error) {
	body, ok := ruleBody(line)
	if !ok {
		return nil, fmt.Errorf("not an RRULE line: %q", line)
	}
	opt, err := rrule.StrToROption(body)
	if err != nil {
		return nil, fmt.Errorf("parse rrule %q: %w", body, err)
	}
	return opt, nil
}

func ruleBody(line string) (string, bool) {
	line = strings.TrimSpace(line)
	upper := strings.ToUpper(line)
	switch {
	case strings.HasPrefix(upper, "RRULE:"):
		return strings.TrimSpace(line[len("RRULE:"):]), true
	case strings.HasPrefix(upper, "FREQ="):
		return line, true
	default:
		return "", false
	}
}

// ValidRecurrence keeps the lines that parse as RRULEs and drops the rest.
func ValidRecurrence(lines []string) []string {
	var out []string
	for _, line := range lines {
		if _, err := ParseRule(line); err != nil {
			log.Printf("dropping recurrence line %q: %v", line, err)
			continue
		}
		out = append(out, strings.TrimSpace(line))
	}
	return out
}

// Occurrences expands ev into concrete instances overlapping [from, to].
// Non-recurring events are returned as-is when they overlap.
func Occurrences(ev Event, from, to time.Time) []Event {
	var rules []*rrule.RRule
	var exdates []time.Time
	for _, line := range ev.Recurrence {
		if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(line)), "EXDATE") {
			exdates = append(exdates, parseExDates(line, ev.Start.Location())...)
			continue
		}
		opt, err := ParseRule(line)
		if err != nil {
			log.Printf("calendar: skip recurrence of %s: %v", ev.ID, err)
			continue
		}
		opt.Dtstart = ev.Start
		r, err := rrule.NewRRule(*opt)
		if err != nil {
			log.Printf("calendar: skip recurrence of %s: %v", ev.ID, err)
			continue
		}
		rules = append(rules, r)
	}

	if len(rules) == 0 {
		if Overlaps(ev.Start, ev.End, from, to) {
			return []Event{ev}
		}
		return nil
	}

	var set rrule.Set
	for _, r := range rules {
		set.RRule(r)
	}
	for _, ex := range exdates {
		set.ExDate(ex)
	}

	dur := ev.End.Sub(ev.Start)
	loc := ev.Start.Location()
	starts := set.Between(from.Add(-dur).In(loc), to.In(loc), true)
	if len(starts) > maxOccurrencesPerEvent {
		log.Printf("calendar: truncated occurrences of %s at %d", ev.ID, maxOccurrencesPerEvent)
		starts = starts[:maxOccurrencesPerEvent]
	}

	out := make([]Event, 0, len(starts))
	for _, start := range starts {
		occ := ev
		occ.Start = start
		occ.End = start.Add(dur)
		if Overlaps(occ.Start, occ.End, from, to) {
			out = append(out, occ)
		}
	}
	return out
}

// Overlaps reports whether [aStart, aEnd] and [bStart, bEnd] intersect,
// boundaries included.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aStart.After(bEnd) && !aEnd.Before(bStart)
}

func parseExDates(line string, loc *time.Location) []time.Time {
	_, value, ok := strings.Cut(line, ":")
	if !ok {
		return nil
	}
	var out []time.Time
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		var (
			t   time.Time
			err error
		)
		switch {
		case strings.HasSuffix(part, "Z"):
			t, err = time.Parse("20060102T150405Z", part)
		case strings.Contains(part, "T"):
			t, err = time.ParseInLocation("20060102T150405", part, loc)
		default:
			t, err = time.ParseInLocation("20060102", part, loc)
		}
		if err == nil {
			out = append(out, t)
		}
	}
	return out
}
