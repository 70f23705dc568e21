package timeparse

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// RelativeDay is a day reference expressed relative to a base date.
type RelativeDay int

const (
	NoRelativeDay RelativeDay = iota
	Today
	Tomorrow
	NextWeek
)

const weekdayNames = `(mon(?:day)?|tues?(?:day)?|wed(?:nesday)?|thur?s?(?:day)?|fri(?:day)?|sat(?:urday)?|sun(?:day)?)s?\b`

var (
	weekdayPattern  = regexp.MustCompile(`(?i)\b` + weekdayNames)
	targetPattern   = regexp.MustCompile(`(?i)\b(?:to|on|until|till)\s+(?:(?:this|next|the)\s+)?` + weekdayNames)
	relativePattern = regexp.MustCompile(`(?i)\b(today|tonight|tomorrow|next\s+week)\b`)
	fillerPattern   = regexp.MustCompile(`(?i)\b(at|on|from|starting|this|by|around)\b`)
	clockPattern    = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?\s*(a\.?m\.?|p\.?m\.?)?$`)
	clock24Pattern  = regexp.MustCompile(`^\d{2}:\d{2}$`)
	durationPattern = regexp.MustCompile(`^(?:for\s+)?(?:about\s+)?(\d+(?:\.\d+)?|an?|one|two|three|half\s+an?)\s*(hours?|hrs?|h|minutes?|mins?|m)(?:\s+long)?$`)
)

var absoluteLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// FindWeekday returns the first weekday named in text.
func FindWeekday(text string) (time.Weekday, bool) {
	m := weekdayPattern.FindStringSubmatch(text)
	if m == nil {
		return time.Sunday, false
	}
	return weekdayFromName(m[1])
}

// FindWeekdays returns every weekday named in text, in order.
func FindWeekdays(text string) []time.Weekday {
	var out []time.Weekday
	for _, m := range weekdayPattern.FindAllStringSubmatch(text, -1) {
		if wd, ok := weekdayFromName(m[1]); ok {
			out = append(out, wd)
		}
	}
	return out
}

// TargetWeekday picks the weekday a request points at: the last one
// introduced by "to", "on" or "until", else the last one named.
// "move my Monday standup to Wednesday" targets Wednesday.
func TargetWeekday(text string) (time.Weekday, bool) {
	if ms := targetPattern.FindAllStringSubmatch(text, -1); len(ms) > 0 {
		return weekdayFromName(ms[len(ms)-1][1])
	}
	named := FindWeekdays(text)
	if len(named) == 0 {
		return time.Sunday, false
	}
	return named[len(named)-1], true
}

func weekdayFromName(name string) (time.Weekday, bool) {
	name = strings.ToLower(name)
	switch {
	case strings.HasPrefix(name, "mon"):
		return time.Monday, true
	case strings.HasPrefix(name, "tue"):
		return time.Tuesday, true
	case strings.HasPrefix(name, "wed"):
		return time.Wednesday, true
	case strings.HasPrefix(name, "thu"):
		return time.Thursday, true
	case strings.HasPrefix(name, "fri"):
		return time.Friday, true
	case strings.HasPrefix(name, "sat"):
		return time.Saturday, true
	case strings.HasPrefix(name, "sun"):
		return time.Sunday, true
	default:
		return time.Sunday, false
	}
}

// FindRelativeDay reports the first relative day phrase in text.
func FindRelativeDay(text string) RelativeDay {
	m := relativePattern.FindStringSubmatch(text)
	if m == nil {
		return NoRelativeDay
	}
	switch strings.Join(strings.Fields(strings.ToLower(m[1])), " ") {
	case "today", "tonight":
		return Today
	case "tomorrow":
		return Tomorrow
	case "next week":
		return NextWeek
	default:
		return NoRelativeDay
	}
}

// NextWeekday returns midnight of the next date after now falling on wd.
// A weekday equal to today's rolls over to next week.
func NextWeekday(now time.Time, wd time.Weekday) time.Time {
	days := (int(wd) - int(now.Weekday()) + 7) % 7
	if days == 0 {
		days = 7
	}
	return StartOfDay(now).AddDate(0, 0, days)
}

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func withClock(day time.Time, hour, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
}

func onDate(day, clock time.Time) time.Time {
	return withClock(day, clock.Hour(), clock.Minute())
}

// parseAbsolute parses values that carry a date component. dateOnly is set
// when no time-of-day was present.
func parseAbsolute(raw string, loc *time.Location) (t time.Time, dateOnly bool, ok bool) {
	raw = strings.TrimSpace(raw)
	if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return parsed.In(loc), false, true
	}
	for _, layout := range absoluteLayouts {
		if parsed, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return parsed, false, true
		}
	}
	if parsed, err := time.ParseInLocation("2006-01-02", raw, loc); err == nil {
		return parsed, true, true
	}
	return time.Time{}, false, false
}

type clock struct {
	hour   int
	minute int
}

// fragment is a human time phrase such as "5pm", "friday at 3" or "tomorrow".
type fragment struct {
	weekday    time.Weekday
	hasWeekday bool
	relative   RelativeDay
	clock      clock
	hasClock   bool
}

func (f fragment) hasDate() bool {
	return f.hasWeekday || f.relative != NoRelativeDay
}

func parseFragment(raw string) (fragment, bool) {
	var f fragment
	text := strings.ToLower(strings.TrimSpace(raw))
	if text == "" {
		return f, false
	}
	if m := weekdayPattern.FindStringSubmatch(text); m != nil {
		f.weekday, f.hasWeekday = weekdayFromName(m[1])
		text = weekdayPattern.ReplaceAllString(text, " ")
	}
	if rel := FindRelativeDay(text); rel != NoRelativeDay {
		f.relative = rel
		text = relativePattern.ReplaceAllString(text, " ")
	}
	text = fillerPattern.ReplaceAllString(text, " ")
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return f, f.hasDate()
	}
	c, ok := parseClock(text)
	if !ok {
		return f, false
	}
	f.clock = c
	f.hasClock = true
	return f, true
}

// parseClock parses "5pm", "5:30 p.m.", "17:00", "noon" and "midnight".
// Without a meridiem an hour below 12 is read as PM unless the two-digit
// HH:MM form was used.
func parseClock(text string) (clock, bool) {
	text = strings.ToLower(strings.TrimSpace(text))
	switch text {
	case "noon", "midday":
		return clock{hour: 12}, true
	case "midnight":
		return clock{}, true
	}
	m := clockPattern.FindStringSubmatch(text)
	if m == nil {
		return clock{}, false
	}
	hour, err := strconv.Atoi(m[1])
	if err != nil {
		return clock{}, false
	}
	minute := 0
	if m[2] != "" {
		if minute, err = strconv.Atoi(m[2]); err != nil {
			return clock{}, false
		}
	}
	if minute > 59 || hour > 23 {
		return clock{}, false
	}
	meridiem := strings.ReplaceAll(m[3], ".", "")
	switch meridiem {
	case "am":
		if hour < 1 || hour > 12 {
			return clock{}, false
		}
		if hour == 12 {
			hour = 0
		}
	case "pm":
		if hour < 1 || hour > 12 {
			return clock{}, false
		}
		if hour < 12 {
			hour += 12
		}
	default:
		if hour >= 1 && hour < 12 && !clock24Pattern.MatchString(text) {
			hour += 12
		}
	}
	return clock{hour: hour, minute: minute}, true
}

// parseDuration parses relative lengths like "for 1 hour" or "30 minutes".
func parseDuration(raw string) (time.Duration, bool) {
	text := strings.Join(strings.Fields(strings.ToLower(raw)), " ")
	m := durationPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	var amount float64
	switch {
	case m[1] == "a" || m[1] == "an" || m[1] == "one":
		amount = 1
	case m[1] == "two":
		amount = 2
	case m[1] == "three":
		amount = 3
	case strings.HasPrefix(m[1], "half"):
		amount = 0.5
	default:
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, false
		}
		amount = v
	}
	unit := time.Minute
	if strings.HasPrefix(m[2], "h") {
		unit = time.Hour
	}
	d := time.Duration(amount * float64(unit))
	if d <= 0 {
		return 0, false
	}
	return d, true
}
