package dialogue

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/ent0n29/calchat/internal/calendar"
)

var (
	confirmPattern = regexp.MustCompile(`(?i)^(yes|y|confirm)$`)
	cancelPattern  = regexp.MustCompile(`(?i)^(?:cancel|cancel (?:it|that)|stop|abort|never\s*mind|forget (?:it|that)|no,? thanks?)[.!]*$`)
)

func isConfirmation(utterance string) bool {
	return confirmPattern.MatchString(strings.TrimSpace(utterance))
}

// isCancellation matches a bare request to drop the pending action. Longer
// messages such as "cancel my dentist appointment" do not match.
func isCancellation(utterance string) bool {
	return cancelPattern.MatchString(strings.Join(strings.Fields(utterance), " "))
}

// render builds the confirmation block shown before a mutation runs.
func render(p *Pending, loc *time.Location) string {
	var b strings.Builder
	line := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "**%s:** %s\n", label, value)
		}
	}

	switch a := p.Action.(type) {
	case *CreateAction:
		b.WriteString("### New event\n\n")
		line("Title", a.Title)
		line("When", formatRange(a.Start.Resolved, a.End.Resolved, loc))
		line("Location", a.Location)
		line("Description", a.Description)
		line("Repeats", describeRecurrence(a.Recurrence))
	case *UpdateAction:
		b.WriteString("### Update event\n\n")
		title := a.Existing.Summary
		if a.Title != "" && a.Title != title {
			title = a.Existing.Summary + " → " + a.Title
		}
		line("Title", title)
		line("When", formatRange(a.Start.Resolved, a.End.Resolved, loc))
		line("Location", firstNonEmpty(a.Location, a.Existing.Location))
		line("Description", firstNonEmpty(a.Description, a.Existing.Description))
	case *DeleteAction:
		b.WriteString("### Delete event\n\n")
		line("Title", a.Existing.Summary)
		line("When", formatEventRange(a.Existing, loc))
		line("Location", a.Existing.Location)
		line("Description", a.Existing.Description)
	}
	b.WriteString("\nReply \"yes\" to confirm.")
	return b.String()
}

func formatRange(start, end time.Time, loc *time.Location) string {
	if start.IsZero() {
		return ""
	}
	start, end = start.In(loc), end.In(loc)
	if sameDay(start, end) {
		return start.Format("Mon Jan 2, 3:04 PM") + " – " + end.Format("3:04 PM")
	}
	return start.Format("Mon Jan 2, 3:04 PM") + " – " + end.Format("Mon Jan 2, 3:04 PM")
}

func formatEventRange(ev calendar.Event, loc *time.Location) string {
	if ev.AllDay {
		return ev.Start.In(loc).Format("Mon Jan 2") + ", all day"
	}
	return formatRange(ev.Start, ev.End, loc)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var weekdayNames = [...]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// describeRecurrence renders the first rule in plain words, e.g. "every
// weekday until 06/30/2025". Unparseable rules render as nothing.
func describeRecurrence(lines []string) string {
	for _, line := range lines {
		opt, err := calendar.ParseRule(line)
		if err != nil {
			continue
		}
		text := describeRule(opt)
		if !opt.Until.IsZero() {
			text += " until " + opt.Until.Format("01/02/2006")
		}
		return text
	}
	return ""
}

func describeRule(opt *rrule.ROption) string {
	every := func(unit, plural string) string {
		if opt.Interval > 1 {
			return fmt.Sprintf("every %d %s", opt.Interval, plural)
		}
		return unit
	}
	switch opt.Freq {
	case rrule.DAILY:
		return every("daily", "days")
	case rrule.WEEKLY:
		if len(opt.Byweekday) == 0 {
			return every("weekly", "weeks")
		}
		days := make(map[int]bool, len(opt.Byweekday))
		for i := range opt.Byweekday {
			days[opt.Byweekday[i].Day()] = true
		}
		switch {
		case len(days) == 7:
			return "every day"
		case len(days) == 5 && !days[5] && !days[6]:
			return "every weekday"
		case len(days) == 2 && days[5] && days[6]:
			return "every weekend"
		}
		var names []string
		for d := 0; d < 7; d++ {
			if days[d] {
				names = append(names, weekdayNames[d])
			}
		}
		return "every " + joinWords(names)
	case rrule.MONTHLY:
		return every("monthly", "months")
	case rrule.YEARLY:
		return every("yearly", "years")
	default:
		return "repeating"
	}
}

func joinWords(words []string) string {
	switch len(words) {
	case 0:
		return ""
	case 1:
		return words[0]
	default:
		return strings.Join(words[:len(words)-1], ", ") + " and " + words[len(words)-1]
	}
}
