package dialogue

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/ent0n29/calchat/internal/calendar"
	"github.com/ent0n29/calchat/internal/timeparse"
)

const msgListFailed = "Failed to fetch your events. Please try again."

// window is the span a listing covers.
type window struct {
	Start   time.Time
	End     time.Time
	Heading string
	Empty   string
}

// listWindow picks the requested span. The default is today through the
// coming Saturday.
func listWindow(utterance string, now time.Time) window {
	today := timeparse.StartOfDay(now)
	endOf := func(day time.Time) time.Time { return day.AddDate(0, 0, 1).Add(-time.Second) }

	switch timeparse.FindRelativeDay(utterance) {
	case timeparse.Today:
		return window{Start: today, End: endOf(today), Heading: "EVENTS TODAY", Empty: "You have no events today."}
	case timeparse.Tomorrow:
		day := today.AddDate(0, 0, 1)
		return window{Start: day, End: endOf(day), Heading: "EVENTS TOMORROW", Empty: "You have no events tomorrow."}
	case timeparse.NextWeek:
		sunday := today.AddDate(0, 0, 7-int(today.Weekday()))
		return window{Start: sunday, End: endOf(sunday.AddDate(0, 0, 6)), Heading: "EVENTS NEXT WEEK", Empty: "You have no events next week."}
	}

	if wd, ok := timeparse.FindWeekday(utterance); ok {
		day := today.AddDate(0, 0, (int(wd)-int(today.Weekday())+7)%7)
		name := wd.String()
		return window{
			Start:   day,
			End:     endOf(day),
			Heading: "EVENTS ON " + strings.ToUpper(name),
			Empty:   "You have no events on " + name + ".",
		}
	}

	saturday := today.AddDate(0, 0, int(time.Saturday-today.Weekday()))
	return window{Start: today, End: endOf(saturday), Heading: "EVENTS THIS WEEK", Empty: "You have no events this week."}
}

func (e *Engine) list(ctx context.Context, utterance string) Response {
	now := e.now().In(e.location)
	w := listWindow(utterance, now)

	var events []calendar.Event
	err := e.calendarCall(ctx, "list", func(ctx context.Context) error {
		var err error
		events, err = e.calendar.List(ctx)
		return err
	})
	if err != nil {
		log.Printf("list events failed: %v", err)
		return Response{Message: msgListFailed, Type: KindList}
	}

	var inWindow []calendar.Event
	for _, ev := range events {
		for _, occ := range calendar.Occurrences(ev, w.Start.Add(-24*time.Hour), w.End) {
			occ.Start, occ.End = occ.Start.In(e.location), occ.End.In(e.location)
			start, end := occ.Start, occ.End
			if occ.AllDay {
				start = timeparse.StartOfDay(start)
				end = timeparse.StartOfDay(end)
				if !end.After(start) {
					end = start.AddDate(0, 0, 1)
				}
				end = end.Add(-time.Second)
			}
			if calendar.Overlaps(start, end, w.Start, w.End) {
				inWindow = append(inWindow, occ)
			}
		}
	}
	if len(inWindow) == 0 {
		return Response{Message: w.Empty, Type: KindList}
	}
	return Response{Message: renderList(w, inWindow), Type: KindList}
}

// renderList groups events by day:
//
//	## EVENTS THIS WEEK
//	### 2 MAY   FRI
//	- *12:00 PM - 1:00 PM*   Lunch with Sam
func renderList(w window, events []calendar.Event) string {
	sort.SliceStable(events, func(i, j int) bool {
		di, dj := timeparse.StartOfDay(events[i].Start), timeparse.StartOfDay(events[j].Start)
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		if events[i].AllDay != events[j].AllDay {
			return events[i].AllDay
		}
		return events[i].Start.Before(events[j].Start)
	})

	var b strings.Builder
	b.WriteString("## " + w.Heading + "\n")
	var current time.Time
	for _, ev := range events {
		day := timeparse.StartOfDay(ev.Start)
		if day.Before(w.Start) {
			day = w.Start
		}
		if !day.Equal(current) {
			current = day
			fmt.Fprintf(&b, "\n### %d %s   %s\n", day.Day(),
				strings.ToUpper(day.Format("Jan")), strings.ToUpper(day.Format("Mon")))
		}
		when := "All day"
		if !ev.AllDay {
			when = ev.Start.Format("3:04 PM") + " - " + ev.End.Format("3:04 PM")
		}
		fmt.Fprintf(&b, "- *%s*   %s\n", when, ev.Summary)
	}
	return strings.TrimRight(b.String(), "\n")
}
