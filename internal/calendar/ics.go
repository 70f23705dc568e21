package calendar

import (
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
)

const icsProductID = "-//calchat//calendar export//EN"

// ExportICS renders events as an iCalendar document.
func ExportICS(events []Event, now time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(icsProductID)

	for _, ev := range events {
		ve := cal.AddEvent(ev.ID)
		ve.SetDtStampTime(now.UTC())
		if ev.AllDay {
			ve.SetAllDayStartAt(ev.Start)
			ve.SetAllDayEndAt(ev.End)
		} else {
			ve.SetStartAt(ev.Start.UTC())
			ve.SetEndAt(ev.End.UTC())
		}
		ve.SetSummary(ev.Summary)
		if ev.Location != "" {
			ve.SetLocation(ev.Location)
		}
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
		if ev.Link != "" {
			ve.SetURL(ev.Link)
		}
		for _, line := range ev.Recurrence {
			if body, ok := ruleBody(line); ok {
				ve.AddRrule(body)
			}
		}
	}
	return cal.Serialize()
}

// ImportICS reads VEVENTs from an iCalendar document. Events without a
// usable start are skipped.
func ImportICS(r io.Reader) ([]ResolvedEvent, error) {
	cal, err := ical.ParseCalendar(r)
	if err != nil {
		return nil, fmt.Errorf("parse ics: %w", err)
	}

	var out []ResolvedEvent
	for _, ve := range cal.Events() {
		start, err := ve.GetStartAt()
		if err != nil {
			log.Printf("ics import: skip event without start: %v", err)
			continue
		}
		end, err := ve.GetEndAt()
		if err != nil || !end.After(start) {
			end = start.Add(time.Hour)
		}

		ev := ResolvedEvent{Start: start, End: end}
		if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
			ev.Summary = p.Value
		}
		if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
			ev.Location = p.Value
		}
		if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
			ev.Description = p.Value
		}
		if p := ve.GetProperty(ical.ComponentPropertyDtStart); p != nil && !strings.Contains(p.Value, "T") {
			ev.AllDay = true
		}
		for _, p := range ve.GetProperties(ical.ComponentPropertyRrule) {
			ev.Recurrence = append(ev.Recurrence, "RRULE:"+p.Value)
		}
		if strings.TrimSpace(ev.Summary) == "" {
			ev.Summary = "(untitled)"
		}
		out = append(out, ev)
	}
	return out, nil
}
