package calendar

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teambition/rrule-go"
)

func TestOccurrencesSingleEvent(t *testing.T) {
	ev := Event{ID: "e1", Summary: "Lunch", Start: time.Date(2025, 5, 2, 12, 0, 0, 0, time.UTC), End: time.Date(2025, 5, 2, 13, 0, 0, 0, time.UTC)}

	in := Occurrences(ev, time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC), time.Date(2025, 5, 2, 23, 59, 59, 0, time.UTC))
	assert.Len(t, in, 1)

	out := Occurrences(ev, time.Date(2025, 5, 3, 0, 0, 0, 0, time.UTC), time.Date(2025, 5, 3, 23, 59, 59, 0, time.UTC))
	assert.Empty(t, out)
}

func TestOccurrencesExpandsWeeklyRule(t *testing.T) {
	ev := Event{
		ID:         "yoga",
		Summary:    "Yoga",
		Start:      time.Date(2025, 4, 7, 7, 0, 0, 0, time.UTC),
		End:        time.Date(2025, 4, 7, 8, 0, 0, 0, time.UTC),
		Recurrence: []string{"RRULE:FREQ=WEEKLY;BYDAY=MO,WE"},
	}
	from := time.Date(2025, 5, 4, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 5, 10, 23, 59, 59, 0, time.UTC)

	occ := Occurrences(ev, from, to)
	require.Len(t, occ, 2)
	assert.Equal(t, time.Date(2025, 5, 5, 7, 0, 0, 0, time.UTC), occ[0].Start)
	assert.Equal(t, time.Date(2025, 5, 7, 8, 0, 0, 0, time.UTC), occ[1].End)
	assert.Equal(t, "yoga", occ[1].ID)
}

func TestOccurrencesHonoursExDate(t *testing.T) {
	ev := Event{
		ID:      "standup",
		Summary: "Standup",
		Start:   time.Date(2025, 5, 5, 9, 0, 0, 0, time.UTC),
		End:     time.Date(2025, 5, 5, 9, 15, 0, 0, time.UTC),
		Recurrence: []string{
			"RRULE:FREQ=DAILY;COUNT=5",
			"EXDATE:20250507T090000Z",
		},
	}
	occ := Occurrences(ev, time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC))
	assert.Len(t, occ, 4)
	for _, o := range occ {
		assert.NotEqual(t, 7, o.Start.Day())
	}
}

func TestOccurrencesIncludesInstanceStartedBeforeWindow(t *testing.T) {
	ev := Event{
		ID:         "night",
		Summary:    "Night shift",
		Start:      time.Date(2025, 5, 1, 22, 0, 0, 0, time.UTC),
		End:        time.Date(2025, 5, 2, 6, 0, 0, 0, time.UTC),
		Recurrence: []string{"FREQ=DAILY"},
	}
	occ := Occurrences(ev, time.Date(2025, 5, 3, 0, 0, 0, 0, time.UTC), time.Date(2025, 5, 3, 23, 59, 59, 0, time.UTC))
	require.Len(t, occ, 2)
	assert.Equal(t, 2, occ[0].Start.Day())
	assert.Equal(t, 3, occ[1].Start.Day())
}

func TestParseRuleAndValidRecurrence(t *testing.T) {
	opt, err := ParseRule("RRULE:FREQ=WEEKLY;BYDAY=MO;UNTIL=20250601T000000Z")
	require.NoError(t, err)
	assert.Equal(t, rrule.WEEKLY, opt.Freq)
	require.Len(t, opt.Byweekday, 1)
	assert.Equal(t, 0, opt.Byweekday[0].Day())
	assert.Equal(t, 2025, opt.Until.Year())

	_, err = ParseRule("EVERY TUESDAY")
	assert.Error(t, err)

	valid := ValidRecurrence([]string{"RRULE:FREQ=DAILY", "RRULE:FREQ=SOMETIMES", "nonsense"})
	assert.Equal(t, []string{"RRULE:FREQ=DAILY"}, valid)
}

func TestExportImportICS(t *testing.T) {
	events := []Event{{
		ID:          "e1",
		Summary:     "Yoga",
		Location:    "Central Park",
		Description: "bring a mat",
		Start:       time.Date(2025, 5, 5, 7, 0, 0, 0, time.UTC),
		End:         time.Date(2025, 5, 5, 8, 0, 0, 0, time.UTC),
		Recurrence:  []string{"RRULE:FREQ=WEEKLY;BYDAY=MO"},
		Link:        "http://localhost:8080/v1/calendar/events/e1",
	}}

	doc := ExportICS(events, time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC))
	assert.Contains(t, doc, "BEGIN:VCALENDAR")
	assert.Contains(t, doc, "UID:e1")
	assert.Contains(t, doc, "RRULE:FREQ=WEEKLY;BYDAY=MO")

	imported, err := ImportICS(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, imported, 1)
	assert.Equal(t, "Yoga", imported[0].Summary)
	assert.Equal(t, "Central Park", imported[0].Location)
	assert.True(t, imported[0].Start.Equal(events[0].Start))
	assert.True(t, imported[0].End.Equal(events[0].End))
	assert.Equal(t, []string{"RRULE:FREQ=WEEKLY;BYDAY=MO"}, imported[0].Recurrence)
}
