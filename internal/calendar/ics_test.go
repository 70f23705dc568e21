package calendar

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportICSThenImportKeepsEventShape(t *testing.T) {
	now := time.Date(2025, time.May, 1, 10, 0, 0, 0, time.UTC)
	events := []Event{
		{
			ID:         "ev-standup",
			Summary:    "Standup",
			Start:      time.Date(2025, time.May, 5, 9, 0, 0, 0, time.UTC),
			End:        time.Date(2025, time.May, 5, 9, 15, 0, 0, time.UTC),
			Location:   "Room 4",
			Recurrence: []string{"RRULE:FREQ=WEEKLY;BYDAY=MO,WE"},
			Link:       "http://localhost:8080/v1/calendar/events/ev-standup",
		},
		{
			ID:      "ev-offsite",
			Summary: "Offsite",
			Start:   time.Date(2025, time.May, 20, 0, 0, 0, 0, time.UTC),
			End:     time.Date(2025, time.May, 21, 0, 0, 0, 0, time.UTC),
			AllDay:  true,
		},
	}

	doc := ExportICS(events, now)
	assert.Contains(t, doc, "PRODID:"+icsProductID)
	assert.Contains(t, doc, "UID:ev-standup")

	got, err := ImportICS(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "Standup", got[0].Summary)
	assert.Equal(t, "Room 4", got[0].Location)
	assert.True(t, got[0].Start.Equal(events[0].Start))
	assert.True(t, got[0].End.Equal(events[0].End))
	assert.Equal(t, []string{"RRULE:FREQ=WEEKLY;BYDAY=MO,WE"}, got[0].Recurrence)
	assert.False(t, got[0].AllDay)

	assert.Equal(t, "Offsite", got[1].Summary)
	assert.True(t, got[1].AllDay)
}

func TestImportICSDefaultsMissingEndAndTitle(t *testing.T) {
	doc := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//EN",
		"BEGIN:VEVENT",
		"UID:x-1",
		"DTSTAMP:20250501T080000Z",
		"DTSTART:20250502T120000Z",
		"END:VEVENT",
		"END:VCALENDAR",
		"",
	}, "\r\n")

	got, err := ImportICS(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "(untitled)", got[0].Summary)
	assert.Equal(t, time.Hour, got[0].End.Sub(got[0].Start))
}
