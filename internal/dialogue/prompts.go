package dialogue

import (
	"encoding/json"
	"time"

	"github.com/ent0n29/calchat/internal/calendar"
	"github.com/ent0n29/calchat/internal/semantic"
)

const classifyGuidance = `Classify the user's calendar request. Answer with exactly one word from:
create, list, update, delete, unclear.
create: add a new event. list: show or ask about existing events.
update: change an existing event. delete: remove or cancel an event.
unclear: anything else.`

const createGuidance = `Extract the event the user wants to add. Reply with one JSON object:
{"title": "", "start": "", "end": "", "location": "", "description": "", "recurrence": []}
Copy time phrases as the user wrote them ("tomorrow at 3pm", "for 1 hour") or give
ISO 8601 local times. Leave unknown values empty. recurrence holds RRULE strings
such as "RRULE:FREQ=WEEKLY;BYDAY=MO".`

const updateGuidance = `Pick the existing event the user wants to change from EVENTS and extract the
changes. Reply with one JSON object:
{"eventId": "", "title": "", "start": "", "end": "", "location": "", "description": ""}
Only fill fields the user changes. Copy time phrases as written or give ISO 8601
local times. Use "None" as eventId when no event matches.`

const deleteGuidance = `Pick the existing event the user wants to delete from EVENTS. Reply with one
JSON object: {"eventId": ""}. Use "None" when no event matches.`

const askGuidance = `Write one short friendly question asking the user for the MISSING detail of the
event described in FIELDS. Reply with the question only.`

func classifyInstruction(utterance string) string {
	return semantic.BuildInstruction(semantic.TaskClassify, classifyGuidance,
		semantic.Section{Key: semantic.KeyMessage, Value: utterance},
	)
}

func createInstruction(utterance string, now time.Time) string {
	return semantic.BuildInstruction(semantic.TaskExtractCreate, createGuidance,
		semantic.Section{Key: semantic.KeyToday, Value: todayLine(now)},
		semantic.Section{Key: semantic.KeyMessage, Value: utterance},
	)
}

func updateInstruction(utterance string, events []calendar.Event, now time.Time) string {
	return semantic.BuildInstruction(semantic.TaskExtractUpdate, updateGuidance,
		semantic.Section{Key: semantic.KeyToday, Value: todayLine(now)},
		semantic.Section{Key: semantic.KeyEvents, Value: eventRefs(events)},
		semantic.Section{Key: semantic.KeyMessage, Value: utterance},
	)
}

func deleteInstruction(utterance string, events []calendar.Event, now time.Time) string {
	return semantic.BuildInstruction(semantic.TaskExtractDelete, deleteGuidance,
		semantic.Section{Key: semantic.KeyToday, Value: todayLine(now)},
		semantic.Section{Key: semantic.KeyEvents, Value: eventRefs(events)},
		semantic.Section{Key: semantic.KeyMessage, Value: utterance},
	)
}

func askInstruction(field Field, gathered map[string]string) string {
	fields, err := json.Marshal(gathered)
	if err != nil {
		fields = []byte("{}")
	}
	return semantic.BuildInstruction(semantic.TaskAskField, askGuidance,
		semantic.Section{Key: semantic.KeyFields, Value: string(fields)},
		semantic.Section{Key: semantic.KeyMissing, Value: string(field)},
	)
}

func todayLine(now time.Time) string {
	return now.Format("2006-01-02 Monday 15:04 MST")
}

func eventRefs(events []calendar.Event) string {
	refs := make([]semantic.EventRef, 0, len(events))
	for _, ev := range events {
		refs = append(refs, semantic.EventRef{
			ID:    ev.ID,
			Title: ev.Summary,
			Start: ev.Start.Format(time.RFC3339),
		})
	}
	return semantic.EncodeEvents(refs)
}
