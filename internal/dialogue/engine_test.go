package dialogue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/calchat/internal/calendar"
	"github.com/ent0n29/calchat/internal/semantic"
	"github.com/ent0n29/calchat/internal/session"
	"github.com/ent0n29/calchat/internal/transcript"
)

// Thursday.
var testNow = time.Date(2025, time.May, 1, 10, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, cal calendar.Service, parser semantic.Parser) *Engine {
	t.Helper()
	if cal == nil {
		cal = calendar.NewMemoryStore("http://cal.test")
	}
	if parser == nil {
		parser = semantic.NewMockParser()
	}
	sessions := session.NewManager[Session](time.Minute)
	t.Cleanup(sessions.Close)
	return NewEngine(Config{
		Location:             time.UTC,
		DefaultEventDuration: time.Hour,
		CallTimeout:          time.Second,
		Now:                  func() time.Time { return testNow },
	}, parser, cal, sessions, transcript.NewInMemoryStore(), nil)
}

func say(t *testing.T, e *Engine, key, utterance string) Response {
	t.Helper()
	resp, err := e.Handle(context.Background(), key, utterance)
	require.NoError(t, err)
	return resp
}

func pendingOf(t *testing.T, e *Engine, key string) *Pending {
	t.Helper()
	lease, err := e.sessions.Acquire(context.Background(), key)
	require.NoError(t, err)
	defer lease.Release()
	return lease.State().Pending
}

func listAll(t *testing.T, cal calendar.Service) []calendar.Event {
	t.Helper()
	events, err := cal.List(context.Background())
	require.NoError(t, err)
	return events
}

func insert(t *testing.T, cal calendar.Service, summary string, start time.Time, d time.Duration) calendar.Event {
	t.Helper()
	ev, err := cal.Insert(context.Background(), calendar.ResolvedEvent{Summary: summary, Start: start, End: start.Add(d)})
	require.NoError(t, err)
	return ev
}

func TestCreateWithRelativeDayAwaitsConfirmation(t *testing.T) {
	cal := calendar.NewMemoryStore("http://cal.test")
	e := newTestEngine(t, cal, nil)

	resp := say(t, e, "u1", "add lunch with Sam tomorrow at noon")
	assert.Equal(t, KindCreate, resp.Type)
	assert.Equal(t, "awaiting_confirmation", resp.State)
	assert.Contains(t, resp.Message, "Lunch with Sam")
	assert.Contains(t, resp.Message, "Fri May 2, 12:00 PM – 1:00 PM")
	assert.Contains(t, resp.Message, `Reply "yes" to confirm.`)

	p := pendingOf(t, e, "u1")
	require.NotNil(t, p)
	assert.Empty(t, p.Missing)
	assert.True(t, p.AwaitingConfirmation)
	create, ok := p.Action.(*CreateAction)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, time.May, 2, 12, 0, 0, 0, time.UTC), create.Start.Resolved)
	assert.Equal(t, time.Date(2025, time.May, 2, 13, 0, 0, 0, time.UTC), create.End.Resolved)
	assert.Empty(t, listAll(t, cal))
}

func TestReplayedConfirmationMutatesOnce(t *testing.T) {
	cal := calendar.NewMemoryStore("http://cal.test")
	e := newTestEngine(t, cal, nil)

	say(t, e, "u1", "add lunch with Sam tomorrow at noon")
	resp := say(t, e, "u1", "yes")
	assert.Equal(t, msgCreated, resp.Message)
	assert.Equal(t, KindCreate, resp.Type)
	assert.Contains(t, resp.Link, "http://cal.test/v1/calendar/events/")
	assert.Equal(t, "idle", resp.State)

	resp = say(t, e, "u1", "YES")
	assert.Equal(t, unclearMessage, resp.Message)
	assert.Len(t, listAll(t, cal), 1)
}

func TestListIncludesEventCreatedInWindow(t *testing.T) {
	e := newTestEngine(t, nil, nil)

	say(t, e, "u1", "add lunch with Sam tomorrow at noon")
	say(t, e, "u1", "y")
	resp := say(t, e, "u1", "what's on my schedule this week")

	assert.Equal(t, KindList, resp.Type)
	assert.Contains(t, resp.Message, "## EVENTS THIS WEEK")
	assert.Contains(t, resp.Message, "### 2 MAY   FRI")
	assert.Contains(t, resp.Message, "- *12:00 PM - 1:00 PM*   Lunch with Sam")

	resp = say(t, e, "u1", "show events next week")
	assert.Equal(t, "You have no events next week.", resp.Message)
}

func TestWeekdayOnlyUpdateKeepsTimeOfDayAndDuration(t *testing.T) {
	cal := calendar.NewMemoryStore("")
	standup := insert(t, cal, "Standup", time.Date(2025, time.April, 28, 9, 0, 0, 0, time.UTC), 30*time.Minute)
	e := newTestEngine(t, cal, nil)

	resp := say(t, e, "u1", "move standup to Wednesday")
	assert.Equal(t, KindUpdate, resp.Type)
	assert.Equal(t, "awaiting_confirmation", resp.State)
	assert.Contains(t, resp.Message, "Wed May 7, 9:00 AM – 9:30 AM")

	p := pendingOf(t, e, "u1")
	require.NotNil(t, p)
	update, ok := p.Action.(*UpdateAction)
	require.True(t, ok)
	assert.Equal(t, standup.ID, update.EventID)
	assert.Equal(t, time.Date(2025, time.May, 7, 9, 0, 0, 0, time.UTC), update.Start.Resolved)
	assert.Equal(t, time.Date(2025, time.May, 7, 9, 30, 0, 0, time.UTC), update.End.Resolved)

	resp = say(t, e, "u1", "confirm")
	assert.Equal(t, msgUpdated, resp.Message)

	stored, err := cal.Get(context.Background(), standup.ID)
	require.NoError(t, err)
	assert.Equal(t, "Standup", stored.Summary)
	assert.True(t, stored.Start.Equal(time.Date(2025, time.May, 7, 9, 0, 0, 0, time.UTC)))
	assert.Equal(t, 30*time.Minute, stored.End.Sub(stored.Start))
}

func TestUpdateRejectsInvertedRange(t *testing.T) {
	cal := calendar.NewMemoryStore("")
	insert(t, cal, "Standup", time.Date(2025, time.April, 28, 9, 0, 0, 0, time.UTC), 30*time.Minute)
	e := newTestEngine(t, cal, nil)

	resp := say(t, e, "u1", "change standup to 8am until 7am")
	assert.Equal(t, "Invalid or missing details: end", resp.Message)
	assert.Equal(t, "awaiting_field", resp.State)

	p := pendingOf(t, e, "u1")
	require.NotNil(t, p)
	assert.Equal(t, []Field{FieldEnd}, p.Missing)
	assert.False(t, p.AwaitingConfirmation)

	resp = say(t, e, "u1", "9am")
	assert.Equal(t, "awaiting_confirmation", resp.State)
	assert.Contains(t, resp.Message, "Mon Apr 28, 8:00 AM – 9:00 AM")
}

func TestDeleteWithoutMatchReportsNotFound(t *testing.T) {
	cal := calendar.NewMemoryStore("")
	insert(t, cal, "Standup", testNow.Add(time.Hour), 30*time.Minute)
	e := newTestEngine(t, cal, nil)

	resp := say(t, e, "u1", "cancel my dentist appointment")
	assert.Equal(t, msgNotFound, resp.Message)
	assert.Equal(t, "idle", resp.State)
	assert.Nil(t, pendingOf(t, e, "u1"))
	assert.Len(t, listAll(t, cal), 1)
}

func TestDeleteConfirmed(t *testing.T) {
	cal := calendar.NewMemoryStore("")
	insert(t, cal, "Dentist appointment", testNow.Add(48*time.Hour), time.Hour)
	e := newTestEngine(t, cal, nil)

	resp := say(t, e, "u1", "cancel my dentist appointment")
	assert.Equal(t, KindDelete, resp.Type)
	assert.Contains(t, resp.Message, "### Delete event")
	assert.Contains(t, resp.Message, "Dentist appointment")

	resp = say(t, e, "u1", "yes")
	assert.Equal(t, msgDeleted, resp.Message)
	assert.Empty(t, listAll(t, cal))
}

func TestDeleteOfVanishedEventReportsNotFound(t *testing.T) {
	cal := calendar.NewMemoryStore("")
	ev := insert(t, cal, "Dentist appointment", testNow.Add(48*time.Hour), time.Hour)
	e := newTestEngine(t, cal, nil)

	say(t, e, "u1", "cancel my dentist appointment")
	require.NoError(t, cal.Delete(context.Background(), ev.ID))

	resp := say(t, e, "u1", "yes")
	assert.Equal(t, msgNotFound, resp.Message)
	assert.Nil(t, pendingOf(t, e, "u1"))
}

func TestDeclinedConfirmationIsReprocessed(t *testing.T) {
	cal := calendar.NewMemoryStore("")
	e := newTestEngine(t, cal, nil)

	say(t, e, "u1", "add lunch with Sam tomorrow at noon")
	resp := say(t, e, "u1", "nope")
	assert.Equal(t, unclearMessage, resp.Message)
	assert.Nil(t, pendingOf(t, e, "u1"))

	say(t, e, "u1", "add lunch with Sam tomorrow at noon")
	resp = say(t, e, "u1", "show events tomorrow")
	assert.Equal(t, "You have no events tomorrow.", resp.Message)
	assert.Nil(t, pendingOf(t, e, "u1"))
	assert.Empty(t, listAll(t, cal))
}

func TestGibberishGetsGuidance(t *testing.T) {
	e := newTestEngine(t, nil, nil)

	resp := say(t, e, "u1", "asdfqwer")
	assert.Equal(t, unclearMessage, resp.Message)
	assert.Contains(t, resp.Message, "Add meeting with John tomorrow at 3pm")
	assert.Contains(t, resp.Message, "Show events this week")
	assert.Equal(t, "idle", resp.State)
}

type countingParser struct {
	semantic.Parser
	calls atomic.Int32
}

func (p *countingParser) Complete(ctx context.Context, instruction string) (string, error) {
	p.calls.Add(1)
	return p.Parser.Complete(ctx, instruction)
}

func TestGreetingAndQuickActionsSkipParser(t *testing.T) {
	parser := &countingParser{Parser: semantic.NewMockParser()}
	e := newTestEngine(t, nil, parser)

	assert.Equal(t, "Good morning! How can I help with your calendar?", say(t, e, "u1", "Hello!").Message)
	assert.Equal(t, "Good morning! How can I help with your calendar?", say(t, e, "u1", "  good   morning ").Message)
	assert.Contains(t, say(t, e, "u1", "Delete event").Message, "Cancel my dentist appointment")
	assert.Contains(t, say(t, e, "u1", "Add new class").Message, "every Monday")
	assert.Equal(t, int32(0), parser.calls.Load())
}

func TestSlotFillingAsksForMissingTitle(t *testing.T) {
	e := newTestEngine(t, nil, nil)

	resp := say(t, e, "u1", "schedule tomorrow at 3pm")
	assert.Equal(t, "awaiting_field", resp.State)
	assert.Equal(t, "What should I call this event?", resp.Message)
	assert.Equal(t, []Field{FieldTitle}, pendingOf(t, e, "u1").Missing)

	resp = say(t, e, "u1", "  Dentist  ")
	assert.Equal(t, "awaiting_confirmation", resp.State)
	assert.Contains(t, resp.Message, "**Title:** Dentist")
	assert.Contains(t, resp.Message, "Fri May 2, 3:00 PM – 4:00 PM")
}

func TestCreateRejectsEndBeforeStartThenRecovers(t *testing.T) {
	e := newTestEngine(t, nil, nil)

	resp := say(t, e, "u1", "add review tomorrow at 3pm until 1pm")
	assert.Equal(t, "Invalid or missing details: end", resp.Message)
	assert.Equal(t, []Field{FieldEnd}, pendingOf(t, e, "u1").Missing)

	resp = say(t, e, "u1", "5pm")
	assert.Equal(t, "awaiting_confirmation", resp.State)
	assert.Contains(t, resp.Message, "Fri May 2, 3:00 PM – 5:00 PM")
}

func TestCreateWithDateButNoTimeAsksForStart(t *testing.T) {
	cal := calendar.NewMemoryStore("")
	e := newTestEngine(t, cal, nil)

	resp := say(t, e, "u1", "add dentist friday")
	assert.Equal(t, "Invalid or missing details: start", resp.Message)
	assert.Equal(t, "awaiting_field", resp.State)
	p := pendingOf(t, e, "u1")
	require.NotNil(t, p)
	assert.Equal(t, []Field{FieldStart}, p.Missing)

	resp = say(t, e, "u1", "3pm")
	assert.Equal(t, "awaiting_confirmation", resp.State)
	assert.Contains(t, resp.Message, "**Title:** Dentist")
	assert.Contains(t, resp.Message, "Fri May 2, 3:00 PM – 4:00 PM")

	say(t, e, "u1", "yes")
	events := listAll(t, cal)
	require.Len(t, events, 1)
	assert.Equal(t, time.Date(2025, time.May, 2, 15, 0, 0, 0, time.UTC), events[0].Start.UTC())
}

func TestCreateDateOnlyStartAcceptsNewDayWithTime(t *testing.T) {
	e := newTestEngine(t, nil, nil)

	say(t, e, "u1", "add dentist friday")
	resp := say(t, e, "u1", "tomorrow at 9am")
	assert.Equal(t, "awaiting_confirmation", resp.State)
	assert.Contains(t, resp.Message, "Fri May 2, 9:00 AM – 10:00 AM")

	say(t, e, "u1", "never mind")
	say(t, e, "u1", "add dentist monday")
	resp = say(t, e, "u1", "tomorrow at 9am")
	assert.Contains(t, resp.Message, "Fri May 2, 9:00 AM – 10:00 AM")
}

func TestCancelWhileAwaitingFieldDropsPending(t *testing.T) {
	e := newTestEngine(t, nil, nil)

	resp := say(t, e, "u1", "schedule tomorrow at 3pm")
	require.Equal(t, "awaiting_field", resp.State)

	resp = say(t, e, "u1", "never mind")
	assert.Equal(t, msgCancelled, resp.Message)
	assert.Equal(t, "idle", resp.State)
	assert.Nil(t, pendingOf(t, e, "u1"))
}

func TestCancelWhileAwaitingConfirmationCreatesNothing(t *testing.T) {
	cal := calendar.NewMemoryStore("")
	e := newTestEngine(t, cal, nil)

	resp := say(t, e, "u1", "add lunch with Sam tomorrow at noon")
	require.Equal(t, "awaiting_confirmation", resp.State)

	resp = say(t, e, "u1", "cancel")
	assert.Equal(t, msgCancelled, resp.Message)
	assert.Nil(t, pendingOf(t, e, "u1"))

	resp = say(t, e, "u1", "yes")
	assert.NotEqual(t, msgCreated, resp.Message)
	assert.Empty(t, listAll(t, cal))
}

func TestCreateRecurringShowsRepeatLine(t *testing.T) {
	cal := calendar.NewMemoryStore("")
	e := newTestEngine(t, cal, nil)

	resp := say(t, e, "u1", "add yoga every monday at 7am")
	assert.Contains(t, resp.Message, "**Repeats:** every Monday")
	assert.Contains(t, resp.Message, "Mon May 5, 7:00 AM – 8:00 AM")

	say(t, e, "u1", "yes")
	events := listAll(t, cal)
	require.Len(t, events, 1)
	assert.Equal(t, []string{"RRULE:FREQ=WEEKLY;BYDAY=MO"}, events[0].Recurrence)
}

type failingCalendar struct {
	*calendar.MemoryStore
}

func (failingCalendar) Insert(context.Context, calendar.ResolvedEvent) (calendar.Event, error) {
	return calendar.Event{}, errors.New("backend unavailable")
}

func TestCalendarFailureClearsPending(t *testing.T) {
	e := newTestEngine(t, failingCalendar{calendar.NewMemoryStore("")}, nil)

	say(t, e, "u1", "add lunch with Sam tomorrow at noon")
	resp := say(t, e, "u1", "yes")
	assert.Equal(t, msgCreateFailed, resp.Message)
	assert.Nil(t, pendingOf(t, e, "u1"))
}

type stallingParser struct{}

func (stallingParser) Complete(ctx context.Context, instruction string) (string, error) {
	if task, _ := semantic.ParseInstruction(instruction); task == semantic.TaskClassify {
		return "Create.", nil
	}
	<-ctx.Done()
	return "", ctx.Err()
}

func TestStalledParserTimesOut(t *testing.T) {
	sessions := session.NewManager[Session](time.Minute)
	t.Cleanup(sessions.Close)
	e := NewEngine(Config{
		Location:    time.UTC,
		CallTimeout: 20 * time.Millisecond,
		Now:         func() time.Time { return testNow },
	}, stallingParser{}, calendar.NewMemoryStore(""), sessions, nil, nil)

	resp := say(t, e, "u1", "add lunch")
	assert.Equal(t, msgCreateFailed, resp.Message)
	assert.Nil(t, pendingOf(t, e, "u1"))
}

func TestSessionsAreIsolated(t *testing.T) {
	cal := calendar.NewMemoryStore("")
	e := newTestEngine(t, cal, nil)

	say(t, e, "alice", "add lunch with Sam tomorrow at noon")
	resp := say(t, e, "bob", "yes")
	assert.Equal(t, unclearMessage, resp.Message)
	assert.Nil(t, pendingOf(t, e, "bob"))
	require.NotNil(t, pendingOf(t, e, "alice"))
	assert.Empty(t, listAll(t, cal))

	say(t, e, "alice", "yes")
	assert.Len(t, listAll(t, cal), 1)
}

func TestConcurrentConfirmationsOnOneSessionRunOnce(t *testing.T) {
	cal := calendar.NewMemoryStore("")
	e := newTestEngine(t, cal, nil)
	say(t, e, "u1", "add lunch with Sam tomorrow at noon")

	var (
		wg      sync.WaitGroup
		created atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := e.Handle(context.Background(), "u1", "yes")
			if err == nil && resp.Message == msgCreated {
				created.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
	assert.Len(t, listAll(t, cal), 1)
}

func TestConcurrentSessionsProceedIndependently(t *testing.T) {
	cal := calendar.NewMemoryStore("")
	e := newTestEngine(t, cal, nil)

	var wg sync.WaitGroup
	keys := []string{"a", "b", "c", "d", "e"}
	for _, key := range keys {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			_, _ = e.Handle(context.Background(), key, "add lunch with Sam tomorrow at noon")
			_, _ = e.Handle(context.Background(), key, "yes")
		}(key)
	}
	wg.Wait()
	assert.Len(t, listAll(t, cal), len(keys))
}

func TestHandleRecordsTranscript(t *testing.T) {
	e := newTestEngine(t, nil, nil)
	say(t, e, "", "hi")

	turns, err := e.History(context.Background(), DefaultSessionKey)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, transcript.RoleUser, turns[0].Role)
	assert.Equal(t, "hi", turns[0].Message)
	assert.Equal(t, transcript.RoleAssistant, turns[1].Role)

	require.NoError(t, e.ClearHistory(context.Background(), DefaultSessionKey))
	turns, err = e.History(context.Background(), DefaultSessionKey)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestHandleAfterCloseFails(t *testing.T) {
	e := newTestEngine(t, nil, nil)
	e.sessions.Close()

	_, err := e.Handle(context.Background(), "u1", "hi")
	assert.ErrorIs(t, err, session.ErrClosed)
}
