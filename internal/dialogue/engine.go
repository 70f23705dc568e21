package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ent0n29/calchat/internal/calendar"
	"github.com/ent0n29/calchat/internal/observability"
	"github.com/ent0n29/calchat/internal/semantic"
	"github.com/ent0n29/calchat/internal/session"
	"github.com/ent0n29/calchat/internal/transcript"
)

// DefaultSessionKey is used when a request carries no identity.
const DefaultSessionKey = "default"

type Config struct {
	Location             *time.Location
	DefaultEventDuration time.Duration
	// CallTimeout bounds every parser and calendar call.
	CallTimeout time.Duration
	Now         func() time.Time
}

// Engine drives the conversation for all sessions. Turns of one session
// key run strictly one after another; different keys run concurrently.
type Engine struct {
	parser      semantic.Parser
	calendar    calendar.Service
	transcripts transcript.Store
	sessions    *session.Manager[Session]
	metrics     *observability.Metrics

	location        *time.Location
	defaultDuration time.Duration
	callTimeout     time.Duration
	now             func() time.Time
}

func NewEngine(
	cfg Config,
	parser semantic.Parser,
	cal calendar.Service,
	sessions *session.Manager[Session],
	transcripts transcript.Store,
	metrics *observability.Metrics,
) *Engine {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.DefaultEventDuration <= 0 {
		cfg.DefaultEventDuration = time.Hour
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 20 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if sessions == nil {
		sessions = session.NewManager[Session](0)
	}
	return &Engine{
		parser:          parser,
		calendar:        cal,
		transcripts:     transcripts,
		sessions:        sessions,
		metrics:         metrics,
		location:        cfg.Location,
		defaultDuration: cfg.DefaultEventDuration,
		callTimeout:     cfg.CallTimeout,
		now:             cfg.Now,
	}
}

// Handle processes one user turn. The only errors returned come from
// acquiring the session; every other failure is a response message.
func (e *Engine) Handle(ctx context.Context, key, utterance string) (Response, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		key = DefaultSessionKey
	}
	lease, err := e.sessions.Acquire(ctx, key)
	if err != nil {
		return Response{}, fmt.Errorf("acquire session %q: %w", key, err)
	}
	defer lease.Release()
	e.metrics.SetActiveSessions(e.sessions.ActiveCount())

	st := lease.State()
	e.record(ctx, key, transcript.RoleUser, utterance)
	resp := e.step(ctx, st, strings.TrimSpace(utterance))
	resp.State = st.State().String()
	e.record(ctx, key, transcript.RoleAssistant, resp.Message)
	return resp, nil
}

// History returns the transcript of a session key.
func (e *Engine) History(ctx context.Context, key string) ([]transcript.ChatTurn, error) {
	if e.transcripts == nil {
		return nil, nil
	}
	turns, err := e.transcripts.All(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return turns, nil
}

func (e *Engine) ClearHistory(ctx context.Context, key string) error {
	if e.transcripts == nil {
		return nil
	}
	if err := e.transcripts.Clear(ctx, key); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

// step is the transition function over Idle, AwaitingField and
// AwaitingConfirmation.
func (e *Engine) step(ctx context.Context, st *Session, utterance string) Response {
	if p := st.Pending; p != nil {
		if isCancellation(utterance) {
			log.Printf("pending %s cancelled by user", p.Action.Kind())
			e.metrics.ObserveAction(string(p.Action.Kind()), "cancelled")
			st.Pending = nil
			return Response{Message: msgCancelled, Type: p.Action.Kind()}
		}
		if !p.AwaitingConfirmation {
			fill(p, utterance)
			return e.advance(ctx, st, p)
		}
		if isConfirmation(utterance) {
			return e.execute(ctx, st)
		}
		log.Printf("pending %s cancelled by new message", p.Action.Kind())
		e.metrics.ObserveAction(string(p.Action.Kind()), "cancelled")
		st.Pending = nil
	}
	return e.route(ctx, st, utterance)
}

func (e *Engine) route(ctx context.Context, st *Session, utterance string) Response {
	if utterance == "" {
		return Response{Message: unclearMessage}
	}
	if reply, ok := quickActionReply(utterance); ok {
		e.metrics.ObserveTurn("quick_action")
		return Response{Message: reply}
	}

	intent := e.classify(ctx, utterance)
	e.metrics.ObserveTurn(string(intent))
	switch intent {
	case IntentGreeting:
		return Response{Message: greetingReply(e.now().In(e.location))}
	case IntentCreate:
		return e.startCreate(ctx, st, utterance)
	case IntentUpdate:
		return e.startUpdate(ctx, st, utterance)
	case IntentDelete:
		return e.startDelete(ctx, st, utterance)
	case IntentList:
		return e.list(ctx, utterance)
	default:
		return Response{Message: unclearMessage}
	}
}

func (e *Engine) startCreate(ctx context.Context, st *Session, utterance string) Response {
	payload, err := e.extract(ctx, "extract_create", createInstruction(utterance, e.now().In(e.location)))
	if err != nil {
		log.Printf("create extraction failed: %v", err)
		e.metrics.ObserveAction(string(KindCreate), "failure")
		return Response{Message: msgCreateFailed, Type: KindCreate}
	}
	a := &CreateAction{
		Title:       payload.String("title", "summary"),
		Location:    payload.String("location"),
		Description: payload.String("description"),
		Recurrence:  calendar.ValidRecurrence(payload.List("recurrence")),
	}
	a.Start.set(payload.String("start", "start time", "startTime", "start_time"))
	a.End.set(payload.String("end", "end time", "endTime", "end_time"))
	return e.advance(ctx, st, &Pending{Action: a, Utterance: utterance})
}

func (e *Engine) startUpdate(ctx context.Context, st *Session, utterance string) Response {
	events, payload, err := e.pickEvent(ctx, "extract_update", utterance, updateInstruction)
	if err != nil {
		log.Printf("update extraction failed: %v", err)
		e.metrics.ObserveAction(string(KindUpdate), "failure")
		return Response{Message: msgUpdateFailed, Type: KindUpdate}
	}
	ev, ok := findEvent(events, payload.String("eventId", "event_id", "id"))
	if !ok {
		e.metrics.ObserveAction(string(KindUpdate), "not_found")
		return Response{Message: msgNotFound, Type: KindUpdate}
	}
	a := &UpdateAction{
		EventID:     ev.ID,
		Existing:    ev,
		Title:       payload.String("title", "summary"),
		Location:    payload.String("location"),
		Description: payload.String("description"),
	}
	a.Start.set(payload.String("start", "start time", "startTime", "start_time"))
	a.End.set(payload.String("end", "end time", "endTime", "end_time"))
	return e.advance(ctx, st, &Pending{Action: a, Utterance: utterance})
}

func (e *Engine) startDelete(ctx context.Context, st *Session, utterance string) Response {
	events, payload, err := e.pickEvent(ctx, "extract_delete", utterance, deleteInstruction)
	if err != nil {
		log.Printf("delete extraction failed: %v", err)
		e.metrics.ObserveAction(string(KindDelete), "failure")
		return Response{Message: msgDeleteFailed, Type: KindDelete}
	}
	ev, ok := findEvent(events, payload.String("eventId", "event_id", "id"))
	if !ok {
		e.metrics.ObserveAction(string(KindDelete), "not_found")
		return Response{Message: msgNotFound, Type: KindDelete}
	}
	return e.advance(ctx, st, &Pending{
		Action:    &DeleteAction{EventID: ev.ID, Existing: ev},
		Utterance: utterance,
	})
}

// pickEvent fetches the current events and asks the parser which one the
// utterance refers to.
func (e *Engine) pickEvent(
	ctx context.Context,
	op, utterance string,
	build func(string, []calendar.Event, time.Time) string,
) ([]calendar.Event, semantic.Payload, error) {
	var events []calendar.Event
	err := e.calendarCall(ctx, "list", func(ctx context.Context) error {
		var err error
		events, err = e.calendar.List(ctx)
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("list events: %w", err)
	}
	payload, err := e.extract(ctx, op, build(utterance, events, e.now().In(e.location)))
	if err != nil {
		return nil, nil, err
	}
	return events, payload, nil
}

func findEvent(events []calendar.Event, id string) (calendar.Event, bool) {
	if id == "" {
		return calendar.Event{}, false
	}
	for _, ev := range events {
		if ev.ID == id {
			return ev, true
		}
	}
	return calendar.Event{}, false
}

// extract calls the parser and decodes the first JSON object of its reply.
// A reply without a usable object yields an empty payload so the slot
// filler can ask for the details; only transport failures are errors.
func (e *Engine) extract(ctx context.Context, op, instruction string) (semantic.Payload, error) {
	out, err := e.complete(ctx, op, instruction)
	if err != nil {
		return nil, err
	}
	payload, err := semantic.ExtractJSON(out)
	if err != nil {
		log.Printf("%s: %v", op, err)
		return semantic.Payload{}, nil
	}
	return payload, nil
}

func (e *Engine) complete(ctx context.Context, op, instruction string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	started := time.Now()
	out, err := e.parser.Complete(ctx, instruction)
	e.metrics.ObserveExternalCall("parser", op, time.Since(started), err)
	if err != nil {
		return "", fmt.Errorf("semantic parser %s: %w", op, err)
	}
	return out, nil
}

func (e *Engine) calendarCall(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	started := time.Now()
	err := fn(ctx)
	observed := err
	if errors.Is(err, calendar.ErrNotFound) {
		observed = nil
	}
	e.metrics.ObserveExternalCall("calendar", op, time.Since(started), observed)
	return err
}

func (e *Engine) record(ctx context.Context, key string, role transcript.Role, message string) {
	if e.transcripts == nil || strings.TrimSpace(message) == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	err := e.transcripts.Append(ctx, transcript.ChatTurn{
		SessionID: key,
		Message:   message,
		Role:      role,
		Timestamp: e.now().UTC(),
	})
	if err != nil {
		log.Printf("transcript append failed session=%s: %v", key, err)
	}
}
