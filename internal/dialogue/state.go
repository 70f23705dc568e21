// Package dialogue runs the per-session conversation that turns free-form
// requests into confirmed calendar mutations and listings.
package dialogue

import (
	"time"

	"github.com/ent0n29/calchat/internal/calendar"
)

// Field names a value the user may be asked for.
type Field string

const (
	FieldTitle Field = "title"
	FieldStart Field = "start"
	FieldEnd   Field = "end"
)

// Kind is the type of a pending mutation, also used as the response type.
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
	KindList   Kind = "list"
)

// State is the named position of a session in the conversation.
type State int

const (
	Idle State = iota
	AwaitingField
	AwaitingConfirmation
)

func (s State) String() string {
	switch s {
	case AwaitingField:
		return "awaiting_field"
	case AwaitingConfirmation:
		return "awaiting_confirmation"
	default:
		return "idle"
	}
}

// Slot holds a start or end value: unset, a raw phrase, or resolved.
type Slot struct {
	Raw      string
	Resolved time.Time
}

func (s Slot) IsSet() bool      { return s.Raw != "" || !s.Resolved.IsZero() }
func (s Slot) IsResolved() bool { return !s.Resolved.IsZero() }

// set stores a new raw value and drops any earlier resolution.
func (s *Slot) set(raw string) {
	s.Raw = raw
	s.Resolved = time.Time{}
}

// Action is one of *CreateAction, *UpdateAction or *DeleteAction.
type Action interface {
	Kind() Kind
}

type CreateAction struct {
	Title       string
	Location    string
	Description string
	Start       Slot
	End         Slot
	Recurrence  []string
	// Day keeps a date given without a time of day, so a later answer
	// like "3pm" lands on it.
	Day time.Time
	// Rejected holds fields whose last value failed validation.
	Rejected []Field
}

func (*CreateAction) Kind() Kind { return KindCreate }

// UpdateAction changes an existing event. Empty fields fall back to the
// existing event.
type UpdateAction struct {
	EventID     string
	Existing    calendar.Event
	Title       string
	Location    string
	Description string
	Start       Slot
	End         Slot
	Rejected    []Field
}

func (*UpdateAction) Kind() Kind { return KindUpdate }

type DeleteAction struct {
	EventID  string
	Existing calendar.Event
}

func (*DeleteAction) Kind() Kind { return KindDelete }

// Pending is the single in-flight action of a session.
type Pending struct {
	Action               Action
	Missing              []Field
	AwaitingConfirmation bool
	// Utterance is the message that started the action. Time resolution
	// reads weekday mentions from it.
	Utterance string
}

// Session is the state kept per session key.
type Session struct {
	Pending *Pending
}

func (s *Session) State() State {
	switch {
	case s == nil || s.Pending == nil:
		return Idle
	case s.Pending.AwaitingConfirmation:
		return AwaitingConfirmation
	default:
		return AwaitingField
	}
}

// Response is the single reply produced for each user turn.
type Response struct {
	Message string `json:"message"`
	Type    Kind   `json:"type,omitempty"`
	Link    string `json:"link,omitempty"`
	State   string `json:"state,omitempty"`
}

func containsField(fields []Field, f Field) bool {
	for _, x := range fields {
		if x == f {
			return true
		}
	}
	return false
}

func withoutField(fields []Field, f Field) []Field {
	out := fields[:0:0]
	for _, x := range fields {
		if x != f {
			out = append(out, x)
		}
	}
	return out
}
