// Package calendar stores events and answers the queries the dialogue needs.
package calendar

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("event not found")

// Event is a stored calendar entry. Recurrence holds RRULE lines.
type Event struct {
	ID          string    `json:"id"`
	Summary     string    `json:"summary"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	AllDay      bool      `json:"allDay,omitempty"`
	Location    string    `json:"location,omitempty"`
	Description string    `json:"description,omitempty"`
	Recurrence  []string  `json:"recurrence,omitempty"`
	Link        string    `json:"link,omitempty"`
}

// ResolvedEvent is a fully validated event ready to be inserted.
type ResolvedEvent struct {
	Summary     string
	Location    string
	Description string
	Start       time.Time
	End         time.Time
	AllDay      bool
	Recurrence  []string
}

// Patch carries the fields an update changes. Nil fields are left alone.
type Patch struct {
	Summary     *string
	Location    *string
	Description *string
	Start       *time.Time
	End         *time.Time
}

func (p Patch) apply(ev Event) Event {
	if p.Summary != nil {
		ev.Summary = *p.Summary
	}
	if p.Location != nil {
		ev.Location = *p.Location
	}
	if p.Description != nil {
		ev.Description = *p.Description
	}
	if p.Start != nil {
		ev.Start = *p.Start
	}
	if p.End != nil {
		ev.End = *p.End
	}
	return ev
}

// Service is the calendar surface the dialogue engine depends on.
type Service interface {
	List(ctx context.Context) ([]Event, error)
	Get(ctx context.Context, id string) (Event, error)
	Insert(ctx context.Context, ev ResolvedEvent) (Event, error)
	Update(ctx context.Context, id string, patch Patch) (Event, error)
	Delete(ctx context.Context, id string) error
}

// Store is a Service that owns resources.
type Store interface {
	Service
	Close() error
}

func validate(ev Event) error {
	if ev.Summary == "" {
		return errors.New("event summary is required")
	}
	if !ev.End.After(ev.Start) {
		return errors.New("event end must be after start")
	}
	return nil
}

func linkFor(base, id string) string {
	if base == "" {
		return ""
	}
	return base + "/v1/calendar/events/" + id
}
