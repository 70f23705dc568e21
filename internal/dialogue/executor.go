package dialogue

import (
	"context"
	"errors"
	"log"

	"github.com/ent0n29/calchat/internal/calendar"
)

const (
	msgCreated      = "Event added to your calendar!"
	msgCreateFailed = "Failed to add event. Please try again."
	msgUpdated      = "Event updated!"
	msgUpdateFailed = "Failed to update event. Please try again."
	msgDeleted      = "Event deleted successfully."
	msgDeleteFailed = "Failed to delete event. Please try again."
	msgNotFound     = "Event not found."
	msgCancelled    = "Okay, I won't make that change."
)

// execute runs the confirmed pending action once. The pending action is
// cleared before the call so a replayed confirmation cannot repeat it.
func (e *Engine) execute(ctx context.Context, st *Session) Response {
	p := st.Pending
	st.Pending = nil

	switch a := p.Action.(type) {
	case *CreateAction:
		var ev calendar.Event
		err := e.calendarCall(ctx, "insert", func(ctx context.Context) error {
			var err error
			ev, err = e.calendar.Insert(ctx, calendar.ResolvedEvent{
				Summary:     a.Title,
				Location:    a.Location,
				Description: a.Description,
				Start:       a.Start.Resolved,
				End:         a.End.Resolved,
				Recurrence:  a.Recurrence,
			})
			return err
		})
		if err != nil {
			log.Printf("create event failed: %v", err)
			e.metrics.ObserveAction(string(KindCreate), "failure")
			return Response{Message: msgCreateFailed, Type: KindCreate}
		}
		log.Printf("event created id=%s", ev.ID)
		e.metrics.ObserveAction(string(KindCreate), "success")
		return Response{Message: msgCreated, Type: KindCreate, Link: ev.Link}

	case *UpdateAction:
		var ev calendar.Event
		err := e.calendarCall(ctx, "update", func(ctx context.Context) error {
			current, err := e.calendar.Get(ctx, a.EventID)
			if err != nil {
				return err
			}
			ev, err = e.calendar.Update(ctx, a.EventID, mergePatch(a, current))
			return err
		})
		if resp, failed := e.failure(KindUpdate, a.EventID, err, msgUpdateFailed); failed {
			return resp
		}
		log.Printf("event updated id=%s", ev.ID)
		e.metrics.ObserveAction(string(KindUpdate), "success")
		return Response{Message: msgUpdated, Type: KindUpdate, Link: ev.Link}

	case *DeleteAction:
		err := e.calendarCall(ctx, "delete", func(ctx context.Context) error {
			return e.calendar.Delete(ctx, a.EventID)
		})
		if resp, failed := e.failure(KindDelete, a.EventID, err, msgDeleteFailed); failed {
			return resp
		}
		log.Printf("event deleted id=%s", a.EventID)
		e.metrics.ObserveAction(string(KindDelete), "success")
		return Response{Message: msgDeleted, Type: KindDelete}
	}
	return Response{Message: unclearMessage}
}

func (e *Engine) failure(kind Kind, id string, err error, generic string) (Response, bool) {
	switch {
	case err == nil:
		return Response{}, false
	case errors.Is(err, calendar.ErrNotFound):
		log.Printf("%s event: id=%s not found", kind, id)
		e.metrics.ObserveAction(string(kind), "not_found")
		return Response{Message: msgNotFound, Type: kind}, true
	default:
		log.Printf("%s event failed id=%s: %v", kind, id, err)
		e.metrics.ObserveAction(string(kind), "failure")
		return Response{Message: generic, Type: kind}, true
	}
}

// mergePatch sends only values that differ from the stored event.
func mergePatch(a *UpdateAction, current calendar.Event) calendar.Patch {
	var patch calendar.Patch
	if a.Title != "" && a.Title != current.Summary {
		title := a.Title
		patch.Summary = &title
	}
	if a.Location != "" && a.Location != current.Location {
		location := a.Location
		patch.Location = &location
	}
	if a.Description != "" && a.Description != current.Description {
		description := a.Description
		patch.Description = &description
	}
	if a.Start.IsResolved() && !a.Start.Resolved.Equal(current.Start) {
		start := a.Start.Resolved
		patch.Start = &start
	}
	if a.End.IsResolved() && !a.End.Resolved.Equal(current.End) {
		end := a.End.Resolved
		patch.End = &end
	}
	return patch
}
