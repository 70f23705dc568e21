package dialogue

import (
	"context"
	"log"
	"strings"

	"github.com/ent0n29/calchat/internal/timeparse"
)

// fill assigns the trimmed utterance verbatim to the first missing field.
// Validation happens later in advance.
func fill(p *Pending, utterance string) {
	if len(p.Missing) == 0 {
		return
	}
	value := strings.TrimSpace(utterance)
	field := p.Missing[0]
	switch a := p.Action.(type) {
	case *CreateAction:
		switch field {
		case FieldTitle:
			a.Title = value
		case FieldStart:
			a.Start.set(value)
		case FieldEnd:
			a.End.set(value)
		}
		a.Rejected = withoutField(a.Rejected, field)
	case *UpdateAction:
		switch field {
		case FieldTitle:
			a.Title = value
		case FieldStart:
			a.Start.set(value)
		case FieldEnd:
			a.End.set(value)
		}
		a.Rejected = withoutField(a.Rejected, field)
	}
}

// missingFields checks the required set {title, start, end}. A new event
// gets a default end, and an update falls back to the existing event, so
// only rejected values count there.
func missingFields(action Action) []Field {
	var out []Field
	switch a := action.(type) {
	case *CreateAction:
		if a.Title == "" || containsField(a.Rejected, FieldTitle) {
			out = append(out, FieldTitle)
		}
		if !a.Start.IsSet() || containsField(a.Rejected, FieldStart) {
			out = append(out, FieldStart)
		}
		if containsField(a.Rejected, FieldEnd) {
			out = append(out, FieldEnd)
		}
	case *UpdateAction:
		for _, f := range []Field{FieldTitle, FieldStart, FieldEnd} {
			if containsField(a.Rejected, f) {
				out = append(out, f)
			}
		}
	}
	return out
}

// advance moves a pending action forward: ask for the next missing field,
// report invalid values, or show the confirmation summary.
func (e *Engine) advance(ctx context.Context, st *Session, p *Pending) Response {
	st.Pending = p
	p.AwaitingConfirmation = false
	kind := p.Action.Kind()

	p.Missing = missingFields(p.Action)
	if len(p.Missing) > 0 {
		return Response{Message: e.askFor(ctx, p), Type: kind}
	}

	if invalid := e.resolveTimes(p); len(invalid) > 0 {
		p.Missing = missingFields(p.Action)
		names := make([]string, 0, len(invalid))
		for _, f := range invalid {
			names = append(names, string(f))
		}
		return Response{Message: "Invalid or missing details: " + strings.Join(names, ", "), Type: kind}
	}

	p.AwaitingConfirmation = true
	return Response{Message: render(p, e.location), Type: kind}
}

// resolveTimes turns raw start and end phrases into absolute times and
// returns the fields that were rejected.
func (e *Engine) resolveTimes(p *Pending) []Field {
	now := e.now().In(e.location)
	switch a := p.Action.(type) {
	case *CreateAction:
		dayStart := timeparse.StartOfDay(now)
		res := timeparse.Resolve(timeparse.Request{
			Reference: timeparse.Span{Start: dayStart, End: dayStart.Add(e.defaultDuration)},
			RawStart:  a.Start.Raw,
			RawEnd:    a.End.Raw,
			Day:       a.Day,
			Utterance: p.Utterance,
			Now:       now,
			Location:  e.location,
		})
		var rejected []Field
		switch {
		case res.IsInvalid(timeparse.FieldStart):
			a.Start.set("")
			rejected = append(rejected, FieldStart)
		case !res.StartHasClock:
			a.Day = timeparse.StartOfDay(res.Start)
			a.Start.set("")
			rejected = append(rejected, FieldStart)
		}
		if res.IsInvalid(timeparse.FieldEnd) {
			a.End.set("")
			rejected = append(rejected, FieldEnd)
		}
		if len(rejected) > 0 {
			a.Rejected = append(a.Rejected, rejected...)
			return rejected
		}
		a.Start.Resolved = res.Start
		a.End.Resolved = res.End
		return nil

	case *UpdateAction:
		res := timeparse.Resolve(timeparse.Request{
			Reference: timeparse.Span{Start: a.Existing.Start, End: a.Existing.End},
			RawStart:  a.Start.Raw,
			RawEnd:    a.End.Raw,
			Utterance: p.Utterance,
			Now:       now,
			Location:  e.location,
		})
		if res.IsInvalid(timeparse.FieldStart) {
			log.Printf("keeping existing start of %s: unparseable %q", a.EventID, a.Start.Raw)
			a.Start.set("")
		}
		if res.IsInvalid(timeparse.FieldEnd) {
			if res.EndChanged {
				a.End.set("")
				a.Rejected = append(a.Rejected, FieldEnd)
				return []Field{FieldEnd}
			}
			log.Printf("keeping existing end of %s: unparseable %q", a.EventID, a.End.Raw)
			a.End.set("")
		}
		a.Start.Resolved = res.Start
		a.End.Resolved = res.End
		return nil
	}
	return nil
}

// askFor produces the follow-up question for the first missing field.
func (e *Engine) askFor(ctx context.Context, p *Pending) string {
	field := p.Missing[0]
	out, err := e.complete(ctx, "ask_field", askInstruction(field, gatheredFields(p.Action)))
	if err != nil {
		log.Printf("follow-up question failed field=%s: %v", field, err)
		return fallbackQuestion(field)
	}
	q := strings.Trim(strings.TrimSpace(out), `"`)
	if q == "" {
		return fallbackQuestion(field)
	}
	return q
}

func fallbackQuestion(field Field) string {
	switch field {
	case FieldTitle:
		return "What is the title of the event?"
	case FieldStart:
		return "When does the event start?"
	case FieldEnd:
		return "When does the event end?"
	default:
		return "Could you give me more details about the event?"
	}
}

func gatheredFields(action Action) map[string]string {
	out := make(map[string]string)
	put := func(key, value string) {
		if value != "" {
			out[key] = value
		}
	}
	switch a := action.(type) {
	case *CreateAction:
		put("title", a.Title)
		put("location", a.Location)
		put("description", a.Description)
		put("start", a.Start.Raw)
		put("end", a.End.Raw)
	case *UpdateAction:
		put("title", a.Existing.Summary)
		put("newTitle", a.Title)
		put("start", a.Start.Raw)
		put("end", a.End.Raw)
	}
	return out
}
