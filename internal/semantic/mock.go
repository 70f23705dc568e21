package semantic

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// MockParser answers dialogue instructions with keyword rules so the service
// runs without a model. Its output has the same shape a model is asked for.
type MockParser struct{}

func NewMockParser() *MockParser { return &MockParser{} }

const (
	mockClockExpr   = `noon|midnight|\d{1,2}(?::\d{2})?\s*(?:[ap]m\b|[ap]\.m\.)|\d{1,2}:\d{2}\b`
	mockWeekdayExpr = `mon(?:day)?|tues?(?:day)?|wed(?:nesday)?|thur?s?(?:day)?|fri(?:day)?|sat(?:urday)?|sun(?:day)?`
)

var (
	mockDeleteWords = regexp.MustCompile(`(?i)\b(cancel|delete|remove|drop|clear)\b`)
	mockUpdateWords = regexp.MustCompile(`(?i)\b(move|change|reschedule|update|rename|shift|push|postpone|edit)\b`)
	mockListWords   = regexp.MustCompile(`(?i)^(what|show|list|view|display|any|do i have)\b|\b(what's|whats|agenda|upcoming)\b`)
	mockCreateWords = regexp.MustCompile(`(?i)\b(add|create|book|schedule|set\s+up|plan|put|new)\b`)

	mockVerbPrefix = regexp.MustCompile(`(?i)^(?:please\s+)?(?:add|create|book|schedule|set\s+up|plan|put)\s+(?:(?:a|an|the|new|my)\s+)*`)
	mockCalendarTo = regexp.MustCompile(`(?i)\s+(?:to|on|in)\s+(?:my\s+)?calendar\b`)
	mockRecurrence = regexp.MustCompile(`(?i)\b(every\s+day|daily|every\s+weekday|weekdays|every\s+weekend|every\s+week|weekly|every\s+(` + mockWeekdayExpr + `))\b`)
	mockEnd        = regexp.MustCompile(`(?i)\s*\b(?:until|till|to)\s+(` + mockClockExpr + `)`)
	mockDuration   = regexp.MustCompile(`(?i)\bfor\s+((?:\d+(?:\.\d+)?|an?|one|two|three|half\s+an?)\s*(?:hours?|hrs?|minutes?|mins?))\b`)
	mockLocation   = regexp.MustCompile(`\b(?:in|at)\s+(?:the\s+)?([A-Z][A-Za-z']+(?:\s+[A-Z][A-Za-z']+)*)`)
	mockDay        = regexp.MustCompile(`(?i)(?:\bon\s+)?\b(today|tonight|tomorrow|next\s+week|` + mockWeekdayExpr + `)\b`)
	mockClock      = regexp.MustCompile(`(?i)(?:\b(?:at|from)\s+)?\b(` + mockClockExpr + `)|\bat\s+(\d{1,2})\b`)
	mockTrailing   = regexp.MustCompile(`(?i)(?:\s+(?:on|at|for|from|to|in|by))+$`)
	mockWord       = regexp.MustCompile(`[a-z0-9']+`)
)

var mockStopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "my": true, "from": true,
	"this": true, "that": true, "event": true, "cancel": true, "delete": true,
	"remove": true, "move": true, "change": true, "reschedule": true, "update": true,
	"rename": true, "please": true,
}

func (p *MockParser) Complete(ctx context.Context, instruction string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	task, sections := ParseInstruction(instruction)
	msg := sections[KeyMessage]
	switch task {
	case TaskClassify:
		return mockClassify(msg), nil
	case TaskExtractCreate:
		return mockJSON(mockExtractCreate(msg))
	case TaskExtractUpdate:
		return mockJSON(mockExtractUpdate(msg, decodeEvents(sections[KeyEvents])))
	case TaskExtractDelete:
		id := "None"
		if ev, ok := mockMatchEvent(msg, decodeEvents(sections[KeyEvents])); ok {
			id = ev.ID
		}
		return mockJSON(map[string]any{"eventId": id})
	case TaskAskField:
		return mockQuestion(sections[KeyMissing]), nil
	default:
		return "", fmt.Errorf("mock parser: unsupported task %q", task)
	}
}

func mockClassify(msg string) string {
	switch {
	case mockDeleteWords.MatchString(msg):
		return "delete"
	case mockUpdateWords.MatchString(msg):
		return "update"
	case mockListWords.MatchString(strings.TrimSpace(msg)):
		return "list"
	case mockCreateWords.MatchString(msg):
		return "create"
	default:
		return "unclear"
	}
}

type mockTimes struct {
	start      string
	end        string
	recurrence []string
	rest       string
}

func mockExtractTimes(text string) mockTimes {
	var out mockTimes
	rest := text

	if m := mockRecurrence.FindStringSubmatchIndex(rest); m != nil {
		phrase := strings.ToLower(strings.Join(strings.Fields(rest[m[2]:m[3]]), " "))
		var day string
		if m[4] >= 0 {
			day = rest[m[4]:m[5]]
		}
		out.recurrence = []string{mockRRule(phrase, day)}
		rest = rest[:m[0]] + " " + rest[m[1]:]
		if day != "" {
			rest = day + " " + rest
		}
	}
	if m := mockEnd.FindStringSubmatchIndex(rest); m != nil {
		out.end = rest[m[2]:m[3]]
		rest = rest[:m[0]] + " " + rest[m[1]:]
	} else if m := mockDuration.FindStringSubmatchIndex(rest); m != nil {
		out.end = "for " + rest[m[2]:m[3]]
		rest = rest[:m[0]] + " " + rest[m[1]:]
	}

	var day, clock string
	if m := mockDay.FindStringSubmatchIndex(rest); m != nil {
		day = rest[m[2]:m[3]]
		rest = rest[:m[0]] + " " + rest[m[1]:]
	}
	if m := mockClock.FindStringSubmatchIndex(rest); m != nil {
		if m[2] >= 0 {
			clock = rest[m[2]:m[3]]
		} else {
			clock = rest[m[4]:m[5]]
		}
		rest = rest[:m[0]] + " " + rest[m[1]:]
	}
	switch {
	case day != "" && clock != "":
		out.start = day + " at " + clock
	case day != "":
		out.start = day
	default:
		out.start = clock
	}
	out.rest = rest
	return out
}

func mockRRule(phrase, day string) string {
	switch {
	case phrase == "every day" || phrase == "daily":
		return "RRULE:FREQ=DAILY"
	case phrase == "every weekday" || phrase == "weekdays":
		return "RRULE:FREQ=WEEKLY;BYDAY=MO,TU,WE,TH,FR"
	case phrase == "every weekend":
		return "RRULE:FREQ=WEEKLY;BYDAY=SA,SU"
	case day != "":
		return "RRULE:FREQ=WEEKLY;BYDAY=" + strings.ToUpper(day[:2])
	default:
		return "RRULE:FREQ=WEEKLY"
	}
}

func mockExtractCreate(msg string) map[string]any {
	text := mockCalendarTo.ReplaceAllString(strings.TrimSpace(msg), " ")
	text = mockVerbPrefix.ReplaceAllString(text, "")

	var location string
	if m := mockLocation.FindStringSubmatchIndex(text); m != nil {
		location = text[m[2]:m[3]]
		text = text[:m[0]] + " " + text[m[1]:]
	}
	times := mockExtractTimes(text)

	out := map[string]any{
		"title":       mockTitle(times.rest),
		"start":       times.start,
		"end":         times.end,
		"location":    location,
		"description": "",
		"recurrence":  times.recurrence,
	}
	if times.recurrence == nil {
		out["recurrence"] = []string{}
	}
	return out
}

func mockExtractUpdate(msg string, events []EventRef) map[string]any {
	ev, ok := mockMatchEvent(msg, events)
	if !ok {
		return map[string]any{"eventId": "None"}
	}
	out := map[string]any{"eventId": ev.ID}

	change := msg
	if i := strings.LastIndex(strings.ToLower(msg), " to "); i >= 0 {
		change = msg[i+len(" to "):]
	}
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(msg)), "rename") {
		out["title"] = mockTitle(change)
		return out
	}
	times := mockExtractTimes(change)
	if times.start != "" {
		out["start"] = times.start
	}
	if times.end != "" {
		out["end"] = times.end
	}
	return out
}

func mockMatchEvent(msg string, events []EventRef) (EventRef, bool) {
	words := make(map[string]bool)
	for _, w := range mockWord.FindAllString(strings.ToLower(msg), -1) {
		if len(w) >= 3 && !mockStopWords[w] {
			words[w] = true
		}
	}
	var best EventRef
	bestScore := 0
	for _, ev := range events {
		score := 0
		for _, w := range mockWord.FindAllString(strings.ToLower(ev.Title), -1) {
			if words[w] {
				score++
			}
		}
		if score > 0 {
			if start, err := time.Parse(time.RFC3339, ev.Start); err == nil &&
				words[strings.ToLower(start.Weekday().String())] {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = ev, score
		}
	}
	return best, bestScore > 0
}

func mockTitle(rest string) string {
	title := strings.Join(strings.Fields(rest), " ")
	title = mockTrailing.ReplaceAllString(title, "")
	title = strings.Trim(title, " .,!?;:-")
	if title == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(title)
	return string(unicode.ToUpper(r)) + title[size:]
}

func mockQuestion(field string) string {
	switch strings.ToLower(strings.TrimSpace(field)) {
	case "title":
		return "What should I call this event?"
	case "start":
		return "When does it start? For example: tomorrow at 3pm."
	case "end":
		return "When does it end, or how long is it? For example: 4pm or for 1 hour."
	default:
		return "Could you tell me a bit more about the event?"
	}
}

func mockJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("mock parser: %w", err)
	}
	return string(b), nil
}
