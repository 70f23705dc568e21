package dialogue

import (
	"context"
	"log"
	"regexp"
	"strings"
	"time"
)

// Intent is the routing decision for a fresh utterance.
type Intent string

const (
	IntentGreeting Intent = "greeting"
	IntentCreate   Intent = "create"
	IntentList     Intent = "list"
	IntentUpdate   Intent = "update"
	IntentDelete   Intent = "delete"
	IntentUnclear  Intent = "unclear"
)

var greetingPattern = regexp.MustCompile(`(?i)^(hi|hello|hey|greetings|howdy|hi there|hey there|hello there|good morning|good afternoon|good evening)[.!]*$`)

const unclearMessage = `I'm not sure what you'd like to do. Try one of these:
- Add meeting with John tomorrow at 3pm
- Change my Friday meeting to 2pm
- Cancel my dentist appointment
- Show events this week`

var quickActions = map[string]string{
	"add new class":        `Tell me the class name, the day and the time, for example: "Add Calculus every Monday at 10am".`,
	"add a new event":      `Tell me what to add and when, for example: "Add meeting with John tomorrow at 3pm".`,
	"change current event": `Tell me which event to change and how, for example: "Change my Friday meeting to 2pm".`,
	"delete event":         `Tell me which event to delete, for example: "Cancel my dentist appointment".`,
}

func isGreeting(utterance string) bool {
	return greetingPattern.MatchString(strings.Join(strings.Fields(utterance), " "))
}

func quickActionReply(utterance string) (string, bool) {
	reply, ok := quickActions[strings.ToLower(strings.Join(strings.Fields(utterance), " "))]
	return reply, ok
}

func greetingReply(now time.Time) string {
	part := "evening"
	switch h := now.Hour(); {
	case h < 12:
		part = "morning"
	case h < 17:
		part = "afternoon"
	}
	return "Good " + part + "! How can I help with your calendar?"
}

// classify routes an utterance. Only the greeting matcher runs without the
// parser; any parser failure or unknown label is unclear.
func (e *Engine) classify(ctx context.Context, utterance string) Intent {
	if isGreeting(utterance) {
		return IntentGreeting
	}
	out, err := e.complete(ctx, "classify", classifyInstruction(utterance))
	if err != nil {
		log.Printf("intent classification failed: %v", err)
		return IntentUnclear
	}
	return normalizeLabel(out)
}

func normalizeLabel(raw string) Intent {
	label := strings.ToLower(strings.TrimSpace(raw))
	label = strings.Trim(label, " \t\r\n\"'`.,!?:;*")
	switch Intent(label) {
	case IntentCreate, IntentList, IntentUpdate, IntentDelete, IntentUnclear:
		return Intent(label)
	default:
		return IntentUnclear
	}
}
