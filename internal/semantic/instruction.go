package semantic

import (
	"encoding/json"
	"strings"
)

// Task names the job an instruction asks the model to do. It is always the
// first line of an instruction.
type Task string

const (
	TaskClassify      Task = "classify"
	TaskExtractCreate Task = "extract-create"
	TaskExtractUpdate Task = "extract-update"
	TaskExtractDelete Task = "extract-delete"
	TaskAskField      Task = "ask-field"
)

// Section keys used by the dialogue prompts.
const (
	KeyMessage = "MESSAGE"
	KeyEvents  = "EVENTS"
	KeyFields  = "FIELDS"
	KeyMissing = "MISSING"
	KeyToday   = "TODAY"
)

type Section struct {
	Key   string
	Value string
}

// BuildInstruction lays out a task header, guidance prose and single-line
// KEY: value sections.
func BuildInstruction(task Task, guidance string, sections ...Section) string {
	var b strings.Builder
	b.WriteString("TASK: ")
	b.WriteString(string(task))
	b.WriteString("\n")
	if g := strings.TrimSpace(guidance); g != "" {
		b.WriteString(g)
		b.WriteString("\n")
	}
	for _, s := range sections {
		b.WriteString("\n")
		b.WriteString(s.Key)
		b.WriteString(": ")
		b.WriteString(strings.Join(strings.Fields(s.Value), " "))
	}
	return b.String()
}

// ParseInstruction reads back what BuildInstruction wrote.
func ParseInstruction(text string) (Task, map[string]string) {
	var task Task
	sections := make(map[string]string)
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if i == 0 {
			task = Task(strings.TrimSpace(strings.TrimPrefix(line, "TASK:")))
			continue
		}
		key, value, ok := strings.Cut(line, ": ")
		if !ok || key == "" || strings.ToUpper(key) != key || strings.Contains(key, " ") {
			continue
		}
		sections[key] = value
	}
	return task, sections
}

// EventRef is how existing events are shown to the model.
type EventRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Start string `json:"start"`
}

func EncodeEvents(events []EventRef) string {
	if len(events) == 0 {
		return "[]"
	}
	b, err := json.Marshal(events)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeEvents(raw string) []EventRef {
	var out []EventRef
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}
