package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/calchat/internal/app"
	"github.com/ent0n29/calchat/internal/calendar"
	"github.com/ent0n29/calchat/internal/config"
	"github.com/ent0n29/calchat/internal/dialogue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigCommandPrintsMaskedTOML(t *testing.T) {
	setTestEnv(t)
	t.Setenv(config.KeyOpenAIAPIKey, "sk-abcdefghijklmnop")
	t.Setenv(config.KeySemanticParserMode, "openai")

	stdout, _, err := executeCLI(t, "", "config")
	require.NoError(t, err)
	assert.Contains(t, stdout, "semantic_parser_mode = 'openai'")
	assert.NotContains(t, stdout, "abcdefghijklmnop")
}

func TestConfigCommandReportsInvalidValues(t *testing.T) {
	setTestEnv(t)
	t.Setenv(config.KeyDefaultEventDuration, "soon")

	_, _, err := executeCLI(t, "", "config")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config error")
}

func TestImportCommandStoresEvents(t *testing.T) {
	dbPath := setTestEnv(t)
	icsPath := filepath.Join(t.TempDir(), "team.ics")
	require.NoError(t, os.WriteFile(icsPath, []byte(strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//EN",
		"BEGIN:VEVENT",
		"UID:standup-1",
		"DTSTAMP:20250501T080000Z",
		"DTSTART:20250505T090000Z",
		"DTEND:20250505T091500Z",
		"SUMMARY:Standup",
		"RRULE:FREQ=WEEKLY;BYDAY=MO,WE,FR",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:offsite-1",
		"DTSTAMP:20250501T080000Z",
		"DTSTART;VALUE=DATE:20250520",
		"DTEND;VALUE=DATE:20250521",
		"SUMMARY:Offsite",
		"END:VEVENT",
		"END:VCALENDAR",
		"",
	}, "\r\n")), 0o644))

	stdout, _, err := executeCLI(t, "", "import", icsPath)
	require.NoError(t, err)
	assert.Contains(t, stdout, "imported 2 events into sqlite store")

	store, err := calendar.NewSQLiteStore(context.Background(), dbPath, "http://localhost:8080")
	require.NoError(t, err)
	defer store.Close()
	events, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Standup", events[0].Summary)
	assert.Equal(t, []string{"RRULE:FREQ=WEEKLY;BYDAY=MO,WE,FR"}, events[0].Recurrence)
	assert.Equal(t, "Offsite", events[1].Summary)
	assert.True(t, events[1].AllDay)
}

func TestImportCommandMissingFile(t *testing.T) {
	setTestEnv(t)
	_, _, err := executeCLI(t, "", "import", filepath.Join(t.TempDir(), "nope.ics"))
	require.Error(t, err)
}

func TestChatLocalCreatesEvent(t *testing.T) {
	setTestEnv(t)
	stdout, _, err := executeCLI(t,
		"add lunch with Sam tomorrow at noon\nyes\n/quit\n",
		"chat", "--local", "--plain", "--user", "alice",
	)
	require.NoError(t, err)
	assert.Contains(t, stdout, "### New event")
	assert.Contains(t, stdout, `Reply "yes" to confirm.`)
	assert.Contains(t, stdout, "Event added to your calendar!")
	assert.Contains(t, stdout, "link: http://localhost:8080/v1/calendar/events/")
}

func TestChatOverHTTP(t *testing.T) {
	setTestEnv(t)
	cfg, err := config.Load("")
	require.NoError(t, err)
	built, err := app.Build(context.Background(), cfg)
	require.NoError(t, err)
	defer built.Cleanup()
	srv := httptest.NewServer(built.API.Router())
	defer srv.Close()

	stdout, _, err := executeCLI(t,
		"hello\nadd lunch with Sam tomorrow at noon\nno\n/clear\n",
		"chat", "--server", srv.URL, "--plain", "--user", "bob",
	)
	require.NoError(t, err)
	assert.Contains(t, stdout, "How can I help with your calendar?")
	assert.Contains(t, stdout, "### New event")
	assert.Contains(t, stdout, "history cleared")

	turns, err := built.Engine.History(context.Background(), "bob")
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestChatShowsServerErrors(t *testing.T) {
	setTestEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"engine is shutting down","code":"shutting_down"}`))
	}))
	defer srv.Close()

	stdout, _, err := executeCLI(t, "hi there\n", "chat", "--server", srv.URL, "--plain")
	require.NoError(t, err)
	assert.Contains(t, stdout, "error: engine is shutting down (shutting_down)")
}

func TestRunChatSkipsBlankLines(t *testing.T) {
	client := &recordingClient{}
	out := &bytes.Buffer{}
	in := newBasicLineInput(strings.NewReader("\n  \nlist my events today\n/exit\nnever sent\n"), nil)

	err := runChat(context.Background(), client, in, out, func(s string, _ int) string { return s + "\n" })
	require.NoError(t, err)
	assert.Equal(t, []string{"list my events today"}, client.sent)
	assert.Contains(t, out.String(), "echo: list my events today")
}

func TestRenderMarkdownFallsBackOnEmpty(t *testing.T) {
	assert.Equal(t, "", renderMarkdown("   ", 80))
	assert.Contains(t, renderMarkdown("### New event\n**Title:** Lunch", 80), "Lunch")
}

type recordingClient struct {
	sent []string
}

func (c *recordingClient) Send(_ context.Context, message string) (dialogue.Response, error) {
	c.sent = append(c.sent, message)
	return dialogue.Response{Message: "echo: " + message}, nil
}

func (c *recordingClient) Clear(context.Context) error { return nil }
func (c *recordingClient) Close() error                { return nil }

func executeCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	root := newRootCmd()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

// setTestEnv points the CLI at a fresh sqlite file with the mock parser and
// returns the database path.
func setTestEnv(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "calendar.db")
	for key, value := range map[string]string{
		config.KeyPublicURL:                "http://localhost:8080",
		config.KeySessionInactivityTimeout: "30m",
		config.KeyExternalCallTimeout:      "5s",
		config.KeyDefaultEventDuration:     "60m",
		config.KeyMetricsNamespace:         "test_cli_" + strconv.FormatInt(time.Now().UnixNano(), 10),
		config.KeyTimeZone:                 "UTC",
		config.KeySemanticParserMode:       "mock",
		config.KeySemanticParserURL:        "",
		config.KeySemanticParserToken:      "",
		config.KeyOpenAIAPIKey:             "",
		config.KeyOpenAIBaseURL:            "",
		config.KeyCalendarStore:            "sqlite",
		config.KeyCalendarSQLitePath:       dbPath,
		config.KeyDatabaseURL:              "",
	} {
		t.Setenv(key, value)
	}
	return dbPath
}
