package semantic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type errParser struct{ err error }

func (p errParser) Complete(context.Context, string) (string, error) { return "", p.err }

type countingParser struct {
	text  string
	calls int
}

func (p *countingParser) Complete(context.Context, string) (string, error) {
	p.calls++
	return p.text, nil
}

func TestNewParserAutoWithoutCredentialsIsMock(t *testing.T) {
	p, err := NewParser(Config{Mode: "auto"})
	require.NoError(t, err)
	assert.IsType(t, &MockParser{}, p)
	assert.Equal(t, "mock", Name(p))
}

func TestNewParserAutoPrefersOpenAIWithMockFallback(t *testing.T) {
	p, err := NewParser(Config{Mode: "", OpenAIAPIKey: "sk-test", HTTPURL: "http://example.test"})
	require.NoError(t, err)
	fb, ok := p.(*FallbackParser)
	require.True(t, ok)
	assert.IsType(t, &OpenAIParser{}, fb.Primary())
	assert.IsType(t, &MockParser{}, fb.Secondary())
	assert.Equal(t, "openai", Name(p))
}

func TestNewParserRejectsIncompleteModes(t *testing.T) {
	_, err := NewParser(Config{Mode: "openai"})
	assert.Error(t, err)
	_, err = NewParser(Config{Mode: "http"})
	assert.Error(t, err)
	_, err = NewParser(Config{Mode: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestFallbackParserUsesFallback(t *testing.T) {
	fb := &countingParser{text: "list"}
	p := NewFallbackParser(errParser{err: errors.New("boom")}, fb)

	out, err := p.Complete(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "list", out)
	assert.Equal(t, 1, fb.calls)
}

func TestFallbackParserSkipsFallbackOnDeadline(t *testing.T) {
	fb := &countingParser{text: "list"}
	p := NewFallbackParser(errParser{err: context.DeadlineExceeded}, fb)

	_, err := p.Complete(context.Background(), "x")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, fb.calls)
}

func TestHTTPParserRetriesRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req httpCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Instruction == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"create"}`))
	}))
	defer srv.Close()

	p := NewHTTPParser(Config{HTTPURL: srv.URL, MaxRetries: 2, Timeout: time.Second})
	p.backoff.Base = time.Millisecond

	out, err := p.Complete(context.Background(), "TASK: classify")
	require.NoError(t, err)
	assert.Equal(t, "create", out)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPParserDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewHTTPParser(Config{HTTPURL: srv.URL, MaxRetries: 3, Timeout: time.Second})
	_, err := p.Complete(context.Background(), "TASK: classify")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPParserPlainTextBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("  update \n"))
	}))
	defer srv.Close()

	out, err := NewHTTPParser(Config{HTTPURL: srv.URL}).Complete(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "update", out)
}

func TestOpenAIParserComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Messages) != 2 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  body.Model,
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": " delete "},
			}},
		})
	}))
	defer srv.Close()

	p := NewOpenAIParser(Config{OpenAIAPIKey: "sk-test", OpenAIBaseURL: srv.URL + "/v1", Timeout: time.Second})
	out, err := p.Complete(context.Background(), "TASK: classify")
	require.NoError(t, err)
	assert.Equal(t, "delete", out)
}

func TestOpenAIParserRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"c","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"list"}}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIParser(Config{OpenAIAPIKey: "sk-test", OpenAIBaseURL: srv.URL + "/v1", Timeout: time.Second, MaxRetries: 2})
	p.backoff.Base = time.Millisecond

	out, err := p.Complete(context.Background(), "TASK: classify")
	require.NoError(t, err)
	assert.Equal(t, "list", out)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenAIParserDoesNotRetryAuthErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	p := NewOpenAIParser(Config{OpenAIAPIKey: "sk-test", OpenAIBaseURL: srv.URL + "/v1", Timeout: time.Second, MaxRetries: 3})
	_, err := p.Complete(context.Background(), "TASK: classify")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
