package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/calchat/internal/reliability"
)

// HTTPParser posts instructions to a completion endpoint that answers with
// JSON ({"text": ...}) or plain text.
type HTTPParser struct {
	url     string
	token   string
	client  *http.Client
	backoff reliability.Backoff
}

type httpCompletionRequest struct {
	Instruction string `json:"instruction"`
}

func NewHTTPParser(cfg Config) *HTTPParser {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPParser{
		url:     strings.TrimSpace(cfg.HTTPURL),
		token:   strings.TrimSpace(cfg.HTTPToken),
		client:  &http.Client{Timeout: timeout},
		backoff: parserBackoff(cfg.MaxRetries),
	}
}

func (p *HTTPParser) Complete(ctx context.Context, instruction string) (string, error) {
	payload, err := json.Marshal(httpCompletionRequest{Instruction: instruction})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var out string
	err = reliability.Retry(ctx, p.backoff, func(ctx context.Context) (bool, error) {
		text, retryable, err := p.do(ctx, payload)
		if err != nil {
			return retryable, err
		}
		out = text
		return false, nil
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

func (p *HTTPParser) do(ctx context.Context, payload []byte) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return "", false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	res, err := p.client.Do(req)
	if err != nil {
		return "", ctx.Err() == nil && reliability.IsTransient(err), fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", reliability.IsRetryableHTTPStatus(res.StatusCode),
			fmt.Errorf("semantic http status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", false, fmt.Errorf("read response: %w", err)
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return strings.TrimSpace(string(body)), false, nil
	}
	return extractText(obj), false, nil
}

func parserBackoff(retries int) reliability.Backoff {
	return reliability.Backoff{
		Retries: max(retries, 0),
		Base:    150 * time.Millisecond,
		Cap:     2 * time.Second,
	}
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"text", "output", "completion", "message", "content"} {
		if s, ok := obj[k].(string); ok {
			return s
		}
	}
	return ""
}
