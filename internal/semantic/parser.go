// Package semantic turns instructions into model completions and pulls
// structured payloads back out of them.
package semantic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Parser completes a single instruction and returns the raw model output.
type Parser interface {
	Complete(ctx context.Context, instruction string) (string, error)
}

// Config controls parser construction.
type Config struct {
	Mode          string
	HTTPURL       string
	HTTPToken     string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	Timeout       time.Duration
	MaxRetries    int
}

func NewParser(cfg Config) (Parser, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return newAutoParser(cfg), nil
	case "openai":
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return nil, errors.New("openai api key is required for openai mode")
		}
		return NewOpenAIParser(cfg), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("semantic parser url is required for http mode")
		}
		return NewHTTPParser(cfg), nil
	case "mock":
		return NewMockParser(), nil
	default:
		return nil, fmt.Errorf("unsupported semantic parser mode %q", cfg.Mode)
	}
}

// newAutoParser prefers OpenAI, then a plain HTTP endpoint, and keeps the
// mock parser as the last fallback so the service stays usable offline.
func newAutoParser(cfg Config) Parser {
	var primary Parser
	switch {
	case strings.TrimSpace(cfg.OpenAIAPIKey) != "":
		primary = NewOpenAIParser(cfg)
	case strings.TrimSpace(cfg.HTTPURL) != "":
		primary = NewHTTPParser(cfg)
	default:
		return NewMockParser()
	}
	return NewFallbackParser(primary, NewMockParser())
}

// Name reports a short provider label for metrics and logs.
func Name(p Parser) string {
	switch v := p.(type) {
	case *OpenAIParser:
		return "openai"
	case *HTTPParser:
		return "http"
	case *MockParser:
		return "mock"
	case *FallbackParser:
		return Name(v.primary)
	default:
		return "custom"
	}
}
