package semantic

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// FallbackParser attempts a primary parser first and falls back on error.
type FallbackParser struct {
	primary  Parser
	fallback Parser
}

func NewFallbackParser(primary, fallback Parser) *FallbackParser {
	return &FallbackParser{primary: primary, fallback: fallback}
}

func (p *FallbackParser) Primary() Parser {
	if p == nil {
		return nil
	}
	return p.primary
}

func (p *FallbackParser) Secondary() Parser {
	if p == nil {
		return nil
	}
	return p.fallback
}

func (p *FallbackParser) Complete(ctx context.Context, instruction string) (string, error) {
	if p == nil || p.primary == nil {
		if p != nil && p.fallback != nil {
			return p.fallback.Complete(ctx, instruction)
		}
		return "", fmt.Errorf("fallback parser misconfigured")
	}

	out, err := p.primary.Complete(ctx, instruction)
	if err == nil {
		return out, nil
	}
	// A cancelled turn must not be answered by the fallback.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "", err
	}
	if p.fallback == nil {
		return "", err
	}
	log.Printf("semantic parser primary failed, using fallback: %v", err)
	fbOut, fbErr := p.fallback.Complete(ctx, instruction)
	if fbErr != nil {
		return "", fmt.Errorf("primary parser error: %w; fallback parser error: %v", err, fbErr)
	}
	return fbOut, nil
}
