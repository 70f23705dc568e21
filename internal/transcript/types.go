// Package transcript records the chat turns of each session.
package transcript

import (
	"context"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatTurn is one message in a session transcript. Turns are append-only.
type ChatTurn struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"sessionId"`
	Message     string    `json:"message"`
	Role        Role      `json:"role"`
	Timestamp   time.Time `json:"timestamp"`
	PIIRedacted bool      `json:"piiRedacted"`
}

// Store persists chat transcripts keyed by session.
type Store interface {
	Append(ctx context.Context, turn ChatTurn) error
	All(ctx context.Context, sessionID string) ([]ChatTurn, error)
	Clear(ctx context.Context, sessionID string) error
	Close() error
}
