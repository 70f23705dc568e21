package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeChatMessage  MessageType = "chat_message"
	TypeChatResponse MessageType = "chat_response"
	TypeErrorEvent   MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ChatMessage is one user utterance sent by a client.
type ChatMessage struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Message   string      `json:"message"`
}

// ChatResponse answers exactly one ChatMessage.
type ChatResponse struct {
	Type       MessageType `json:"type"`
	RequestID  string      `json:"request_id,omitempty"`
	Message    string      `json:"message"`
	ActionType string      `json:"action_type,omitempty"`
	Link       string      `json:"link,omitempty"`
	State      string      `json:"state,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (ChatMessage, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ChatMessage{}, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeChatMessage:
		var msg ChatMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return ChatMessage{}, err
		}
		if strings.TrimSpace(msg.Message) == "" {
			return ChatMessage{}, errors.New("invalid chat_message: empty message")
		}
		return msg, nil
	default:
		return ChatMessage{}, ErrUnsupportedType
	}
}
