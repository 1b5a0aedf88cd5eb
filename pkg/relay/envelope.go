// Package relay carries generation requests from contained surfaces to the
// host surface that owns the privileged generation channel, and pushes
// results back.
//
// Transport is a local WebSocket with tagged, request-ID-correlated
// envelopes. Handlers are idempotent: a repeated request ID replays the
// cached response instead of re-running the call, so duplicated or
// out-of-order delivery is harmless.
package relay

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// TypePrefix tags every envelope so unrelated traffic on a shared channel
// can be ignored without parsing.
const TypePrefix = "reviewpilot:"

// Envelope types.
const (
	TypeHello    = TypePrefix + "hello"
	TypePing     = TypePrefix + "ping"
	TypePong     = TypePrefix + "pong"
	TypeGenerate = TypePrefix + "generate"
	TypeResult   = TypePrefix + "result"
	TypeError    = TypePrefix + "error"
)

// Envelope is one relay message.
type Envelope struct {
	// Type is the tagged message type; envelopes without the prefix are
	// dropped unread.
	Type string `json:"type"`

	// RequestID correlates a response to its request. Request senders mint
	// one; responders echo it.
	RequestID string `json:"requestId,omitempty"`

	// Source tags the originating surface ("direct" or "relayed").
	Source string `json:"source,omitempty"`

	// Data is the type-specific payload.
	Data json.RawMessage `json:"data,omitempty"`
}

// Hello is the payload a client sends on connect, announcing its surface.
type Hello struct {
	FrameURL string `json:"frameUrl"`
	Top      bool   `json:"top"`
}

// ErrorPayload carries a relay-level failure back to the requester.
type ErrorPayload struct {
	Message string `json:"message"`
}

// NewEnvelope builds an envelope with a fresh request ID and a marshaled
// payload.
func NewEnvelope(msgType, source string, payload interface{}) (*Envelope, error) {
	env := &Envelope{
		Type:      msgType,
		RequestID: uuid.New().String(),
		Source:    source,
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
		}
		env.Data = data
	}
	return env, nil
}

// Reply builds a response envelope echoing the request's correlation ID.
func (e *Envelope) Reply(msgType string, payload interface{}) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
	}
	return &Envelope{Type: msgType, RequestID: e.RequestID, Data: data}, nil
}

// Recognized reports whether the envelope carries our tag.
func (e *Envelope) Recognized() bool {
	return strings.HasPrefix(e.Type, TypePrefix)
}

// DecodeData unmarshals the payload into out.
func (e *Envelope) DecodeData(out interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s envelope has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Data, out); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}
