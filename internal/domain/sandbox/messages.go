package sandbox

import (
	"encoding/json"
	"fmt"
)

// MessageKind identifies a frame lifecycle message.
type MessageKind string

const (
	MessageReady           MessageKind = "ready"
	MessageError           MessageKind = "error"
	MessagePolicyViolation MessageKind = "policyViolation"
)

// FrameMessage is one message on the one-way frame→host channel.
type FrameMessage struct {
	Kind    MessageKind `json:"kind"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
}

// ParseFrameMessage decodes and validates a message reported by an execution
// frame. The host must only trust messages whose declared source matches the
// frame it created; callers pass both origins and a mismatch is rejected
// before the payload is even decoded.
func ParseFrameMessage(raw []byte, declaredOrigin, expectedOrigin string) (*FrameMessage, error) {
	if expectedOrigin == "" || declaredOrigin != expectedOrigin {
		return nil, fmt.Errorf("frame message from unexpected origin %q", declaredOrigin)
	}

	var msg FrameMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode frame message: %w", err)
	}

	switch msg.Kind {
	case MessageReady:
		// no payload
	case MessageError:
		if msg.Message == "" {
			return nil, fmt.Errorf("error message requires a message field")
		}
	case MessagePolicyViolation:
		if msg.Code == "" {
			return nil, fmt.Errorf("policyViolation message requires a code")
		}
	default:
		return nil, fmt.Errorf("unknown frame message kind %q", msg.Kind)
	}
	return &msg, nil
}
