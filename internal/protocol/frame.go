// Package protocol defines the frames exchanged with the remote agent over the
// chat channel.
//
// Inbound frames are JSON objects discriminated by "type":
//
//	{"type": "step",  "content": "searching web"}
//	{"type": "token", "content": "Hel"}
//	{"type": "error", "content": "model unavailable"}
//	{"type": "done"}
//
// Outbound frames are the user's raw text and are not wrapped.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformedFrame is returned for payloads that are not a valid frame.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnknownFrameType is returned for well-formed frames of a type this
	// client does not understand. Callers should ignore such frames.
	ErrUnknownFrameType = errors.New("unknown frame type")
)

// Type discriminates frames on the wire.
type Type string

const (
	TypeStep  Type = "step"
	TypeToken Type = "token"
	TypeError Type = "error"
	TypeDone  Type = "done"
)

// Frame is one decoded inbound protocol event. The concrete type is one of
// Step, Token, Error or Done.
type Frame interface {
	Type() Type
	isFrame()
}

// Step is an intermediate trace emitted before output tokens.
type Step struct {
	Content string
}

// Token is a fragment of the assistant response.
type Token struct {
	Content string
}

// Error is an application error reported by the remote agent.
type Error struct {
	Content string
}

// Done marks the end of a response.
type Done struct{}

func (Step) Type() Type  { return TypeStep }
func (Token) Type() Type { return TypeToken }
func (Error) Type() Type { return TypeError }
func (Done) Type() Type  { return TypeDone }

func (Step) isFrame()  {}
func (Token) isFrame() {}
func (Error) isFrame() {}
func (Done) isFrame()  {}

// wireFrame is the JSON shape of a frame. Content is a pointer so a missing
// field can be told apart from an empty one.
type wireFrame struct {
	Type    Type    `json:"type"`
	Content *string `json:"content,omitempty"`
}

// Decode parses one inbound payload.
func Decode(data []byte) (Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if w.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}

	switch w.Type {
	case TypeDone:
		return Done{}, nil
	case TypeStep, TypeToken, TypeError:
		if w.Content == nil {
			return nil, fmt.Errorf("%w: %s frame without content", ErrMalformedFrame, w.Type)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrameType, w.Type)
	}

	switch w.Type {
	case TypeStep:
		return Step{Content: *w.Content}, nil
	case TypeToken:
		return Token{Content: *w.Content}, nil
	default:
		return Error{Content: *w.Content}, nil
	}
}

// Encode serializes a frame for the wire.
func Encode(f Frame) ([]byte, error) {
	var w wireFrame
	switch v := f.(type) {
	case Step:
		w = wireFrame{Type: TypeStep, Content: &v.Content}
	case Token:
		w = wireFrame{Type: TypeToken, Content: &v.Content}
	case Error:
		w = wireFrame{Type: TypeError, Content: &v.Content}
	case Done:
		w = wireFrame{Type: TypeDone}
	default:
		return nil, fmt.Errorf("encode frame: unsupported type %T", f)
	}
	return json.Marshal(w)
}
