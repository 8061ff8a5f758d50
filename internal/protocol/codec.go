package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Validation errors returned by Validate and Decode.
var (
	ErrMissingParty = errors.New("protocol: sender and receiver are required")
	ErrSelfAddress  = errors.New("protocol: sender and receiver are the same user")
	ErrUnknownKind  = errors.New("protocol: unknown signal type")
	ErrMissingData  = errors.New("protocol: signal data is required")
	ErrEmptyFrame   = errors.New("protocol: frame has no body")
)

var jsonNull = []byte("null")

// Validate checks the structural invariants of a signaling message. It never
// looks inside Data beyond checking presence.
func (m *Message) Validate() error {
	if m.SenderID == "" || m.ReceiverID == "" {
		return ErrMissingParty
	}
	if m.SenderID == m.ReceiverID {
		return ErrSelfAddress
	}
	if !m.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, m.Kind)
	}
	if m.Kind.CarriesData() && isEmpty(m.Data) {
		return fmt.Errorf("%w for %s", ErrMissingData, m.Kind)
	}
	return nil
}

// normalize drops any payload attached to a kind that carries none.
func (m *Message) normalize() {
	if !m.Kind.CarriesData() {
		m.Data = nil
	}
}

func isEmpty(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, jsonNull)
}

// Encode serializes a frame for transmission.
func Encode(f *Frame) ([]byte, error) {
	if f.Signal != nil {
		f.Signal.normalize()
	}
	return json.Marshal(f)
}

// Decode parses and validates one frame.
func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("protocol: decode frame: %w", err)
	}

	switch f.Type {
	case FrameSignal:
		if f.Signal == nil {
			return nil, ErrEmptyFrame
		}
		if err := f.Signal.Validate(); err != nil {
			return nil, err
		}
		f.Signal.normalize()
	case FrameNotification:
		if f.Notification == nil || f.Notification.UserID == "" {
			return nil, ErrEmptyFrame
		}
	case FramePing, FramePong, FrameError:
	default:
		return nil, fmt.Errorf("protocol: unknown frame type %q", f.Type)
	}

	return &f, nil
}

// SignalFrame wraps a message in a signal frame.
func SignalFrame(m Message) *Frame {
	return &Frame{Type: FrameSignal, Signal: &m}
}

// NotificationFrame wraps a notification in a notification frame.
func NotificationFrame(n Notification) *Frame {
	return &Frame{Type: FrameNotification, Notification: &n}
}

// ErrorFrame builds an error frame with the given reason.
func ErrorFrame(reason string) *Frame {
	return &Frame{Type: FrameError, Error: reason}
}
