// Package protocol defines the signaling vocabulary exchanged between users
// and the frame envelope carried over the signal transport.
package protocol

import (
	"encoding/json"
	"time"
)

// Kind identifies the kind of signaling message.
type Kind string

// Signal kinds. The string values are the wire-level signalType.
const (
	KindOffer        Kind = "offer"
	KindAnswer       Kind = "answer"
	KindIceCandidate Kind = "ice-candidate"
	KindCallEnded    Kind = "call-ended"
	KindCallRejected Kind = "call-rejected"
)

// Valid reports whether k is one of the known signal kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindOffer, KindAnswer, KindIceCandidate, KindCallEnded, KindCallRejected:
		return true
	}
	return false
}

// CarriesData reports whether messages of this kind require a payload.
func (k Kind) CarriesData() bool {
	return k == KindOffer || k == KindAnswer || k == KindIceCandidate
}

// Terminal reports whether the kind ends a negotiation.
func (k Kind) Terminal() bool {
	return k == KindCallEnded || k == KindCallRejected
}

// Message is one signaling event addressed to a single user. It is never
// mutated after creation; the transport fills Sequence on delivery.
type Message struct {
	SenderID   string          `json:"senderId"`
	ReceiverID string          `json:"receiverId"`
	Kind       Kind            `json:"signalType"`
	Data       json.RawMessage `json:"signalData"`
	CallID     string          `json:"callId,omitempty"`
	Sequence   uint64          `json:"sequence,omitempty"` // per-recipient arrival order, diagnostics only
	SentAt     time.Time       `json:"sentAt,omitzero"`
}

// WithSequence returns a copy of m carrying seq.
func (m Message) WithSequence(seq uint64) Message {
	m.Sequence = seq
	return m
}

// Notification is the advisory record emitted when a call is placed.
type Notification struct {
	UserID    string    `json:"userId"`
	Type      string    `json:"type"` // always "call" for now
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
}

// NotificationTypeCall is the only notification type emitted by the call core.
const NotificationTypeCall = "call"

// FrameType identifies the envelope carried on the WebSocket.
type FrameType string

const (
	FrameSignal       FrameType = "signal"
	FrameNotification FrameType = "notification"
	FramePing         FrameType = "ping"
	FramePong         FrameType = "pong"
	FrameError        FrameType = "error"
)

// Frame is the JSON envelope exchanged between a client and the hub.
type Frame struct {
	Type         FrameType     `json:"type"`
	Signal       *Message      `json:"signal,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
	Error        string        `json:"error,omitempty"`
}
