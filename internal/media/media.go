// Package media is the boundary to the peer-to-peer media engine. The call
// core only sees opaque description and candidate payloads, connection state
// notifications and local/remote media handles; codecs, packet routing and
// NAT traversal stay behind the Engine.
package media

import (
	"context"
	"encoding/json"
	"errors"
)

// Description is an opaque session description payload (offer or answer).
type Description = json.RawMessage

// Candidate is an opaque ICE candidate descriptor.
type Candidate = json.RawMessage

// Kind is the kind of a media track.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Constraints selects which local media kinds to acquire.
type Constraints struct {
	Audio bool `json:"audio"`
	Video bool `json:"video"`
}

// ConnState is the connection state reported by the engine.
type ConnState int

const (
	ConnNew ConnState = iota
	ConnConnecting
	ConnConnected
	ConnDisconnected
	ConnFailed
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnNew:
		return "new"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnDisconnected:
		return "disconnected"
	case ConnFailed:
		return "failed"
	case ConnClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Lost reports whether the state means the established path went away.
func (s ConnState) Lost() bool {
	return s == ConnDisconnected || s == ConnFailed
}

// Handlers receives engine events for one connection. Callbacks may run on
// engine goroutines; receivers must not block.
type Handlers struct {
	OnICECandidate func(Candidate)
	OnTrack        func(RemoteTrack)
	OnStateChange  func(ConnState)
}

// Connection is one peer connection handle.
type Connection interface {
	CreateOffer() (Description, error)
	CreateAnswer() (Description, error)
	SetLocalDescription(Description) error
	SetRemoteDescription(Description) error
	AddICECandidate(Candidate) error
	AddLocalTrack(Track) error

	// RemoteDescriptionSet reports whether a remote description has been applied.
	RemoteDescriptionSet() bool

	Close() error
}

// Engine creates peer connections and acquires local media.
type Engine interface {
	NewConnection(iceServers []string, h Handlers) (Connection, error)

	// AcquireLocal may block for a noticeable time (device permission,
	// encoder start-up) and must honor ctx.
	AcquireLocal(ctx context.Context, c Constraints) (*LocalStream, error)
}

var (
	// ErrForeignTrack is returned when a track created by another engine is
	// added to a connection.
	ErrForeignTrack = errors.New("media: track does not belong to this engine")

	// ErrClosed is returned by operations on a closed connection.
	ErrClosed = errors.New("media: connection closed")
)
