package call

import "errors"

var (
	// ErrBusy is returned when a command needs an idle manager but a call is
	// already in progress.
	ErrBusy = errors.New("call: already in a call")

	// ErrNoCall is returned by accept/reject without a ringing call and by end
	// while idle.
	ErrNoCall = errors.New("call: no call to act on")

	// ErrCallCancelled is returned to a pending placeCall/accept when the
	// session was torn down before the operation completed.
	ErrCallCancelled = errors.New("call: cancelled")

	// ErrGlare is returned to a pending placeCall abandoned in favour of the
	// remote peer's simultaneous offer.
	ErrGlare = errors.New("call: superseded by incoming call from the same peer")

	// ErrTimeout is returned to a pending placeCall that got no answer in time.
	ErrTimeout = errors.New("call: no answer")

	// ErrCallNotInitiated wraps a transport failure while sending the offer.
	ErrCallNotInitiated = errors.New("call could not be initiated")

	// ErrMediaUnavailable wraps a local media acquisition failure.
	ErrMediaUnavailable = errors.New("call: local media unavailable")

	// ErrNoLocalMedia is returned by toggles when no local track of the kind exists.
	ErrNoLocalMedia = errors.New("call: no local media")

	// ErrInvalidPeer is returned when placing a call to an empty id or to oneself.
	ErrInvalidPeer = errors.New("call: invalid remote user")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("call: manager closed")
)
