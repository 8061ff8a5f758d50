package call

import (
	"context"
	"time"

	"github.com/looplab/fsm"

	"github.com/1ureka/rojcall/internal/media"
)

// State is the call state of one user.
type State string

const (
	StateIdle    State = "idle"
	StateCalling State = "calling" // outbound offer sent, awaiting answer
	StateRinging State = "ringing" // inbound offer received, awaiting accept/reject
	StateActive  State = "active"
	StateEnded   State = "ended" // terminal, immediately followed by idle
)

// Role is the local side of a call.
type Role string

const (
	RoleNone   Role = ""
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

// Reason explains why a call ended.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonLocalHangup       Reason = "local-hangup"
	ReasonRemoteHangup      Reason = "remote-hangup"
	ReasonRejected          Reason = "rejected"
	ReasonDeclined          Reason = "declined"
	ReasonTimeout           Reason = "timeout"
	ReasonConnectionLost    Reason = "connection-lost"
	ReasonMediaFailure      Reason = "media-failure"
	ReasonTransportFailure  Reason = "transport-failure"
	ReasonNegotiationFailed Reason = "negotiation-failed"
	ReasonGlare             Reason = "glare"
	ReasonShutdown          Reason = "shutdown"
)

// fsm event names.
const (
	evDial   = "dial"
	evOffer  = "offer"
	evAccept = "accept"
	evAnswer = "answer"
	evEnd    = "end"
	evReset  = "reset"
)

// StateChange is delivered to observers for every transition.
type StateChange struct {
	From         State
	To           State
	RemoteUserID string
	CallID       string
	Reason       Reason
	At           time.Time
}

// CallState is a read-only snapshot of the current call.
type CallState struct {
	State        State
	Role         Role
	CallID       string
	LocalUserID  string
	RemoteUserID string
	RemoteName   string
	Media        media.Constraints // enabled local media kinds
	StartedAt    time.Time
	EndedAt      time.Time // set on the ended snapshot only
	HasRemote    bool      // a remote track has been received
}

// InCall reports whether the snapshot holds a non-idle session.
func (s CallState) InCall() bool {
	return s.State != StateIdle && s.State != StateEnded
}

// newStateMachine builds the transition table. onEnter runs synchronously
// for every successful transition.
func newStateMachine(onEnter func(e *fsm.Event)) *fsm.FSM {
	return fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			{Name: evDial, Src: []string{string(StateIdle)}, Dst: string(StateCalling)},
			{Name: evOffer, Src: []string{string(StateIdle)}, Dst: string(StateRinging)},
			{Name: evAccept, Src: []string{string(StateRinging)}, Dst: string(StateActive)},
			{Name: evAnswer, Src: []string{string(StateCalling)}, Dst: string(StateActive)},
			{Name: evEnd, Src: []string{string(StateCalling), string(StateRinging), string(StateActive)}, Dst: string(StateEnded)},
			{Name: evReset, Src: []string{string(StateEnded)}, Dst: string(StateIdle)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				onEnter(e)
			},
		},
	)
}
