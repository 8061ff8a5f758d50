package call

import (
	"context"
	"errors"
	"time"

	"github.com/1ureka/rojcall/internal/media"
)

// maxPendingCandidates bounds the candidates queued before a remote
// description is applied.
const maxPendingCandidates = 64

// session is the per-call record. It is owned by the manager loop and never
// touched from any other goroutine.
type session struct {
	gen    uint64
	callID string

	localUserID  string
	remoteUserID string
	remoteName   string
	role         Role
	media        media.Constraints
	startedAt    time.Time

	conn   media.Connection
	local  *media.LocalStream
	remote *media.RemoteStream

	// offerSent is set once the remote side knows about the call.
	offerSent bool

	// acquiring is set while local media is being acquired for place/accept.
	acquiring bool

	pendingCandidates []media.Candidate

	// reply receives the outcome of the place/accept command in flight.
	reply chan error

	timer  *time.Timer
	ctx    context.Context
	cancel context.CancelFunc
}

func newSession(parent context.Context, gen uint64, localUserID, remoteUserID string, role Role) *session {
	ctx, cancel := context.WithCancel(parent)
	return &session{
		gen:          gen,
		localUserID:  localUserID,
		remoteUserID: remoteUserID,
		role:         role,
		startedAt:    time.Now(),
		remote:       media.NewRemoteStream(),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// matches reports whether a signal from sender tagged with callID belongs to
// this session. An empty id on either side matches any call of that peer.
func (s *session) matches(sender, callID string) bool {
	if sender != s.remoteUserID {
		return false
	}
	return callID == "" || s.callID == "" || callID == s.callID
}

func (s *session) queueCandidate(c media.Candidate) bool {
	if len(s.pendingCandidates) >= maxPendingCandidates {
		return false
	}
	s.pendingCandidates = append(s.pendingCandidates, c)
	return true
}

// takeCandidates returns and clears the queued candidates.
func (s *session) takeCandidates() []media.Candidate {
	out := s.pendingCandidates
	s.pendingCandidates = nil
	return out
}

func (s *session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// resolve delivers err to the pending place/accept caller, if any.
func (s *session) resolve(err error) {
	if s.reply == nil {
		return
	}
	s.reply <- err
	s.reply = nil
}

// release frees every resource of the session in teardown order: local
// tracks, the connection, then the media handles.
func (s *session) release() error {
	s.stopTimer()
	s.cancel()

	if s.local != nil {
		s.local.Stop()
	}

	var errs []error
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	s.conn = nil
	s.local = nil
	s.remote = nil
	s.pendingCandidates = nil
	return errors.Join(errs...)
}

func (s *session) snapshot(state State) CallState {
	cs := CallState{
		State:        state,
		Role:         s.role,
		CallID:       s.callID,
		LocalUserID:  s.localUserID,
		RemoteUserID: s.remoteUserID,
		RemoteName:   s.remoteName,
		Media:        s.media,
		StartedAt:    s.startedAt,
	}
	if s.local != nil {
		cs.Media = media.Constraints{
			Audio: s.local.Enabled(media.KindAudio),
			Video: s.local.Enabled(media.KindVideo),
		}
	}
	if s.remote != nil {
		cs.HasRemote = len(s.remote.Tracks()) > 0
	}
	return cs
}
