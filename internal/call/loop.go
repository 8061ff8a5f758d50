package call

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/1ureka/rojcall/internal/media"
	"github.com/1ureka/rojcall/internal/protocol"
)

// Events raised by the media engine and timers. gen identifies the session
// they belong to; events for a finished session are discarded.

type mediaReady struct {
	gen   uint64
	local *media.LocalStream
	err   error
}

type localCandidate struct {
	gen  uint64
	cand media.Candidate
}

type remoteTrack struct {
	gen   uint64
	track media.RemoteTrack
}

type connChange struct {
	gen   uint64
	state media.ConnState
}

type timeoutEvent struct {
	gen   uint64
	state State
}

func (m *Manager) run() {
	defer close(m.done)
	for ev := range m.events {
		if m.handle(ev) {
			return
		}
	}
}

// handle processes one event and reports whether the loop must stop.
func (m *Manager) handle(ev any) bool {
	switch ev := ev.(type) {
	case signalEvent:
		m.handleSignal(ev.msg)
	case placeCmd:
		m.handlePlace(ev)
	case acceptCmd:
		m.handleAccept(ev)
	case rejectCmd:
		ev.reply <- m.handleReject()
	case endCmd:
		ev.reply <- m.handleEnd()
	case toggleCmd:
		ev.reply <- m.handleToggle(ev.kind)
	case mediaReady:
		m.handleMediaReady(ev)
	case localCandidate:
		m.handleLocalCandidate(ev)
	case remoteTrack:
		m.handleRemoteTrack(ev)
	case connChange:
		m.handleConnChange(ev)
	case timeoutEvent:
		m.handleTimeout(ev)
	case closeCmd:
		m.shutdown()
		return true
	}
	return false
}

// live returns the current session if it is generation gen.
func (m *Manager) live(gen uint64) *session {
	if m.sess != nil && m.sess.gen == gen {
		return m.sess
	}
	return nil
}

// ---------------------------------------------------------------------------
// Local commands
// ---------------------------------------------------------------------------

func (m *Manager) handlePlace(cmd placeCmd) {
	if cmd.remote == "" || cmd.remote == m.userID {
		cmd.reply <- ErrInvalidPeer
		return
	}
	if m.sess != nil {
		cmd.reply <- ErrBusy
		return
	}
	if !cmd.media.Audio && !cmd.media.Video {
		cmd.media.Audio = true
	}

	m.gen++
	s := newSession(m.ctx, m.gen, m.userID, cmd.remote, RoleCaller)
	s.callID = uuid.NewString()
	s.media = cmd.media
	s.reply = cmd.reply
	m.sess = s

	m.log.Infof("calling %s (call %s)", s.remoteUserID, s.callID)
	m.fire(evDial, ReasonNone, s)
	m.armTimer(s, StateCalling, m.opts.AnswerTimeout)
	m.acquire(s)
}

func (m *Manager) handleAccept(cmd acceptCmd) {
	s := m.sess
	if s == nil || m.current() != StateRinging {
		cmd.reply <- ErrNoCall
		return
	}
	if s.acquiring {
		cmd.reply <- ErrBusy
		return
	}
	s.stopTimer()
	s.reply = cmd.reply
	m.log.Infof("accepting call from %s", s.remoteUserID)
	m.acquire(s)
}

func (m *Manager) handleReject() error {
	s := m.sess
	if s == nil || m.current() != StateRinging {
		return ErrNoCall
	}
	_ = m.sendSignal(s, protocol.KindCallRejected, nil)
	m.teardown(ReasonDeclined, nil)
	return nil
}

func (m *Manager) handleEnd() error {
	s := m.sess
	if s == nil {
		return ErrNoCall
	}
	if s.offerSent {
		_ = m.sendSignal(s, protocol.KindCallEnded, nil)
	}
	m.teardown(ReasonLocalHangup, nil)
	return nil
}

func (m *Manager) handleToggle(kind media.Kind) toggleResult {
	s := m.sess
	if s == nil || s.local == nil {
		return toggleResult{err: ErrNoLocalMedia}
	}
	enabled, ok := s.local.Toggle(kind)
	if !ok {
		return toggleResult{err: ErrNoLocalMedia}
	}
	if kind == media.KindAudio {
		s.media.Audio = enabled
	} else {
		s.media.Video = enabled
	}
	m.publish(s, m.current())
	return toggleResult{enabled: enabled}
}

func (m *Manager) shutdown() {
	s := m.sess
	if s == nil {
		return
	}
	if s.offerSent {
		_ = m.sendSignal(s, protocol.KindCallEnded, nil)
	}
	m.teardown(ReasonShutdown, ErrClosed)
}

// ---------------------------------------------------------------------------
// Media acquisition
// ---------------------------------------------------------------------------

// acquire requests local media off the loop. The result comes back as a
// mediaReady event.
func (m *Manager) acquire(s *session) {
	s.acquiring = true
	ctx, gen, c := s.ctx, s.gen, s.media
	if s.role == RoleCallee {
		c = m.opts.AcceptMedia
	}
	go func() {
		local, err := m.opts.Engine.AcquireLocal(ctx, c)
		m.post(mediaReady{gen: gen, local: local, err: err})
	}()
}

func (m *Manager) handleMediaReady(ev mediaReady) {
	s := m.live(ev.gen)
	if s == nil || !s.acquiring {
		// The call ended while media was being acquired.
		if ev.local != nil {
			ev.local.Stop()
		}
		m.log.Debugf("discarding local media of a finished call")
		return
	}
	s.acquiring = false

	if ev.err != nil {
		m.log.Errorf("acquire local media: %v", ev.err)
		if s.role == RoleCallee {
			_ = m.sendSignal(s, protocol.KindCallRejected, nil)
		}
		m.teardown(ReasonMediaFailure, fmt.Errorf("%w: %w", ErrMediaUnavailable, ev.err))
		return
	}
	s.local = ev.local

	if s.role == RoleCaller {
		m.sendOffer(s)
	} else {
		m.sendAnswer(s)
	}
}

func (m *Manager) sendOffer(s *session) {
	conn, err := m.newConnection(s)
	if err != nil {
		m.log.Errorf("create connection: %v", err)
		m.teardown(ReasonMediaFailure, fmt.Errorf("%w: %w", ErrCallNotInitiated, err))
		return
	}
	s.conn = conn

	if err := addTracks(conn, s.local); err != nil {
		m.log.Errorf("attach local media: %v", err)
		m.teardown(ReasonMediaFailure, fmt.Errorf("%w: %w", ErrMediaUnavailable, err))
		return
	}

	offer, err := conn.CreateOffer()
	if err == nil {
		err = conn.SetLocalDescription(offer)
	}
	if err != nil {
		m.log.Errorf("create offer: %v", err)
		m.teardown(ReasonNegotiationFailed, fmt.Errorf("%w: %w", ErrCallNotInitiated, err))
		return
	}

	if err := m.sendSignal(s, protocol.KindOffer, offer); err != nil {
		m.teardown(ReasonTransportFailure, fmt.Errorf("%w: %w", ErrCallNotInitiated, err))
		return
	}
	s.offerSent = true
	m.publish(s, m.current())
	m.notifyCallee(s)
	s.resolve(nil)
}

func (m *Manager) sendAnswer(s *session) {
	if err := addTracks(s.conn, s.local); err != nil {
		m.log.Errorf("attach local media: %v", err)
		_ = m.sendSignal(s, protocol.KindCallRejected, nil)
		m.teardown(ReasonMediaFailure, fmt.Errorf("%w: %w", ErrMediaUnavailable, err))
		return
	}

	answer, err := s.conn.CreateAnswer()
	if err == nil {
		err = s.conn.SetLocalDescription(answer)
	}
	if err != nil {
		m.log.Errorf("create answer: %v", err)
		_ = m.sendSignal(s, protocol.KindCallRejected, nil)
		m.teardown(ReasonNegotiationFailed, fmt.Errorf("create answer: %w", err))
		return
	}

	if err := m.sendSignal(s, protocol.KindAnswer, answer); err != nil {
		m.teardown(ReasonTransportFailure, fmt.Errorf("send answer: %w", err))
		return
	}
	m.fire(evAccept, ReasonNone, s)
	m.flushCandidates(s)
	s.resolve(nil)
}

func addTracks(conn media.Connection, local *media.LocalStream) error {
	for _, t := range local.Tracks() {
		if err := conn.AddLocalTrack(t); err != nil {
			return fmt.Errorf("add %s track: %w", t.Kind(), err)
		}
	}
	return nil
}

func (m *Manager) newConnection(s *session) (media.Connection, error) {
	gen := s.gen
	return m.opts.Engine.NewConnection(m.opts.ICEServers, media.Handlers{
		OnICECandidate: func(c media.Candidate) {
			m.post(localCandidate{gen: gen, cand: c})
		},
		OnTrack: func(t media.RemoteTrack) {
			m.post(remoteTrack{gen: gen, track: t})
		},
		OnStateChange: func(state media.ConnState) {
			m.post(connChange{gen: gen, state: state})
		},
	})
}

// ---------------------------------------------------------------------------
// Inbound signals
// ---------------------------------------------------------------------------

func (m *Manager) handleSignal(msg protocol.Message) {
	if msg.ReceiverID != m.userID {
		m.log.Debugf("dropping %s addressed to %s", msg.Kind, msg.ReceiverID)
		return
	}
	if err := msg.Validate(); err != nil {
		m.log.Debugf("dropping invalid signal from %s: %v", msg.SenderID, err)
		return
	}

	switch msg.Kind {
	case protocol.KindOffer:
		m.handleOffer(msg)
	case protocol.KindAnswer:
		m.handleAnswer(msg)
	case protocol.KindIceCandidate:
		m.handleRemoteCandidate(msg)
	case protocol.KindCallEnded, protocol.KindCallRejected:
		m.handleRemoteEnd(msg)
	}
}

func (m *Manager) handleOffer(msg protocol.Message) {
	s := m.sess
	if s == nil {
		m.ring(msg)
		return
	}

	if s.remoteUserID == msg.SenderID {
		if msg.CallID != "" && msg.CallID == s.callID {
			m.log.Debugf("dropping duplicate offer for call %s", msg.CallID)
			return
		}
		if m.current() == StateCalling {
			// Both sides dialed each other. The lower user id keeps its call.
			if m.userID < msg.SenderID {
				m.log.Infof("simultaneous call with %s, keeping outbound call", msg.SenderID)
				return
			}
			m.log.Infof("simultaneous call with %s, taking inbound call", msg.SenderID)
			m.teardown(ReasonGlare, ErrGlare)
			m.ring(msg)
			return
		}
	}

	m.log.Infof("busy, rejecting call from %s", msg.SenderID)
	m.opts.Metrics.BusyRejected()
	_ = m.send(protocol.Message{
		SenderID:   m.userID,
		ReceiverID: msg.SenderID,
		Kind:       protocol.KindCallRejected,
		CallID:     msg.CallID,
		SentAt:     time.Now(),
	})
}

// ring moves Idle -> Ringing for an inbound offer.
func (m *Manager) ring(msg protocol.Message) {
	m.gen++
	s := newSession(m.ctx, m.gen, m.userID, msg.SenderID, RoleCallee)
	s.callID = msg.CallID
	s.media = m.opts.AcceptMedia
	s.offerSent = true
	s.remoteName = m.lookupName(msg.SenderID)

	conn, err := m.newConnection(s)
	if err == nil {
		s.conn = conn
		err = conn.SetRemoteDescription(msg.Data)
	}
	if err != nil {
		m.log.Errorf("apply offer from %s: %v", msg.SenderID, err)
		_ = s.release()
		_ = m.sendSignal(s, protocol.KindCallRejected, nil)
		return
	}

	m.sess = s
	m.log.Infof("incoming call from %s (%s)", s.remoteName, s.remoteUserID)
	m.fire(evOffer, ReasonNone, s)
	m.armTimer(s, StateRinging, m.opts.RingTimeout)
}

func (m *Manager) lookupName(userID string) string {
	if m.opts.Directory == nil {
		return UnknownCaller
	}
	ctx, cancel := context.WithTimeout(m.ctx, m.opts.LookupTimeout)
	defer cancel()
	name, err := m.opts.Directory.DisplayName(ctx, userID)
	if err != nil || name == "" {
		if err != nil {
			m.log.Debugf("lookup %s: %v", userID, err)
		}
		return UnknownCaller
	}
	return name
}

func (m *Manager) handleAnswer(msg protocol.Message) {
	s := m.sess
	if s == nil || m.current() != StateCalling || s.conn == nil || !s.matches(msg.SenderID, msg.CallID) {
		m.log.Debugf("dropping unexpected answer from %s", msg.SenderID)
		return
	}

	if err := s.conn.SetRemoteDescription(msg.Data); err != nil {
		m.log.Errorf("apply answer from %s: %v", msg.SenderID, err)
		_ = m.sendSignal(s, protocol.KindCallEnded, nil)
		m.teardown(ReasonNegotiationFailed, nil)
		return
	}

	s.stopTimer()
	m.flushCandidates(s)
	m.log.Infof("%s answered", s.remoteUserID)
	m.fire(evAnswer, ReasonNone, s)
}

func (m *Manager) handleRemoteCandidate(msg protocol.Message) {
	s := m.sess
	if s == nil || !s.matches(msg.SenderID, msg.CallID) {
		m.log.Debugf("dropping ICE candidate from %s", msg.SenderID)
		return
	}
	if s.conn == nil || !s.conn.RemoteDescriptionSet() {
		if !s.queueCandidate(msg.Data) {
			m.log.Debugf("candidate queue full, dropping candidate from %s", msg.SenderID)
		}
		return
	}
	if err := s.conn.AddICECandidate(msg.Data); err != nil {
		m.log.Debugf("add ICE candidate: %v", err)
	}
}

func (m *Manager) flushCandidates(s *session) {
	for _, c := range s.takeCandidates() {
		if err := s.conn.AddICECandidate(c); err != nil {
			m.log.Debugf("add queued ICE candidate: %v", err)
		}
	}
}

func (m *Manager) handleRemoteEnd(msg protocol.Message) {
	s := m.sess
	if s == nil {
		return
	}
	if !s.matches(msg.SenderID, msg.CallID) {
		m.log.Debugf("dropping stale %s from %s", msg.Kind, msg.SenderID)
		return
	}

	reason := ReasonRemoteHangup
	if msg.Kind == protocol.KindCallRejected {
		reason = ReasonRejected
	}
	m.log.Infof("%s from %s", msg.Kind, msg.SenderID)
	m.teardown(reason, nil)
}

// ---------------------------------------------------------------------------
// Engine and timer events
// ---------------------------------------------------------------------------

func (m *Manager) handleLocalCandidate(ev localCandidate) {
	s := m.live(ev.gen)
	if s == nil {
		return
	}
	_ = m.sendSignal(s, protocol.KindIceCandidate, ev.cand)
}

func (m *Manager) handleRemoteTrack(ev remoteTrack) {
	s := m.live(ev.gen)
	if s == nil || s.remote == nil {
		return
	}
	s.remote.Add(ev.track)
	m.log.Debugf("remote %s track %s", ev.track.Kind(), ev.track.ID())
	m.publish(s, m.current())
}

func (m *Manager) handleConnChange(ev connChange) {
	s := m.live(ev.gen)
	if s == nil {
		return
	}
	m.log.Debugf("connection %s", ev.state)
	if ev.state.Lost() && m.current() == StateActive {
		m.log.Warnf("connection to %s lost", s.remoteUserID)
		m.teardown(ReasonConnectionLost, nil)
	}
}

func (m *Manager) armTimer(s *session, state State, d time.Duration) {
	if d <= 0 {
		return
	}
	gen := s.gen
	s.timer = time.AfterFunc(d, func() {
		m.post(timeoutEvent{gen: gen, state: state})
	})
}

func (m *Manager) handleTimeout(ev timeoutEvent) {
	s := m.live(ev.gen)
	if s == nil || m.current() != ev.state {
		return
	}

	switch ev.state {
	case StateCalling:
		m.log.Infof("no answer from %s", s.remoteUserID)
		if s.offerSent {
			_ = m.sendSignal(s, protocol.KindCallEnded, nil)
		}
		m.teardown(ReasonTimeout, ErrTimeout)
	case StateRinging:
		if s.acquiring {
			return
		}
		m.log.Infof("missed call from %s", s.remoteUserID)
		_ = m.sendSignal(s, protocol.KindCallRejected, nil)
		m.teardown(ReasonTimeout, nil)
	}
}

// ---------------------------------------------------------------------------
// Outbound helpers
// ---------------------------------------------------------------------------

func (m *Manager) sendSignal(s *session, kind protocol.Kind, data []byte) error {
	return m.send(protocol.Message{
		SenderID:   m.userID,
		ReceiverID: s.remoteUserID,
		Kind:       kind,
		Data:       data,
		CallID:     s.callID,
		SentAt:     time.Now(),
	})
}

func (m *Manager) send(msg protocol.Message) error {
	ctx, cancel := context.WithTimeout(m.ctx, m.opts.SendTimeout)
	defer cancel()
	if err := m.opts.Sender.Send(ctx, msg); err != nil {
		m.log.Warnf("send %s to %s: %v", msg.Kind, msg.ReceiverID, err)
		return err
	}
	return nil
}

func (m *Manager) notifyCallee(s *session) {
	if m.opts.Notifier == nil {
		return
	}
	n := protocol.Notification{
		UserID:    s.remoteUserID,
		Type:      protocol.NotificationTypeCall,
		Title:     "Incoming call",
		Message:   fmt.Sprintf("%s is calling you", m.userID),
		CreatedAt: time.Now(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(m.ctx, m.opts.SendTimeout)
		defer cancel()
		if err := m.opts.Notifier.Notify(ctx, n); err != nil {
			m.log.Debugf("notify %s: %v", n.UserID, err)
		}
	}()
}

// ---------------------------------------------------------------------------
// Teardown
// ---------------------------------------------------------------------------

// teardown releases every resource of the current session and returns the
// manager to Idle. cause is delivered to a pending place/accept caller
// (ErrCallCancelled when nil). It is a no-op when idle.
func (m *Manager) teardown(reason Reason, cause error) {
	s := m.sess
	if s == nil {
		return
	}
	m.sess = nil

	if err := s.release(); err != nil {
		m.log.Warnf("release call resources: %v", err)
	}
	if cause == nil {
		cause = ErrCallCancelled
	}
	s.resolve(cause)

	m.log.Infof("call with %s ended (%s)", s.remoteUserID, reason)
	m.fire(evEnd, reason, s)
	m.fire(evReset, reason, s)
}
