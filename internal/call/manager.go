// Package call implements the per-user call session manager: the state
// machine that drives offer/answer negotiation over the signal transport and
// owns the media engine handles of the one call a user can be in.
package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/1ureka/rojcall/internal/media"
	"github.com/1ureka/rojcall/internal/metrics"
	"github.com/1ureka/rojcall/internal/protocol"
	"github.com/1ureka/rojcall/internal/util"
)

// Sender delivers a signal to the transport.
type Sender interface {
	Send(ctx context.Context, msg protocol.Message) error
}

// Directory resolves a user id to a display name.
type Directory interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// Notifier receives the advisory notification emitted when placing a call.
type Notifier interface {
	Notify(ctx context.Context, n protocol.Notification) error
}

// UnknownCaller is the display name used when the directory cannot resolve
// the caller.
const UnknownCaller = "Unknown"

const (
	defaultSendTimeout   = 5 * time.Second
	defaultLookupTimeout = 3 * time.Second
	eventQueueSize       = 128
)

// Options configures a Manager. UserID, Engine and Sender are required.
type Options struct {
	UserID    string
	Engine    media.Engine
	Sender    Sender
	Directory Directory             // optional
	Notifier  Notifier              // optional
	Metrics   metrics.CallCollector // optional

	ICEServers []string

	// AcceptMedia is acquired when accepting a call. Zero means audio+video.
	AcceptMedia media.Constraints

	RingTimeout   time.Duration // 0 disables
	AnswerTimeout time.Duration // 0 disables
	LookupTimeout time.Duration
	SendTimeout   time.Duration
}

// Manager runs the call state machine of one user. Every state mutation
// happens on a single loop goroutine; the public methods submit commands to
// it and wait for the outcome.
type Manager struct {
	opts   Options
	userID string
	log    util.Logger

	// loop-owned
	fsm  *fsm.FSM
	sess *session
	gen  uint64

	events    chan any
	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu        sync.RWMutex
	state     CallState
	local     *media.LocalStream
	remote    *media.RemoteStream
	observers []func(StateChange)
}

// New validates opts and starts the manager loop.
func New(opts Options) (*Manager, error) {
	if opts.UserID == "" {
		return nil, fmt.Errorf("call: user id is required")
	}
	if opts.Engine == nil || opts.Sender == nil {
		return nil, fmt.Errorf("call: media engine and sender are required")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	if !opts.AcceptMedia.Audio && !opts.AcceptMedia.Video {
		opts.AcceptMedia = media.Constraints{Audio: true, Video: true}
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = defaultLookupTimeout
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		opts:   opts,
		userID: opts.UserID,
		log:    util.Scoped(fmt.Sprintf("CALL [%s]", opts.UserID)),
		events: make(chan any, eventQueueSize),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		state:  CallState{State: StateIdle, LocalUserID: opts.UserID},
	}
	m.fsm = newStateMachine(m.onEnter)

	go m.run()
	return m, nil
}

// UserID returns the user this manager runs for.
func (m *Manager) UserID() string { return m.userID }

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

type placeCmd struct {
	remote string
	media  media.Constraints
	reply  chan error
}

type acceptCmd struct{ reply chan error }
type rejectCmd struct{ reply chan error }
type endCmd struct{ reply chan error }
type closeCmd struct{}

type toggleCmd struct {
	kind  media.Kind
	reply chan toggleResult
}

type toggleResult struct {
	enabled bool
	err     error
}

type signalEvent struct{ msg protocol.Message }

// PlaceCall starts an outbound call. It returns once the offer has been sent,
// or with the error that stopped the call before that point.
func (m *Manager) PlaceCall(ctx context.Context, remoteUserID string, c media.Constraints) error {
	reply := make(chan error, 1)
	if err := m.submit(ctx, placeCmd{remote: remoteUserID, media: c, reply: reply}); err != nil {
		return err
	}
	return m.await(ctx, reply)
}

// AcceptCall answers the ringing call. It returns once the answer has been
// sent; ErrCallCancelled means the call ended while local media was being
// acquired.
func (m *Manager) AcceptCall(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := m.submit(ctx, acceptCmd{reply: reply}); err != nil {
		return err
	}
	return m.await(ctx, reply)
}

// RejectCall declines the ringing call.
func (m *Manager) RejectCall(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := m.submit(ctx, rejectCmd{reply: reply}); err != nil {
		return err
	}
	return m.await(ctx, reply)
}

// EndCall hangs up the current call in any non-idle state.
func (m *Manager) EndCall(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := m.submit(ctx, endCmd{reply: reply}); err != nil {
		return err
	}
	return m.await(ctx, reply)
}

// ToggleAudio flips the local audio tracks and returns the new enabled value.
func (m *Manager) ToggleAudio(ctx context.Context) (bool, error) {
	return m.toggle(ctx, media.KindAudio)
}

// ToggleVideo flips the local video tracks and returns the new enabled value.
func (m *Manager) ToggleVideo(ctx context.Context) (bool, error) {
	return m.toggle(ctx, media.KindVideo)
}

func (m *Manager) toggle(ctx context.Context, kind media.Kind) (bool, error) {
	reply := make(chan toggleResult, 1)
	if err := m.submit(ctx, toggleCmd{kind: kind, reply: reply}); err != nil {
		return false, err
	}
	select {
	case r := <-reply:
		return r.enabled, r.err
	case <-m.done:
		return false, ErrClosed
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Dispatch hands an inbound signal to the manager. Signals are processed in
// the order Dispatch is called.
func (m *Manager) Dispatch(ctx context.Context, msg protocol.Message) error {
	return m.submit(ctx, signalEvent{msg: msg})
}

// Close ends the current call, notifying the remote side, and stops the loop.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		select {
		case m.events <- closeCmd{}:
		case <-m.done:
		}
		<-m.done
		m.cancel()
	})
	return nil
}

func (m *Manager) submit(ctx context.Context, ev any) error {
	select {
	case <-m.done:
		return ErrClosed
	default:
	}
	select {
	case m.events <- ev:
		return nil
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) await(ctx context.Context, reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-m.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post enqueues an event raised by the media engine or a timer. It never
// blocks the caller; when the queue is full the event is handed to a
// goroutine.
func (m *Manager) post(ev any) {
	select {
	case m.events <- ev:
		return
	case <-m.done:
		return
	default:
	}
	go func() {
		select {
		case m.events <- ev:
		case <-m.done:
		}
	}()
}

// ---------------------------------------------------------------------------
// Observation
// ---------------------------------------------------------------------------

// OnStateChange registers fn for every transition. fn runs on the manager
// loop: it must not block and must not call the command methods.
func (m *Manager) OnStateChange(fn func(StateChange)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// Snapshot returns a copy of the current call state.
func (m *Manager) Snapshot() CallState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// LocalMedia returns the local media handle of the current call, or nil.
func (m *Manager) LocalMedia() *media.LocalStream {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.local
}

// RemoteStream returns the remote media handle of the current call, or nil.
func (m *Manager) RemoteStream() *media.RemoteStream {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.remote
}

// transition is passed as the fsm event argument.
type transition struct {
	reason Reason
	sess   *session
}

func (m *Manager) fire(event string, reason Reason, s *session) {
	if err := m.fsm.Event(context.Background(), event, transition{reason: reason, sess: s}); err != nil {
		m.log.Warnf("transition %q from %s: %v", event, m.fsm.Current(), err)
	}
}

func (m *Manager) onEnter(e *fsm.Event) {
	var tr transition
	if len(e.Args) > 0 {
		tr, _ = e.Args[0].(transition)
	}
	from, to := State(e.Src), State(e.Dst)
	now := time.Now()

	change := StateChange{From: from, To: to, Reason: tr.reason, At: now}
	if tr.sess != nil {
		change.RemoteUserID = tr.sess.remoteUserID
		change.CallID = tr.sess.callID
	}

	m.opts.Metrics.Transition(string(from), string(to))
	if to == StateEnded && tr.sess != nil {
		m.opts.Metrics.CallEnded(string(tr.reason), now.Sub(tr.sess.startedAt))
	}

	if to == StateIdle {
		m.publish(nil, to)
	} else {
		m.publish(tr.sess, to)
	}
	if to == StateEnded {
		m.mu.Lock()
		m.state.EndedAt = now
		m.mu.Unlock()
	}

	m.log.Debugf("%s -> %s %s", from, to, tr.reason)

	m.mu.RLock()
	observers := append([]func(StateChange){}, m.observers...)
	m.mu.RUnlock()
	for _, fn := range observers {
		fn(change)
	}
}

// publish refreshes the snapshot returned by Snapshot.
func (m *Manager) publish(s *session, state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s == nil {
		m.state = CallState{State: state, LocalUserID: m.userID}
		m.local, m.remote = nil, nil
		return
	}
	m.state = s.snapshot(state)
	m.local, m.remote = s.local, s.remote
}

func (m *Manager) current() State {
	return State(m.fsm.Current())
}
