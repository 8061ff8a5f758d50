package call

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/1ureka/rojcall/internal/adapter"
	"github.com/1ureka/rojcall/internal/directory"
	"github.com/1ureka/rojcall/internal/media"
	"github.com/1ureka/rojcall/internal/protocol"
	"github.com/1ureka/rojcall/internal/signaling"
)

// Compile-time interface checks.
var (
	_ media.Engine     = (*fakeEngine)(nil)
	_ media.Connection = (*fakeConn)(nil)
	_ media.Track      = (*fakeTrack)(nil)
)

// ---------------------------------------------------------------------------
// Media engine
// ---------------------------------------------------------------------------

// fakeEngine records every connection and stream it hands out. Acquisition
// can be held open with hold() to exercise in-flight races.
type fakeEngine struct {
	mu        sync.Mutex
	conns     []*fakeConn
	streams   []*media.LocalStream
	gate      chan struct{}
	ignoreCtx bool
	err       error
	started   chan struct{}
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{started: make(chan struct{}, 8)}
}

// hold makes the next acquisitions block until release is called. With
// ignoreCtx the acquisition completes even after its call was cancelled.
func (e *fakeEngine) hold(ignoreCtx bool) (release func()) {
	gate := make(chan struct{})
	e.mu.Lock()
	e.gate = gate
	e.ignoreCtx = ignoreCtx
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			e.gate = nil
			e.mu.Unlock()
			close(gate)
		})
	}
}

func (e *fakeEngine) failAcquire(err error) {
	e.mu.Lock()
	e.err = err
	e.mu.Unlock()
}

func (e *fakeEngine) NewConnection(_ []string, h media.Handlers) (media.Connection, error) {
	c := &fakeConn{h: h}
	e.mu.Lock()
	e.conns = append(e.conns, c)
	e.mu.Unlock()
	return c, nil
}

func (e *fakeEngine) AcquireLocal(ctx context.Context, c media.Constraints) (*media.LocalStream, error) {
	e.mu.Lock()
	gate, ignoreCtx, err := e.gate, e.ignoreCtx, e.err
	e.mu.Unlock()

	select {
	case e.started <- struct{}{}:
	default:
	}

	if gate != nil {
		if ignoreCtx {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if err != nil {
		return nil, err
	}

	var tracks []media.Track
	if c.Audio {
		tracks = append(tracks, newFakeTrack(media.KindAudio))
	}
	if c.Video {
		tracks = append(tracks, newFakeTrack(media.KindVideo))
	}
	s := media.NewLocalStream(tracks...)

	e.mu.Lock()
	e.streams = append(e.streams, s)
	e.mu.Unlock()
	return s, nil
}

func (e *fakeEngine) connections() []*fakeConn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*fakeConn(nil), e.conns...)
}

func (e *fakeEngine) localStreams() []*media.LocalStream {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*media.LocalStream(nil), e.streams...)
}

func (e *fakeEngine) lastConn(t *testing.T) *fakeConn {
	t.Helper()
	conns := e.connections()
	require.NotEmpty(t, conns)
	return conns[len(conns)-1]
}

// released reports whether every stream is stopped and every connection
// closed.
func (e *fakeEngine) released() bool {
	for _, s := range e.localStreams() {
		if s.Live() != 0 {
			return false
		}
	}
	for _, c := range e.connections() {
		if !c.isClosed() {
			return false
		}
	}
	return true
}

type fakeConn struct {
	h media.Handlers

	mu         sync.Mutex
	local      media.Description
	remote     media.Description
	candidates []media.Candidate
	tracks     []media.Track
	closed     bool
}

func (c *fakeConn) CreateOffer() (media.Description, error) {
	return json.RawMessage(`{"type":"offer","sdp":"fake-offer"}`), nil
}

func (c *fakeConn) CreateAnswer() (media.Description, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote == nil {
		return nil, errors.New("no remote offer")
	}
	return json.RawMessage(`{"type":"answer","sdp":"fake-answer"}`), nil
}

func (c *fakeConn) SetLocalDescription(d media.Description) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local = d
	return nil
}

func (c *fakeConn) SetRemoteDescription(d media.Description) error {
	if !json.Valid(d) {
		return errors.New("invalid description")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remote = d
	return nil
}

func (c *fakeConn) AddICECandidate(cand media.Candidate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote == nil {
		return errors.New("no remote description")
	}
	c.candidates = append(c.candidates, cand)
	return nil
}

func (c *fakeConn) AddLocalTrack(t media.Track) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks = append(c.tracks, t)
	return nil
}

func (c *fakeConn) RemoteDescriptionSet() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote != nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) appliedCandidates() []media.Candidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]media.Candidate(nil), c.candidates...)
}

// emit* simulate engine callbacks.
func (c *fakeConn) emitCandidate(cand string)     { c.h.OnICECandidate(json.RawMessage(cand)) }
func (c *fakeConn) emitState(s media.ConnState)   { c.h.OnStateChange(s) }
func (c *fakeConn) emitTrack(t media.RemoteTrack) { c.h.OnTrack(t) }

func (c *fakeConn) remoteDescription() media.Description {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

type fakeTrack struct {
	kind    media.Kind
	enabled atomic.Bool
	stopped atomic.Bool
}

func newFakeTrack(kind media.Kind) *fakeTrack {
	t := &fakeTrack{kind: kind}
	t.enabled.Store(true)
	return t
}

func (t *fakeTrack) ID() string         { return string(t.kind) }
func (t *fakeTrack) Kind() media.Kind   { return t.kind }
func (t *fakeTrack) Enabled() bool      { return t.enabled.Load() }
func (t *fakeTrack) SetEnabled(on bool) { t.enabled.Store(on) }
func (t *fakeTrack) Stop()              { t.stopped.Store(true) }
func (t *fakeTrack) Stopped() bool      { return t.stopped.Load() }

type fakeRemoteTrack struct{ kind media.Kind }

func (r fakeRemoteTrack) ID() string       { return "remote-" + string(r.kind) }
func (r fakeRemoteTrack) StreamID() string { return "remote-stream" }
func (r fakeRemoteTrack) Kind() media.Kind { return r.kind }

// ---------------------------------------------------------------------------
// Observers and collaborators
// ---------------------------------------------------------------------------

type changeLog struct {
	mu      sync.Mutex
	changes []StateChange
}

func (l *changeLog) add(c StateChange) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changes = append(l.changes, c)
}

func (l *changeLog) all() []StateChange {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]StateChange(nil), l.changes...)
}

// path returns the visited states, starting with the first From.
func (l *changeLog) path() []State {
	changes := l.all()
	if len(changes) == 0 {
		return nil
	}
	out := []State{changes[0].From}
	for _, c := range changes {
		out = append(out, c.To)
	}
	return out
}

// last returns the state of the latest recorded transition, Idle when none.
func (l *changeLog) last() State {
	changes := l.all()
	if len(changes) == 0 {
		return StateIdle
	}
	return changes[len(changes)-1].To
}

// lastReason returns the reason of the last transition into Ended.
func (l *changeLog) lastReason() Reason {
	changes := l.all()
	for i := len(changes) - 1; i >= 0; i-- {
		if changes[i].To == StateEnded {
			return changes[i].Reason
		}
	}
	return ReasonNone
}

type countingMetrics struct {
	busy  atomic.Int32
	ended atomic.Int32
}

func (c *countingMetrics) Transition(string, string)       {}
func (c *countingMetrics) CallEnded(string, time.Duration) { c.ended.Add(1) }
func (c *countingMetrics) BusyRejected()                   { c.busy.Add(1) }

// failingSender fails every send.
type failingSender struct{ err error }

func (f failingSender) Send(context.Context, protocol.Message) error { return f.err }

// recordingSender keeps every sent message.
type recordingSender struct {
	mu   sync.Mutex
	sent []protocol.Message
}

func (r *recordingSender) Send(_ context.Context, msg protocol.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingSender) kinds() []protocol.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.Kind, 0, len(r.sent))
	for _, m := range r.sent {
		out = append(out, m.Kind)
	}
	return out
}

func (r *recordingSender) last() protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return protocol.Message{}
	}
	return r.sent[len(r.sent)-1]
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

// subscription wraps a channel subscribed before the adapter starts so no
// signal sent right after setup is lost.
type subscription struct {
	ch          <-chan protocol.Message
	unsubscribe func()
}

func (s subscription) Subscribe() (<-chan protocol.Message, func()) {
	return s.ch, s.unsubscribe
}

var names = map[string]string{"alice": "Alice", "bob": "Bob", "carol": "Carol"}

type user struct {
	*Manager
	engine  *fakeEngine
	log     *changeLog
	metrics *countingMetrics
}

// join starts a manager for id on bus and wires it through the adapter.
func join(t *testing.T, bus *signaling.Bus, id string, mutate ...func(*Options)) *user {
	t.Helper()

	u := &user{engine: newFakeEngine(), log: &changeLog{}, metrics: &countingMetrics{}}
	opts := Options{
		UserID:    id,
		Engine:    u.engine,
		Sender:    bus.Endpoint(id),
		Notifier:  bus.Endpoint(id),
		Directory: directory.NewStatic(names),
		Metrics:   u.metrics,
	}
	for _, fn := range mutate {
		fn(&opts)
	}

	m, err := New(opts)
	require.NoError(t, err)
	u.Manager = m
	m.OnStateChange(u.log.add)

	ch, unsubscribe := bus.Endpoint(id).Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = adapter.Bind(ctx, subscription{ch: ch, unsubscribe: unsubscribe}, id, m)
	}()

	t.Cleanup(func() {
		_ = m.Close()
		cancel()
	})
	return u
}

func (u *user) waitState(t *testing.T, want State) {
	t.Helper()
	// Observers run after the snapshot is published; wait for both.
	require.Eventually(t, func() bool { return u.Snapshot().State == want && u.log.last() == want },
		2*time.Second, 5*time.Millisecond, "%s never reached %s (at %s)", u.UserID(), want, u.Snapshot().State)
}

// connect places a call from caller to callee and has callee accept it.
func connect(t *testing.T, caller, callee *user) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, caller.PlaceCall(ctx, callee.UserID(), media.Constraints{Audio: true, Video: true}))
	callee.waitState(t, StateRinging)
	require.NoError(t, callee.AcceptCall(ctx))
	caller.waitState(t, StateActive)
	callee.waitState(t, StateActive)
}

func waitStarted(t *testing.T, e *fakeEngine) {
	t.Helper()
	select {
	case <-e.started:
	case <-time.After(2 * time.Second):
		t.Fatal("media acquisition never started")
	}
}
