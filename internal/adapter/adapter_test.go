package adapter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/rojcall/internal/protocol"
)

// Compile-time interface check.
var _ Subscriber = (*chanSource)(nil)

type chanSource struct {
	ch           chan protocol.Message
	mu           sync.Mutex
	unsubscribed int
}

func newChanSource() *chanSource {
	return &chanSource{ch: make(chan protocol.Message, 16)}
}

func (s *chanSource) Subscribe() (<-chan protocol.Message, func()) {
	return s.ch, func() {
		s.mu.Lock()
		s.unsubscribed++
		s.mu.Unlock()
	}
}

func (s *chanSource) unsubscribeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsubscribed
}

type recorder struct {
	mu   sync.Mutex
	msgs []protocol.Message
}

func (r *recorder) Dispatch(_ context.Context, msg protocol.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorder) kinds() []protocol.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.Kind, 0, len(r.msgs))
	for _, m := range r.msgs {
		out = append(out, m.Kind)
	}
	return out
}

func signal(to string, kind protocol.Kind) protocol.Message {
	return protocol.Message{SenderID: "bob", ReceiverID: to, Kind: kind}
}

func TestBindForwardsInOrder(t *testing.T) {
	src := newChanSource()
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- Bind(ctx, src, "alice", rec) }()

	src.ch <- signal("alice", protocol.KindOffer)
	src.ch <- signal("alice", protocol.KindIceCandidate)
	src.ch <- signal("carol", protocol.KindOffer) // no route
	src.ch <- signal("alice", protocol.KindCallEnded)

	require.Eventually(t, func() bool { return len(rec.kinds()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []protocol.Kind{
		protocol.KindOffer,
		protocol.KindIceCandidate,
		protocol.KindCallEnded,
	}, rec.kinds())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 1, src.unsubscribeCount())
}

func TestRunRoutesByReceiver(t *testing.T) {
	src := newChanSource()
	alice, bob := &recorder{}, &recorder{}

	a := New()
	a.Register("alice", alice)
	unregisterBob := a.Register("bob", bob)

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background(), src) }()

	src.ch <- signal("alice", protocol.KindOffer)
	src.ch <- signal("bob", protocol.KindAnswer)
	require.Eventually(t, func() bool {
		return len(alice.kinds()) == 1 && len(bob.kinds()) == 1
	}, time.Second, 5*time.Millisecond)

	unregisterBob()
	src.ch <- signal("bob", protocol.KindCallEnded)
	close(src.ch)

	assert.ErrorIs(t, <-done, ErrSourceClosed)
	assert.Len(t, bob.kinds(), 1)
	assert.Equal(t, 1, src.unsubscribeCount())
}

func TestUnregisterKeepsNewerRoute(t *testing.T) {
	a := New()
	first, second := &recorder{}, &recorder{}

	unregisterFirst := a.Register("alice", first)
	a.Register("alice", second)
	unregisterFirst()

	assert.True(t, a.deliver(context.Background(), signal("alice", protocol.KindOffer)))
	assert.Len(t, second.kinds(), 1)
	assert.Empty(t, first.kinds())
}
