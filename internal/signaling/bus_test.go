package signaling

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/rojcall/internal/protocol"
)

func offer(from, to string) protocol.Message {
	return protocol.Message{
		SenderID:   from,
		ReceiverID: to,
		Kind:       protocol.KindOffer,
		Data:       json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
		CallID:     "c1",
	}
}

func hangup(from, to string) protocol.Message {
	return protocol.Message{SenderID: from, ReceiverID: to, Kind: protocol.KindCallEnded, CallID: "c1"}
}

func receive(t *testing.T, ch <-chan protocol.Message) protocol.Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "channel closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a signal")
		return protocol.Message{}
	}
}

func TestBusDeliversInOrderWithSequence(t *testing.T) {
	bus := NewBus()
	ch, unsubscribe := bus.Endpoint("bob").Subscribe()
	defer unsubscribe()

	alice := bus.Endpoint("alice")
	ctx := context.Background()
	require.NoError(t, alice.Send(ctx, offer("", "bob")))
	require.NoError(t, alice.Send(ctx, hangup("alice", "bob")))

	first := receive(t, ch)
	second := receive(t, ch)
	assert.Equal(t, protocol.KindOffer, first.Kind)
	assert.Equal(t, "alice", first.SenderID)
	assert.Equal(t, uint64(1), first.Sequence)
	assert.Equal(t, protocol.KindCallEnded, second.Kind)
	assert.Equal(t, uint64(2), second.Sequence)
}

func TestBusRejectsInvalidAndDropsUnrouted(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	err := bus.Send(ctx, protocol.Message{SenderID: "alice", ReceiverID: "alice", Kind: protocol.KindCallEnded})
	assert.ErrorIs(t, err, protocol.ErrSelfAddress)

	// Nobody is subscribed as carol.
	assert.NoError(t, bus.Send(ctx, offer("alice", "carol")))
}

func TestBusRedeliver(t *testing.T) {
	bus := NewBus()
	bus.Redeliver = func(m protocol.Message) []protocol.Message {
		if m.Kind == protocol.KindOffer {
			return []protocol.Message{m}
		}
		return nil
	}
	ch, unsubscribe := bus.Endpoint("bob").Subscribe()
	defer unsubscribe()

	require.NoError(t, bus.Send(context.Background(), offer("alice", "bob")))
	a, b := receive(t, ch), receive(t, ch)
	assert.Equal(t, a, b)
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	ch, unsubscribe := bus.Endpoint("bob").Subscribe()
	unsubscribe()
	unsubscribe()

	require.NoError(t, bus.Send(context.Background(), offer("alice", "bob")))
	select {
	case <-ch:
		t.Fatal("unexpected delivery after unsubscribe")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBusRecordsNotifications(t *testing.T) {
	bus := NewBus()
	n := protocol.Notification{UserID: "bob", Type: protocol.NotificationTypeCall, Title: "Incoming call"}
	require.NoError(t, bus.Endpoint("alice").Notify(context.Background(), n))
	assert.Equal(t, []protocol.Notification{n}, bus.Notifications())
}
