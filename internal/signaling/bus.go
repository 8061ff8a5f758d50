// Package signaling is the signal transport: a WebSocket hub that routes
// messages between users, the client that connects a peer to it, and an
// in-process Bus with the same delivery guarantees.
package signaling

import (
	"context"
	"sync"

	"github.com/1ureka/rojcall/internal/protocol"
	"github.com/1ureka/rojcall/internal/util"
)

const mailboxSize = 64

// Bus is an in-process transport. Messages from one goroutine to one
// recipient are delivered in the order Send is called; messages to a user
// without a subscriber are dropped.
type Bus struct {
	mu        sync.Mutex
	mailboxes map[string]map[*mailbox]struct{}
	seq       sequencer
	notified  []protocol.Notification

	// Redeliver, when set, is called for every routed message and may return
	// extra copies to deliver after it (duplicate delivery in tests).
	Redeliver func(protocol.Message) []protocol.Message
}

type mailbox struct {
	ch chan protocol.Message
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		mailboxes: make(map[string]map[*mailbox]struct{}),
		seq:       newSequencer(),
	}
}

// Send validates msg, assigns the recipient sequence and delivers it.
func (b *Bus) Send(ctx context.Context, msg protocol.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	msg = msg.WithSequence(b.seq.next(msg.ReceiverID))
	out := []protocol.Message{msg}
	if b.Redeliver != nil {
		out = append(out, b.Redeliver(msg)...)
	}
	boxes := b.boxesOf(msg.ReceiverID)
	b.mu.Unlock()

	if len(boxes) == 0 {
		util.Stats.AddDropped()
		return nil
	}
	for _, m := range out {
		for _, box := range boxes {
			select {
			case box.ch <- m:
				util.Stats.AddRouted()
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// Inject delivers msg as-is, without validation or sequencing.
func (b *Bus) Inject(msg protocol.Message) {
	b.mu.Lock()
	boxes := b.boxesOf(msg.ReceiverID)
	b.mu.Unlock()
	for _, box := range boxes {
		box.ch <- msg
	}
}

// Notify records n. The bus has no notification subscribers.
func (b *Bus) Notify(_ context.Context, n protocol.Notification) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notified = append(b.notified, n)
	return nil
}

// Notifications returns every notification recorded by Notify.
func (b *Bus) Notifications() []protocol.Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]protocol.Notification(nil), b.notified...)
}

// Endpoint returns the view of the bus for userID, usable as a subscriber.
func (b *Bus) Endpoint(userID string) *Endpoint {
	return &Endpoint{bus: b, userID: userID}
}

func (b *Bus) subscribe(userID string) (<-chan protocol.Message, func()) {
	box := &mailbox{ch: make(chan protocol.Message, mailboxSize)}

	b.mu.Lock()
	if b.mailboxes[userID] == nil {
		b.mailboxes[userID] = make(map[*mailbox]struct{})
	}
	b.mailboxes[userID][box] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return box.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.mailboxes[userID], box)
			b.mu.Unlock()
		})
	}
}

// boxesOf must be called with b.mu held.
func (b *Bus) boxesOf(userID string) []*mailbox {
	out := make([]*mailbox, 0, len(b.mailboxes[userID]))
	for box := range b.mailboxes[userID] {
		out = append(out, box)
	}
	return out
}

// Endpoint is one user's attachment to a Bus.
type Endpoint struct {
	bus    *Bus
	userID string
}

// Subscribe returns the ordered inbound channel of the endpoint's user.
func (e *Endpoint) Subscribe() (<-chan protocol.Message, func()) {
	return e.bus.subscribe(e.userID)
}

// Send fills in the sender and forwards msg to the bus.
func (e *Endpoint) Send(ctx context.Context, msg protocol.Message) error {
	if msg.SenderID == "" {
		msg.SenderID = e.userID
	}
	return e.bus.Send(ctx, msg)
}

// Notify forwards n to the bus.
func (e *Endpoint) Notify(ctx context.Context, n protocol.Notification) error {
	return e.bus.Notify(ctx, n)
}
