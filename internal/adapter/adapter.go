// Package adapter bridges a signal transport to call managers. It subscribes
// once per transport, forwards every inbound signal in arrival order to the
// manager of its receiver, and unsubscribes when it stops.
package adapter

import (
	"context"
	"errors"
	"sync"

	"github.com/1ureka/rojcall/internal/protocol"
	"github.com/1ureka/rojcall/internal/util"
)

// Subscriber is a source of inbound signals. The returned function stops
// delivery and must be safe to call more than once.
type Subscriber interface {
	Subscribe() (<-chan protocol.Message, func())
}

// Dispatcher consumes inbound signals, e.g. *call.Manager. Dispatch must
// preserve call order.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg protocol.Message) error
}

// ErrSourceClosed is returned by Run when the subscription channel closes.
var ErrSourceClosed = errors.New("adapter: signal source closed")

// Adapter holds the receiver id → dispatcher route table.
type Adapter struct {
	mu     sync.Mutex
	routes map[string]Dispatcher
}

// New creates an adapter with an empty route table.
func New() *Adapter {
	return &Adapter{routes: make(map[string]Dispatcher)}
}

// Register routes signals addressed to userID to d, replacing any previous
// route. The returned function removes the route if it is still d's.
func (a *Adapter) Register(userID string, d Dispatcher) func() {
	a.mu.Lock()
	a.routes[userID] = d
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.routes[userID] == d {
			delete(a.routes, userID)
		}
	}
}

// deliver hands msg to the dispatcher of its receiver.
// Returns false if there is no route.
func (a *Adapter) deliver(ctx context.Context, msg protocol.Message) bool {
	a.mu.Lock()
	d, ok := a.routes[msg.ReceiverID]
	a.mu.Unlock()

	if !ok {
		return false
	}

	if err := d.Dispatch(ctx, msg); err != nil && ctx.Err() == nil {
		util.LogWarning("dispatch %s to %s: %v", msg.Kind, msg.ReceiverID, err)
	}
	return true
}

// Run subscribes to src and forwards signals until ctx is done or the source
// closes. The subscription is released on return.
func (a *Adapter) Run(ctx context.Context, src Subscriber) error {
	ch, unsubscribe := src.Subscribe()
	defer unsubscribe()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return ErrSourceClosed
			}
			if !a.deliver(ctx, msg) {
				util.LogDebug("no route for %s to %s, dropping", msg.Kind, msg.ReceiverID)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Bind is Run for a single dispatcher. It blocks like Run.
func Bind(ctx context.Context, src Subscriber, userID string, d Dispatcher) error {
	a := New()
	defer a.Register(userID, d)()
	return a.Run(ctx, src)
}
