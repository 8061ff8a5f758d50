// Package notify delivers advisory notifications. They never take part in
// call negotiation.
package notify

import (
	"context"
	"errors"

	"github.com/1ureka/rojcall/internal/protocol"
	"github.com/1ureka/rojcall/internal/util"
)

// Notifier sends one notification, e.g. *signaling.Client.
type Notifier interface {
	Notify(ctx context.Context, n protocol.Notification) error
}

// Log writes notifications to the log.
type Log struct{}

func (Log) Notify(_ context.Context, n protocol.Notification) error {
	util.LogInfo("notify %s: %s: %s", n.UserID, n.Title, n.Message)
	return nil
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n protocol.Notification) error {
	var errs []error
	for _, target := range m {
		if err := target.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
