package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/pterm/pterm"

	"github.com/1ureka/rojcall/internal/adapter"
	"github.com/1ureka/rojcall/internal/call"
	"github.com/1ureka/rojcall/internal/config"
	"github.com/1ureka/rojcall/internal/directory"
	"github.com/1ureka/rojcall/internal/media"
	"github.com/1ureka/rojcall/internal/notify"
	"github.com/1ureka/rojcall/internal/protocol"
	"github.com/1ureka/rojcall/internal/signaling"
	"github.com/1ureka/rojcall/internal/util"
)

// RunPeer connects cfg.Peer.UserID to the hub, runs its call manager and
// drives it from commands read on in. It returns when the console quits, the
// signaling client stops for good or ctx is cancelled.
func RunPeer(ctx context.Context, cfg *config.Config, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	util.LogInfo("connecting to %s as %s", cfg.Peer.ServerURL, cfg.Peer.UserID)
	client, err := signaling.Dial(ctx, cfg.Peer)
	if err != nil {
		return err
	}
	defer client.Close()
	util.LogSuccess("connected to signaling server")

	engine, err := media.NewPionEngine(cfg.Log.Debug)
	if err != nil {
		return fmt.Errorf("failed to create media engine: %w", err)
	}

	manager, err := call.New(call.Options{
		UserID:        cfg.Peer.UserID,
		Engine:        engine,
		Sender:        client,
		Directory:     directory.NewStatic(cfg.Users),
		Notifier:      notify.Multi{client, notify.Log{}},
		ICEServers:    cfg.Call.ICEServers,
		RingTimeout:   cfg.Call.RingTimeout,
		AnswerTimeout: cfg.Call.AnswerTimeout,
		LookupTimeout: cfg.Call.LookupTimeout,
	})
	if err != nil {
		return err
	}
	// Closed before the client so the final call-ended still goes out.
	defer manager.Close()

	manager.OnStateChange(func(c call.StateChange) { announce(manager, c) })
	client.OnNotification(func(n protocol.Notification) {
		pterm.Info.Printfln("%s: %s", n.Title, n.Message)
	})

	bindErr := make(chan error, 1)
	go func() { bindErr <- adapter.Bind(ctx, client, cfg.Peer.UserID, manager) }()

	consoleErr := make(chan error, 1)
	go func() { consoleErr <- NewConsole(manager, in).Run(ctx) }()

	select {
	case err := <-consoleErr:
		return err
	case err := <-bindErr:
		if errors.Is(err, adapter.ErrSourceClosed) {
			return errors.New("signaling connection closed")
		}
		if ctx.Err() != nil {
			return nil
		}
		return err
	case <-ctx.Done():
		return nil
	}
}

// announce prints a transition for the console user. It runs on the manager
// loop, where Snapshot is safe but commands are not.
func announce(m *call.Manager, c call.StateChange) {
	switch c.To {
	case call.StateRinging:
		name := m.Snapshot().RemoteName
		pterm.Info.Printfln("incoming call from %s (%s): type accept or reject", name, c.RemoteUserID)
	case call.StateActive:
		util.LogSuccess("call with %s is active", c.RemoteUserID)
	case call.StateEnded:
		util.LogInfo("call with %s ended: %s", c.RemoteUserID, c.Reason)
	default:
		util.LogDebug("call state %s -> %s", c.From, c.To)
	}
}
