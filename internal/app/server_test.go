package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/rojcall/internal/config"
	"github.com/1ureka/rojcall/internal/protocol"
	"github.com/1ureka/rojcall/internal/signaling"
)

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServerRoutesAndShutdown(t *testing.T) {
	cfg := config.Default().Server
	cfg.Listen = "127.0.0.1:0"
	cfg.StatsInterval = 0

	s := NewServer(cfg)
	addr, err := s.Listen()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- s.Serve(ctx) }()

	base := "http://" + addr.String()
	code, body := get(t, base+"/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	peerCfg := config.PeerConfig{
		ServerURL:   fmt.Sprintf("ws://%s%s", addr, cfg.Path),
		DialTimeout: 2 * time.Second,
		MaxBackoff:  time.Second,
	}
	peerCfg.UserID = "alice"
	alice, err := signaling.Dial(ctx, peerCfg)
	require.NoError(t, err)
	defer alice.Close()
	peerCfg.UserID = "bob"
	bob, err := signaling.Dial(ctx, peerCfg)
	require.NoError(t, err)
	defer bob.Close()
	require.Eventually(t, func() bool { return s.Hub().Online("alice") && s.Hub().Online("bob") }, 2*time.Second, 5*time.Millisecond)

	ch, unsubscribe := bob.Subscribe()
	defer unsubscribe()
	require.NoError(t, alice.Send(ctx, protocol.Message{ReceiverID: "bob", Kind: protocol.KindCallEnded, CallID: "c1"}))
	select {
	case msg := <-ch:
		assert.Equal(t, "alice", msg.SenderID)
		assert.Equal(t, protocol.KindCallEnded, msg.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("signal not routed")
	}

	code, body = get(t, base+cfg.MetricsPath)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "rojcall_hub_active_clients 2")
	assert.Contains(t, body, `rojcall_hub_frames_routed_total{kind="call-ended"} 1`)

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	select {
	case <-bob.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client was not disconnected")
	}
}

func TestServerListenError(t *testing.T) {
	cfg := config.Default().Server
	cfg.Listen = "not-an-address"
	_, err := NewServer(cfg).Listen()
	assert.Error(t, err)
}
