package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/rojcall/internal/config"
)

func TestNormalizeWSURL(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"127.0.0.1:8090", "ws://127.0.0.1:8090/ws"},
		{"ws://example.com", "ws://example.com/ws"},
		{"https://calls.example.com/", "wss://calls.example.com/ws"},
		{"http://example.com:80/signal", "ws://example.com:80/signal"},
		{" wss://example.com/ws ", "wss://example.com/ws"},
	}
	for _, tt := range tests {
		got, err := normalizeWSURL(tt.raw, "/ws")
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}

	for _, raw := range []string{"", "ftp://example.com", "ws://"} {
		_, err := normalizeWSURL(raw, "/ws")
		assert.Error(t, err, raw)
	}
}

func TestApplyFlags(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, applyFlags(cfg, "alice", "localhost:9000", ":9000"))
	assert.Equal(t, "alice", cfg.Peer.UserID)
	assert.Equal(t, "ws://localhost:9000/ws", cfg.Peer.ServerURL)
	assert.Equal(t, ":9000", cfg.Server.Listen)

	assert.Error(t, applyFlags(cfg, "", "ftp://x", ""))
}
