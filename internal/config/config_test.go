package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rojcall.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
role: server
server:
  listen: ":9999"
call:
  ring_timeout: 20s
users:
  alice: Alice A.
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, RoleServer, cfg.Role)
	assert.Equal(t, ":9999", cfg.Server.Listen)
	assert.Equal(t, "/ws", cfg.Server.Path, "unset fields keep defaults")
	assert.Equal(t, 20*time.Second, cfg.Call.RingTimeout)
	assert.Equal(t, 45*time.Second, cfg.Call.AnswerTimeout)

	name, ok := cfg.DisplayName("alice")
	assert.True(t, ok)
	assert.Equal(t, "Alice A.", name)
	require.NoError(t, cfg.Validate())
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("ROJCALL_USER", "bob")
	t.Setenv("ROJCALL_SERVER_URL", "ws://example:1/ws")
	t.Setenv("ROJCALL_ANSWER_TIMEOUT", "5s")
	t.Setenv("ROJCALL_DEBUG", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "bob", cfg.Peer.UserID)
	assert.Equal(t, "ws://example:1/ws", cfg.Peer.ServerURL)
	assert.Equal(t, 5*time.Second, cfg.Call.AnswerTimeout)
	assert.True(t, cfg.Log.Debug)
	assert.NotNil(t, cfg.Users)
}

func TestLoadInvalidEnvironment(t *testing.T) {
	t.Setenv("ROJCALL_RING_TIMEOUT", "soon")
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "peer without user", mutate: func(c *Config) {}, wantErr: true},
		{name: "peer with user", mutate: func(c *Config) { c.Peer.UserID = "alice" }},
		{name: "server defaults", mutate: func(c *Config) { c.Role = RoleServer }},
		{name: "server bad path", mutate: func(c *Config) { c.Role = RoleServer; c.Server.Path = "ws" }, wantErr: true},
		{name: "unknown role", mutate: func(c *Config) { c.Role = "relay" }, wantErr: true},
		{name: "negative timeout", mutate: func(c *Config) { c.Peer.UserID = "a"; c.Call.RingTimeout = -time.Second }, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
