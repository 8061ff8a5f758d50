// Package config holds the runtime configuration for the hub and the peer.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Role represents which side of the system this process runs as.
type Role string

const (
	RoleServer Role = "server"
	RolePeer   Role = "peer"
)

// Config stores every parameter gathered from the config file, the
// environment and the CLI flags (applied in that order).
type Config struct {
	Role   Role              `yaml:"role"`
	Server ServerConfig      `yaml:"server"`
	Peer   PeerConfig        `yaml:"peer"`
	Call   CallConfig        `yaml:"call"`
	Log    LogConfig         `yaml:"log"`
	Users  map[string]string `yaml:"users"` // user id → display name
}

// ServerConfig configures the signaling hub.
type ServerConfig struct {
	Listen          string        `yaml:"listen"`
	Path            string        `yaml:"path"`
	MetricsPath     string        `yaml:"metrics_path"`
	ReadLimit       int64         `yaml:"read_limit"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	PongTimeout     time.Duration `yaml:"pong_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	SendQueue       int           `yaml:"send_queue"`
	OfflineInbox    int           `yaml:"offline_inbox"`
	RatePerSecond   float64       `yaml:"rate_per_second"`
	RateBurst       int           `yaml:"rate_burst"`
	StatsInterval   time.Duration `yaml:"stats_interval"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// PeerConfig configures one connected user.
type PeerConfig struct {
	ServerURL   string        `yaml:"server_url"`
	UserID      string        `yaml:"user_id"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
}

// CallConfig configures the call session manager.
type CallConfig struct {
	RingTimeout   time.Duration `yaml:"ring_timeout"`
	AnswerTimeout time.Duration `yaml:"answer_timeout"`
	LookupTimeout time.Duration `yaml:"lookup_timeout"`
	ICEServers    []string      `yaml:"ice_servers"`
}

// LogConfig configures logging.
type LogConfig struct {
	Debug bool `yaml:"debug"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Role: RolePeer,
		Server: ServerConfig{
			Listen:          ":8090",
			Path:            "/ws",
			MetricsPath:     "/metrics",
			ReadLimit:       64 * 1024,
			PingInterval:    30 * time.Second,
			PongTimeout:     60 * time.Second,
			WriteTimeout:    10 * time.Second,
			SendQueue:       256,
			OfflineInbox:    64,
			RatePerSecond:   50,
			RateBurst:       100,
			StatsInterval:   10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Peer: PeerConfig{
			ServerURL:   "ws://127.0.0.1:8090/ws",
			DialTimeout: 10 * time.Second,
			MaxBackoff:  15 * time.Second,
		},
		Call: CallConfig{
			RingTimeout:   45 * time.Second,
			AnswerTimeout: 45 * time.Second,
			LookupTimeout: 3 * time.Second,
			ICEServers: []string{
				"stun:stun.l.google.com:19302",
				"stun:stun1.l.google.com:19302",
			},
		},
		Users: map[string]string{},
	}
}

// Load reads the YAML file at path on top of the defaults and then applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnvironmentOverrides(cfg); err != nil {
		return nil, err
	}
	if cfg.Users == nil {
		cfg.Users = map[string]string{}
	}
	return cfg, nil
}

// applyEnvironmentOverrides applies ROJCALL_* environment variables.
func applyEnvironmentOverrides(cfg *Config) error {
	if v := os.Getenv("ROJCALL_LISTEN"); v != "" {
		cfg.Server.Listen = v
	}
	if v := os.Getenv("ROJCALL_SERVER_URL"); v != "" {
		cfg.Peer.ServerURL = v
	}
	if v := os.Getenv("ROJCALL_USER"); v != "" {
		cfg.Peer.UserID = v
	}
	if v := os.Getenv("ROJCALL_DEBUG"); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid ROJCALL_DEBUG %q: %w", v, err)
		}
		cfg.Log.Debug = debug
	}
	if err := durationEnv("ROJCALL_RING_TIMEOUT", &cfg.Call.RingTimeout); err != nil {
		return err
	}
	return durationEnv("ROJCALL_ANSWER_TIMEOUT", &cfg.Call.AnswerTimeout)
}

func durationEnv(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = d
	return nil
}

// Validate checks that the fields required by the selected role are set.
func (c *Config) Validate() error {
	var errs []error

	if c.Call.RingTimeout < 0 || c.Call.AnswerTimeout < 0 {
		errs = append(errs, errors.New("call timeouts must not be negative"))
	}

	switch c.Role {
	case RoleServer:
		if c.Server.Listen == "" {
			errs = append(errs, errors.New("server.listen is required"))
		}
		if c.Server.Path == "" || c.Server.Path[0] != '/' {
			errs = append(errs, fmt.Errorf("server.path must start with '/': %q", c.Server.Path))
		}
	case RolePeer:
		if c.Peer.UserID == "" {
			errs = append(errs, errors.New("peer.user_id is required"))
		}
		if c.Peer.ServerURL == "" {
			errs = append(errs, errors.New("peer.server_url is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid role %q: must be 'server' or 'peer'", c.Role))
	}

	return errors.Join(errs...)
}

// DisplayName returns the configured display name for a user id.
func (c *Config) DisplayName(userID string) (string, bool) {
	name, ok := c.Users[userID]
	return name, ok
}
