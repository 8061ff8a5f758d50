// Rojcall CLI entry point.
//
// This tool coordinates one-to-one audio/video calls between users. The
// server role runs the WebSocket signaling hub; the peer role connects one
// user to a hub and drives calls from an interactive console.
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags (-role, -config, -user, -server, -listen).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/rojcall/internal/app"
	"github.com/1ureka/rojcall/internal/config"
	"github.com/1ureka/rojcall/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	role := flag.String("role", "", "Role: server or peer")
	configPath := flag.String("config", "", "Path to a YAML config file")
	user := flag.String("user", "", "User id to connect as (peer only)")
	serverURL := flag.String("server", "", "Signaling server URL (peer only)")
	listen := flag.String("listen", "", "Listen address, e.g. :8090 (server only)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	if *debugMode {
		cfg.Log.Debug = true
	}
	if cfg.Log.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Rojcall v%s", version))
	pterm.Println()

	if flag.NFlag() == 0 || (*role == "" && *configPath == "" && *user == "") {
		// No role given → interactive mode.
		askInteractive(cfg)
	} else {
		if *role != "" {
			cfg.Role = config.Role(*role)
		}
		if err := applyFlags(cfg, *user, *serverURL, *listen); err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
	}

	if err := cfg.Validate(); err != nil {
		util.LogError("invalid configuration: %v", err)
		os.Exit(1)
	}

	switch cfg.Role {
	case config.RoleServer:
		err = app.RunServer(ctx, cfg.Server)
	case config.RolePeer:
		err = app.RunPeer(ctx, cfg, os.Stdin)
	}
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.LogInfo("successfully shut down")
}

// ---------------------------------------------------------------------------
// Flags and prompts
// ---------------------------------------------------------------------------

// applyFlags lets non-empty CLI flags override the loaded configuration.
func applyFlags(cfg *config.Config, user, serverURL, listen string) error {
	if user != "" {
		cfg.Peer.UserID = user
	}
	if serverURL != "" {
		u, err := normalizeWSURL(serverURL, cfg.Server.Path)
		if err != nil {
			return err
		}
		cfg.Peer.ServerURL = u
	}
	if listen != "" {
		cfg.Server.Listen = listen
	}
	return nil
}

// askInteractive falls back to interactive prompts when no -role flag is
// provided.
func askInteractive(cfg *config.Config) {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Peer   : join calls as a user", "Server : run the signaling hub"}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	if strings.HasPrefix(role, "Server") {
		cfg.Role = config.RoleServer
		listen, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(fmt.Sprintf("Listen address (default %s)", cfg.Server.Listen)).
			Show()
		if listen = strings.TrimSpace(listen); listen != "" {
			cfg.Server.Listen = listen
		}
		pterm.Println()
		return
	}

	cfg.Role = config.RolePeer
	cfg.Peer.UserID = askUser()
	cfg.Peer.ServerURL = askURL(cfg.Peer.ServerURL, cfg.Server.Path)
}

// normalizeWSURL validates a raw server address and fills in the scheme and
// the hub path when missing.
func normalizeWSURL(raw, path string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "ws://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid signaling server URL: %s", raw)
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = path
	}
	return u.String(), nil
}

// askUser prompts for a user id until a non-empty one is entered.
func askUser() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Your user id").
			Show()

		if id := strings.TrimSpace(raw); id != "" && !strings.ContainsAny(id, " \t") {
			pterm.Println()
			return id
		}

		util.LogWarning("invalid user id: must be non-empty without spaces")
		pterm.Println()
	}
}

// askURL prompts for the signaling server URL. An empty answer keeps def.
func askURL(def, path string) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(fmt.Sprintf("Signaling server URL (default %s)", def)).
			Show()

		if strings.TrimSpace(raw) == "" {
			pterm.Println()
			return def
		}
		wsURL, err := normalizeWSURL(raw, path)
		if err == nil {
			pterm.Println()
			return wsURL
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}
