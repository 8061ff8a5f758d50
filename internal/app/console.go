package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/rojcall/internal/call"
	"github.com/1ureka/rojcall/internal/media"
	"github.com/1ureka/rojcall/internal/util"
)

// Phone is the part of *call.Manager driven by the console.
type Phone interface {
	PlaceCall(ctx context.Context, remoteUserID string, c media.Constraints) error
	AcceptCall(ctx context.Context) error
	RejectCall(ctx context.Context) error
	EndCall(ctx context.Context) error
	ToggleAudio(ctx context.Context) (bool, error)
	ToggleVideo(ctx context.Context) (bool, error)
	Snapshot() call.CallState
}

var errQuit = errors.New("quit")

const consoleHelp = "commands: call <user> [audio|video], accept, reject, hangup, mute, video, status, quit"

// Console reads one command per line and drives a Phone.
type Console struct {
	phone Phone
	in    io.Reader
}

// NewConsole creates a console reading commands from in.
func NewConsole(phone Phone, in io.Reader) *Console {
	return &Console{phone: phone, in: in}
}

// Run reads commands until quit, end of input or ctx is cancelled.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	pterm.Info.Println(consoleHelp)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			reply, err := c.Exec(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				util.LogWarning("%v", err)
				continue
			}
			if reply != "" {
				pterm.Println(reply)
			}
		}
	}
}

// Exec runs one command line and returns the text to show.
func (c *Console) Exec(ctx context.Context, line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}

	switch strings.ToLower(fields[0]) {
	case "call":
		if len(fields) < 2 {
			return "", errors.New("usage: call <user> [audio|video]")
		}
		constraints := media.Constraints{Audio: true}
		if len(fields) > 2 {
			switch strings.ToLower(fields[2]) {
			case "audio":
			case "video":
				constraints.Video = true
			default:
				return "", fmt.Errorf("unknown call type %q: must be audio or video", fields[2])
			}
		}
		if err := c.phone.PlaceCall(ctx, fields[1], constraints); err != nil {
			return "", fmt.Errorf("call %s: %w", fields[1], err)
		}
		return fmt.Sprintf("calling %s...", fields[1]), nil

	case "accept":
		if err := c.phone.AcceptCall(ctx); err != nil {
			return "", fmt.Errorf("accept: %w", err)
		}
		return "call accepted", nil

	case "reject":
		if err := c.phone.RejectCall(ctx); err != nil {
			return "", fmt.Errorf("reject: %w", err)
		}
		return "call rejected", nil

	case "hangup", "end":
		if err := c.phone.EndCall(ctx); err != nil {
			return "", fmt.Errorf("hangup: %w", err)
		}
		return "call ended", nil

	case "mute":
		enabled, err := c.phone.ToggleAudio(ctx)
		if err != nil {
			return "", fmt.Errorf("mute: %w", err)
		}
		return "microphone " + onOff(enabled), nil

	case "video":
		enabled, err := c.phone.ToggleVideo(ctx)
		if err != nil {
			return "", fmt.Errorf("video: %w", err)
		}
		return "camera " + onOff(enabled), nil

	case "status":
		return describe(c.phone.Snapshot()), nil

	case "help", "?":
		return consoleHelp, nil

	case "quit", "exit":
		return "", errQuit

	default:
		return "", fmt.Errorf("unknown command %q (%s)", fields[0], consoleHelp)
	}
}

func onOff(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}

// describe renders a call snapshot for the status command.
func describe(s call.CallState) string {
	if s.State == call.StateIdle {
		return fmt.Sprintf("%s: idle", s.LocalUserID)
	}

	peer := s.RemoteUserID
	if s.RemoteName != "" && s.RemoteName != s.RemoteUserID {
		peer = fmt.Sprintf("%s (%s)", s.RemoteName, s.RemoteUserID)
	}
	out := fmt.Sprintf("%s: %s %s %s | audio %s | video %s",
		s.LocalUserID, s.State, s.Role, peer, onOff(s.Media.Audio), onOff(s.Media.Video))
	if !s.StartedAt.IsZero() && s.State == call.StateActive {
		out += fmt.Sprintf(" | since %s", s.StartedAt.Format("15:04:05"))
	}
	return out
}
