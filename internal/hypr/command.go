package hypr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/bryanchriswhite/HyprOverview/internal/logger"
)

// ErrCommandTooLong is returned for commands that do not fit the
// compositor's request buffer.
var ErrCommandTooLong = errors.New("hyprland command too long")

const (
	maxCommandLen  = 511
	defaultTimeout = 2 * time.Second
)

// Client talks to a Hyprland instance over its Unix sockets. Every command
// opens a fresh connection; there is no persistent command connection.
type Client struct {
	paths   pathCache
	timeout time.Duration
}

// NewClient creates a client. Empty runtimeDir/signature are read from the
// environment on first use.
func NewClient(runtimeDir, signature string) *Client {
	return &Client{
		paths:   pathCache{runtimeDir: runtimeDir, signature: signature},
		timeout: defaultTimeout,
	}
}

// NewClientWithPaths creates a client bound to explicit socket paths.
func NewClientWithPaths(p Paths) *Client {
	c := &Client{timeout: defaultTimeout}
	c.paths.resolved = &p
	return c
}

// Paths returns the resolved socket paths.
func (c *Client) Paths() (Paths, error) {
	return c.paths.get()
}

// SetTimeout bounds each command round trip.
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// Request sends one command and returns the full response.
func (c *Client) Request(ctx context.Context, command string) ([]byte, error) {
	if command == "" {
		return nil, fmt.Errorf("empty hyprland command")
	}
	if len(command) > maxCommandLen {
		return nil, ErrCommandTooLong
	}

	p, err := c.paths.get()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", p.Command)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", p.Command, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if _, err := io.WriteString(conn, command); err != nil {
		return nil, fmt.Errorf("hyprland command write failed: %w", err)
	}

	resp, err := io.ReadAll(conn)
	if err != nil {
		return resp, fmt.Errorf("hyprland command read failed: %w", err)
	}
	return resp, nil
}

// SendCommand sends one command and discards the response.
func (c *Client) SendCommand(ctx context.Context, command string) error {
	resp, err := c.Request(ctx, command)
	if err != nil {
		logger.WithComponent("hypr-command").Warn().
			Err(err).
			Str("command", command).
			Msg("Hyprland command failed")
		return err
	}
	logger.WithComponent("hypr-command").Debug().
		Str("command", command).
		Str("response", strings.TrimSpace(string(resp))).
		Msg("Hyprland command sent")
	return nil
}

// MoveToWorkspaceSilent moves a window to a workspace without following it.
func (c *Client) MoveToWorkspaceSilent(ctx context.Context, addr string, workspace int) error {
	a := SanitizeAddress(addr)
	if a == "" || workspace <= 0 {
		return fmt.Errorf("invalid move target (address %q, workspace %d)", addr, workspace)
	}
	return c.SendCommand(ctx, fmt.Sprintf("dispatch movetoworkspacesilent %d,address:%s", workspace, a))
}

// SwitchWorkspace switches to a workspace by name or id. Special workspace
// names win, then a non-zero id, then the name (numeric names become ids).
func (c *Client) SwitchWorkspace(ctx context.Context, name string, id int) error {
	cmd, ok := switchWorkspaceCommand(name, id)
	if !ok {
		return fmt.Errorf("no workspace given")
	}
	return c.SendCommand(ctx, cmd)
}

func switchWorkspaceCommand(name string, id int) (string, bool) {
	switch {
	case strings.HasPrefix(name, "special:"):
		return "dispatch workspace " + name, true
	case id != 0:
		return "dispatch workspace " + strconv.Itoa(id), true
	case name != "":
		if n, err := strconv.Atoi(name); err == nil && n != 0 {
			return "dispatch workspace " + strconv.Itoa(n), true
		}
		return "dispatch workspace " + name, true
	}
	return "", false
}

// FocusWindow focuses a window by address.
func (c *Client) FocusWindow(ctx context.Context, addr string) error {
	a := SanitizeAddress(addr)
	if a == "" {
		return fmt.Errorf("invalid window address %q", addr)
	}
	return c.SendCommand(ctx, "dispatch focuswindow address:"+a)
}
