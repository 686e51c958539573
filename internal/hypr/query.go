package hypr

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/bytedance/sonic"
)

// Querier fetches compositor state. Implementations must be safe for
// concurrent use.
type Querier interface {
	ActiveWorkspace(ctx context.Context) (WorkspaceRef, error)
	Monitors(ctx context.Context) ([]Monitor, error)
	Workspaces(ctx context.Context) ([]Workspace, error)
	Clients(ctx context.Context) ([]ClientInfo, error)
}

// RunFunc executes `hyprctl -j <what>` and returns stdout.
type RunFunc func(ctx context.Context, what string) ([]byte, error)

// HyprctlQuerier queries through the hyprctl binary.
type HyprctlQuerier struct {
	run RunFunc
}

// NewHyprctlQuerier creates a querier running the given hyprctl binary.
func NewHyprctlQuerier(path string) *HyprctlQuerier {
	if path == "" {
		path = "hyprctl"
	}
	return &HyprctlQuerier{run: execRunner(path)}
}

// NewHyprctlQuerierWithRunner replaces the subprocess; used by tests.
func NewHyprctlQuerierWithRunner(run RunFunc) *HyprctlQuerier {
	return &HyprctlQuerier{run: run}
}

func execRunner(path string) RunFunc {
	return func(ctx context.Context, what string) ([]byte, error) {
		var stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, path, "-j", what)
		cmd.Stderr = &stderr
		out, err := cmd.Output()
		if err != nil {
			return nil, fmt.Errorf("hyprctl -j %s: %w (%s)", what, err, bytes.TrimSpace(stderr.Bytes()))
		}
		return out, nil
	}
}

func (q *HyprctlQuerier) ActiveWorkspace(ctx context.Context) (WorkspaceRef, error) {
	var ws WorkspaceRef
	err := queryJSON(ctx, q.run, "activeworkspace", &ws)
	return ws, err
}

func (q *HyprctlQuerier) Monitors(ctx context.Context) ([]Monitor, error) {
	var out []Monitor
	err := queryJSON(ctx, q.run, "monitors", &out)
	return out, err
}

func (q *HyprctlQuerier) Workspaces(ctx context.Context) ([]Workspace, error) {
	var out []Workspace
	err := queryJSON(ctx, q.run, "workspaces", &out)
	return out, err
}

func (q *HyprctlQuerier) Clients(ctx context.Context) ([]ClientInfo, error) {
	var out []ClientInfo
	err := queryJSON(ctx, q.run, "clients", &out)
	return out, err
}

// SocketQuerier sends "j/<what>" requests over the command socket, skipping
// the hyprctl subprocess.
type SocketQuerier struct {
	client *Client
}

// NewSocketQuerier wraps a command client.
func NewSocketQuerier(client *Client) *SocketQuerier {
	return &SocketQuerier{client: client}
}

func (q *SocketQuerier) run(ctx context.Context, what string) ([]byte, error) {
	return q.client.Request(ctx, "j/"+what)
}

func (q *SocketQuerier) ActiveWorkspace(ctx context.Context) (WorkspaceRef, error) {
	var ws WorkspaceRef
	err := queryJSON(ctx, q.run, "activeworkspace", &ws)
	return ws, err
}

func (q *SocketQuerier) Monitors(ctx context.Context) ([]Monitor, error) {
	var out []Monitor
	err := queryJSON(ctx, q.run, "monitors", &out)
	return out, err
}

func (q *SocketQuerier) Workspaces(ctx context.Context) ([]Workspace, error) {
	var out []Workspace
	err := queryJSON(ctx, q.run, "workspaces", &out)
	return out, err
}

func (q *SocketQuerier) Clients(ctx context.Context) ([]ClientInfo, error) {
	var out []ClientInfo
	err := queryJSON(ctx, q.run, "clients", &out)
	return out, err
}

func queryJSON(ctx context.Context, run RunFunc, what string, v interface{}) error {
	data, err := run(ctx, what)
	if err != nil {
		return err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty %s response", what)
	}
	if err := sonic.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", what, err)
	}
	return nil
}
