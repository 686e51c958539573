package hypr

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// shortTempDir keeps socket paths under the sun_path limit.
func shortTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "hy")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func listenUnix(t *testing.T, path string) net.Listener {
	t.Helper()
	l, err := net.Listen("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestBackoffMonotonicThenCapped(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, time.Second)

	var got []time.Duration
	for i := 0; i < 7; i++ {
		got = append(got, b.Next())
	}
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
		time.Second,
	}, got)

	b.Reset()
	assert.Equal(t, 100*time.Millisecond, b.Next())
}

func TestResolvePaths(t *testing.T) {
	p, err := ResolvePaths("/run/user/1000", "abc_123")
	require.NoError(t, err)
	assert.Equal(t, "/run/user/1000/hypr/abc_123/.socket.sock", p.Command)
	assert.Equal(t, "/run/user/1000/hypr/abc_123/.socket2.sock", p.Events)

	t.Setenv("XDG_RUNTIME_DIR", "")
	t.Setenv("HYPRLAND_INSTANCE_SIGNATURE", "")
	_, err = ResolvePaths("", "")
	assert.ErrorIs(t, err, ErrNoInstance)

	_, err = ResolvePaths("/"+strings.Repeat("d", 120), "sig")
	assert.Error(t, err)
}

func TestAddressHelpers(t *testing.T) {
	assert.Equal(t, "0x55d1c2a0b7e0", SanitizeAddress("0x55d1c2a0b7e0,extra"))
	assert.Equal(t, "", SanitizeAddress(" 0x1"))
	assert.Len(t, SanitizeAddress("0x"+strings.Repeat("f", 100)), 63)

	assert.False(t, ValidAddress(""))
	assert.False(t, ValidAddress("0x0"))
	assert.False(t, ValidAddress("0"))
	assert.True(t, ValidAddress("0x1a2b"))

	h, err := ParseHandle("0x55d1c2a0b7e0")
	require.NoError(t, err)
	assert.Equal(t, uint32(0xc2a0b7e0), h)

	_, err = ParseHandle("zz")
	assert.Error(t, err)
}

func TestParseEventAndClassify(t *testing.T) {
	ev, ok := ParseEvent("openwindow>>55d1,2,kitty,kitty\n")
	require.True(t, ok)
	assert.Equal(t, "openwindow", ev.Name)
	assert.Equal(t, "55d1,2,kitty,kitty", ev.Payload)

	_, ok = ParseEvent("garbage without separator")
	assert.False(t, ok)

	tests := []struct {
		name string
		want bool
	}{
		{"openwindow", true},
		{"closewindow", true},
		{"movewindowv2", true},
		{"moveworkspacev2", true},
		{"createworkspacev2", true},
		{"destroyworkspacev2", true},
		{"workspacev2", true},
		{"changefloatingmode", true},
		{"activewindowv2", true},
		{"activewindow", false},
		{"windowtitle", false},
		{"workspace", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RequiresRefresh(tt.name))
		})
	}
}

func TestSwitchWorkspaceCommand(t *testing.T) {
	tests := []struct {
		name   string
		wsName string
		id     int
		want   string
		ok     bool
	}{
		{"special", "special:scratch", -98, "dispatch workspace special:scratch", true},
		{"id", "", 3, "dispatch workspace 3", true},
		{"numeric name", "4", 0, "dispatch workspace 4", true},
		{"named", "web", 0, "dispatch workspace web", true},
		{"empty", "", 0, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := switchWorkspaceCommand(tt.wsName, tt.id)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClientSendsCommands(t *testing.T) {
	dir := shortTempDir(t)
	p := Paths{Command: filepath.Join(dir, "c.sock"), Events: filepath.Join(dir, "e.sock")}
	l := listenUnix(t, p.Command)

	received := make(chan string, 4)
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			buf := make([]byte, 1024)
			n, _ := conn.Read(buf)
			received <- string(buf[:n])
			conn.Write([]byte("ok"))
			conn.Close()
		}
	}()

	c := NewClientWithPaths(p)
	ctx := context.Background()

	require.NoError(t, c.MoveToWorkspaceSilent(ctx, "0xabc,junk", 3))
	assert.Equal(t, "dispatch movetoworkspacesilent 3,address:0xabc", <-received)

	require.NoError(t, c.FocusWindow(ctx, "0xdef"))
	assert.Equal(t, "dispatch focuswindow address:0xdef", <-received)

	resp, err := c.Request(ctx, "j/monitors")
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp))
	assert.Equal(t, "j/monitors", <-received)

	err = c.SendCommand(ctx, strings.Repeat("x", 600))
	assert.ErrorIs(t, err, ErrCommandTooLong)
}

func TestClientCommandFailsWithoutSocket(t *testing.T) {
	dir := shortTempDir(t)
	c := NewClientWithPaths(Paths{Command: filepath.Join(dir, "missing.sock")})
	err := c.SendCommand(context.Background(), "dispatch workspace 1")
	assert.Error(t, err)
}

func TestEventReaderFiltersAndReconnects(t *testing.T) {
	dir := shortTempDir(t)
	p := Paths{Command: filepath.Join(dir, "c.sock"), Events: filepath.Join(dir, "e.sock")}
	l := listenUnix(t, p.Events)

	// First connection sends a mix of events and drops; the second one
	// sends one more event and stays open.
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		conn.Write([]byte("activewindow>>kitty,title\nopenwindow>>1,2,a,b\nnot an event\n"))
		conn.Close()

		conn, err = l.Accept()
		if err != nil {
			return
		}
		conn.Write([]byte("closewindow>>1\n"))
		// hold the connection until the reader closes it
		buf := make([]byte, 1)
		conn.Read(buf)
		conn.Close()
	}()

	refreshes := make(chan Event, 8)
	var seen, connects atomic.Int32

	r := NewEventReader(NewClientWithPaths(p), func(ev Event) { refreshes <- ev }, EventReaderOptions{
		BackoffMin: time.Millisecond,
		BackoffMax: 5 * time.Millisecond,
		OnEvent:    func(Event, bool) { seen.Add(1) },
		OnConnect:  func() { connects.Add(1) },
	})
	require.NoError(t, r.Start())
	assert.Error(t, r.Start())

	first := waitEvent(t, refreshes)
	assert.Equal(t, "openwindow", first.Name)
	second := waitEvent(t, refreshes)
	assert.Equal(t, "closewindow", second.Name)

	r.Stop()
	r.Stop()

	assert.Equal(t, int32(3), seen.Load())
	assert.GreaterOrEqual(t, connects.Load(), int32(2))
	select {
	case ev := <-refreshes:
		t.Fatalf("unexpected refresh event %v", ev)
	default:
	}
}

func TestEventReaderStopWhileDisconnected(t *testing.T) {
	dir := shortTempDir(t)
	p := Paths{Events: filepath.Join(dir, "absent.sock")}

	r := NewEventReader(NewClientWithPaths(p), func(Event) {}, EventReaderOptions{})
	require.NoError(t, r.Start())

	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func waitEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestQueriersDecodeJSON(t *testing.T) {
	fixtures := map[string]string{
		"activeworkspace": `{"id":2,"name":"2","monitor":"DP-1","windows":1}`,
		"monitors":        `[{"id":0,"name":"DP-1","width":2560,"height":1440,"x":0,"y":0,"transform":1,"focused":true}]`,
		"workspaces":      `[{"id":1,"name":"web"},{"id":2,"name":"2"}]`,
		"clients": `[{"address":"0x55d1","mapped":true,"hidden":false,"at":[10,20],"size":[300,200],
			"workspace":{"id":1,"name":"web"},"monitor":0,"class":"kitty","initialClass":"kitty",
			"title":"zsh","pid":4242,"xwayland":false}]`,
	}

	var calls []string
	q := NewHyprctlQuerierWithRunner(func(_ context.Context, what string) ([]byte, error) {
		calls = append(calls, what)
		return []byte(fixtures[what]), nil
	})
	ctx := context.Background()

	ws, err := q.ActiveWorkspace(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, ws.ID)

	mons, err := q.Monitors(ctx)
	require.NoError(t, err)
	require.Len(t, mons, 1)
	assert.Equal(t, 2560, mons[0].Width)
	assert.Equal(t, 1, mons[0].Transform)

	wss, err := q.Workspaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, "web", wss[0].Name)

	clients, err := q.Clients(ctx)
	require.NoError(t, err)
	require.Len(t, clients, 1)
	c := clients[0]
	require.NotNil(t, c.Class)
	assert.Equal(t, "kitty", *c.Class)
	assert.Equal(t, 4242, c.PID)
	x, y, w, h, ok := c.Geometry()
	assert.True(t, ok)
	assert.Equal(t, []int{10, 20, 300, 200}, []int{x, y, w, h})

	assert.Equal(t, []string{"activeworkspace", "monitors", "workspaces", "clients"}, calls)
}

func TestQuerierErrors(t *testing.T) {
	q := NewHyprctlQuerierWithRunner(func(_ context.Context, what string) ([]byte, error) {
		if what == "monitors" {
			return []byte("  "), nil
		}
		return []byte("{not json"), nil
	})
	_, err := q.Monitors(context.Background())
	assert.Error(t, err)
	_, err = q.Clients(context.Background())
	assert.Error(t, err)
}

func TestFocusedMonitor(t *testing.T) {
	_, ok := FocusedMonitor(nil)
	assert.False(t, ok)

	m, ok := FocusedMonitor([]Monitor{{ID: 0}, {ID: 1, Focused: true}})
	require.True(t, ok)
	assert.Equal(t, 1, m.ID)

	_, ok = FocusedMonitor([]Monitor{{ID: 5}, {ID: 6}})
	assert.False(t, ok)
}
