package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/HyprOverview/internal/capture"
	"github.com/bryanchriswhite/HyprOverview/internal/hypr"
)

type fakeQuerier struct {
	mu         sync.Mutex
	active     hypr.WorkspaceRef
	monitors   []hypr.Monitor
	workspaces []hypr.Workspace
	clients    []hypr.ClientInfo

	errActive, errMonitors, errWorkspaces, errClients error
	workspaceCalls                                    int
}

func (f *fakeQuerier) ActiveWorkspace(context.Context) (hypr.WorkspaceRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active, f.errActive
}

func (f *fakeQuerier) Monitors(context.Context) ([]hypr.Monitor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.monitors, f.errMonitors
}

func (f *fakeQuerier) Workspaces(context.Context) ([]hypr.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workspaceCalls++
	return f.workspaces, f.errWorkspaces
}

func (f *fakeQuerier) Clients(context.Context) ([]hypr.ClientInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients, f.errClients
}

// fakePool returns a thumbnail derived from the address, or runs hook first.
type fakePool struct {
	mu    sync.Mutex
	runs  [][]capture.Request
	hook  func()
	fail  map[string]bool
	label string
}

func (p *fakePool) Run(_ context.Context, reqs []capture.Request) []capture.Result {
	p.mu.Lock()
	p.runs = append(p.runs, reqs)
	hook := p.hook
	p.mu.Unlock()
	if hook != nil {
		hook()
	}
	out := make([]capture.Result, len(reqs))
	for i, r := range reqs {
		out[i] = capture.Result{Address: r.Address}
		if p.fail[r.Address] {
			out[i].Err = capture.ErrFailed
			continue
		}
		out[i].Encoded = "thumb:" + p.label + r.Address
	}
	return out
}

func strp(s string) *string { return &s }

func client(addr string, ws int, wsName string) hypr.ClientInfo {
	return hypr.ClientInfo{
		Address:   addr,
		Mapped:    true,
		At:        []int{10, 20},
		Size:      []int{300, 200},
		Workspace: hypr.WorkspaceRef{ID: ws, Name: wsName},
		Class:     strp("kitty"),
		Title:     strp("shell"),
		PID:       100,
	}
}

func baseQuerier() *fakeQuerier {
	return &fakeQuerier{
		active:   hypr.WorkspaceRef{ID: 1},
		monitors: []hypr.Monitor{{ID: 0, Width: 2560, Height: 1440, Focused: true}},
	}
}

func TestRefreshDropsNullAddress(t *testing.T) {
	q := baseQuerier()
	q.clients = []hypr.ClientInfo{
		client("0xa1", 1, "1"),
		client("0xa2", 1, "1"),
		client("0x0", 2, "2"),
		client("0xb1", 2, "2"),
	}
	pool := &fakePool{}
	s := NewStore(q, pool, 512)

	stats, err := s.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Windows)
	assert.Equal(t, 3, stats.Captured)

	snap := s.CopyState()
	require.Len(t, snap.Workspaces, 2)
	assert.Equal(t, 1, snap.Workspaces[0].ID)
	assert.Len(t, snap.Workspaces[0].Windows, 2)
	assert.Len(t, snap.Workspaces[1].Windows, 1)
	assert.Equal(t, []int{1, 2}, snap.Visible)
	assert.Equal(t, 2560, snap.Monitor.Width)

	w, wsID, ok := snap.Window("0xa2")
	require.True(t, ok)
	assert.Equal(t, 1, wsID)
	assert.Equal(t, "thumb:0xa2", w.Thumbnail)
	assert.Equal(t, "kitty", *w.Class)

	require.Len(t, pool.runs, 1)
	assert.Equal(t, 512, pool.runs[0][0].MaxWidth)
}

func TestRefreshFilters(t *testing.T) {
	q := baseQuerier()
	unmapped := client("0x1", 1, "1")
	unmapped.Mapped = false
	hidden := client("0x2", 1, "1")
	hidden.Hidden = true
	otherMonitor := client("0x3", 1, "1")
	otherMonitor.Monitor = 1
	badWorkspace := client("0x4", 32, "32")
	special := client("0x5", -98, "special:scratch")
	noGeometry := client("0x6", 1, "1")
	noGeometry.At = nil
	junkAddress := client("0x7,junk", 1, "1")
	q.clients = []hypr.ClientInfo{unmapped, hidden, otherMonitor, badWorkspace, special, noGeometry, junkAddress}

	s := NewStore(q, nil, 0)
	_, err := s.Refresh(context.Background())
	require.NoError(t, err)

	snap := s.CopyState()
	assert.Equal(t, []string{"0x7"}, snap.Addresses())
}

func TestRefreshCapsWindowsPerWorkspace(t *testing.T) {
	q := baseQuerier()
	for i := 0; i < MaxWindowsPerWorkspace+5; i++ {
		q.clients = append(q.clients, client(fmt.Sprintf("0x%x", i+1), 1, "1"))
	}
	s := NewStore(q, nil, 0)
	_, err := s.Refresh(context.Background())
	require.NoError(t, err)

	ws, ok := s.CopyState().Workspace(1)
	require.True(t, ok)
	assert.Len(t, ws.Windows, MaxWindowsPerWorkspace)
}

func TestVisibleFallsBackToWorkspaceOne(t *testing.T) {
	assert.Equal(t, []int{1}, visibleList(map[int]*Workspace{}, 0))
	assert.Equal(t, []int{3}, visibleList(map[int]*Workspace{}, 3))
	assert.Equal(t, []int{2, 5}, visibleList(map[int]*Workspace{
		5: {ID: 5, Windows: []Window{{Address: "0x1"}}},
	}, 2))

	q := baseQuerier()
	q.errActive = errors.New("hyprctl gone")
	s := NewStore(q, nil, 0)
	_, err := s.Refresh(context.Background())
	require.Error(t, err)

	snap := s.CopyState()
	assert.NotEmpty(t, snap.Visible)
	assert.Equal(t, []int{1}, snap.Visible)
}

func TestActiveWorkspaceVisibleWithoutWindows(t *testing.T) {
	q := baseQuerier()
	q.active = hypr.WorkspaceRef{ID: 4}
	q.clients = []hypr.ClientInfo{client("0xa", 2, "")}
	q.workspaces = []hypr.Workspace{{ID: 2, Name: "web"}, {ID: 4, Name: "chat"}}

	s := NewStore(q, nil, 0)
	_, err := s.Refresh(context.Background())
	require.NoError(t, err)

	snap := s.CopyState()
	assert.Equal(t, []int{2, 4}, snap.Visible)
	assert.Equal(t, 4, snap.ActiveWorkspace)
	ws, ok := snap.Workspace(2)
	require.True(t, ok)
	assert.Equal(t, "web", ws.Name)
	ws, ok = snap.Workspace(4)
	require.True(t, ok)
	assert.Equal(t, "chat", ws.Name)
	assert.Empty(t, ws.Windows)
	assert.Equal(t, 1, q.workspaceCalls)
}

func TestWorkspaceNamesDefaultToID(t *testing.T) {
	q := baseQuerier()
	q.clients = []hypr.ClientInfo{client("0xa", 1, ""), client("0xb", 3, "")}
	q.errWorkspaces = errors.New("no names")

	s := NewStore(q, nil, 0)
	_, err := s.Refresh(context.Background())
	require.Error(t, err)

	snap := s.CopyState()
	ws, _ := snap.Workspace(3)
	assert.Equal(t, "3", ws.Name)
	assert.Len(t, snap.Addresses(), 2)
}

func TestNamesQuerySkippedWhenClientsCarryNames(t *testing.T) {
	q := baseQuerier()
	q.clients = []hypr.ClientInfo{client("0xa", 1, "main")}
	s := NewStore(q, nil, 0)
	_, err := s.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, q.workspaceCalls)
}

func TestFailedSubQueriesKeepPriorState(t *testing.T) {
	q := baseQuerier()
	q.active = hypr.WorkspaceRef{ID: 2}
	q.clients = []hypr.ClientInfo{client("0xa", 2, "2")}
	s := NewStore(q, &fakePool{}, 0)
	_, err := s.Refresh(context.Background())
	require.NoError(t, err)
	before := s.CopyState()

	q.mu.Lock()
	q.errActive = errors.New("active down")
	q.errMonitors = errors.New("monitors down")
	q.errClients = errors.New("clients down")
	q.mu.Unlock()

	_, err = s.Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clients down")

	after := s.CopyState()
	assert.Equal(t, before.Monitor, after.Monitor)
	assert.Equal(t, before.ActiveWorkspace, after.ActiveWorkspace)
	assert.Equal(t, before.Workspaces, after.Workspaces)
	assert.Greater(t, after.Epoch, before.Epoch)

	// out-of-range active ids and monitors without size are ignored too
	q.mu.Lock()
	q.errActive, q.errMonitors, q.errClients = nil, nil, nil
	q.active = hypr.WorkspaceRef{ID: 99}
	q.monitors = []hypr.Monitor{{ID: 0, Width: 0, Height: 0, Focused: true}}
	q.mu.Unlock()
	_, err = s.Refresh(context.Background())
	require.NoError(t, err)
	after = s.CopyState()
	assert.Equal(t, 2, after.ActiveWorkspace)
	assert.Equal(t, 2560, after.Monitor.Width)
}

func TestThumbnailsCarryOverAndCaptureToggle(t *testing.T) {
	q := baseQuerier()
	q.clients = []hypr.ClientInfo{client("0xa", 1, "1")}
	pool := &fakePool{label: "v1:"}
	s := NewStore(q, pool, 0)
	_, err := s.Refresh(context.Background())
	require.NoError(t, err)

	s.SetCaptureEnabled(false)
	assert.False(t, s.CaptureEnabled())
	_, err = s.Refresh(context.Background())
	require.NoError(t, err)
	assert.Len(t, pool.runs, 1, "capture disabled skips the pool")

	snap := s.CopyState()
	w, _, _ := snap.Window("0xa")
	assert.Equal(t, "thumb:v1:0xa", w.Thumbnail, "previous thumbnail carried over")

	pool.fail = map[string]bool{"0xa": true}
	s.SetCaptureEnabled(true)
	stats, err := s.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	snap = s.CopyState()
	w, _, _ = snap.Window("0xa")
	assert.Equal(t, "thumb:v1:0xa", w.Thumbnail, "failed capture keeps the old thumbnail")
}

func TestStaleCaptureWriteBackDiscarded(t *testing.T) {
	q := baseQuerier()
	q.clients = []hypr.ClientInfo{client("0xa", 1, "1")}
	slow := &fakePool{label: "old:"}
	s := NewStore(q, slow, 0)

	// while the first refresh is capturing, a second refresh swaps in a
	// new model with new cookies
	var inner RefreshStats
	slow.hook = func() {
		slow.mu.Lock()
		slow.hook = nil
		slow.label = "new:"
		slow.mu.Unlock()
		var err error
		inner, err = s.Refresh(context.Background())
		require.NoError(t, err)
	}

	outer, err := s.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, inner.Captured)
	assert.Equal(t, 0, outer.Captured)
	assert.Equal(t, 1, outer.Discarded)

	snap := s.CopyState()
	w, _, _ := snap.Window("0xa")
	assert.Equal(t, "thumb:new:0xa", w.Thumbnail)
}

func TestSnapshotIndependence(t *testing.T) {
	q := baseQuerier()
	q.clients = []hypr.ClientInfo{client("0xa", 1, "1")}
	s := NewStore(q, &fakePool{}, 0)
	_, err := s.Refresh(context.Background())
	require.NoError(t, err)

	snap := s.CopyState()
	*snap.Workspaces[0].Windows[0].Title = "mutated"
	snap.Workspaces[0].Windows[0].Thumbnail = ""
	snap.Workspaces[0].Name = "renamed"
	snap.Visible[0] = 9

	fresh := s.CopyState()
	w, _, _ := fresh.Window("0xa")
	assert.Equal(t, "shell", *w.Title)
	assert.NotEmpty(t, w.Thumbnail)
	assert.Equal(t, "1", fresh.Workspaces[0].Name)
	assert.Equal(t, []int{1}, fresh.Visible)

	// the store copied the querier's strings too
	*q.clients[0].Title = "changed upstream"
	w, _, _ = fresh.Window("0xa")
	assert.Equal(t, "shell", *w.Title)

	snap.Release()
	snap.Release()
	assert.Nil(t, snap.Workspaces)
}

func TestCookiesChangeEveryRefresh(t *testing.T) {
	q := baseQuerier()
	q.clients = []hypr.ClientInfo{client("0xa", 1, "1"), client("0xb", 1, "1")}
	s := NewStore(q, nil, 0)

	_, err := s.Refresh(context.Background())
	require.NoError(t, err)
	first := s.CopyState()
	_, err = s.Refresh(context.Background())
	require.NoError(t, err)
	second := s.CopyState()

	a1, _, _ := first.Window("0xa")
	b1, _, _ := first.Window("0xb")
	a2, _, _ := second.Window("0xa")
	assert.NotEqual(t, a1.Cookie, b1.Cookie)
	assert.Greater(t, a2.Cookie, a1.Cookie)

	s.Clear()
	assert.Empty(t, s.CopyState().Workspaces)
}
