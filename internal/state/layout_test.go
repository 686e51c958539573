package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/HyprOverview/internal/geometry"
)

func TestSnapshotLayout(t *testing.T) {
	snap := Snapshot{
		Monitor:         geometry.Monitor{Width: 2000, Height: 1000, X: 100},
		ActiveWorkspace: 2,
		Visible:         []int{1, 2},
		Workspaces: []Workspace{{
			ID:   1,
			Name: "web",
			Windows: []Window{
				{Address: "0xa", X: 100, Y: 0, W: 1000, H: 500},
				{Address: "0xb", X: 1100, Y: 500, W: 1000, H: 500},
			},
		}},
	}

	l := snap.Layout(400, 400)
	assert.Equal(t, geometry.Preview{Scale: 0.2, ViewW: 400, ViewH: 200, OffsetX: 0, OffsetY: 100}, l.Preview)
	require.Len(t, l.Workspaces, 2)

	ws := l.Workspaces[0]
	assert.Equal(t, "web", ws.Name)
	require.Len(t, ws.Windows, 2)
	assert.Equal(t, geometry.Rect{X: 0, Y: 0, W: 0.5, H: 0.5}, ws.Windows[0].Rect)
	assert.Equal(t, geometry.Rect{X: 0, Y: 100, W: 200, H: 100}, ws.Windows[0].View)
	assert.Equal(t, geometry.Rect{X: 200, Y: 200, W: 200, H: 100}, ws.Windows[1].View)

	// the active workspace is listed even when it has no windows
	assert.Equal(t, WorkspaceLayout{ID: 2, Name: "2", Windows: []WindowLayout{}}, l.Workspaces[1])
}

func TestSnapshotLayoutRotatedAndClamped(t *testing.T) {
	snap := Snapshot{
		Monitor: geometry.Monitor{Width: 1000, Height: 2000, Transform: 1},
		Visible: []int{1},
	}

	l := snap.Layout(200, 0)
	// sides swap for a rotated monitor; height clamps to one pixel
	assert.InDelta(t, 1.0, l.Preview.ViewH, 1e-9)
	assert.InDelta(t, 2.0, l.Preview.ViewW, 1e-9)
	assert.InDelta(t, 99.0, l.Preview.OffsetX, 1e-9)

	l = snap.Layout(MaxCanvas*2, MaxCanvas*2)
	assert.InDelta(t, float64(MaxCanvas), l.Preview.ViewW, 1e-6)
}
