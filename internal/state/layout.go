package state

import (
	"strconv"

	"github.com/bryanchriswhite/HyprOverview/internal/geometry"
)

// MaxCanvas bounds preview canvas sides in pixels.
const MaxCanvas = 16384

// WindowLayout places one window in monitor space and on the canvas.
type WindowLayout struct {
	Address string        `json:"address"`
	Rect    geometry.Rect `json:"rect"`
	View    geometry.Rect `json:"view"`
}

// WorkspaceLayout is the drawn form of one visible workspace.
type WorkspaceLayout struct {
	ID      int            `json:"id"`
	Name    string         `json:"name"`
	Windows []WindowLayout `json:"windows"`
}

// Layout is what a presentation layer needs to draw the visible workspaces
// into a canvas of a given size.
type Layout struct {
	Monitor    geometry.Monitor  `json:"monitor"`
	Preview    geometry.Preview  `json:"preview"`
	Workspaces []WorkspaceLayout `json:"workspaces"`
}

// Layout fits the monitor into a canvasW x canvasH canvas and maps every
// window of the visible workspaces onto it. Canvas sides are clamped to
// 1..MaxCanvas.
func (s Snapshot) Layout(canvasW, canvasH int) Layout {
	canvasW = geometry.ClampInt(canvasW, 1, MaxCanvas)
	canvasH = geometry.ClampInt(canvasH, 1, MaxCanvas)

	// rotated monitors are drawn with their sides swapped
	monW, monH := s.Monitor.Width, s.Monitor.Height
	if s.Monitor.Transform%2 != 0 {
		monW, monH = monH, monW
	}
	p := geometry.PreviewTransform(monW, monH, float64(canvasW), float64(canvasH))

	out := Layout{Monitor: s.Monitor, Preview: p, Workspaces: []WorkspaceLayout{}}
	for _, id := range s.Visible {
		ws, ok := s.Workspace(id)
		if !ok {
			ws = Workspace{ID: id, Name: strconv.Itoa(id)}
		}
		wl := WorkspaceLayout{ID: ws.ID, Name: ws.Name, Windows: []WindowLayout{}}
		for _, w := range ws.Windows {
			r := s.Normalized(w)
			wl.Windows = append(wl.Windows, WindowLayout{
				Address: w.Address,
				Rect:    r,
				View: geometry.Rect{
					X: p.OffsetX + r.X*p.ViewW,
					Y: p.OffsetY + r.Y*p.ViewH,
					W: r.W * p.ViewW,
					H: r.H * p.ViewH,
				},
			})
		}
		out.Workspaces = append(out.Workspaces, wl)
	}
	return out
}
