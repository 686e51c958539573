package state

import (
	"sort"

	"github.com/bryanchriswhite/HyprOverview/internal/geometry"
)

const (
	// MaxWorkspaces bounds workspace ids to 1..MaxWorkspaces-1.
	MaxWorkspaces = 32
	// MaxWindowsPerWorkspace caps how many windows one workspace keeps.
	MaxWindowsPerWorkspace = 32
)

// Window is one mapped toplevel on the focused monitor.
type Window struct {
	Address      string  `json:"address"`
	X            int     `json:"x"`
	Y            int     `json:"y"`
	W            int     `json:"w"`
	H            int     `json:"h"`
	Class        *string `json:"class"`
	InitialClass *string `json:"initial_class"`
	Title        *string `json:"title"`
	// Thumbnail is base64 of a binary PPM, empty until captured
	Thumbnail string `json:"thumbnail,omitempty"`
	// Cookie changes every refresh; capture results carry it back
	Cookie   uint64 `json:"cookie"`
	PID      int    `json:"pid"`
	XWayland bool   `json:"xwayland"`
}

// Workspace groups windows by workspace id.
type Workspace struct {
	ID      int      `json:"id"`
	Name    string   `json:"name"`
	Windows []Window `json:"windows"`
}

// Snapshot is a deep copy of the store. The caller owns it outright; it
// never shares memory with the store.
type Snapshot struct {
	Monitor         geometry.Monitor `json:"monitor"`
	ActiveWorkspace int              `json:"active_workspace"`
	Visible         []int            `json:"visible"`
	Workspaces      []Workspace      `json:"workspaces"`
	Epoch           uint64           `json:"epoch"`
	CaptureEnabled  bool             `json:"capture_enabled"`
}

// Release drops the snapshot's references. Calling it twice is harmless.
func (s *Snapshot) Release() {
	s.Visible = nil
	s.Workspaces = nil
}

// Workspace returns the workspace with the given id.
func (s Snapshot) Workspace(id int) (Workspace, bool) {
	i := sort.Search(len(s.Workspaces), func(i int) bool { return s.Workspaces[i].ID >= id })
	if i < len(s.Workspaces) && s.Workspaces[i].ID == id {
		return s.Workspaces[i], true
	}
	return Workspace{}, false
}

// Window finds a window by address and returns it with its workspace id.
func (s Snapshot) Window(addr string) (Window, int, bool) {
	for _, ws := range s.Workspaces {
		for _, w := range ws.Windows {
			if w.Address == addr {
				return w, ws.ID, true
			}
		}
	}
	return Window{}, 0, false
}

// Addresses lists every window address in the snapshot.
func (s Snapshot) Addresses() []string {
	var out []string
	for _, ws := range s.Workspaces {
		for _, w := range ws.Windows {
			out = append(out, w.Address)
		}
	}
	return out
}

// Normalized maps a window into monitor-relative [0,1] coordinates.
func (s Snapshot) Normalized(w Window) geometry.Rect {
	return geometry.WindowToNormalized(s.Monitor, w.X, w.Y, w.W, w.H)
}

func copyString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func (w Window) clone() Window {
	w.Class = copyString(w.Class)
	w.InitialClass = copyString(w.InitialClass)
	w.Title = copyString(w.Title)
	return w
}

func (ws *Workspace) clone() Workspace {
	out := Workspace{ID: ws.ID, Name: ws.Name}
	if len(ws.Windows) > 0 {
		out.Windows = make([]Window, len(ws.Windows))
		for i, w := range ws.Windows {
			out.Windows[i] = w.clone()
		}
	}
	return out
}
