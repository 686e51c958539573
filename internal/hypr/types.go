package hypr

// Monitor is one entry of `hyprctl -j monitors`.
type Monitor struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Transform int    `json:"transform"`
	Focused   bool   `json:"focused"`
}

// WorkspaceRef is the {id, name} pair used by several queries.
type WorkspaceRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Workspace is one entry of `hyprctl -j workspaces`.
type Workspace struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Monitor string `json:"monitor"`
	Windows int    `json:"windows"`
}

// ClientInfo is one entry of `hyprctl -j clients`. Optional strings are nil
// when the compositor omits them.
type ClientInfo struct {
	Address      string       `json:"address"`
	Mapped       bool         `json:"mapped"`
	Hidden       bool         `json:"hidden"`
	At           []int        `json:"at"`
	Size         []int        `json:"size"`
	Workspace    WorkspaceRef `json:"workspace"`
	Monitor      int          `json:"monitor"`
	Class        *string      `json:"class"`
	InitialClass *string      `json:"initialClass"`
	Title        *string      `json:"title"`
	PID          int          `json:"pid"`
	XWayland     bool         `json:"xwayland"`
}

// Geometry returns x, y, w, h and whether at/size were well formed.
func (c ClientInfo) Geometry() (x, y, w, h int, ok bool) {
	if len(c.At) < 2 || len(c.Size) < 2 {
		return 0, 0, 0, 0, false
	}
	return c.At[0], c.At[1], c.Size[0], c.Size[1], true
}

// FocusedMonitor picks the monitor flagged as focused.
func FocusedMonitor(monitors []Monitor) (Monitor, bool) {
	for _, m := range monitors {
		if m.Focused {
			return m, true
		}
	}
	return Monitor{}, false
}
