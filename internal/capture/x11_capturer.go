package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"strings"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/composite"
	"github.com/BurntSushi/xgb/xproto"

	"github.com/bryanchriswhite/HyprOverview/internal/logger"
)

// X11Capturer captures XWayland clients through the X server that Hyprland
// runs for them. Windows are matched by _NET_WM_PID and title since X11 ids
// are unrelated to compositor addresses.
type X11Capturer struct {
	conn             *xgb.Conn
	root             xproto.Window
	screen           *xproto.ScreenInfo
	compositeEnabled bool
	atoms            map[string]xproto.Atom
	mu               sync.Mutex
}

// NewX11Capturer connects to $DISPLAY and initializes Composite if present.
func NewX11Capturer() (*X11Capturer, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	c := &X11Capturer{
		conn:   conn,
		root:   screen.Root,
		screen: screen,
		atoms:  make(map[string]xproto.Atom),
	}

	log := logger.WithComponent("x11-capturer")
	if err := composite.Init(conn); err != nil {
		log.Warn().
			Err(err).
			Msg("Composite extension not available - obscured XWayland windows may capture blank")
	} else {
		c.compositeEnabled = true
	}
	return c, nil
}

// Close closes the X11 connection
func (c *X11Capturer) Close() {
	c.conn.Close()
}

// Name returns the capturer name
func (c *X11Capturer) Name() string {
	return "x11"
}

// Capture finds the X11 window belonging to an XWayland client and grabs it.
func (c *X11Capturer) Capture(ctx context.Context, req Request) (*image.RGBA, error) {
	if !req.XWayland {
		return nil, fmt.Errorf("x11 capture: %s is not an XWayland client", req.Address)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	win, err := c.findWindow(req.PID, req.Title)
	if err != nil {
		return nil, err
	}

	attrs, err := xproto.GetWindowAttributes(c.conn, win).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get window attributes: %w", err)
	}
	if attrs.Class != xproto.WindowClassInputOutput || attrs.MapState != xproto.MapStateViewable {
		child, err := c.findCapturableChild(win)
		if err != nil {
			return nil, fmt.Errorf("no capturable window found: %w", err)
		}
		win = child
	}

	geom, err := xproto.GetGeometry(c.conn, xproto.Drawable(win)).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get window geometry: %w", err)
	}

	logger.WithComponent("x11-capturer").Debug().
		Str("address", req.Address).
		Uint32("x11_window", uint32(win)).
		Uint16("width", geom.Width).
		Uint16("height", geom.Height).
		Msg("Capturing XWayland window")

	full, err := c.captureDrawable(win, geom)
	if err != nil {
		return nil, err
	}
	return Downsample(full, req.MaxWidth), nil
}

// findWindow walks _NET_CLIENT_LIST for a window owned by pid. With several
// candidates the one whose title matches wins.
func (c *X11Capturer) findWindow(pid int, title string) (xproto.Window, error) {
	if pid <= 0 {
		return 0, fmt.Errorf("x11 capture needs a pid")
	}

	listAtom, err := c.atom("_NET_CLIENT_LIST")
	if err != nil {
		return 0, err
	}
	reply, err := xproto.GetProperty(c.conn, false, c.root, listAtom,
		xproto.GetPropertyTypeAny, 0, (1<<32)-1).Reply()
	if err != nil {
		return 0, fmt.Errorf("failed to get _NET_CLIENT_LIST: %w", err)
	}

	var candidates []xproto.Window
	for i := 0; i+4 <= len(reply.Value); i += 4 {
		win := xproto.Window(binary.LittleEndian.Uint32(reply.Value[i:]))
		if c.windowPID(win) == pid {
			candidates = append(candidates, win)
		}
	}

	switch len(candidates) {
	case 0:
		return 0, fmt.Errorf("no X11 window with pid %d", pid)
	case 1:
		return candidates[0], nil
	}
	for _, win := range candidates {
		if title != "" && c.windowTitle(win) == title {
			return win, nil
		}
	}
	return candidates[0], nil
}

func (c *X11Capturer) windowPID(win xproto.Window) int {
	pidAtom, err := c.atom("_NET_WM_PID")
	if err != nil {
		return 0
	}
	reply, err := xproto.GetProperty(c.conn, false, win, pidAtom, xproto.AtomCardinal, 0, 1).Reply()
	if err != nil || len(reply.Value) < 4 {
		return 0
	}
	return int(binary.LittleEndian.Uint32(reply.Value))
}

func (c *X11Capturer) windowTitle(win xproto.Window) string {
	for _, name := range []string{"_NET_WM_NAME", "WM_NAME"} {
		a, err := c.atom(name)
		if err != nil {
			continue
		}
		reply, err := xproto.GetProperty(c.conn, false, win, a,
			xproto.GetPropertyTypeAny, 0, (1<<32)-1).Reply()
		if err == nil && reply.ValueLen > 0 {
			return strings.TrimRight(string(reply.Value), "\x00")
		}
	}
	return ""
}

func (c *X11Capturer) atom(name string) (xproto.Atom, error) {
	if a, ok := c.atoms[name]; ok {
		return a, nil
	}
	reply, err := xproto.InternAtom(c.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, fmt.Errorf("intern atom %s: %w", name, err)
	}
	c.atoms[name] = reply.Atom
	return reply.Atom, nil
}

// findCapturableChild recursively searches for a viewable InputOutput child
func (c *X11Capturer) findCapturableChild(parent xproto.Window) (xproto.Window, error) {
	tree, err := xproto.QueryTree(c.conn, parent).Reply()
	if err != nil {
		return 0, fmt.Errorf("failed to query tree: %w", err)
	}

	for _, child := range tree.Children {
		attrs, err := xproto.GetWindowAttributes(c.conn, child).Reply()
		if err != nil {
			continue
		}
		geom, err := xproto.GetGeometry(c.conn, xproto.Drawable(child)).Reply()
		if err != nil {
			continue
		}
		if attrs.Class == xproto.WindowClassInputOutput && attrs.MapState == xproto.MapStateViewable &&
			geom.Width > 10 && geom.Height > 10 {
			return child, nil
		}
		if grandchild, err := c.findCapturableChild(child); err == nil {
			return grandchild, nil
		}
	}
	return 0, fmt.Errorf("no capturable child found")
}

// captureDrawable reads the window contents, through a Composite pixmap
// when the extension is available.
func (c *X11Capturer) captureDrawable(win xproto.Window, geom *xproto.GetGeometryReply) (*image.RGBA, error) {
	drawable := xproto.Drawable(win)

	if c.compositeEnabled {
		if err := composite.RedirectWindowChecked(c.conn, win, composite.RedirectAutomatic).Check(); err == nil {
			defer composite.UnredirectWindow(c.conn, win, composite.RedirectAutomatic)

			if pixmap, err := xproto.NewPixmapId(c.conn); err == nil {
				if composite.NameWindowPixmapChecked(c.conn, win, pixmap).Check() == nil {
					drawable = xproto.Drawable(pixmap)
					defer xproto.FreePixmap(c.conn, pixmap)
				}
			}
		}
	}

	reply, err := xproto.GetImage(c.conn, xproto.ImageFormatZPixmap, drawable,
		0, 0, geom.Width, geom.Height, 0xffffffff).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}
	return bgrxToRGBA(reply.Data, int(geom.Width), int(geom.Height), int(c.screen.RootDepth))
}

// bgrxToRGBA converts a 24/32-bit ZPixmap (B,G,R,X per pixel) to RGBA.
func bgrxToRGBA(data []byte, width, height, depth int) (*image.RGBA, error) {
	if depth != 24 && depth != 32 {
		return nil, fmt.Errorf("unsupported X11 depth %d", depth)
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 0; i+3 < len(data) && i < len(img.Pix); i += 4 {
		img.Pix[i] = data[i+2]
		img.Pix[i+1] = data[i+1]
		img.Pix[i+2] = data[i]
		img.Pix[i+3] = 0xff
	}
	return img, nil
}
