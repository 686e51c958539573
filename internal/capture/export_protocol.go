package capture

import (
	"github.com/bnema/wlturbo/wl"
)

// InterfaceExportManager is the Hyprland toplevel export global.
const InterfaceExportManager = "hyprland_toplevel_export_manager_v1"

const exportManagerVersion = 2

// hyprland_toplevel_export_manager_v1 requests
const (
	managerCaptureToplevel = 0
	managerDestroy         = 1
)

// hyprland_toplevel_export_frame_v1 requests and events
const (
	frameCopy    = 0
	frameDestroy = 1

	frameEventBuffer      = 0
	frameEventDamage      = 1
	frameEventFlags       = 2
	frameEventReady       = 3
	frameEventFailed      = 4
	frameEventLinuxDmabuf = 5
	frameEventBufferDone  = 6
)

// exportManager is the client side of hyprland_toplevel_export_manager_v1.
type exportManager struct {
	wl.BaseProxy
}

func newExportManager(ctx *wl.Context) *exportManager {
	m := &exportManager{}
	ctx.Register(m)
	return m
}

// CaptureToplevel asks for one frame of the window with the given handle
// (the low 32 bits of its Hyprland address).
func (m *exportManager) CaptureToplevel(overlayCursor int32, handle uint32) (*exportFrame, error) {
	frame := newExportFrame(m.Context())
	const reqLen = 8 + 4 + 4 + 4
	var req [reqLen]byte
	wl.PutUint32(req[0:4], m.ID())
	wl.PutUint32(req[4:8], uint32(reqLen<<16|managerCaptureToplevel))
	wl.PutUint32(req[8:12], frame.ID())
	wl.PutUint32(req[12:16], uint32(overlayCursor))
	wl.PutUint32(req[16:20], handle)
	return frame, m.Context().WriteMsg(req[:], nil)
}

func (m *exportManager) Destroy() error {
	defer m.Context().Unregister(m)
	const reqLen = 8
	var req [reqLen]byte
	wl.PutUint32(req[0:4], m.ID())
	wl.PutUint32(req[4:8], uint32(reqLen<<16|managerDestroy))
	return m.Context().WriteMsg(req[:], nil)
}

// Dispatch implements wl.Dispatcher; the manager has no events.
func (m *exportManager) Dispatch(opcode uint32, fd int, data []byte) {}

// frameBuffer is the frame's buffer event: the shm layout to allocate.
type frameBuffer struct {
	Format uint32
	Width  uint32
	Height uint32
	Stride uint32
}

// exportFrame is the client side of hyprland_toplevel_export_frame_v1.
// Handlers run on the dispatching goroutine.
type exportFrame struct {
	wl.BaseProxy

	onBuffer     func(frameBuffer)
	onBufferDone func()
	onReady      func()
	onFailed     func()
}

func newExportFrame(ctx *wl.Context) *exportFrame {
	f := &exportFrame{}
	ctx.Register(f)
	return f
}

// Copy asks the compositor to fill buffer.
func (f *exportFrame) Copy(buffer *wl.Buffer, ignoreDamage bool) error {
	const reqLen = 8 + 4 + 4
	var req [reqLen]byte
	wl.PutUint32(req[0:4], f.ID())
	wl.PutUint32(req[4:8], uint32(reqLen<<16|frameCopy))
	wl.PutUint32(req[8:12], buffer.ID())
	var ignore uint32
	if ignoreDamage {
		ignore = 1
	}
	wl.PutUint32(req[12:16], ignore)
	return f.Context().WriteMsg(req[:], nil)
}

func (f *exportFrame) Destroy() error {
	defer f.Context().Unregister(f)
	const reqLen = 8
	var req [reqLen]byte
	wl.PutUint32(req[0:4], f.ID())
	wl.PutUint32(req[4:8], uint32(reqLen<<16|frameDestroy))
	return f.Context().WriteMsg(req[:], nil)
}

// Dispatch implements wl.Dispatcher.
func (f *exportFrame) Dispatch(opcode uint32, fd int, data []byte) {
	switch opcode {
	case frameEventBuffer:
		if f.onBuffer == nil || len(data) < 16 {
			return
		}
		f.onBuffer(frameBuffer{
			Format: wl.Uint32(data[0:4]),
			Width:  wl.Uint32(data[4:8]),
			Height: wl.Uint32(data[8:12]),
			Stride: wl.Uint32(data[12:16]),
		})
	case frameEventBufferDone:
		if f.onBufferDone != nil {
			f.onBufferDone()
		}
	case frameEventReady:
		if f.onReady != nil {
			f.onReady()
		}
	case frameEventFailed:
		if f.onFailed != nil {
			f.onFailed()
		}
	case frameEventDamage, frameEventFlags, frameEventLinuxDmabuf:
	}
}
