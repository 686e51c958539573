package wayland_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/bnema/wlturbo/wl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/bryanchriswhite/HyprOverview/internal/wayland"
	"github.com/bryanchriswhite/HyprOverview/internal/wayland/wltest"
)

func TestDisplayPath(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	t.Setenv("WAYLAND_DISPLAY", "")

	p, err := wayland.DisplayPath("")
	require.NoError(t, err)
	assert.Equal(t, "/run/user/1000/wayland-0", p)

	p, err = wayland.DisplayPath("wayland-1")
	require.NoError(t, err)
	assert.Equal(t, "/run/user/1000/wayland-1", p)

	p, err = wayland.DisplayPath("/tmp/custom.sock")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.sock", p)

	t.Setenv("XDG_RUNTIME_DIR", "")
	_, err = wayland.DisplayPath("wayland-0")
	assert.Error(t, err)
}

func TestGlobalsAndShmBuffer(t *testing.T) {
	type pool struct {
		data []byte
	}
	pools := make(chan pool, 1)

	srv := wltest.NewServer(t, []wayland.Global{
		{Name: 1, Interface: wayland.InterfaceShm, Version: 1},
		{Name: 2, Interface: "wl_seat", Version: 7},
	}, func(s *wltest.Session, g wayland.Global, version, id uint32) {
		if g.Interface != wayland.InterfaceShm {
			return
		}
		s.Conn.Register(id, func(req *wltest.Request) {
			if req.Opcode != 0 {
				return
			}
			_ = req.Uint32() // pool id
			fd := req.FD()
			size := int(req.Int32())
			if req.Err() != nil {
				return
			}
			data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
			unix.Close(fd)
			if err != nil {
				return
			}
			for i := range data {
				data[i] = 0xAB
			}
			pools <- pool{data: data}
		})
	})

	d, err := wayland.Connect(srv.Path)
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.FetchGlobals())
	assert.Len(t, d.Globals(), 2)

	_, ok := d.Find(wayland.InterfaceShm)
	require.True(t, ok)
	_, ok = d.Find("hyprland_toplevel_export_manager_v1")
	assert.False(t, ok)

	shm, err := d.BindShm()
	require.NoError(t, err)

	buf, err := wayland.CreateShmBuffer(shm, 4, 2, 16, wayland.FormatXRGB8888)
	require.NoError(t, err)
	defer buf.Destroy()
	require.NotNil(t, buf.Buffer())
	require.NoError(t, d.Roundtrip())

	var p pool
	select {
	case p = <-pools:
	case <-time.After(time.Second):
		t.Fatal("server never received the pool")
	}
	defer unix.Munmap(p.data)

	assert.Len(t, p.data, 32)
	assert.Equal(t, byte(0xAB), buf.Data[0])
	assert.Equal(t, byte(0xAB), buf.Data[31])

	buf.Destroy()
	assert.Nil(t, buf.Data)
	buf.Destroy()
}

func TestCreateShmBufferRejectsBadLayout(t *testing.T) {
	_, err := wayland.CreateShmBuffer(nil, 4, 2, 8, wayland.FormatXRGB8888)
	assert.Error(t, err)
	_, err = wayland.CreateShmBuffer(nil, 0, 2, 16, wayland.FormatXRGB8888)
	assert.Error(t, err)
}

func TestDisplayErrorIsSticky(t *testing.T) {
	srv := wltest.NewServer(t, []wayland.Global{
		{Name: 1, Interface: "boom", Version: 1},
	}, func(s *wltest.Session, g wayland.Global, version, id uint32) {
		s.SendError(id, 3, "bad bind")
	})

	d, err := wayland.Connect(srv.Path)
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.FetchGlobals())
	g, ok := d.Find("boom")
	require.True(t, ok)
	_, err = d.Bind(g, 1, wl.NewShm(d.Context()))
	require.NoError(t, err)

	err = d.Roundtrip()
	require.ErrorIs(t, err, wayland.ErrProtocol)
	assert.Contains(t, err.Error(), "bad bind")
	assert.ErrorIs(t, d.Err(), wayland.ErrProtocol)
	assert.ErrorIs(t, d.Dispatch(), wayland.ErrProtocol)
}

func TestBindClampsVersion(t *testing.T) {
	srv := wltest.NewServer(t, []wayland.Global{
		{Name: 1, Interface: wayland.InterfaceShm, Version: 1},
	}, nil)

	d, err := wayland.Connect(srv.Path)
	require.NoError(t, err)
	defer d.Close()

	g := wayland.Global{Name: 1, Interface: wayland.InterfaceShm, Version: 1}
	_, err = d.Bind(g, 1, wl.NewShm(d.Context()))
	assert.Error(t, err, "bind before the registry exists")

	require.NoError(t, d.FetchGlobals())
	v, err := d.Bind(g, 4, wl.NewShm(d.Context()))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), v)
}

func TestCloseUnblocksDispatch(t *testing.T) {
	srv := wltest.NewServer(t, nil, nil)

	d, err := wayland.Connect(srv.Path)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- d.Dispatch() }()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatch still blocked after close")
	}
}

func TestConnectMissingSocket(t *testing.T) {
	_, err := wayland.Connect(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
