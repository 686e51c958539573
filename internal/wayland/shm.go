package wayland

import (
	"fmt"

	"github.com/bnema/wlturbo/wl"
	"golang.org/x/sys/unix"
)

// wl_shm pixel formats. The two legacy formats use small enum values; the
// rest are DRM fourcc codes.
const (
	FormatARGB8888 uint32 = 0
	FormatXRGB8888 uint32 = 1
	FormatABGR8888 uint32 = 0x34324241
	FormatXBGR8888 uint32 = 0x34324258
)

// InterfaceShm is the wl_shm global name.
const InterfaceShm = "wl_shm"

// BindShm binds the compositor's wl_shm.
func (d *Display) BindShm() (*wl.Shm, error) {
	g, ok := d.Find(InterfaceShm)
	if !ok {
		return nil, fmt.Errorf("compositor has no %s", InterfaceShm)
	}
	shm := wl.NewShm(d.Context())
	if _, err := d.Bind(g, 1, shm); err != nil {
		return nil, err
	}
	return shm, nil
}

// ShmBuffer is a wl_buffer backed by a memfd mapping shared with the
// compositor.
type ShmBuffer struct {
	pool   *wl.ShmPool
	buffer *wl.Buffer

	Width  int
	Height int
	Stride int
	Format uint32
	Data   []byte
}

// CreateShmBuffer allocates stride*height bytes, shares them through a
// wl_shm_pool and creates one buffer covering the whole pool.
func CreateShmBuffer(shm *wl.Shm, width, height, stride int, format uint32) (*ShmBuffer, error) {
	if width <= 0 || height <= 0 || stride < width*4 {
		return nil, fmt.Errorf("invalid shm buffer %dx%d stride %d", width, height, stride)
	}
	size := stride * height

	fd, err := unix.MemfdCreate("hyproverview-shm", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}
	// the compositor holds its own reference once the pool exists
	defer unix.Close(fd)

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		return nil, fmt.Errorf("ftruncate shm: %w", err)
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap shm: %w", err)
	}

	b := &ShmBuffer{Width: width, Height: height, Stride: stride, Format: format, Data: data}

	b.pool, err = shm.CreatePool(fd, int32(size))
	if err != nil {
		b.Destroy()
		return nil, fmt.Errorf("create shm pool: %w", err)
	}
	b.buffer, err = b.pool.CreateBuffer(0, int32(width), int32(height), int32(stride), format)
	if err != nil {
		b.Destroy()
		return nil, fmt.Errorf("create shm buffer: %w", err)
	}
	return b, nil
}

// Buffer is the wl_buffer to hand to the compositor.
func (b *ShmBuffer) Buffer() *wl.Buffer {
	return b.buffer
}

// Destroy releases the buffer, the pool and the mapping. Safe to call more
// than once.
func (b *ShmBuffer) Destroy() {
	if b.buffer != nil {
		b.buffer.Destroy()
		b.buffer = nil
	}
	if b.pool != nil {
		b.pool.Destroy()
		b.pool = nil
	}
	if b.Data != nil {
		unix.Munmap(b.Data)
		b.Data = nil
	}
}
