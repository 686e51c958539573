package wltest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrWire reports a malformed client message.
var ErrWire = errors.New("malformed wayland message")

// DisplayID is the well-known wl_display object.
const DisplayID uint32 = 1

const (
	headerSize    = 8
	maxFDsPerRead = 28
)

// Handler receives the requests addressed to one object.
type Handler func(req *Request)

// Conn is the compositor end of one client connection. Handlers run on the
// serving goroutine; Send may be called from any goroutine.
type Conn struct {
	conn     *net.UnixConn
	handlers map[uint32]Handler
	rbuf     []byte
	fds      []int

	wmu sync.Mutex
}

func newConn(uc *net.UnixConn) *Conn {
	return &Conn{conn: uc, handlers: make(map[uint32]Handler)}
}

// Register installs the handler for an object, replacing any previous one.
func (c *Conn) Register(id uint32, h Handler) {
	c.handlers[id] = h
}

// Send writes one event.
func (c *Conn) Send(m *Message) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err = c.conn.Write(data)
	return err
}

// serve reads and dispatches requests until the connection fails.
func (c *Conn) serve() error {
	buf := make([]byte, 4096)
	oob := make([]byte, unix.CmsgSpace(maxFDsPerRead*4))
	for {
		n, oobn, _, _, err := c.conn.ReadMsgUnix(buf, oob)
		if oobn > 0 {
			if perr := c.takeFDs(oob[:oobn]); perr != nil {
				return perr
			}
		}
		if n > 0 {
			c.rbuf = append(c.rbuf, buf[:n]...)
			if derr := c.deliver(); derr != nil {
				return derr
			}
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("connection closed")
		}
	}
}

func (c *Conn) close() {
	for _, fd := range c.fds {
		unix.Close(fd)
	}
	c.fds = nil
	c.conn.Close()
}

func (c *Conn) takeFDs(oob []byte) error {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return fmt.Errorf("%w: control message: %v", ErrWire, err)
	}
	for i := range msgs {
		fds, err := unix.ParseUnixRights(&msgs[i])
		if err != nil {
			continue
		}
		c.fds = append(c.fds, fds...)
	}
	return nil
}

func (c *Conn) deliver() error {
	for len(c.rbuf) >= headerSize {
		object := binary.NativeEndian.Uint32(c.rbuf[0:])
		word := binary.NativeEndian.Uint32(c.rbuf[4:])
		size := int(word >> 16)
		if size < headerSize {
			return fmt.Errorf("%w: bad message size %d", ErrWire, size)
		}
		if len(c.rbuf) < size {
			break
		}
		req := &Request{
			Object: object,
			Opcode: uint16(word & 0xffff),
			data:   c.rbuf[headerSize:size],
			fds:    &c.fds,
		}
		if h, ok := c.handlers[object]; ok {
			h(req)
		}
		c.rbuf = c.rbuf[size:]
	}
	if len(c.rbuf) == 0 {
		c.rbuf = nil
	}
	return nil
}

// Message is an outgoing event.
type Message struct {
	Object uint32
	Opcode uint16
	args   []byte
}

// NewMessage starts an event for object/opcode.
func NewMessage(object uint32, opcode uint16) *Message {
	return &Message{Object: object, Opcode: opcode}
}

func (m *Message) PutUint32(v uint32) *Message {
	m.args = binary.NativeEndian.AppendUint32(m.args, v)
	return m
}

func (m *Message) PutInt32(v int32) *Message {
	return m.PutUint32(uint32(v))
}

// PutString appends a NUL terminated string padded to 4 bytes. The length
// prefix counts the terminator.
func (m *Message) PutString(s string) *Message {
	m.PutUint32(uint32(len(s) + 1))
	m.args = append(m.args, s...)
	m.args = append(m.args, 0)
	for len(m.args)%4 != 0 {
		m.args = append(m.args, 0)
	}
	return m
}

// Encode returns the wire bytes including the header.
func (m *Message) Encode() ([]byte, error) {
	size := headerSize + len(m.args)
	if size > 0xffff {
		return nil, fmt.Errorf("message too large: %d bytes", size)
	}
	out := make([]byte, 0, size)
	out = binary.NativeEndian.AppendUint32(out, m.Object)
	out = binary.NativeEndian.AppendUint32(out, uint32(size)<<16|uint32(m.Opcode))
	return append(out, m.args...), nil
}

// Request is an incoming client message. Accessors consume arguments in
// order; the first decoding failure sticks and is reported by Err.
type Request struct {
	Object uint32
	Opcode uint16
	data   []byte
	off    int
	fds    *[]int
	err    error
}

func (r *Request) Uint32() uint32 {
	if r.err != nil {
		return 0
	}
	if r.off+4 > len(r.data) {
		r.err = fmt.Errorf("%w: short argument in object %d opcode %d", ErrWire, r.Object, r.Opcode)
		return 0
	}
	v := binary.NativeEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v
}

func (r *Request) Int32() int32 {
	return int32(r.Uint32())
}

func (r *Request) Str() string {
	n := int(r.Uint32())
	if r.err != nil || n == 0 {
		return ""
	}
	padded := (n + 3) &^ 3
	if r.off+padded > len(r.data) {
		r.err = fmt.Errorf("%w: short string in object %d opcode %d", ErrWire, r.Object, r.Opcode)
		return ""
	}
	s := string(r.data[r.off : r.off+n-1])
	r.off += padded
	return s
}

// FD takes the next received descriptor. The caller owns it.
func (r *Request) FD() int {
	if r.err != nil {
		return -1
	}
	if r.fds == nil || len(*r.fds) == 0 {
		r.err = fmt.Errorf("%w: missing fd for object %d opcode %d", ErrWire, r.Object, r.Opcode)
		return -1
	}
	fd := (*r.fds)[0]
	*r.fds = (*r.fds)[1:]
	return fd
}

func (r *Request) Err() error {
	return r.err
}
