// Package wltest runs an in-process fake compositor for tests: it speaks the
// wl_display/wl_registry core over a Unix socket and hands binds of its
// advertised globals to the test.
package wltest

import (
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bryanchriswhite/HyprOverview/internal/wayland"
)

// Session is one accepted client connection.
type Session struct {
	Conn *Conn
}

// BindFunc is called when a client binds a global. Handlers for the new
// object must be registered on s.Conn.
type BindFunc func(s *Session, g wayland.Global, version, id uint32)

// Option tunes a Server.
type Option func(*Server)

// WithSyncDelay holds every wl_display.sync answer back by d, like a busy
// compositor.
func WithSyncDelay(d time.Duration) Option {
	return func(s *Server) { s.syncDelay = d }
}

// Server accepts any number of clients on a temporary socket.
type Server struct {
	Path      string
	globals   []wayland.Global
	onBind    BindFunc
	syncDelay time.Duration

	l     net.Listener
	mu    sync.Mutex
	conns []*Conn
	wg    sync.WaitGroup
}

// NewServer starts a compositor advertising globals. It is shut down by
// t.Cleanup.
func NewServer(t testing.TB, globals []wayland.Global, onBind BindFunc, opts ...Option) *Server {
	t.Helper()
	dir, err := os.MkdirTemp("", "wl")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "wayland-test")
	l, err := net.Listen("unix", path)
	if err != nil {
		t.Fatal(err)
	}

	s := &Server{Path: path, globals: globals, onBind: onBind, l: l}
	for _, opt := range opts {
		opt(s)
	}
	s.wg.Add(1)
	go s.accept()

	t.Cleanup(func() {
		s.Close()
		os.RemoveAll(dir)
	})
	return s
}

// Close stops accepting and drops every session.
func (s *Server) Close() {
	s.l.Close()
	s.mu.Lock()
	for _, c := range s.conns {
		c.conn.Close()
	}
	s.conns = nil
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) accept() {
	defer s.wg.Done()
	for {
		nc, err := s.l.Accept()
		if err != nil {
			return
		}
		conn := newConn(nc.(*net.UnixConn))
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(&Session{Conn: conn})
	}
}

func (s *Server) serve(sess *Session) {
	defer s.wg.Done()
	c := sess.Conn
	defer c.close()

	c.Register(DisplayID, func(req *Request) {
		switch req.Opcode {
		case 0: // sync
			cb := req.Uint32()
			done := func() {
				c.Send(NewMessage(cb, 0).PutUint32(0))
				c.Send(NewMessage(DisplayID, 1).PutUint32(cb))
			}
			if s.syncDelay > 0 {
				time.AfterFunc(s.syncDelay, done)
				return
			}
			done()
		case 1: // get_registry
			reg := req.Uint32()
			c.Register(reg, func(req *Request) {
				if req.Opcode != 0 {
					return
				}
				name := req.Uint32()
				iface := req.Str()
				version := req.Uint32()
				id := req.Uint32()
				for _, g := range s.globals {
					if g.Name == name && s.onBind != nil {
						g.Interface = iface
						s.onBind(sess, g, version, id)
					}
				}
			})
			for _, g := range s.globals {
				c.Send(NewMessage(reg, 0).
					PutUint32(g.Name).
					PutString(g.Interface).
					PutUint32(g.Version))
			}
		}
	})

	c.serve()
}

// SendError emits wl_display.error, which is fatal for the client.
func (sess *Session) SendError(object, code uint32, msg string) error {
	return sess.Conn.Send(NewMessage(DisplayID, 0).
		PutUint32(object).
		PutUint32(code).
		PutString(msg))
}
