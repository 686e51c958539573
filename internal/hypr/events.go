package hypr

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/HyprOverview/internal/logger"
)

// Event is one "name>>payload" record from the event socket.
type Event struct {
	Name    string
	Payload string
}

// topologyEvents change the set or placement of windows/workspaces.
// Everything else (cursor, focus chatter, title changes) is ignored.
var topologyEvents = map[string]struct{}{
	"openwindow":         {},
	"closewindow":        {},
	"movewindowv2":       {},
	"moveworkspacev2":    {},
	"createworkspacev2":  {},
	"destroyworkspacev2": {},
	"workspacev2":        {},
	"changefloatingmode": {},
	"activewindowv2":     {},
}

// RequiresRefresh reports whether an event name is in the topology allow-list.
func RequiresRefresh(name string) bool {
	_, ok := topologyEvents[name]
	return ok
}

// ParseEvent splits a raw line. Lines without the ">>" separator are rejected.
func ParseEvent(line string) (Event, bool) {
	line = strings.TrimRight(line, "\r\n")
	name, payload, ok := strings.Cut(line, ">>")
	if !ok || name == "" {
		return Event{}, false
	}
	return Event{Name: name, Payload: payload}, true
}

// EventReaderOptions configures an EventReader.
type EventReaderOptions struct {
	BackoffMin time.Duration
	BackoffMax time.Duration
	// OnEvent observes every parsed event (metrics); optional
	OnEvent func(ev Event, refresh bool)
	// OnConnect is called after each successful connect; optional
	OnConnect func()
}

// EventReader keeps a long-lived connection to the event socket and calls
// the refresh hook for topology-changing events. Failed connects and reads
// are retried forever with exponential backoff.
type EventReader struct {
	client    *Client
	onRefresh func(Event)
	opts      EventReaderOptions
	backoff   *Backoff

	mu      sync.Mutex
	conn    net.Conn
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewEventReader creates a reader; call Start to begin.
func NewEventReader(client *Client, onRefresh func(Event), opts EventReaderOptions) *EventReader {
	if opts.BackoffMin <= 0 {
		opts.BackoffMin = 100 * time.Millisecond
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = time.Second
	}
	return &EventReader{
		client:    client,
		onRefresh: onRefresh,
		opts:      opts,
		backoff:   NewBackoff(opts.BackoffMin, opts.BackoffMax),
	}
}

// Start launches the reader goroutine.
func (r *EventReader) Start() error {
	if r.onRefresh == nil {
		return fmt.Errorf("event reader needs a refresh hook")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("event reader already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true

	go r.loop(ctx)
	return nil
}

// Stop signals the goroutine, closes the socket to unblock a pending read
// and waits for the goroutine to exit.
func (r *EventReader) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.cancel()
	if r.conn != nil {
		r.conn.Close()
	}
	done := r.done
	r.mu.Unlock()

	<-done
}

func (r *EventReader) loop(ctx context.Context) {
	defer close(r.done)
	log := logger.WithComponent("hypr-events")

	for ctx.Err() == nil {
		conn, err := r.connect(ctx)
		if err != nil {
			delay := r.backoff.Next()
			log.Debug().Err(err).Dur("retry_in", delay).Msg("Event socket unavailable")
			if !sleepCtx(ctx, delay) {
				return
			}
			continue
		}

		r.backoff.Reset()
		if r.opts.OnConnect != nil {
			r.opts.OnConnect()
		}
		log.Debug().Msg("Connected to event socket")

		err = r.read(conn)
		r.setConn(nil)
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		delay := r.backoff.Next()
		log.Warn().Err(err).Dur("retry_in", delay).Msg("Event socket closed, reconnecting")
		if !sleepCtx(ctx, delay) {
			return
		}
	}
}

func (r *EventReader) connect(ctx context.Context) (net.Conn, error) {
	p, err := r.client.Paths()
	if err != nil {
		return nil, err
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", p.Events)
	if err != nil {
		return nil, fmt.Errorf("event socket connect(%s): %w", p.Events, err)
	}

	// Stop may have run between the dial and here
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		conn.Close()
		return nil, context.Canceled
	}
	r.conn = conn
	r.mu.Unlock()
	return conn, nil
}

func (r *EventReader) setConn(c net.Conn) {
	r.mu.Lock()
	r.conn = c
	r.mu.Unlock()
}

func (r *EventReader) read(conn net.Conn) error {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)

	for scanner.Scan() {
		ev, ok := ParseEvent(scanner.Text())
		if !ok {
			continue
		}
		refresh := RequiresRefresh(ev.Name)
		if r.opts.OnEvent != nil {
			r.opts.OnEvent(ev, refresh)
		}
		if refresh {
			r.onRefresh(ev)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return fmt.Errorf("event socket EOF")
}

// sleepCtx waits d or until ctx is done; false means cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
