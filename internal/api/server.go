package api

import (
	"context"
	"errors"
	"image"
	"image/png"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/bryanchriswhite/HyprOverview/internal/capture"
	"github.com/bryanchriswhite/HyprOverview/internal/config"
	"github.com/bryanchriswhite/HyprOverview/internal/core"
	"github.com/bryanchriswhite/HyprOverview/internal/hypr"
	"github.com/bryanchriswhite/HyprOverview/internal/logger"
	"github.com/bryanchriswhite/HyprOverview/internal/metrics"
	"github.com/bryanchriswhite/HyprOverview/internal/notify"
	"github.com/bryanchriswhite/HyprOverview/internal/output"
	"github.com/bryanchriswhite/HyprOverview/internal/state"
)

// Backend is the part of *core.Core the HTTP layer uses.
type Backend interface {
	CopyState() state.Snapshot
	RequestFullRefresh()
	SetCaptureEnabled(enabled bool)
	CaptureEnabled() bool
	ShowOverlay() int
	HideOverlay()
	MoveWindow(ctx context.Context, addr string, workspace int) error
	SwitchWorkspace(ctx context.Context, name string, id int) error
	FocusWindow(ctx context.Context, addr string) error
	Thumbnail(ctx context.Context, addr string) (image.Image, error)
	CaptureWindowRaw(ctx context.Context, addr string) (*image.RGBA, error)
	Subscribe() chan notify.Event
	Unsubscribe(ch chan notify.Event)
}

// Server represents the HTTP API server
type Server struct {
	router    *mux.Router
	backend   Backend
	configMgr *config.Manager
	metrics   *metrics.Metrics
	upgrader  websocket.Upgrader
	http      *http.Server
}

// NewServer creates a new API server. configMgr and m may be nil.
func NewServer(backend Backend, configMgr *config.Manager, m *metrics.Metrics) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		backend:   backend,
		configMgr: configMgr,
		metrics:   m,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.originAllowed}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// State
	api.HandleFunc("/state", s.handleGetState).Methods("GET")
	api.HandleFunc("/layout", s.handleGetLayout).Methods("GET")
	api.HandleFunc("/refresh", s.handleRefresh).Methods("POST")
	api.HandleFunc("/capture", s.handleGetCapture).Methods("GET")
	api.HandleFunc("/capture", s.handleSetCapture).Methods("PUT")

	// Overlay
	api.HandleFunc("/overlay/show", s.handleShowOverlay).Methods("POST")
	api.HandleFunc("/overlay/hide", s.handleHideOverlay).Methods("POST")

	// Windows
	api.HandleFunc("/windows/{addr}/thumbnail.png", s.handleThumbnail).Methods("GET")
	api.HandleFunc("/windows/{addr}/capture.png", s.handleRawCapture).Methods("GET")
	api.HandleFunc("/windows/{addr}/live.mjpeg", s.handleLiveStream).Methods("GET")
	api.HandleFunc("/windows/{addr}/move", s.handleMoveWindow).Methods("POST")
	api.HandleFunc("/windows/{addr}/focus", s.handleFocusWindow).Methods("POST")

	// Workspaces
	api.HandleFunc("/workspaces/{id}/switch", s.handleSwitchWorkspace).Methods("POST")

	// Notifications
	api.HandleFunc("/events", s.handleEvents)

	// Configuration
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")

	// Health check
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
}

// Handler returns the routed handler behind the origin check.
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves on host:port until Shutdown is called.
func (s *Server) Start(host string, port int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.WithComponent("api").Info().Str("addr", addr).Msg("Starting HTTP server")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// originAllowed accepts requests without an Origin header (native clients),
// same-origin pages and the configured allowed origins.
func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	if s.configMgr == nil {
		return false
	}
	for _, allowed := range s.configMgr.Get().AllowedOrigins {
		if strings.EqualFold(strings.TrimSuffix(allowed, "/"), origin) {
			return true
		}
	}
	return false
}

// enableCORS rejects foreign origins and echoes CORS headers for allowed ones
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.originAllowed(r) {
			logger.WithComponent("api").Warn().
				Str("origin", r.Header.Get("Origin")).
				Str("path", r.URL.Path).
				Msg("Rejected cross-origin request")
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}
		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := sonic.ConfigStd.NewEncoder(w).Encode(v); err != nil {
		logger.WithComponent("api").Warn().Err(err).Msg("Failed to encode response")
	}
}

func readJSON(r *http.Request, v interface{}) error {
	return sonic.ConfigStd.NewDecoder(r.Body).Decode(v)
}

// errorStatus maps core errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, capture.ErrInvalidAddress):
		return http.StatusBadRequest
	case errors.Is(err, capture.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, hypr.ErrNoInstance), errors.Is(err, capture.ErrNoExportManager):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func windowAddress(r *http.Request) (string, bool) {
	addr := hypr.SanitizeAddress(mux.Vars(r)["addr"])
	return addr, hypr.ValidAddress(addr)
}

// HTTP Handlers

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	snap := s.backend.CopyState()
	if r.URL.Query().Get("thumbnails") == "0" {
		for i := range snap.Workspaces {
			for j := range snap.Workspaces[i].Windows {
				snap.Workspaces[i].Windows[j].Thumbnail = ""
			}
		}
	}
	writeJSON(w, snap)
}

// handleGetLayout places the visible workspaces on a width x height canvas.
// Missing sides default to the monitor's size.
func (s *Server) handleGetLayout(w http.ResponseWriter, r *http.Request) {
	snap := s.backend.CopyState()
	q := r.URL.Query()

	width, height := snap.Monitor.Width, snap.Monitor.Height
	for _, side := range []struct {
		name string
		dst  *int
	}{{"width", &width}, {"height", &height}} {
		raw := q.Get(side.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid "+side.name, http.StatusBadRequest)
			return
		}
		*side.dst = n
	}

	writeJSON(w, snap.Layout(width, height))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.backend.RequestFullRefresh()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]string{"status": "scheduled"})
}

func (s *Server) handleGetCapture(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]bool{"enabled": s.backend.CaptureEnabled()})
}

func (s *Server) handleSetCapture(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := readJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Enabled == nil {
		http.Error(w, "missing \"enabled\"", http.StatusBadRequest)
		return
	}

	s.backend.SetCaptureEnabled(*req.Enabled)
	writeJSON(w, map[string]bool{"enabled": *req.Enabled})
}

func (s *Server) handleShowOverlay(w http.ResponseWriter, r *http.Request) {
	n := s.backend.ShowOverlay()
	writeJSON(w, map[string]int{"live_previews": n})
}

func (s *Server) handleHideOverlay(w http.ResponseWriter, r *http.Request) {
	s.backend.HideOverlay()
	writeJSON(w, map[string]string{"status": "success"})
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	addr, ok := windowAddress(r)
	if !ok {
		http.Error(w, "invalid window address", http.StatusBadRequest)
		return
	}
	img, err := s.backend.Thumbnail(r.Context(), addr)
	if err != nil {
		http.Error(w, err.Error(), errorStatus(err))
		return
	}
	writePNG(w, img)
}

func (s *Server) handleRawCapture(w http.ResponseWriter, r *http.Request) {
	addr, ok := windowAddress(r)
	if !ok {
		http.Error(w, "invalid window address", http.StatusBadRequest)
		return
	}
	img, err := s.backend.CaptureWindowRaw(r.Context(), addr)
	if err != nil {
		http.Error(w, err.Error(), errorStatus(err))
		return
	}
	writePNG(w, img)
}

// handleLiveStream serves a window's image as MJPEG, sending a new frame
// whenever its live preview lands or the model is redrawn.
func (s *Server) handleLiveStream(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	addr, ok := windowAddress(r)
	if !ok {
		http.Error(w, "invalid window address", http.StatusBadRequest)
		return
	}

	updates := s.backend.Subscribe()
	defer s.backend.Unsubscribe(updates)

	img, err := s.backend.Thumbnail(r.Context(), addr)
	if err != nil {
		http.Error(w, err.Error(), errorStatus(err))
		return
	}

	stream := output.NewMJPEGWriter(w, output.DefaultQuality)
	if err := stream.WriteFrame(img); err != nil {
		return
	}
	log.Debug().Str("address", addr).Msg("MJPEG client connected")
	defer func() {
		log.Debug().Str("address", addr).Uint64("frames", stream.Frames()).Msg("MJPEG client disconnected")
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-updates:
			if !ok {
				return
			}
			if ev.Type == notify.KindLive && ev.Address != addr {
				continue
			}
			img, err := s.backend.Thumbnail(r.Context(), addr)
			if err != nil {
				// the window closed
				return
			}
			if err := stream.WriteFrame(img); err != nil {
				return
			}
		}
	}
}

func writePNG(w http.ResponseWriter, img image.Image) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := png.Encode(w, img); err != nil {
		logger.WithComponent("api").Warn().Err(err).Msg("Failed to encode PNG")
	}
}

func (s *Server) handleMoveWindow(w http.ResponseWriter, r *http.Request) {
	addr, ok := windowAddress(r)
	if !ok {
		http.Error(w, "invalid window address", http.StatusBadRequest)
		return
	}
	var req struct {
		Workspace int `json:"workspace"`
	}
	if err := readJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Workspace < 1 || req.Workspace >= state.MaxWorkspaces {
		http.Error(w, "workspace out of range", http.StatusBadRequest)
		return
	}

	if err := s.backend.MoveWindow(r.Context(), addr, req.Workspace); err != nil {
		http.Error(w, err.Error(), errorStatus(err))
		return
	}
	writeJSON(w, map[string]string{"status": "success"})
}

func (s *Server) handleFocusWindow(w http.ResponseWriter, r *http.Request) {
	addr, ok := windowAddress(r)
	if !ok {
		http.Error(w, "invalid window address", http.StatusBadRequest)
		return
	}
	if err := s.backend.FocusWindow(r.Context(), addr); err != nil {
		http.Error(w, err.Error(), errorStatus(err))
		return
	}
	writeJSON(w, map[string]string{"status": "success"})
}

func (s *Server) handleSwitchWorkspace(w http.ResponseWriter, r *http.Request) {
	target := mux.Vars(r)["id"]
	var err error
	if id, convErr := strconv.Atoi(target); convErr == nil {
		err = s.backend.SwitchWorkspace(r.Context(), "", id)
	} else {
		err = s.backend.SwitchWorkspace(r.Context(), target, 0)
	}
	if err != nil {
		http.Error(w, err.Error(), errorStatus(err))
		return
	}
	writeJSON(w, map[string]string{"status": "success"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	s.metrics.IncWSConnections()
	defer s.metrics.DecWSConnections()

	updates := s.backend.Subscribe()
	defer s.backend.Unsubscribe(updates)

	// the client never sends anything; reading detects the close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// start with a redraw so the client pulls the current state
	if err := conn.WriteJSON(notify.Event{Type: notify.KindRedraw}); err != nil {
		log.Debug().Err(err).Msg("WebSocket write error")
		return
	}

	for {
		select {
		case <-closed:
			return
		case ev, ok := <-updates:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
		}
	}
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.configMgr == nil {
		writeJSON(w, config.Defaults())
		return
	}
	writeJSON(w, s.configMgr.Get())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}

// Version is reported by the health endpoint.
var Version = "0.1.0"
