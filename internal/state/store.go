// Package state holds the canonical model of the focused monitor, its
// workspaces and their windows, refreshed from the compositor.
package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/bryanchriswhite/HyprOverview/internal/capture"
	"github.com/bryanchriswhite/HyprOverview/internal/geometry"
	"github.com/bryanchriswhite/HyprOverview/internal/hypr"
	"github.com/bryanchriswhite/HyprOverview/internal/logger"
)

// CapturePool captures a burst of windows; *capture.Pool implements it.
type CapturePool interface {
	Run(ctx context.Context, reqs []capture.Request) []capture.Result
}

// RefreshStats summarizes one refresh.
type RefreshStats struct {
	Epoch     uint64
	Windows   int
	Visible   int
	Captured  int
	Failed    int
	Discarded int
	Duration  time.Duration
}

// Store is the mutex-guarded model. Refresh is the only mutator apart from
// the capture switch; CopyState is the only read path.
type Store struct {
	querier       hypr.Querier
	pool          CapturePool
	thumbMaxWidth int

	// serializes the query and swap phases of refreshes; the data lock
	// below is never held across I/O
	refreshMu sync.Mutex

	mu             sync.Mutex
	monitor        geometry.Monitor
	active         int
	workspaces     map[int]*Workspace
	visible        []int
	captureEnabled bool
	epoch          uint64
	cookies        uint64
}

// NewStore creates a store with the defaults used before the first refresh:
// a 1920x1080 monitor and workspace 1 active.
func NewStore(q hypr.Querier, pool CapturePool, thumbMaxWidth int) *Store {
	return &Store{
		querier:        q,
		pool:           pool,
		thumbMaxWidth:  thumbMaxWidth,
		monitor:        geometry.Monitor{Width: 1920, Height: 1080},
		active:         1,
		workspaces:     make(map[int]*Workspace),
		visible:        []int{1},
		captureEnabled: true,
	}
}

// SetCaptureEnabled toggles thumbnail capture for later refreshes.
func (s *Store) SetCaptureEnabled(enabled bool) {
	s.mu.Lock()
	s.captureEnabled = enabled
	s.mu.Unlock()
}

// CaptureEnabled reports the capture switch.
func (s *Store) CaptureEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captureEnabled
}

// Clear drops every workspace and window.
func (s *Store) Clear() {
	s.mu.Lock()
	s.workspaces = make(map[int]*Workspace)
	s.visible = []int{1}
	s.mu.Unlock()
}

func validWorkspaceID(id int) bool {
	return id >= 1 && id < MaxWorkspaces
}

// Refresh re-reads the compositor and republishes the model. Each failing
// sub-query keeps the matching part of the previous state; the returned
// error joins those failures and is informational.
func (s *Store) Refresh(ctx context.Context) (RefreshStats, error) {
	s.refreshMu.Lock()
	start := time.Now()
	log := logger.WithComponent("state")
	var errs []error

	active, errActive := s.querier.ActiveWorkspace(ctx)
	if errActive != nil {
		errs = append(errs, fmt.Errorf("active workspace: %w", errActive))
	}
	monitors, errMon := s.querier.Monitors(ctx)
	if errMon != nil {
		errs = append(errs, fmt.Errorf("monitors: %w", errMon))
	}
	clients, errClients := s.querier.Clients(ctx)
	if errClients != nil {
		errs = append(errs, fmt.Errorf("clients: %w", errClients))
	}

	// active workspace and monitor first; the client filter needs the
	// monitor id
	s.mu.Lock()
	if errActive == nil && validWorkspaceID(active.ID) {
		s.active = active.ID
	}
	if errMon == nil {
		if m, ok := hypr.FocusedMonitor(monitors); ok && m.Width > 0 && m.Height > 0 {
			s.monitor = geometry.Monitor{
				ID:        m.ID,
				Width:     m.Width,
				Height:    m.Height,
				X:         m.X,
				Y:         m.Y,
				Transform: m.Transform,
			}
		} else {
			log.Warn().Msg("Focused monitor not found in monitor list")
		}
	}
	monID := s.monitor.ID
	activeID := s.active
	s.mu.Unlock()

	var built map[int]*Workspace
	if errClients == nil {
		built = groupClients(clients, monID)
		if needsNames(built, activeID) {
			names, err := s.workspaceNames(ctx)
			if err != nil {
				errs = append(errs, fmt.Errorf("workspaces: %w", err))
			}
			applyNames(built, activeID, names)
		}
	}

	s.mu.Lock()
	s.epoch++
	epoch := s.epoch
	if built != nil {
		s.swapWorkspaces(built)
	}
	s.visible = visibleList(s.workspaces, s.active)
	targets := s.captureRequests()
	stats := RefreshStats{Epoch: epoch, Windows: s.windowCount(), Visible: len(s.visible)}
	s.mu.Unlock()
	// captures run without either lock; a newer refresh may start meanwhile
	s.refreshMu.Unlock()

	if len(targets) > 0 && s.pool != nil {
		reqs := make([]capture.Request, len(targets))
		for i, t := range targets {
			reqs[i] = t.Request
		}
		results := s.pool.Run(ctx, reqs)
		s.applyCaptures(epoch, targets, results, &stats)
	}

	stats.Duration = time.Since(start)
	err := errors.Join(errs...)
	if err != nil {
		log.Warn().Err(err).Uint64("epoch", epoch).Msg("Refresh partially failed")
	}
	log.Debug().
		Uint64("epoch", epoch).
		Int("windows", stats.Windows).
		Int("visible", stats.Visible).
		Int("captured", stats.Captured).
		Int("capture_failed", stats.Failed).
		Int("discarded", stats.Discarded).
		Dur("took", stats.Duration).
		Msg("Refresh complete")
	return stats, err
}

// groupClients filters clients to the focused monitor and groups them per
// workspace in compositor order.
func groupClients(clients []hypr.ClientInfo, monID int) map[int]*Workspace {
	out := make(map[int]*Workspace)
	for _, c := range clients {
		if !c.Mapped || c.Hidden {
			continue
		}
		wsID := c.Workspace.ID
		if !validWorkspaceID(wsID) || c.Monitor != monID {
			continue
		}

		ws := out[wsID]
		if ws == nil {
			ws = &Workspace{ID: wsID}
			out[wsID] = ws
		}
		if len(ws.Windows) >= MaxWindowsPerWorkspace {
			continue
		}
		if ws.Name == "" && c.Workspace.Name != "" {
			ws.Name = c.Workspace.Name
		}

		addr := hypr.SanitizeAddress(c.Address)
		if !hypr.ValidAddress(addr) {
			continue
		}
		x, y, w, h, ok := c.Geometry()
		if !ok {
			continue
		}

		ws.Windows = append(ws.Windows, Window{
			Address:      addr,
			X:            x,
			Y:            y,
			W:            w,
			H:            h,
			Class:        copyString(c.Class),
			InitialClass: copyString(c.InitialClass),
			Title:        copyString(c.Title),
			PID:          c.PID,
			XWayland:     c.XWayland,
		})
	}

	// a workspace whose clients were all rejected is not kept
	for id, ws := range out {
		if len(ws.Windows) == 0 {
			delete(out, id)
		}
	}
	return out
}

func needsNames(built map[int]*Workspace, activeID int) bool {
	if _, ok := built[activeID]; !ok {
		return true
	}
	for _, ws := range built {
		if ws.Name == "" {
			return true
		}
	}
	return false
}

func (s *Store) workspaceNames(ctx context.Context) (map[int]string, error) {
	list, err := s.querier.Workspaces(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[int]string, len(list))
	for _, w := range list {
		if !validWorkspaceID(w.ID) {
			continue
		}
		name := w.Name
		if name == "" {
			name = strconv.Itoa(w.ID)
		}
		names[w.ID] = name
	}
	return names, nil
}

// applyNames fills missing names from the workspaces query, then from the
// id. The active workspace gets an entry even without windows.
func applyNames(built map[int]*Workspace, activeID int, names map[int]string) {
	if _, ok := built[activeID]; !ok && validWorkspaceID(activeID) {
		built[activeID] = &Workspace{ID: activeID}
	}
	for id, ws := range built {
		if ws.Name != "" {
			continue
		}
		if n, ok := names[id]; ok {
			ws.Name = n
		}
	}
}

// swapWorkspaces installs a freshly built model, carrying thumbnails over by
// address and handing every window a new cookie. Caller holds s.mu.
func (s *Store) swapWorkspaces(built map[int]*Workspace) {
	prev := make(map[string]string)
	for _, ws := range s.workspaces {
		for _, w := range ws.Windows {
			if w.Thumbnail != "" {
				prev[w.Address] = w.Thumbnail
			}
		}
	}

	for _, ws := range built {
		if ws.Name == "" {
			ws.Name = strconv.Itoa(ws.ID)
		}
		for i := range ws.Windows {
			s.cookies++
			ws.Windows[i].Cookie = s.cookies
			ws.Windows[i].Thumbnail = prev[ws.Windows[i].Address]
		}
	}
	s.workspaces = built
}

// visibleList is every workspace with windows plus the active one, in id
// order, falling back to workspace 1.
func visibleList(workspaces map[int]*Workspace, active int) []int {
	var out []int
	for id, ws := range workspaces {
		if len(ws.Windows) > 0 || id == active {
			out = append(out, id)
		}
	}
	if validWorkspaceID(active) {
		found := false
		for _, id := range out {
			if id == active {
				found = true
				break
			}
		}
		if !found {
			out = append(out, active)
		}
	}
	if len(out) == 0 {
		out = []int{1}
	}
	sort.Ints(out)
	return out
}

// captureRequests lists windows to capture. Caller holds s.mu.
func (s *Store) captureRequests() []captureTarget {
	if !s.captureEnabled {
		return nil
	}
	var out []captureTarget
	for _, id := range sortedIDs(s.workspaces) {
		for _, w := range s.workspaces[id].Windows {
			out = append(out, captureTarget{
				Request: capture.Request{
					Address:  w.Address,
					MaxWidth: s.thumbMaxWidth,
					XWayland: w.XWayland,
					PID:      w.PID,
					Title:    derefString(w.Title),
				},
				cookie: w.Cookie,
			})
		}
	}
	return out
}

func (s *Store) windowCount() int {
	n := 0
	for _, ws := range s.workspaces {
		n += len(ws.Windows)
	}
	return n
}

// applyCaptures writes results back for windows that still carry the cookie
// they were captured under; anything else belongs to an older refresh.
func (s *Store) applyCaptures(epoch uint64, targets []captureTarget, results []capture.Result, stats *RefreshStats) {
	log := logger.WithComponent("state")

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, res := range results {
		if i >= len(targets) {
			break
		}
		if res.Err != nil {
			stats.Failed++
			log.Debug().Err(res.Err).Str("address", res.Address).Msg("Thumbnail capture failed")
			continue
		}
		if s.epoch != epoch || !s.setThumbnail(res.Address, targets[i].cookie, res.Encoded) {
			stats.Discarded++
			continue
		}
		stats.Captured++
	}
}

// setThumbnail is the guarded write-back. Caller holds s.mu.
func (s *Store) setThumbnail(addr string, cookie uint64, b64 string) bool {
	for _, ws := range s.workspaces {
		for i := range ws.Windows {
			w := &ws.Windows[i]
			if w.Address == addr {
				if w.Cookie != cookie {
					return false
				}
				w.Thumbnail = b64
				return true
			}
		}
	}
	return false
}

// CopyState returns a deep copy of the model.
func (s *Store) CopyState() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Monitor:         s.monitor,
		ActiveWorkspace: s.active,
		Visible:         append([]int(nil), s.visible...),
		Epoch:           s.epoch,
		CaptureEnabled:  s.captureEnabled,
	}
	ids := sortedIDs(s.workspaces)
	snap.Workspaces = make([]Workspace, 0, len(ids))
	for _, id := range ids {
		snap.Workspaces = append(snap.Workspaces, s.workspaces[id].clone())
	}
	return snap
}

type captureTarget struct {
	capture.Request
	cookie uint64
}

func sortedIDs(m map[int]*Workspace) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
