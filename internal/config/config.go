package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bryanchriswhite/HyprOverview/internal/logger"
	"gopkg.in/yaml.v3"
)

// Query modes for reading compositor state
const (
	QueryModeHyprctl = "hyprctl"
	QueryModeSocket  = "socket"
)

// Config represents the application configuration
type Config struct {
	ServerPort int    `json:"server_port" yaml:"server_port"`
	ServerHost string `json:"server_host" yaml:"server_host"`
	// AllowedOrigins are browser origins, besides the server's own, that may
	// call the API
	AllowedOrigins []string       `json:"allowed_origins" yaml:"allowed_origins"`
	LogLevel       string         `json:"log_level" yaml:"log_level"`
	Capture    CaptureConfig  `json:"capture" yaml:"capture"`
	Events     EventsConfig   `json:"events" yaml:"events"`
	Hyprland   HyprlandConfig `json:"hyprland" yaml:"hyprland"`
}

// CaptureConfig controls the thumbnail capture pipeline
type CaptureConfig struct {
	// Workers is the upper bound of concurrent captures per burst
	Workers int `json:"workers" yaml:"workers"`
	// ThumbnailMaxWidth bounds bulk refresh thumbnails (0 = full size)
	ThumbnailMaxWidth int `json:"thumbnail_max_width" yaml:"thumbnail_max_width"`
	// LiveMaxWidth bounds live previews (0 = full size)
	LiveMaxWidth   int  `json:"live_max_width" yaml:"live_max_width"`
	TimeoutMS      int  `json:"timeout_ms" yaml:"timeout_ms"`
	PollIntervalMS int  `json:"poll_interval_ms" yaml:"poll_interval_ms"`
	X11Fallback    bool `json:"x11_fallback" yaml:"x11_fallback"`
	// Enabled gates bulk capture at startup; the overlay toggles it at runtime
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// EventsConfig controls the event socket reader and refresh scheduling
type EventsConfig struct {
	BackoffMinMS int     `json:"backoff_min_ms" yaml:"backoff_min_ms"`
	BackoffMaxMS int     `json:"backoff_max_ms" yaml:"backoff_max_ms"`
	RefreshRate  float64 `json:"refresh_rate" yaml:"refresh_rate"`
	RefreshBurst int     `json:"refresh_burst" yaml:"refresh_burst"`
}

// HyprlandConfig locates the compositor instance
type HyprlandConfig struct {
	QueryMode         string `json:"query_mode" yaml:"query_mode"`
	HyprctlPath       string `json:"hyprctl_path" yaml:"hyprctl_path"`
	RuntimeDir        string `json:"runtime_dir,omitempty" yaml:"runtime_dir,omitempty"`
	InstanceSignature string `json:"instance_signature,omitempty" yaml:"instance_signature,omitempty"`
	WaylandDisplay    string `json:"wayland_display,omitempty" yaml:"wayland_display,omitempty"`
}

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// Defaults returns the default configuration
func Defaults() *Config {
	return &Config{
		ServerPort: 8787,
		ServerHost: "127.0.0.1",
		LogLevel:   "info",
		Capture: CaptureConfig{
			Workers:           4,
			ThumbnailMaxWidth: 512,
			LiveMaxWidth:      0,
			TimeoutMS:         500,
			PollIntervalMS:    50,
			X11Fallback:       true,
			Enabled:           true,
		},
		Events: EventsConfig{
			BackoffMinMS: 100,
			BackoffMaxMS: 1000,
			RefreshRate:  20,
			RefreshBurst: 4,
		},
		Hyprland: HyprlandConfig{
			QueryMode:   QueryModeHyprctl,
			HyprctlPath: "hyprctl",
		},
	}
}

// DefaultPath returns $HOME/.config/hyproverview/config.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "hyproverview", "config.yaml"), nil
}

// NewManager creates a new configuration manager
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		actualConfigPath = p
	}

	// Create config directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(actualConfigPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	m := &Manager{
		configPath: actualConfigPath,
	}

	if err := m.load(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		logger.WithComponent("config").Info().
			Str("path", m.configPath).
			Msg("Config file not found, creating new config")
		m.config = Defaults()
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config loaded")

	return m, nil
}

// load reads the configuration from disk
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.normalize()

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Reload re-reads the file, keeping the previous config on error
func (m *Manager) Reload() error {
	return m.load()
}

// normalize replaces out-of-range values with defaults
func (c *Config) normalize() {
	d := Defaults()
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		c.ServerPort = d.ServerPort
	}
	if c.ServerHost == "" {
		c.ServerHost = d.ServerHost
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.Capture.Workers <= 0 {
		c.Capture.Workers = d.Capture.Workers
	}
	if c.Capture.ThumbnailMaxWidth < 0 {
		c.Capture.ThumbnailMaxWidth = d.Capture.ThumbnailMaxWidth
	}
	if c.Capture.LiveMaxWidth < 0 {
		c.Capture.LiveMaxWidth = 0
	}
	if c.Capture.TimeoutMS <= 0 {
		c.Capture.TimeoutMS = d.Capture.TimeoutMS
	}
	if c.Capture.PollIntervalMS <= 0 || c.Capture.PollIntervalMS > c.Capture.TimeoutMS {
		c.Capture.PollIntervalMS = d.Capture.PollIntervalMS
	}
	if c.Events.BackoffMinMS <= 0 {
		c.Events.BackoffMinMS = d.Events.BackoffMinMS
	}
	if c.Events.BackoffMaxMS < c.Events.BackoffMinMS {
		c.Events.BackoffMaxMS = c.Events.BackoffMinMS
	}
	if c.Events.RefreshRate <= 0 {
		c.Events.RefreshRate = d.Events.RefreshRate
	}
	if c.Events.RefreshBurst <= 0 {
		c.Events.RefreshBurst = d.Events.RefreshBurst
	}
	switch c.Hyprland.QueryMode {
	case QueryModeHyprctl, QueryModeSocket:
	default:
		c.Hyprland.QueryMode = d.Hyprland.QueryMode
	}
	if c.Hyprland.HyprctlPath == "" {
		c.Hyprland.HyprctlPath = d.Hyprland.HyprctlPath
	}
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Defaults()
	}
	cfg := *m.config
	cfg.AllowedOrigins = append([]string(nil), m.config.AllowedOrigins...)
	return &cfg
}

// Save writes the current configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	data, err := yaml.Marshal(m.config)
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Update replaces the configuration and persists it
func (m *Manager) Update(cfg *Config) error {
	c := *cfg
	c.normalize()

	m.mu.Lock()
	m.config = &c
	m.mu.Unlock()

	return m.Save()
}

// SetPort updates the HTTP port in memory
func (m *Manager) SetPort(port int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.ServerPort = port
}

// SetLogLevel updates the log level in memory
func (m *Manager) SetLogLevel(level string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.LogLevel = level
}

// GetConfigPath returns the configuration file path
func (m *Manager) GetConfigPath() string {
	return m.configPath
}
