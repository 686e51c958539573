package commands

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bryanchriswhite/HyprOverview/internal/api"
	"github.com/bryanchriswhite/HyprOverview/internal/config"
	"github.com/bryanchriswhite/HyprOverview/internal/core"
	"github.com/bryanchriswhite/HyprOverview/internal/logger"
	"github.com/bryanchriswhite/HyprOverview/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HyprOverview daemon",
	Long: `Start the HyprOverview core and its HTTP server.

The daemon follows the Hyprland event socket, keeps the workspace model and
thumbnails fresh, and serves them to overlay front-ends over REST and a
WebSocket notification stream.`,
	Example: `  # Start on the default port (8787)
  hyproverview serve

  # Listen on every interface (trusted networks only)
  hyproverview config set server_host 0.0.0.0

  # Start on a custom port
  hyproverview serve --port 9090

  # Start with debug logging
  hyproverview serve --log-level debug`,
	RunE: runServe,
}

var serveNoMetrics bool

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveNoMetrics, "no-metrics", false, "disable the /metrics endpoint")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("serve")

	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()
	log.Info().
		Str("path", configMgr.GetConfigPath()).
		Str("log_level", cfg.LogLevel).
		Msg("Configuration loaded")

	watchConfig(configMgr)

	var m *metrics.Metrics
	if !serveNoMetrics {
		m = metrics.New(true)
	}

	c, err := core.Init(cfg, core.Options{Metrics: m})
	if err != nil {
		return fmt.Errorf("failed to initialize core: %w", err)
	}
	defer c.Shutdown()

	server := api.NewServer(c, configMgr, m)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(cfg.ServerHost, cfg.ServerPort)
	}()

	hostPort := net.JoinHostPort(cfg.ServerHost, strconv.Itoa(cfg.ServerPort))
	log.Info().
		Str("addr", hostPort).
		Str("state", fmt.Sprintf("http://%s/api/state", hostPort)).
		Str("events", fmt.Sprintf("ws://%s/api/events", hostPort)).
		Msg("HyprOverview is running")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
		log.Info().Msg("Shutting down gracefully...")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown")
	}
	return nil
}

// watchConfig reloads the config file on change and re-applies the log
// level. Other settings take effect on restart.
func watchConfig(configMgr *config.Manager) {
	log := logger.WithComponent("config")

	viper.SetConfigFile(configMgr.GetConfigPath())
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		log.Warn().Err(err).Msg("Config watch disabled")
		return
	}
	viper.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		if err := configMgr.Reload(); err != nil {
			log.Warn().Err(err).Str("path", e.Name).Msg("Ignoring invalid config change")
			return
		}
		level := configMgr.Get().LogLevel
		// a --log-level flag keeps precedence over the file
		if flag := viper.GetString("log_level"); flag != "" && rootCmd.PersistentFlags().Changed("log-level") {
			level = flag
		}
		logger.SetLevel(level)
		log.Info().Str("path", e.Name).Str("log_level", level).Msg("Config reloaded")
	})
	viper.WatchConfig()
}
