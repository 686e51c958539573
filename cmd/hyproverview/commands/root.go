package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/bryanchriswhite/HyprOverview/internal/config"
	"github.com/bryanchriswhite/HyprOverview/internal/hypr"
	"github.com/bryanchriswhite/HyprOverview/internal/logger"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "hyproverview",
		Short: "HyprOverview - workspace overview core for Hyprland",
		Long: `HyprOverview mirrors Hyprland's workspaces and windows into a model
that overlay front-ends consume, capturing a thumbnail of every window.

Features:
  • Track monitors, workspaces and windows from the compositor event stream
  • Capture window thumbnails through the toplevel export protocol
  • X11 fallback capture for XWayland windows
  • Live full-resolution previews while the overlay is shown
  • REST + WebSocket API for presentation layers
  • Prometheus metrics`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Init(viper.GetString("log_level"), viper.GetBool("log_pretty"))
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/hyproverview/config.yaml)")
	flags.Int("port", 0, "server port (default is 8787)")
	flags.String("log-level", "", "log level (trace, debug, info, warn, error)")
	flags.Bool("pretty", true, "human readable console logs")

	// Bind flags to viper
	bindFlag(flags, "server_port", "port")
	bindFlag(flags, "log_level", "log-level")
	bindFlag(flags, "log_pretty", "pretty")
}

func bindFlag(flags *pflag.FlagSet, key, name string) {
	if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: binding --%s: %v\n", name, err)
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	viper.SetEnvPrefix("HYPROVERVIEW")
	viper.AutomaticEnv()
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// loadConfig opens the config file and applies flag overrides in memory.
func loadConfig() (*config.Manager, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize config manager: %w", err)
	}

	// Override port from flag if provided
	if viper.IsSet("server_port") {
		if port := viper.GetInt("server_port"); port > 0 {
			configMgr.SetPort(port)
		}
	}

	// Override log level from flag if provided
	if viper.IsSet("log_level") {
		if level := viper.GetString("log_level"); level != "" {
			if !logger.ValidLevel(level) {
				return nil, fmt.Errorf("invalid log level: %s (use: trace, debug, info, warn, error)", level)
			}
			configMgr.SetLogLevel(level)
		}
	}

	cfg := configMgr.Get()
	logger.SetLevel(cfg.LogLevel)
	return configMgr, nil
}

// newClient builds a compositor client from the config.
func newClient(cfg *config.Config) *hypr.Client {
	return hypr.NewClient(cfg.Hyprland.RuntimeDir, cfg.Hyprland.InstanceSignature)
}
