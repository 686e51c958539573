package commands

import (
	"fmt"
	"os"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bryanchriswhite/HyprOverview/internal/config"
	"github.com/bryanchriswhite/HyprOverview/internal/logger"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage HyprOverview configuration",
	Long:  `View and manage HyprOverview configuration settings.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Example: `  # Show configuration as YAML (default)
  hyproverview config show

  # Show configuration as JSON
  hyproverview config show --format json`,
	RunE: runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Set a configuration value",
	Long: `Set a configuration value by its dotted key. The value is parsed as the
key's type and the whole configuration is validated before saving.`,
	Example: `  # Set server port
  hyproverview config set server_port 9090

  # Use more capture workers
  hyproverview config set capture.workers 8

  # Query Hyprland over its socket instead of hyprctl
  hyproverview config set hyprland.query_mode socket`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Get a configuration value",
	Example: `  hyproverview config get capture.thumbnail_max_width`,
	Args:    cobra.ExactArgs(1),
	RunE:    runConfigGet,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	RunE:  runConfigPath,
}

var formatFlag string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configPathCmd)

	configShowCmd.Flags().StringVarP(&formatFlag, "format", "f", "yaml", "output format (yaml or json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cfg := configMgr.Get()

	switch formatFlag {
	case "json":
		out, err := sonic.ConfigStd.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	case "yaml":
		encoder := yaml.NewEncoder(os.Stdout)
		encoder.SetIndent(2)
		return encoder.Encode(cfg)
	default:
		return fmt.Errorf("unsupported format: %s (use 'yaml' or 'json')", formatFlag)
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	if key == "log_level" && !logger.ValidLevel(value) {
		return fmt.Errorf("invalid log level: %s (use: trace, debug, info, warn, error)", value)
	}

	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := configMgr.SetValue(key, value); err != nil {
		return err
	}

	fmt.Printf("✓ Configuration updated: %s = %s\n", key, value)
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	value, err := configMgr.GetValue(args[0])
	if err != nil {
		return err
	}
	fmt.Println(value)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	fmt.Println(configMgr.GetConfigPath())
	return nil
}
