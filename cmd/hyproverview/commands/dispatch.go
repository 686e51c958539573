package commands

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/HyprOverview/internal/config"
	"github.com/bryanchriswhite/HyprOverview/internal/hypr"
	"github.com/bryanchriswhite/HyprOverview/internal/state"
)

var moveCmd = &cobra.Command{
	Use:   "move ADDRESS WORKSPACE",
	Short: "Move a window to a workspace without following it",
	Example: `  hyproverview move 0x55d0c0a1b2c0 3`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := strconv.Atoi(args[1])
		if err != nil || ws < 1 || ws >= state.MaxWorkspaces {
			return fmt.Errorf("invalid workspace: %s (use 1-%d)", args[1], state.MaxWorkspaces-1)
		}
		return withClient(cmd, func(ctx context.Context, c *hypr.Client) error {
			if err := c.MoveToWorkspaceSilent(ctx, args[0], ws); err != nil {
				return err
			}
			fmt.Printf("✓ Moved %s to workspace %d\n", hypr.SanitizeAddress(args[0]), ws)
			return nil
		})
	},
}

var switchCmd = &cobra.Command{
	Use:   "switch WORKSPACE",
	Short: "Switch to a workspace by id or name",
	Example: `  hyproverview switch 2
  hyproverview switch special:scratch`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *hypr.Client) error {
			if err := c.SwitchWorkspace(ctx, args[0], 0); err != nil {
				return err
			}
			fmt.Printf("✓ Switched to workspace %s\n", args[0])
			return nil
		})
	},
}

var focusCmd = &cobra.Command{
	Use:     "focus ADDRESS",
	Short:   "Focus a window by address",
	Example: `  hyproverview focus 0x55d0c0a1b2c0`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *hypr.Client) error {
			return c.FocusWindow(ctx, args[0])
		})
	},
}

var dispatchTimeout time.Duration

func init() {
	for _, cmd := range []*cobra.Command{moveCmd, switchCmd, focusCmd} {
		cmd.Flags().DurationVar(&dispatchTimeout, "timeout", 2*time.Second, "command timeout")
		rootCmd.AddCommand(cmd)
	}
}

func withClient(cmd *cobra.Command, fn func(context.Context, *hypr.Client) error) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), dispatchTimeout)
	defer cancel()
	return fn(ctx, newClient(configMgr.Get()))
}
