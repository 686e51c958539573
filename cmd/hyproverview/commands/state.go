package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/HyprOverview/internal/core"
	"github.com/bryanchriswhite/HyprOverview/internal/state"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Print the current workspace model",
	Long: `Query Hyprland once and print the workspace model the overlay would show.

Thumbnails are not captured unless --thumbnails is given.`,
	Example: `  # Show workspaces and windows as a table (default)
  hyproverview state

  # Full model as JSON, including base64 PPM thumbnails
  hyproverview state --format json --thumbnails`,
	RunE: runState,
}

var (
	stateFormat     string
	stateThumbnails bool
	stateTimeout    time.Duration
)

func init() {
	rootCmd.AddCommand(stateCmd)

	stateCmd.Flags().StringVarP(&stateFormat, "format", "f", "table", "output format (table or json)")
	stateCmd.Flags().BoolVarP(&stateThumbnails, "thumbnails", "t", false, "capture window thumbnails")
	stateCmd.Flags().DurationVar(&stateTimeout, "timeout", 10*time.Second, "overall timeout")
}

func runState(cmd *cobra.Command, args []string) error {
	if stateFormat != "table" && stateFormat != "json" {
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", stateFormat)
	}

	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()
	cfg.Capture.Enabled = stateThumbnails

	c, err := core.Init(cfg, core.Options{DisableEvents: true})
	if err != nil {
		return fmt.Errorf("failed to initialize core: %w", err)
	}
	defer c.Shutdown()

	ctx, cancel := context.WithTimeout(cmd.Context(), stateTimeout)
	defer cancel()
	stats, err := c.RefreshNow(ctx)
	if err != nil {
		return fmt.Errorf("failed to query Hyprland: %w", err)
	}

	snap := c.CopyState()
	defer snap.Release()

	if stateFormat == "json" {
		out, err := sonic.ConfigStd.MarshalIndent(snap, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("Monitor %d %dx%d, active workspace %d, visible %v\n",
		snap.Monitor.ID, snap.Monitor.Width, snap.Monitor.Height, snap.ActiveWorkspace, snap.Visible)
	if stateThumbnails {
		fmt.Printf("Captured %d thumbnails (%d failed) in %s\n", stats.Captured, stats.Failed, stats.Duration.Round(time.Millisecond))
	}
	fmt.Println()
	return printStateTable(snap)
}

func printStateTable(snap state.Snapshot) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "WORKSPACE\tADDRESS\tCLASS\tTITLE\tGEOMETRY\tTHUMB")
	fmt.Fprintln(w, "---------\t-------\t-----\t-----\t--------\t-----")

	for _, ws := range snap.Workspaces {
		label := fmt.Sprintf("%d", ws.ID)
		if ws.Name != label {
			label = fmt.Sprintf("%d (%s)", ws.ID, ws.Name)
		}
		if len(ws.Windows) == 0 {
			fmt.Fprintf(w, "%s\t-\t\t\t\t\n", label)
			continue
		}
		for _, win := range ws.Windows {
			thumb := "No"
			if win.Thumbnail != "" {
				thumb = "Yes"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%dx%d+%d+%d\t%s\n",
				label, win.Address, orDash(win.Class), truncate(orDash(win.Title), 40),
				win.W, win.H, win.X, win.Y, thumb)
		}
	}
	return nil
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n-1])) + "…"
}
