package commands

import (
	"context"
	"fmt"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/HyprOverview/internal/capture"
	"github.com/bryanchriswhite/HyprOverview/internal/core"
	"github.com/bryanchriswhite/HyprOverview/internal/hypr"
	"github.com/bryanchriswhite/HyprOverview/internal/logger"
)

var captureCmd = &cobra.Command{
	Use:   "capture ADDRESS",
	Short: "Capture one window to an image file",
	Long: `Capture a single window through the toplevel export protocol and write it
as PNG or binary PPM. The format follows the output file extension; "-"
writes PPM to stdout.`,
	Example: `  # Capture at full resolution
  hyproverview capture 0x55d0c0a1b2c0 -o window.png

  # Thumbnail-sized PPM on stdout
  hyproverview capture 0x55d0c0a1b2c0 --max-width 512 -o - > thumb.ppm`,
	Args: cobra.ExactArgs(1),
	RunE: runCapture,
}

var (
	captureOutput   string
	captureMaxWidth int
	captureTimeout  time.Duration
)

func init() {
	rootCmd.AddCommand(captureCmd)

	captureCmd.Flags().StringVarP(&captureOutput, "output", "o", "", "output file (.png or .ppm, default ADDRESS.png)")
	captureCmd.Flags().IntVarP(&captureMaxWidth, "max-width", "w", 0, "downsample to at most this width (0 keeps full size)")
	captureCmd.Flags().DurationVar(&captureTimeout, "timeout", 5*time.Second, "overall timeout")
}

func runCapture(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("capture")

	addr := hypr.SanitizeAddress(args[0])
	if !hypr.ValidAddress(addr) {
		return fmt.Errorf("invalid window address: %s", args[0])
	}
	if captureMaxWidth < 0 {
		return fmt.Errorf("--max-width must not be negative")
	}

	out := captureOutput
	if out == "" {
		out = addr + ".png"
	}
	ext := strings.ToLower(filepath.Ext(out))
	if out != "-" && ext != ".png" && ext != ".ppm" {
		return fmt.Errorf("unsupported output format: %s (use .png or .ppm)", ext)
	}

	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()
	cfg.Capture.Enabled = false

	c, err := core.Init(cfg, core.Options{DisableEvents: true})
	if err != nil {
		return fmt.Errorf("failed to initialize core: %w", err)
	}
	defer c.Shutdown()

	ctx, cancel := context.WithTimeout(cmd.Context(), captureTimeout)
	defer cancel()

	// the model supplies the XWayland hints for the X11 fallback
	if _, err := c.RefreshNow(ctx); err != nil {
		log.Warn().Err(err).Msg("Capturing without window metadata")
	}

	img, err := c.CaptureWindowRaw(ctx, addr)
	if err != nil {
		return fmt.Errorf("failed to capture %s: %w", addr, err)
	}
	if captureMaxWidth > 0 {
		img = capture.Downsample(img, captureMaxWidth)
	}

	var w io.Writer = os.Stdout
	if out != "-" {
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", out, err)
		}
		defer f.Close()
		w = f
	}

	if out == "-" || ext == ".ppm" {
		err = capture.EncodePPM(w, img)
	} else {
		err = png.Encode(w, img)
	}
	if err != nil {
		return fmt.Errorf("failed to write image: %w", err)
	}

	if out != "-" {
		b := img.Bounds()
		fmt.Printf("✓ Captured %s (%dx%d) to %s\n", addr, b.Dx(), b.Dy(), out)
	}
	return nil
}
