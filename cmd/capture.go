package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"macrorec/internal/screenshot"
)

var (
	captureTimeout time.Duration
	captureMethod  string
	captureOutput  string
)

// captureOptions configures the orchestrator used by capture and serve.
// The zero value selects the platform backends.
var captureOptions screenshot.Options

func newCapturer() *screenshot.Orchestrator {
	o := screenshot.New(captureOptions)
	if m, ok := GetConfig().ForcedMethod(); ok {
		o.ForceMethod(m)
	}
	return o
}

// saveScreenshot captures once and writes the PNG to path
func saveScreenshot(cmd *cobra.Command, o *screenshot.Orchestrator, timeout time.Duration, path string) (screenshot.Result, error) {
	res, err := o.Capture(cmd.Context(), timeout)
	if err != nil {
		return res, err
	}
	if res.HasError() {
		return res, fmt.Errorf("%s: %s (method %s, %d retries)", res.ErrorCode, res.ErrorMessage, res.Method, res.RetryCount)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return res, err
		}
	}
	if err := os.WriteFile(path, res.Image, 0644); err != nil {
		return res, fmt.Errorf("write screenshot: %w", err)
	}
	return res, nil
}

func screenshotName() string {
	return "screenshot-" + time.Now().Format("20060102-150405.000") + ".png"
}

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture one screenshot of the desktop to a PNG file",
	RunE: func(cmd *cobra.Command, args []string) error {
		o := newCapturer()
		defer o.Close()

		if captureMethod != "" {
			m, err := screenshot.ParseMethod(captureMethod)
			if err != nil {
				return err
			}
			o.ForceMethod(m)
		}

		timeout := captureTimeout
		if timeout <= 0 {
			timeout = GetConfig().CaptureTimeout()
		}

		path := captureOutput
		if path == "" {
			path = screenshotName()
		}

		res, err := saveScreenshot(cmd, o, timeout, path)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (method %s, %d retries, %s)\n", path, res.Method, res.RetryCount, res.Duration.Round(time.Millisecond))
		return nil
	},
}

func init() {
	captureCmd.Flags().DurationVar(&captureTimeout, "timeout", 0, "Per-attempt capture timeout (default from config)")
	captureCmd.Flags().StringVar(&captureMethod, "method", "", "Force a backend: primary or fallback")
	captureCmd.Flags().StringVarP(&captureOutput, "output", "o", "", "Output PNG path")
	rootCmd.AddCommand(captureCmd)
}
