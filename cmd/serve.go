package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"macrorec/internal/api"
	"macrorec/internal/recorder"
	"macrorec/internal/tray"
)

var (
	serveNoTray bool
	servePort   int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local control API and the tray icon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		log.Println("MacroRec service starting...")

		stopKey, err := cfg.StopKeyCode()
		if err != nil {
			return err
		}
		opts := recorder.Options{StopKey: stopKey}
		if recordDriver != nil {
			opts.Driver = recordDriver()
		}
		rec := recorder.New(opts)
		defer rec.Close()

		capturer := newCapturer()
		defer capturer.Close()

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		cfgMgr.RegisterChangeCallback(func() {
			c := cfgMgr.Get()
			applyStopKey(rec, c)
			if m, ok := c.ForcedMethod(); ok {
				capturer.ForceMethod(m)
			} else {
				capturer.ClearForcedMethod()
			}
		})
		go func() {
			if err := cfgMgr.Watch(ctx); err != nil {
				log.Printf("Config watch stopped: %v", err)
			}
		}()

		var server *api.Server
		if cfg.General.APIEnabled {
			port := cfg.General.APIPort
			if servePort > 0 {
				port = servePort
			}
			server = api.NewServer(cfgMgr, rec, capturer)
			go func() {
				if err := server.Start(port); err != nil {
					log.Printf("API server error: %v", err)
					cancel()
				}
			}()
		} else {
			log.Println("API disabled in config")
		}

		if cfg.General.ShowTray && !serveNoTray {
			onCapture := func() {
				path := filepath.Join(GetConfig().Recording.OutputDir, screenshotName())
				if _, err := saveScreenshot(cmd, capturer, GetConfig().CaptureTimeout(), path); err != nil {
					log.Printf("Tray: Screenshot failed: %v", err)
					return
				}
				log.Printf("Tray: Screenshot saved to %s", path)
			}
			t := tray.New("MacroRec", rec, onCapture, cancel)
			go func() {
				<-ctx.Done()
				t.Stop()
			}()
			// Blocks until Quit
			t.Run()
		} else {
			<-ctx.Done()
		}

		log.Println("MacroRec service shutting down...")
		if server != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("API shutdown error: %v", err)
			}
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveNoTray, "no-tray", false, "Do not show the system tray icon")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "API port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
