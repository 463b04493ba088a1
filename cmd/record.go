package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"macrorec/internal/config"
	"macrorec/internal/hook"
	"macrorec/internal/input"
	"macrorec/internal/protocol"
	"macrorec/internal/recorder"
)

var (
	recordOutput  string
	recordStopKey string
)

// recordDriver supplies the hook driver. nil selects the platform driver.
var recordDriver func() hook.Driver

// eventWriter writes resolved events as JSON lines
type eventWriter struct {
	mu    sync.Mutex
	enc   *json.Encoder
	count int
}

func newEventWriter(w io.Writer) *eventWriter {
	return &eventWriter{enc: json.NewEncoder(w)}
}

func (w *eventWriter) write(ev input.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(protocol.EventPayload{Kind: ev.Kind(), Event: ev}); err != nil {
		log.Printf("Record: Failed to write event: %v", err)
		return
	}
	w.count++
}

func (w *eventWriter) written() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record input as JSON lines until the stop key is pressed",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()

		if recordStopKey != "" {
			cfg.Recording.StopKey = recordStopKey
		}
		stopKey, err := cfg.StopKeyCode()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		path := recordOutput
		if path == "" && cfg.Recording.OutputDir != "" {
			path = filepath.Join(cfg.Recording.OutputDir, "session-"+time.Now().Format("20060102-150405")+".jsonl")
		}
		if path != "" {
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return err
			}
			f, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("create output: %w", err)
			}
			defer f.Close()
			out = f
		}

		opts := recorder.Options{StopKey: stopKey}
		if recordDriver != nil {
			opts.Driver = recordDriver()
		}
		rec := recorder.New(opts)
		defer rec.Close()

		w := newEventWriter(out)
		unsubscribe := rec.Subscribe(w.write)
		defer unsubscribe()

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		// A stop key edited in the config file applies to the running session
		// unless it was pinned on the command line.
		if recordStopKey == "" && cfgMgr != nil {
			cfgMgr.RegisterChangeCallback(func() {
				applyStopKey(rec, cfgMgr.Get())
			})
			go func() {
				if err := cfgMgr.Watch(ctx); err != nil {
					log.Printf("Record: Config watch stopped: %v", err)
				}
			}()
		}

		if err := rec.Start(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Recording. Press %s to stop.\n", cfg.Recording.StopKey)

		select {
		case <-rec.Done():
		case <-ctx.Done():
		}

		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		if err := rec.Stop(stopCtx); err != nil {
			return err
		}

		fmt.Fprintf(cmd.ErrOrStderr(), "Recorded %d events\n", w.written())
		if path != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "Output: %s\n", path)
		}
		return nil
	},
}

func init() {
	recordCmd.Flags().StringVarP(&recordOutput, "output", "o", "", "Write events to this file instead of stdout")
	recordCmd.Flags().StringVar(&recordStopKey, "stop-key", "", "Stop key for this session (overrides config)")
	rootCmd.AddCommand(recordCmd)
}

type stopKeyer interface {
	StopKey() int
	SetStopKey(vk int) error
}

// applyStopKey pushes a reloaded stop key into a running recorder
func applyStopKey(rec stopKeyer, c *config.Config) {
	vk, err := c.StopKeyCode()
	if err != nil || vk == rec.StopKey() {
		return
	}
	if err := rec.SetStopKey(vk); err != nil {
		log.Printf("Config: Failed to apply stop key %q: %v", c.Recording.StopKey, err)
	}
}
