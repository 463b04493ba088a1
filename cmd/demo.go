package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"macrorec/internal/hook"
	"macrorec/internal/input"
	"macrorec/internal/recorder"
)

var demoJSON bool

// demoStep is one simulated transition
type demoStep struct {
	at      int64
	mouse   bool
	x, y    int
	button  input.MouseButton
	maction input.MouseAction
	vk      int
	kaction input.KeyAction
}

// demoScript exercises click merging, the long-press drop, keyboard
// Down/Up pairs and the stop key. The trailing click lands after the stop
// key and must not be recorded.
func demoScript(stopKey int) []demoStep {
	return []demoStep{
		{at: 100, mouse: true, x: 10, y: 10, button: input.ButtonLeft, maction: input.MouseDown},
		{at: 180, mouse: true, x: 10, y: 10, button: input.ButtonLeft, maction: input.MouseUp},
		{at: 400, mouse: true, x: 50, y: 60, button: input.ButtonRight, maction: input.MouseDown},
		{at: 1100, mouse: true, x: 50, y: 60, button: input.ButtonRight, maction: input.MouseUp},
		{at: 1300, vk: 'A', kaction: input.KeyDown},
		{at: 1350, vk: 'A', kaction: input.KeyUp},
		{at: 2000, vk: stopKey, kaction: input.KeyDown},
		{at: 2100, mouse: true, x: 30, y: 30, button: input.ButtonLeft, maction: input.MouseDown},
		{at: 2150, mouse: true, x: 30, y: 30, button: input.ButtonLeft, maction: input.MouseUp},
	}
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a simulated recording session that works on any OS",
	RunE: func(cmd *cobra.Command, args []string) error {
		stopKey, err := GetConfig().StopKeyCode()
		if err != nil {
			return err
		}

		var now atomic.Int64
		sim := hook.NewSimDriver()
		sim.SetClock(now.Load)

		rec := recorder.New(recorder.Options{Driver: sim, StopKey: stopKey})
		defer rec.Close()

		out := cmd.OutOrStdout()
		jw := newEventWriter(out)
		var mu sync.Mutex
		count := 0
		rec.Subscribe(func(ev input.Event) {
			if demoJSON {
				jw.write(ev)
				return
			}
			mu.Lock()
			count++
			mu.Unlock()
			fmt.Fprintln(out, ev)
		})

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		if err := rec.Start(ctx); err != nil {
			return err
		}

		for _, s := range demoScript(stopKey) {
			now.Store(s.at)
			if s.mouse {
				err = sim.Mouse(s.at, s.x, s.y, s.button, s.maction)
			} else {
				err = sim.Key(s.at, s.vk, s.kaction)
			}
			// The stop key uninstalls the hook, later steps have nowhere to go
			if errors.Is(err, hook.ErrNotInstalled) {
				break
			}
			if err != nil {
				return err
			}
		}

		select {
		case <-rec.Done():
		case <-ctx.Done():
			return fmt.Errorf("demo session did not stop: %w", ctx.Err())
		}

		if demoJSON {
			count = jw.written()
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Recorded %d events\n", count)
		return nil
	},
}

func init() {
	demoCmd.Flags().BoolVar(&demoJSON, "json", false, "Print events as JSON lines")
	rootCmd.AddCommand(demoCmd)
}
