// Package tray provides system tray functionality using getlantern/systray.
package tray

import (
	"context"
	"log"
	"time"

	"github.com/getlantern/systray"
)

// Controller is what the tray menu drives
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRecording() bool
	Done() <-chan struct{}
}

// Tray manages the system tray icon and the recording menu
type Tray struct {
	tooltip   string
	ctrl      Controller
	onCapture func()
	onQuit    func()

	toggle  *systray.MenuItem
	capture *systray.MenuItem
	quit    *systray.MenuItem
	quitCh  chan struct{}
}

// New creates a new system tray. onCapture may be nil, in which case no
// screenshot entry is shown.
func New(tooltip string, ctrl Controller, onCapture, onQuit func()) *Tray {
	return &Tray{
		tooltip:   tooltip,
		ctrl:      ctrl,
		onCapture: onCapture,
		onQuit:    onQuit,
		quitCh:    make(chan struct{}),
	}
}

// toggleTitle returns the menu label for the current recording state
func toggleTitle(recording bool) string {
	if recording {
		return "Stop Recording"
	}
	return "Start Recording"
}

// Run starts the tray event loop (blocks)
func (t *Tray) Run() {
	systray.Run(t.setupMenu, func() { close(t.quitCh) })
}

// Stop stops the tray
func (t *Tray) Stop() {
	systray.Quit()
}

func (t *Tray) setupMenu() {
	systray.SetTitle("MacroRec")
	systray.SetTooltip(t.tooltip)
	systray.SetIcon(getIcon())

	t.toggle = systray.AddMenuItem(toggleTitle(t.ctrl.IsRecording()), "Start or stop capturing input")
	if t.onCapture != nil {
		t.capture = systray.AddMenuItem("Capture Screenshot", "Save a screenshot of the desktop")
	}
	systray.AddSeparator()
	t.quit = systray.AddMenuItem("Quit", "Exit MacroRec")

	go t.loop()
}

func (t *Tray) loop() {
	var captureCh <-chan struct{}
	if t.capture != nil {
		captureCh = t.capture.ClickedCh
	}

	for {
		select {
		case <-t.toggle.ClickedCh:
			t.toggleRecording()
		case <-captureCh:
			go t.onCapture()
		case <-t.quit.ClickedCh:
			if t.ctrl.IsRecording() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				t.ctrl.Stop(ctx)
				cancel()
			}
			if t.onQuit != nil {
				t.onQuit()
			}
			systray.Quit()
			return
		case <-t.quitCh:
			return
		}
	}
}

func (t *Tray) toggleRecording() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if t.ctrl.IsRecording() {
		if err := t.ctrl.Stop(ctx); err != nil {
			log.Printf("Tray: Failed to stop recording: %v", err)
		}
		t.toggle.SetTitle(toggleTitle(false))
		return
	}

	if err := t.ctrl.Start(ctx); err != nil {
		log.Printf("Tray: Failed to start recording: %v", err)
		return
	}
	t.toggle.SetTitle(toggleTitle(true))

	// The stop key can end the session without going through the menu
	done := t.ctrl.Done()
	go func() {
		select {
		case <-done:
			t.toggle.SetTitle(toggleTitle(t.ctrl.IsRecording()))
		case <-t.quitCh:
		}
	}()
}

// getIcon returns a placeholder icon (valid 16x16 ICO)
func getIcon() []byte {
	icon := make([]byte, 1118)
	// ICO Header
	copy(icon[0:6], []byte{0x00, 0x00, 0x01, 0x00, 0x01, 0x00})
	// Icon Directory
	copy(icon[6:22], []byte{
		0x10, 0x10, 0x00, 0x00, 0x01, 0x00, 0x20, 0x00,
		0x48, 0x04, 0x00, 0x00,
		0x16, 0x00, 0x00, 0x00,
	})
	// DIB Header
	copy(icon[22:62], []byte{
		0x28, 0x00, 0x00, 0x00,
		0x10, 0x00, 0x00, 0x00,
		0x20, 0x00, 0x00, 0x00,
		0x01, 0x00,
		0x20, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x04, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
	})
	// Red dot for recording
	for y := 4; y < 12; y++ {
		for x := 4; x < 12; x++ {
			p := 62 + ((y*16)+x)*4
			copy(icon[p:p+4], []byte{0x30, 0x30, 0xE0, 0xFF})
		}
	}
	return icon
}
