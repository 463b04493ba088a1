//go:build !windows && !darwin

package hook

import (
	"fmt"
	"runtime"
	"time"

	"macrorec/internal/input"
)

type stubDriver struct {
	start time.Time
}

func newPlatformDriver() Driver {
	return &stubDriver{start: time.Now()}
}

func (d *stubDriver) Install(Callback) error {
	return fmt.Errorf("%w: global hooks on %s", input.ErrUnsupportedPlatform, runtime.GOOS)
}

func (d *stubDriver) Loop()       {}
func (d *stubDriver) Quit() error { return nil }
func (d *stubDriver) Uninstall()  {}

func (d *stubDriver) Now() int64 {
	return time.Since(d.start).Milliseconds()
}
