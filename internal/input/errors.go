package input

import "errors"

var (
	// ErrAlreadyRecording is returned when a session is started twice
	ErrAlreadyRecording = errors.New("recording is already started")

	// ErrDisposed is returned when a closed recorder or capturer is used
	ErrDisposed = errors.New("object has been disposed")

	// ErrHookInstall is returned when the OS refuses a low-level hook
	ErrHookInstall = errors.New("failed to install input hook")

	// ErrUnsupportedPlatform is returned when no hook driver exists for this OS
	ErrUnsupportedPlatform = errors.New("unsupported platform")

	// ErrStartAborted is returned when a stop arrives while the hook is still starting
	ErrStartAborted = errors.New("hook start aborted")
)
