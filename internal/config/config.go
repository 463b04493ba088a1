// Package config provides configuration management for the recorder.
package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"macrorec/internal/input"
	"macrorec/internal/screenshot"
)

// Config represents the application configuration
type Config struct {
	// Recording contains input capture settings
	Recording RecordingConfig `json:"recording"`

	// Capture contains screenshot settings
	Capture CaptureConfig `json:"capture"`

	// General contains general application settings
	General GeneralConfig `json:"general"`
}

// RecordingConfig contains input capture settings
type RecordingConfig struct {
	// StopKey ends a recording when pressed (e.g. "ESC", "F9", "0x7B")
	StopKey string `json:"stop_key"`

	// OutputDir is where `record` writes sessions when no --output is given
	OutputDir string `json:"output_dir,omitempty"`
}

// CaptureConfig contains screenshot settings
type CaptureConfig struct {
	// TimeoutMs bounds a single capture attempt
	TimeoutMs int `json:"timeout_ms"`

	// ForceMethod pins the backend: "", "primary" or "fallback"
	ForceMethod string `json:"force_method,omitempty"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	// APIEnabled enables the local HTTP/WebSocket API
	APIEnabled bool `json:"api_enabled"`

	// APIPort is the port for the API server (default: 18090)
	APIPort int `json:"api_port"`

	// APIToken is an optional authentication token for API requests
	APIToken string `json:"api_token,omitempty"`

	// ShowTray shows the system tray icon while serving
	ShowTray bool `json:"show_tray"`
}

// DefaultConfig returns a new Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Recording: RecordingConfig{
			StopKey: "ESC",
		},
		Capture: CaptureConfig{
			TimeoutMs: 50,
		},
		General: GeneralConfig{
			APIEnabled: true,
			APIPort:    18090,
			ShowTray:   true,
		},
	}
}

// Validate checks every field that has a constrained value
func (c *Config) Validate() error {
	if _, err := input.ParseKey(c.Recording.StopKey); err != nil {
		return fmt.Errorf("recording.stop_key: %w", err)
	}
	if c.Capture.TimeoutMs <= 0 {
		return fmt.Errorf("capture.timeout_ms must be positive, got %d", c.Capture.TimeoutMs)
	}
	if c.Capture.ForceMethod != "" {
		if _, err := screenshot.ParseMethod(c.Capture.ForceMethod); err != nil {
			return fmt.Errorf("capture.force_method: %w", err)
		}
	}
	if c.General.APIPort < 1 || c.General.APIPort > 65535 {
		return fmt.Errorf("general.api_port %d out of range", c.General.APIPort)
	}
	return nil
}

// StopKeyCode resolves the stop key to a virtual key code
func (c *Config) StopKeyCode() (int, error) {
	return input.ParseKey(c.Recording.StopKey)
}

// CaptureTimeout returns the per-attempt capture timeout
func (c *Config) CaptureTimeout() time.Duration {
	if c.Capture.TimeoutMs <= 0 {
		return screenshot.DefaultTimeout
	}
	return time.Duration(c.Capture.TimeoutMs) * time.Millisecond
}

// ForcedMethod returns the pinned capture method, if one is configured
func (c *Config) ForcedMethod() (screenshot.Method, bool) {
	if c.Capture.ForceMethod == "" {
		return 0, false
	}
	m, err := screenshot.ParseMethod(c.Capture.ForceMethod)
	if err != nil {
		return 0, false
	}
	return m, true
}

// Manager handles loading and saving configuration
type Manager struct {
	mu         sync.Mutex
	configPath string
	config     *Config
	lastData   []byte
	onChanged  []func()
}

// NewManager creates a manager for the per-user config file
func NewManager() (*Manager, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}
	return NewManagerAt(configPath), nil
}

// NewManagerAt creates a manager for an explicit config file path
func NewManagerAt(path string) *Manager {
	return &Manager{
		configPath: filepath.Clean(path),
		config:     DefaultConfig(),
	}
}

// getConfigPath returns the path to the configuration file
func getConfigPath() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "macrorec")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		configDir = filepath.Join(appData, "macrorec")
	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, ".config", "macrorec")
	}

	return filepath.Join(configDir, "config.json"), nil
}

// Path returns the config file location
func (m *Manager) Path() string {
	return m.configPath
}

// Load reads the configuration from disk. A missing file keeps the defaults.
// An invalid file is rejected and the current configuration is kept.
func (m *Manager) Load() error {
	_, err := m.load(false)
	return err
}

func (m *Manager) load(skipUnchanged bool) (bool, error) {
	data, err := os.ReadFile(m.configPath)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	if skipUnchanged && bytes.Equal(data, m.lastData) {
		m.mu.Unlock()
		return false, nil
	}
	m.mu.Unlock()

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return false, fmt.Errorf("parse %s: %w", m.configPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return false, fmt.Errorf("invalid config %s: %w", m.configPath, err)
	}

	m.mu.Lock()
	m.config = cfg
	m.lastData = data
	m.mu.Unlock()

	m.notify()
	return true, nil
}

// Save writes the configuration to disk
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := json.MarshalIndent(m.config, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.configPath), 0755); err != nil {
		return err
	}

	log.Printf("Config: Saving configuration to %s (%d bytes)", m.configPath, len(data))
	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		return err
	}
	m.lastData = data
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *m.config
	return &c
}

// Set updates the configuration
func (m *Manager) Set(config *Config) error {
	if err := config.Validate(); err != nil {
		return err
	}
	c := *config
	m.mu.Lock()
	m.config = &c
	m.mu.Unlock()
	m.notify()
	return nil
}

// RegisterChangeCallback registers a function to be called when config changes
func (m *Manager) RegisterChangeCallback(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChanged = append(m.onChanged, fn)
}

func (m *Manager) notify() {
	m.mu.Lock()
	callbacks := append([]func(){}, m.onChanged...)
	m.mu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}

// Watch reloads the configuration whenever the file changes on disk, until
// ctx is cancelled. The directory is watched so editors that replace the file
// are picked up too.
func (m *Manager) Watch(ctx context.Context) error {
	dir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return err
	}
	log.Printf("Config: Watching %s for changes", m.configPath)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != m.configPath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			changed, err := m.load(true)
			if err != nil {
				log.Printf("Config: Ignoring change: %v", err)
				continue
			}
			if changed {
				log.Printf("Config: Reloaded %s", m.configPath)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("Config: Watcher error: %v", err)
		}
	}
}
