// Package api provides the local HTTP API and event stream for recording control.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"macrorec/internal/config"
	"macrorec/internal/input"
	"macrorec/internal/protocol"
	"macrorec/internal/screenshot"
)

// Recorder is the recording surface the API drives
type Recorder interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	PrepareForStop()
	Suppress(d time.Duration)
	IsRecording() bool
	StopKey() int
	Done() <-chan struct{}
	Subscribe(fn func(input.Event)) (unsubscribe func())
}

// Capturer is the screenshot surface the API drives
type Capturer interface {
	Capture(ctx context.Context, timeout time.Duration) (screenshot.Result, error)
	CurrentMethod() screenshot.Method
	Environment() screenshot.Environment
}

// Server provides HTTP API for local control
type Server struct {
	configMgr *config.Manager
	recorder  Recorder
	capturer  Capturer
	wsMgr     *WSManager

	initOnce    sync.Once
	handler     http.Handler
	unsubscribe func()

	mu     sync.Mutex
	server *http.Server
}

// NewServer creates a new API server
func NewServer(configMgr *config.Manager, rec Recorder, capturer Capturer) *Server {
	s := &Server{
		configMgr: configMgr,
		recorder:  rec,
		capturer:  capturer,
	}
	s.wsMgr = newWSManager(s)
	return s
}

// Handler returns the API handler with middleware applied. The event hub is
// started on first use.
func (s *Server) Handler() http.Handler {
	s.initOnce.Do(func() {
		go s.wsMgr.start()
		s.unsubscribe = s.recorder.Subscribe(s.wsMgr.BroadcastEvent)

		mux := http.NewServeMux()
		mux.HandleFunc("/api/record/start", s.handleRecordStart)
		mux.HandleFunc("/api/record/stop", s.handleRecordStop)
		mux.HandleFunc("/api/record/prepare-stop", s.handlePrepareStop)
		mux.HandleFunc("/api/suppress", s.handleSuppress)
		mux.HandleFunc("/api/screenshot", s.handleScreenshot)
		mux.HandleFunc("/api/status", s.handleStatus)
		mux.HandleFunc("/api/config", s.handleConfig)
		mux.HandleFunc("/ws", s.wsMgr.handleWebSocket)
		mux.HandleFunc("/health", s.handleHealth)

		s.handler = s.authMiddleware(s.recoverMiddleware(mux))
	})
	return s.handler
}

// Start serves the API on localhost:port. It blocks until Shutdown.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Printf("API: failed to listen on %s: %v", addr, err)
		return err
	}
	return s.Serve(ln)
}

// Serve serves the API on an existing listener
func (s *Server) Serve(ln net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.server = server
	s.mu.Unlock()

	log.Printf("API: Serving on %s", ln.Addr())
	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("API: server stopped: %v", err)
		return err
	}
	return nil
}

// Shutdown stops the HTTP server and the event hub
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()

	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.wsMgr.stop()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

func (s *Server) token() string {
	return s.configMgr.Get().General.APIToken
}

// recoverMiddleware prevents panics from crashing the whole server
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("API: panic recovered: %v", err)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// authMiddleware checks API token if configured
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("API: %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)

		// Skip auth for health check
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		if token := s.token(); token != "" {
			if r.Header.Get("Authorization") != "Bearer "+token {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleRecordStart handles POST /api/record/start
func (s *Server) handleRecordStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.recorder.Start(r.Context()); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, input.ErrAlreadyRecording):
			status = http.StatusConflict
		case errors.Is(err, input.ErrUnsupportedPlatform):
			status = http.StatusNotImplemented
		}
		log.Printf("API: Start recording failed: %v", err)
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	done := s.recorder.Done()
	go func() {
		<-done
		s.wsMgr.BroadcastStatus(s.status())
	}()
	s.wsMgr.BroadcastStatus(s.status())

	writeJSON(w, http.StatusOK, map[string]string{"status": "recording"})
}

// handleRecordStop handles POST /api/record/stop
func (s *Server) handleRecordStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.recorder.Stop(r.Context()); err != nil {
		log.Printf("API: Stop recording failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// handlePrepareStop handles POST /api/record/prepare-stop
func (s *Server) handlePrepareStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.recorder.PrepareForStop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSuppress handles POST /api/suppress?ms=<duration>
func (s *Server) handleSuppress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ms, err := strconv.ParseInt(r.URL.Query().Get("ms"), 10, 64)
	if err != nil || ms < 0 {
		http.Error(w, "Invalid ms parameter", http.StatusBadRequest)
		return
	}
	s.recorder.Suppress(time.Duration(ms) * time.Millisecond)
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "duration_ms": ms})
}

// handleScreenshot handles GET /api/screenshot?timeout_ms=<n>
func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	timeout := s.configMgr.Get().CaptureTimeout()
	if v := r.URL.Query().Get("timeout_ms"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			http.Error(w, "Invalid timeout_ms parameter", http.StatusBadRequest)
			return
		}
		timeout = time.Duration(ms) * time.Millisecond
	}

	res, err := s.capturer.Capture(r.Context(), timeout)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	if res.HasError() {
		writeJSON(w, http.StatusServiceUnavailable, res)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Capture-Method", res.Method.String())
	w.Header().Set("X-Retry-Count", strconv.Itoa(res.RetryCount))
	w.Header().Set("X-Capture-Duration-Ms", strconv.FormatInt(res.Duration.Milliseconds(), 10))
	w.Write(res.Image)
}

type statusResponse struct {
	protocol.StatusPayload
	Capture       screenshot.Environment `json:"capture"`
	Clients       int                    `json:"ws_clients"`
	DroppedEvents int64                  `json:"dropped_events"`
}

func (s *Server) status() protocol.StatusPayload {
	return protocol.StatusPayload{
		Recording:     s.recorder.IsRecording(),
		StopKey:       keyName(s.recorder.StopKey()),
		CaptureMethod: s.capturer.CurrentMethod().String(),
	}
}

// handleStatus handles GET /api/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		StatusPayload: s.status(),
		Capture:       s.capturer.Environment(),
		Clients:       s.wsMgr.ClientCount(),
		DroppedEvents: s.wsMgr.Dropped(),
	})
}

// handleConfig handles GET (read) and POST (update) for configuration
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.configMgr.Get())

	case http.MethodPost:
		var newCfg config.Config
		if err := json.NewDecoder(r.Body).Decode(&newCfg); err != nil {
			http.Error(w, "Invalid configuration data", http.StatusBadRequest)
			return
		}

		log.Printf("API: Receiving configuration update from %s", r.RemoteAddr)
		if err := s.configMgr.Set(&newCfg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.configMgr.Save(); err != nil {
			log.Printf("API: Failed to save received config: %v", err)
			http.Error(w, "Failed to save configuration", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleHealth handles GET /health (for monitoring)
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func keyName(vk int) string {
	if name := input.KeyName(vk); name != "" {
		return name
	}
	return fmt.Sprintf("VK%d", vk)
}
