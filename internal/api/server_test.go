package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"macrorec/internal/config"
	"macrorec/internal/input"
	"macrorec/internal/protocol"
	"macrorec/internal/screenshot"

	"github.com/gorilla/websocket"
)

type fakeRecorder struct {
	mu         sync.Mutex
	recording  bool
	prepared   int
	suppressed []time.Duration
	subs       []func(input.Event)
	done       chan struct{}
}

func (f *fakeRecorder) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recording {
		return input.ErrAlreadyRecording
	}
	f.recording = true
	f.done = make(chan struct{})
	return nil
}

func (f *fakeRecorder) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recording {
		f.recording = false
		close(f.done)
	}
	return nil
}

func (f *fakeRecorder) PrepareForStop() {
	f.mu.Lock()
	f.prepared++
	f.mu.Unlock()
}

func (f *fakeRecorder) Suppress(d time.Duration) {
	f.mu.Lock()
	f.suppressed = append(f.suppressed, d)
	f.mu.Unlock()
}

func (f *fakeRecorder) IsRecording() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recording
}

func (f *fakeRecorder) StopKey() int { return input.VKEscape }

func (f *fakeRecorder) Done() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

func (f *fakeRecorder) Subscribe(fn func(input.Event)) func() {
	f.mu.Lock()
	f.subs = append(f.subs, fn)
	f.mu.Unlock()
	return func() {}
}

func (f *fakeRecorder) emit(ev input.Event) {
	f.mu.Lock()
	subs := append([]func(input.Event){}, f.subs...)
	f.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (f *fakeRecorder) suppressCalls() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.suppressed...)
}

type fakeCapturer struct {
	mu     sync.Mutex
	result screenshot.Result
}

func (f *fakeCapturer) set(res screenshot.Result) {
	f.mu.Lock()
	f.result = res
	f.mu.Unlock()
}

func (f *fakeCapturer) get() screenshot.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result
}

func (f *fakeCapturer) Capture(context.Context, time.Duration) (screenshot.Result, error) {
	return f.get(), nil
}

func (f *fakeCapturer) CurrentMethod() screenshot.Method { return f.get().Method }

func (f *fakeCapturer) Environment() screenshot.Environment {
	return screenshot.Environment{Primary: "fake", CurrentMethod: f.get().Method}
}

func newTestServer(t *testing.T, token string) (*httptest.Server, *fakeRecorder, *fakeCapturer) {
	t.Helper()
	mgr := config.NewManagerAt(filepath.Join(t.TempDir(), "config.json"))
	if token != "" {
		cfg := mgr.Get()
		cfg.General.APIToken = token
		if err := mgr.Set(cfg); err != nil {
			t.Fatalf("set config: %v", err)
		}
	}

	rec := &fakeRecorder{}
	capturer := &fakeCapturer{result: screenshot.Result{Image: []byte("\x89PNG"), Method: screenshot.PrimaryAPI}}
	srv := NewServer(mgr, rec, capturer)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Shutdown(context.Background())
	})
	return ts, rec, capturer
}

func do(t *testing.T, method, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthSkipsAuth(t *testing.T) {
	ts, _, _ := newTestServer(t, "secret")
	if resp := do(t, http.MethodGet, ts.URL+"/health", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	ts, _, _ := newTestServer(t, "secret")
	if resp := do(t, http.MethodGet, ts.URL+"/api/status", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if resp := do(t, http.MethodGet, ts.URL+"/api/status", "secret"); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp.StatusCode)
	}
}

func TestRecordLifecycle(t *testing.T) {
	ts, rec, _ := newTestServer(t, "")

	if resp := do(t, http.MethodGet, ts.URL+"/api/record/start", ""); resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for GET, got %d", resp.StatusCode)
	}
	if resp := do(t, http.MethodPost, ts.URL+"/api/record/start", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !rec.IsRecording() {
		t.Fatalf("expected recorder to be started")
	}
	if resp := do(t, http.MethodPost, ts.URL+"/api/record/start", ""); resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on double start, got %d", resp.StatusCode)
	}

	do(t, http.MethodPost, ts.URL+"/api/record/prepare-stop", "")
	rec.mu.Lock()
	prepared := rec.prepared
	rec.mu.Unlock()
	if prepared != 1 {
		t.Errorf("expected PrepareForStop to be called")
	}

	if resp := do(t, http.MethodPost, ts.URL+"/api/record/stop", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if rec.IsRecording() {
		t.Fatalf("expected recorder to be stopped")
	}
}

func TestSuppress(t *testing.T) {
	ts, rec, _ := newTestServer(t, "")

	if resp := do(t, http.MethodPost, ts.URL+"/api/suppress?ms=250", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if calls := rec.suppressCalls(); len(calls) != 1 || calls[0] != 250*time.Millisecond {
		t.Fatalf("expected one 250ms suppress, got %v", calls)
	}
	if resp := do(t, http.MethodPost, ts.URL+"/api/suppress?ms=abc", ""); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestScreenshot(t *testing.T) {
	ts, _, capturer := newTestServer(t, "")

	resp := do(t, http.MethodGet, ts.URL+"/api/screenshot?timeout_ms=100", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("unexpected content type %q", ct)
	}
	if m := resp.Header.Get("X-Capture-Method"); m != "primary" {
		t.Errorf("unexpected method header %q", m)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "\x89PNG" {
		t.Errorf("unexpected body %q", body)
	}

	capturer.set(screenshot.Result{Method: screenshot.FallbackAPI, RetryCount: 2, ErrorCode: screenshot.ErrCodeCapture, ErrorMessage: "capture failed"})
	resp = do(t, http.MethodGet, ts.URL+"/api/screenshot", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	var res screenshot.Result
	json.NewDecoder(resp.Body).Decode(&res)
	if res.ErrorCode != screenshot.ErrCodeCapture || res.RetryCount != 2 {
		t.Errorf("unexpected error result %+v", res)
	}

	if resp := do(t, http.MethodGet, ts.URL+"/api/screenshot?timeout_ms=-1", ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad timeout, got %d", resp.StatusCode)
	}
}

func TestStatus(t *testing.T) {
	ts, _, _ := newTestServer(t, "")
	do(t, http.MethodPost, ts.URL+"/api/record/start", "")

	resp := do(t, http.MethodGet, ts.URL+"/api/status", "")
	var status map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status["recording"] != true || status["stop_key"] != "ESC" || status["capture_method"] != "primary" {
		t.Fatalf("unexpected status %v", status)
	}
}

func TestConfigUpdateValidates(t *testing.T) {
	ts, _, _ := newTestServer(t, "")
	resp, err := http.Post(ts.URL+"/api/config", "application/json", strings.NewReader(`{"recording":{"stop_key":"???"}}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid config, got %d", resp.StatusCode)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg protocol.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestWebSocketStream(t *testing.T) {
	ts, rec, _ := newTestServer(t, "")

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if msg := readMessage(t, conn); msg.Type != protocol.TypeStatus {
		t.Fatalf("expected status first, got %q", msg.Type)
	}

	rec.emit(input.MouseEvent{
		Header:          input.NewHeader(0),
		X:               10,
		Y:               10,
		Button:          input.ButtonLeft,
		Action:          input.MouseClick,
		PressDurationMs: input.Duration(80),
	})
	msg := readMessage(t, conn)
	if msg.Type != protocol.TypeEvent {
		t.Fatalf("expected event, got %q", msg.Type)
	}
	payload, _ := msg.Payload.(map[string]interface{})
	if payload["kind"] != "mouse" {
		t.Fatalf("unexpected payload %v", msg.Payload)
	}

	conn.WriteJSON(protocol.Message{Type: protocol.TypeSuppress, Payload: protocol.SuppressPayload{DurationMs: 500}})
	conn.WriteJSON(protocol.Message{Type: protocol.TypePing})
	if msg := readMessage(t, conn); msg.Type != protocol.TypePing {
		t.Fatalf("expected ping reply, got %q", msg.Type)
	}
	if calls := rec.suppressCalls(); len(calls) != 1 || calls[0] != 500*time.Millisecond {
		t.Fatalf("expected suppress over websocket, got %v", calls)
	}
}

func TestWebSocketRejectsUnknownType(t *testing.T) {
	ts, _, _ := newTestServer(t, "")
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	readMessage(t, conn)

	conn.WriteJSON(protocol.Message{Type: "switch"})
	if msg := readMessage(t, conn); msg.Type != protocol.TypeError {
		t.Fatalf("expected error reply, got %q", msg.Type)
	}
}
