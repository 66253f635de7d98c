package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/GriffinCanCode/handsfree/internal/config"
	"github.com/GriffinCanCode/handsfree/internal/conversation"
	"github.com/GriffinCanCode/handsfree/internal/orchestrator"
)

type fakeController struct {
	mu      sync.Mutex
	calls   []string
	err     error
	status  orchestrator.Status
	snap    conversation.Snapshot
	updates chan orchestrator.Update
}

func newFakeController() *fakeController {
	return &fakeController{
		status:  orchestrator.Status{Phase: "listening", Turn: 3, ConversationID: "conv", Running: true},
		updates: make(chan orchestrator.Update, 16),
	}
}

func (f *fakeController) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return f.err
}

func (f *fakeController) Tap(context.Context) error    { return f.record("tap") }
func (f *fakeController) Cancel(context.Context) error { return f.record("cancel") }
func (f *fakeController) Reset(context.Context) error  { return f.record("reset") }

func (f *fakeController) Status() orchestrator.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeController) setStatus(s orchestrator.Status) {
	f.mu.Lock()
	f.status = s
	f.mu.Unlock()
}

func (f *fakeController) Conversation() conversation.Snapshot { return f.snap }

func (f *fakeController) Subscribe() (<-chan orchestrator.Update, func()) {
	return f.updates, func() {}
}

func (f *fakeController) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func defaultSettings() config.Settings {
	return config.Settings{
		MinChunkScale:  1,
		MaxChunkLength: 250,
		PlaybackSpeed:  1,
		VADThreshold:   0.02,
		Cooldown:       1500 * time.Millisecond,
	}
}

func newTestServer(t *testing.T) (*Server, *fakeController, *config.SettingsStore) {
	ctrl := newFakeController()
	settings := config.NewSettingsStore(defaultSettings())
	srv := New(ctrl, settings, &config.Config{CORSOrigins: []string{"*"}}, zaptest.NewLogger(t))
	return srv, ctrl, settings
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := do(t, srv.Handler(), http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("x-trace-id"))

	var st orchestrator.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "listening", st.Phase)
	assert.Equal(t, uint64(3), st.Turn)
	assert.Equal(t, "conv", st.ConversationID)
}

func TestControlEndpoints(t *testing.T) {
	srv, ctrl, _ := newTestServer(t)

	for _, path := range []string{"/api/tap", "/api/cancel", "/api/reset"} {
		rec := do(t, srv.Handler(), http.MethodPost, path, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
	assert.Equal(t, []string{"tap", "cancel", "reset"}, ctrl.recorded())

	rec := do(t, srv.Handler(), http.MethodGet, "/api/tap", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestControlWhenStopped(t *testing.T) {
	srv, ctrl, _ := newTestServer(t)
	ctrl.err = orchestrator.ErrNotRunning

	rec := do(t, srv.Handler(), http.MethodPost, "/api/tap", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "not running")
}

func TestHealthEndpoint(t *testing.T) {
	srv, ctrl, _ := newTestServer(t)

	rec := do(t, srv.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	ctrl.setStatus(orchestrator.Status{Phase: "idle"})
	rec = do(t, srv.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSettingsEndpoints(t *testing.T) {
	srv, _, settings := newTestServer(t)

	rec := do(t, srv.Handler(), http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"min_chunk_scale":1,"max_chunk_length":250,"playback_speed":1,"vad_threshold":0.02,"cooldown_ms":1500}`, rec.Body.String())

	rec = do(t, srv.Handler(), http.MethodPut, "/api/settings", `{"playback_speed":1.5,"cooldown_ms":800}`)
	require.Equal(t, http.StatusOK, rec.Code)
	got := settings.Snapshot()
	assert.Equal(t, 1.5, got.PlaybackSpeed)
	assert.Equal(t, 800*time.Millisecond, got.Cooldown)
	assert.Equal(t, 250, got.MaxChunkLength, "absent fields are kept")

	rec = do(t, srv.Handler(), http.MethodPut, "/api/settings", `{"playback_speed":9}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 1.5, settings.Snapshot().PlaybackSpeed)

	rec = do(t, srv.Handler(), http.MethodPut, "/api/settings", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConversationEndpoint(t *testing.T) {
	srv, ctrl, _ := newTestServer(t)
	msg := conversation.NewMessage(conversation.RoleAssistant, "Hello.")
	ctrl.snap = conversation.Snapshot{
		ID:       "conv",
		Messages: []conversation.Message{msg},
		Audio:    map[string][]conversation.ChunkRef{msg.ID: {{Index: 0, Path: "conv/m/0.pcm"}}},
	}

	rec := do(t, srv.Handler(), http.MethodGet, "/api/conversation", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap conversation.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "Hello.", snap.Messages[0].Content)
	assert.Equal(t, "conv/m/0.pcm", snap.Audio[msg.ID][0].Path)
}

func TestCORSPreflight(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/tap", http.NoBody)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestOriginPatterns(t *testing.T) {
	assert.Equal(t, []string{"localhost:3000", "*", "app.example.com"},
		originPatterns([]string{"http://localhost:3000", "*", "https://app.example.com/"}))
}

func dialWS(t *testing.T, srv *Server) (*websocket.Conn, context.Context) {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn, ctx
}

func readType(t *testing.T, ctx context.Context, conn *websocket.Conn) map[string]any {
	t.Helper()
	var msg map[string]any
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	return msg
}

func TestWebSocketStreamsUpdatesAndAcceptsControls(t *testing.T) {
	srv, ctrl, _ := newTestServer(t)
	conn, ctx := dialWS(t, srv)

	first := readType(t, ctx, conn)
	assert.Equal(t, "status", first["type"])

	ctrl.updates <- orchestrator.Update{Type: orchestrator.UpdatePhase, Turn: 4, Phase: "speaking"}
	u := readType(t, ctx, conn)
	assert.Equal(t, "phase", u["type"])
	assert.Equal(t, "speaking", u["phase"])

	require.NoError(t, wsjson.Write(ctx, conn, map[string]string{"type": "tap"}))
	ack := readType(t, ctx, conn)
	assert.Equal(t, "ack", ack["type"])
	assert.Equal(t, "tap", ack["action"])

	require.NoError(t, wsjson.Write(ctx, conn, map[string]string{"type": "dance"}))
	bad := readType(t, ctx, conn)
	assert.Equal(t, "error", bad["type"])
	assert.Equal(t, []string{"tap"}, ctrl.recorded())
}

func TestWebSocketRateLimit(t *testing.T) {
	srv, ctrl, _ := newTestServer(t)
	conn, ctx := dialWS(t, srv)
	readType(t, ctx, conn)

	limited := 0
	for i := 0; i < WSRateBurst+5; i++ {
		require.NoError(t, wsjson.Write(ctx, conn, map[string]string{"type": "cancel"}))
		if readType(t, ctx, conn)["type"] == "error" {
			limited++
		}
	}
	assert.Positive(t, limited)
	assert.Less(t, len(ctrl.recorded()), WSRateBurst+5)
}
