package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/user/checkmate/internal/gateway"
	"github.com/user/checkmate/internal/resilience"
	"github.com/user/checkmate/internal/session"
	"github.com/user/checkmate/internal/store"
	"github.com/user/checkmate/internal/types"
	"github.com/user/checkmate/internal/ws"
)

type noopProcessor struct{}

func (noopProcessor) ProcessFrame(ctx context.Context, frame *types.FrameBundle) (*types.FrameResult, error) {
	return &types.FrameResult{}, nil
}

type testHarness struct {
	server   *Server
	sessions *session.Manager
	breakers *resilience.Registry
	conns    *ws.Manager
	recover  *resilience.Recoverer
}

func newHarness(t *testing.T, opts ...Option) *testHarness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := session.NewManager(store.NewMemoryStore(), 24*time.Hour, logger)
	breakers := resilience.NewRegistry()
	monitor := resilience.NewMonitor(breakers, logger)
	recoverer := resilience.NewRecoverer(logger)
	conns := ws.NewManager(10*time.Second, 30*time.Second, logger)
	gw := gateway.New(noopProcessor{}, 1, logger)
	wsh := ws.NewHandler(conns, sessions, gw, logger)

	return &testHarness{
		server:   NewServer(sessions, wsh, conns, breakers, monitor, recoverer, logger, opts...),
		sessions: sessions,
		breakers: breakers,
		conns:    conns,
		recover:  recoverer,
	}
}

func (h *testHarness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestRootBanner(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET / = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Checkmate") {
		t.Errorf("banner = %q", rec.Body.String())
	}
}

func TestHealthReportsFullMode(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", rec.Code)
	}
	body := decode(t, rec)
	if body["status"] != "ok" {
		t.Errorf("status = %v", body["status"])
	}
	if body["serviceMode"] != "full" {
		t.Errorf("serviceMode = %v", body["serviceMode"])
	}
}

func TestHealthReportsRedisDown(t *testing.T) {
	h := newHarness(t, WithRedisPing(func(ctx context.Context) error {
		return errors.New("connection refused")
	}))
	body := decode(t, h.do(t, http.MethodGet, "/health", ""))
	services := body["services"].(map[string]any)
	if services["redis"] != "down" {
		t.Errorf("services.redis = %v", services["redis"])
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/sessions",
		`{"sessionType":{"type":"MANUAL"},"strictness":0.5,"notify":{"details":true,"links":true}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /sessions = %d: %s", rec.Code, rec.Body.String())
	}
	created := decode(t, rec)
	id, _ := created["sessionId"].(string)
	if id == "" {
		t.Fatal("created session has no id")
	}

	rec = h.do(t, http.MethodGet, "/sessions/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /sessions/%s = %d", id, rec.Code)
	}
	got := decode(t, rec)
	memory := got["memory"].(map[string]any)
	settings := memory["settings"].(map[string]any)
	if settings["strictness"] != 0.5 {
		t.Errorf("strictness = %v", settings["strictness"])
	}

	rec = h.do(t, http.MethodGet, "/sessions", "")
	list := decode(t, rec)
	if list["count"] != 1.0 {
		t.Errorf("count = %v", list["count"])
	}

	rec = h.do(t, http.MethodDelete, "/sessions/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("DELETE /sessions/%s = %d", id, rec.Code)
	}
	rec = h.do(t, http.MethodGet, "/sessions/"+id, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET after delete = %d, want 404", rec.Code)
	}
}

func TestGetUnknownSession(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/sessions/not-a-session", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET unknown session = %d, want 404", rec.Code)
	}
}

func TestDeleteUnknownSession(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodDelete, "/sessions/not-a-session", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("DELETE unknown session = %d, want 404", rec.Code)
	}
}

func TestCreateSessionRejectsMalformedBody(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/sessions", `{"strictness": "very"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("POST malformed settings = %d, want 400", rec.Code)
	}
}

func TestBreakerListAndReset(t *testing.T) {
	h := newHarness(t)
	b := h.breakers.Get("llm:manager")
	for i := 0; i < 6; i++ {
		b.RecordFailure()
	}
	if b.State() != resilience.StateOpen {
		t.Fatal("breaker should be open after repeated failures")
	}

	body := decode(t, h.do(t, http.MethodGet, "/breakers", ""))
	breakers := body["breakers"].([]any)
	if len(breakers) != 1 {
		t.Fatalf("breakers = %v", breakers)
	}

	rec := h.do(t, http.MethodPost, "/breakers/llm:manager/reset", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("reset = %d", rec.Code)
	}
	if b.State() != resilience.StateClosed {
		t.Error("breaker should be closed after reset")
	}

	rec = h.do(t, http.MethodPost, "/breakers/no-such-op/reset", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("reset unknown breaker = %d, want 404", rec.Code)
	}
}

func TestRetryProbeResetsBreakerOnSuccess(t *testing.T) {
	h := newHarness(t, WithProbe("tool:web_search", func(ctx context.Context) error {
		return nil
	}))
	b := h.breakers.Get("tool:web_search")
	for i := 0; i < 6; i++ {
		b.RecordFailure()
	}

	rec := h.do(t, http.MethodPost, "/operations/tool:web_search/retry", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("retry probe = %d: %s", rec.Code, rec.Body.String())
	}
	if b.State() != resilience.StateClosed {
		t.Error("successful probe should close the breaker")
	}

	rec = h.do(t, http.MethodPost, "/operations/unknown/retry", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("retry unknown op = %d, want 404", rec.Code)
	}
}

func TestRecoveryActionEndpoint(t *testing.T) {
	h := newHarness(t)
	ran := false
	h.recover.Register(resilience.KindNetwork, resilience.RecoveryAction{
		Name:      "check_connectivity",
		Automatic: true,
		Run:       func(ctx context.Context) error { ran = true; return nil },
	})
	h.recover.Register(resilience.KindAuth, resilience.RecoveryAction{
		Name: "refresh_credentials",
	})

	rec := h.do(t, http.MethodPost, "/recovery/check_connectivity", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("run recovery = %d: %s", rec.Code, rec.Body.String())
	}
	if !ran {
		t.Error("recovery action did not run")
	}

	rec = h.do(t, http.MethodPost, "/recovery/refresh_credentials", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("manual-only action = %d, want 409", rec.Code)
	}

	rec = h.do(t, http.MethodPost, "/recovery/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown action = %d, want 404", rec.Code)
	}
}

func TestTestNotificationOnlyInDebug(t *testing.T) {
	plain := newHarness(t)
	rec := plain.do(t, http.MethodPost, "/sessions/s1/test-notification", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("test-notification without debug = %d, want 404", rec.Code)
	}

	h := newHarness(t, WithDebug())
	rec = h.do(t, http.MethodPost, "/sessions/s1/test-notification", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("test-notification without connection = %d, want 404", rec.Code)
	}
}
