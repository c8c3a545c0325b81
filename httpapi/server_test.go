package httpapi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Rahuldrabit/support-agent/engine"
	"github.com/Rahuldrabit/support-agent/gate"
	"github.com/Rahuldrabit/support-agent/llm"
	"github.com/Rahuldrabit/support-agent/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(store.Config{
		DSN:         filepath.Join(t.TempDir(), "agent.db"),
		AutoMigrate: true,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestServer(t *testing.T, st *store.Store, cfg Config) *Server {
	t.Helper()

	eng, err := engine.New(st, llm.NewMock(), engine.DefaultConfig())
	if err != nil {
		t.Fatalf("engine.New() error = %v", err)
	}
	g, err := gate.NewGate(st, nil)
	if err != nil {
		t.Fatalf("NewGate() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	pipeline, err := gate.NewPipeline(ctx, gate.PipelineOptions{
		Gate:   g,
		Store:  st,
		Runner: eng,
	})
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}
	t.Cleanup(func() {
		cancel()
		pipeline.Wait()
	})

	srv, err := NewServer(Options{
		Config:   cfg,
		Store:    st,
		Pipeline: pipeline,
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return srv
}

func postJSON(t *testing.T, h http.Handler, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, newTestStore(t), Config{})
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /healthz = %d, want 200", rec.Code)
	}
}

func TestTikTokWebhookAccepted(t *testing.T) {
	st := newTestStore(t)
	srv := newTestServer(t, st, Config{})
	h := srv.Routes()

	payload := map[string]any{
		"event_type":      "message",
		"user_id":         "u-1",
		"message":         "where is my order",
		"message_id":      "m-1",
		"conversation_id": "c-1",
		"timestamp":       time.Now().Unix(),
	}
	rec := postJSON(t, h, "/webhooks/tiktok", payload, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST /webhooks/tiktok = %d, body %s", rec.Code, rec.Body.String())
	}

	// A replay is also acknowledged with 202; the gate drops it downstream.
	rec = postJSON(t, h, "/webhooks/tiktok", payload, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("replay = %d, want 202", rec.Code)
	}
}

func TestTikTokWebhookRejectsMissingFields(t *testing.T) {
	srv := newTestServer(t, newTestStore(t), Config{})
	rec := postJSON(t, srv.Routes(), "/webhooks/tiktok", map[string]any{"user_id": "u-1"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("incomplete payload = %d, want 400", rec.Code)
	}
}

func TestWebhookSignatureEnforced(t *testing.T) {
	srv := newTestServer(t, newTestStore(t), Config{TikTokWebhookSecret: "hook-secret"})
	h := srv.Routes()

	payload := map[string]any{
		"user_id":         "u-1",
		"message":         "hello there",
		"message_id":      "m-1",
		"conversation_id": "c-1",
	}
	raw, _ := json.Marshal(payload)

	// Unsigned request is rejected.
	req := httptest.NewRequest(http.MethodPost, "/webhooks/tiktok", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned = %d, want 401", rec.Code)
	}

	// Correctly signed request passes.
	mac := hmac.New(sha256.New, []byte("hook-secret"))
	mac.Write(raw)
	req = httptest.NewRequest(http.MethodPost, "/webhooks/tiktok", bytes.NewReader(raw))
	req.Header.Set("X-Signature", hex.EncodeToString(mac.Sum(nil)))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("signed = %d, want 202", rec.Code)
	}
}

func TestLinkedInWebhookAccepted(t *testing.T) {
	srv := newTestServer(t, newTestStore(t), Config{})
	payload := map[string]any{
		"sender_id":       "u-2",
		"message_text":    "tell me about pricing",
		"message_id":      "m-9",
		"conversation_id": "c-9",
	}
	rec := postJSON(t, srv.Routes(), "/webhooks/linkedin", payload, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST /webhooks/linkedin = %d", rec.Code)
	}
}

func TestWebhookVerifyChallenge(t *testing.T) {
	srv := newTestServer(t, newTestStore(t), Config{})
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhooks/verify?challenge=abc123", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /webhooks/verify = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["challenge"] != "abc123" {
		t.Fatalf("challenge = %q, want echoed value", body["challenge"])
	}
}

func TestAdminRequiresToken(t *testing.T) {
	st := newTestStore(t)
	srv := newTestServer(t, st, Config{AdminToken: "admin-token"})
	h := srv.Routes()

	rec := postJSON(t, h, "/admin/conversations/1/escalate", map[string]string{}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token = %d, want 401", rec.Code)
	}

	rec = postJSON(t, h, "/admin/conversations/1/escalate", map[string]string{},
		map[string]string{"Authorization": "Bearer admin-token"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("valid token, missing conversation = %d, want 404", rec.Code)
	}
}

func TestAdminEscalate(t *testing.T) {
	st := newTestStore(t)
	srv := newTestServer(t, st, Config{})
	ctx := context.Background()

	user, _ := st.EnsureUser(ctx, store.PlatformTikTok, "u", "")
	conv, _ := st.EnsureConversation(ctx, user.ID, store.PlatformTikTok, "c")

	rec := postJSON(t, srv.Routes(), "/admin/conversations/1/escalate", map[string]string{"reason": "vip_customer"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("escalate = %d, body %s", rec.Code, rec.Body.String())
	}

	got, err := st.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if !got.Escalated || got.EscalationReason != "vip_customer" {
		t.Fatalf("conversation = %+v, want vip_customer escalation", got)
	}
}

func TestAdminConfigRoundTrip(t *testing.T) {
	st := newTestStore(t)
	srv := newTestServer(t, st, Config{})
	h := srv.Routes()

	raw, _ := json.Marshal(map[string]string{"config_value": "hello", "description": "greeting"})
	req := httptest.NewRequest(http.MethodPut, "/admin/config/prompt.general", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT config = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/config/prompt.general", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET config = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "hello") {
		t.Fatalf("GET config body = %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/config/never.set", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("GET missing config = %d, want 404", rec.Code)
	}
}

func TestAdminOverride(t *testing.T) {
	st := newTestStore(t)
	srv := newTestServer(t, st, Config{})
	ctx := context.Background()

	user, _ := st.EnsureUser(ctx, store.PlatformTikTok, "u", "")
	conv, _ := st.EnsureConversation(ctx, user.ID, store.PlatformTikTok, "c")
	out, err := st.AppendOutbound(ctx, conv.ID, store.PlatformTikTok, "draft reply", store.IntentGeneral, nil, 1)
	if err != nil {
		t.Fatalf("AppendOutbound() error = %v", err)
	}

	rec := postJSON(t, srv.Routes(), "/admin/messages/1/override", map[string]string{"content": "reviewed reply"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("override = %d, body %s", rec.Code, rec.Body.String())
	}
	got, _ := st.GetMessage(ctx, out.ID)
	if got.Content != "reviewed reply" {
		t.Fatalf("content = %q", got.Content)
	}
}

func TestAdminAnalyticsSummary(t *testing.T) {
	st := newTestStore(t)
	srv := newTestServer(t, st, Config{})
	h := srv.Routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/analytics/summary", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("summary = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/analytics/summary?since=notatime", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad since = %d, want 400", rec.Code)
	}
}

func TestAdminCancelJobWithoutDispatcher(t *testing.T) {
	srv := newTestServer(t, newTestStore(t), Config{})
	rec := postJSON(t, srv.Routes(), "/admin/jobs/abc/cancel", map[string]string{}, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("cancel without dispatcher = %d, want 503", rec.Code)
	}
}
