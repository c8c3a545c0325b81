package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Rahuldrabit/support-agent/llm"
)

func chatServer(t *testing.T, content string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}},
			},
		})
	}))
}

func TestClassify(t *testing.T) {
	srv := chatServer(t, "CLASSIFICATION: URGENT\nREASON: customer threatens legal action", http.StatusOK)
	defer srv.Close()

	c := New(srv.URL, "key", "test-model")
	got, err := c.Classify(context.Background(), "I will call my lawyer", nil)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if got.Intent != "urgent" {
		t.Fatalf("Classify() intent = %q, want urgent", got.Intent)
	}
	if got.Reason == "" {
		t.Fatal("Classify() reason is empty")
	}
}

func TestClassifyRejectsUnknownIntent(t *testing.T) {
	srv := chatServer(t, "CLASSIFICATION: BANANA", http.StatusOK)
	defer srv.Close()

	c := New(srv.URL, "key", "test-model")
	if _, err := c.Classify(context.Background(), "hello", nil); err == nil {
		t.Fatal("Classify() error = nil, want unrecognized classification")
	}
}

func TestGenerate(t *testing.T) {
	srv := chatServer(t, "  Happy to help with your order.  ", http.StatusOK)
	defer srv.Close()

	c := New(srv.URL, "key", "test-model")
	got, err := c.Generate(context.Background(), llm.GenerateRequest{
		Intent:  "support",
		Message: "where is my order",
		Context: "No previous context.",
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "Happy to help with your order." {
		t.Fatalf("Generate() = %q, want trimmed content", got)
	}
}

func TestCompleteHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "invalid api key", "type": "auth_error"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "bad", "test-model")
	if _, err := c.Generate(context.Background(), llm.GenerateRequest{Intent: "general"}); err == nil {
		t.Fatal("Generate() error = nil, want auth failure")
	}
}

func TestParseClassification(t *testing.T) {
	intent, reason, err := parseClassification("noise\nCLASSIFICATION: Sales\nREASON: pricing question\n")
	if err != nil {
		t.Fatalf("parseClassification() error = %v", err)
	}
	if intent != "sales" || reason != "pricing question" {
		t.Fatalf("parseClassification() = %q, %q", intent, reason)
	}

	if _, _, err := parseClassification("no structure at all"); err == nil {
		t.Fatal("parseClassification() error = nil, want failure")
	}
}
