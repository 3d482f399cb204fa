package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWebhookPostsJSON(t *testing.T) {
	var got map[string]any
	var contentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	hook := &Webhook{URL: server.URL}
	err := hook.Send(context.Background(), "[CRITICAL] Error rate exceeded", "details", "ops@example.com")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if contentType != "application/json" {
		t.Fatalf("content type = %q", contentType)
	}
	if got["subject"] != "[CRITICAL] Error rate exceeded" || got["body"] != "details" || got["recipient"] != "ops@example.com" {
		t.Fatalf("unexpected payload: %v", got)
	}
	if _, ok := got["sent_at"].(string); !ok {
		t.Fatalf("payload missing sent_at: %v", got)
	}
}

func TestWebhookErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	hook := &Webhook{URL: server.URL}
	err := hook.Send(context.Background(), "s", "b", "")
	if err == nil {
		t.Fatalf("expected error on 500")
	}
}
