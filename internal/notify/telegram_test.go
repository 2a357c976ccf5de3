package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/metavault/custodian/internal/httpx"
)

func TestTelegramSend(t *testing.T) {
	var gotPath string
	var gotPayload map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotPayload)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	tg := NewTelegram(httpx.New(2*time.Second, 0), "token123", "chan456")
	tg.apiBase = srv.URL

	if err := tg.Send(context.Background(), "vault report"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !strings.Contains(gotPath, "bottoken123") {
		t.Errorf("path = %s, want bot token in path", gotPath)
	}
	if gotPayload["chat_id"] != "chan456" || gotPayload["text"] != "vault report" {
		t.Errorf("payload = %v", gotPayload)
	}
}

func TestTelegramSendAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok": false, "description": "chat not found"}`))
	}))
	defer srv.Close()

	tg := NewTelegram(httpx.New(2*time.Second, 0), "t", "c")
	tg.apiBase = srv.URL

	err := tg.Send(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("expected API error, got %v", err)
	}
}
