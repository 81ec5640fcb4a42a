package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"copytrade-engine/internal/domain"
)

func TestWebhookNotifier_Notify(t *testing.T) {
	var got domain.Notification
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL)
	err := n.Notify(context.Background(), "user-1", domain.Notification{
		Kind:       domain.NotificationFailed,
		PositionID: "pos-1",
		Message:    "slippage exceeded",
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got.UserID != "user-1" || got.Kind != domain.NotificationFailed {
		t.Errorf("unexpected payload %+v", got)
	}
}

func TestWebhookNotifier_Failure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL)
	if err := n.Notify(context.Background(), "user-1", domain.Notification{}); err == nil {
		t.Fatal("expected error")
	}
}
