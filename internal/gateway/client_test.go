package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"copytrade-engine/internal/domain"
)

func TestClient_StreamTradeEvents(t *testing.T) {
	since := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/leaders/0xabc/trades" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("since"); got != since.Format(time.RFC3339Nano) {
			t.Errorf("expected since %s, got %s", since.Format(time.RFC3339Nano), got)
		}
		if got := r.Header.Get("X-API-Key"); got != "secret" {
			t.Errorf("expected api key header, got %q", got)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"events":[
			{"event_id":"e1","leader_address":"0xabc","pair":"BTC/USD","is_long":true,
			 "size":"0.5","price":"50000","leverage":"10","event_type":"OPENED",
			 "block_number":100,"tx_hash":"0x1","timestamp":"2026-03-01T12:00:01Z","fee":"1.5"}
		]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, WithAPIKey("secret"))

	events, err := client.StreamTradeEvents(context.Background(), "0xabc", since)
	if err != nil {
		t.Fatalf("StreamTradeEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	e := events[0]
	if e.EventType != domain.EventTypeOpened {
		t.Errorf("expected OPENED, got %s", e.EventType)
	}
	if !e.Size.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("expected size 0.5, got %s", e.Size)
	}
	if e.BlockNumber != 100 {
		t.Errorf("expected block 100, got %d", e.BlockNumber)
	}
}

func TestClient_StreamTradeEvents_MissingIDs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"events":[
			{"leader_address":"0xabc","pair":"ETH/USD","is_long":false,
			 "size":"2","price":"3000","leverage":"3","event_type":"OPENED",
			 "block_number":7,"tx_hash":"0x7","timestamp":"2026-03-01T12:00:01Z"}
		]}`))
	}))
	defer server.Close()

	events, err := NewClient(server.URL).StreamTradeEvents(context.Background(), "0xabc", time.Time{})
	if err != nil {
		t.Fatalf("StreamTradeEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].EventID == "" {
		t.Error("expected a derived event id")
	}
}

func TestClient_Retry(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := attempts.Add(1)
		if count == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		if count == 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"pair": "BTC/USD", "price": "50400"})
	}))
	defer server.Close()

	client := NewClient(server.URL,
		WithMaxRetries(3),
		WithRetryDelay(10*time.Millisecond),
	)

	price, err := client.GetCurrentPrice(context.Background(), "BTC/USD")
	if err != nil {
		t.Fatalf("GetCurrentPrice: %v", err)
	}
	if !price.Equal(decimal.NewFromInt(50400)) {
		t.Errorf("expected 50400, got %s", price)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestClient_ClientErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "bad symbol", http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClient(server.URL, WithRetryDelay(10*time.Millisecond))

	_, err := client.GetCopyTimingSignal(context.Background(), "???")
	if err == nil {
		t.Fatal("expected error")
	}

	var serr *StatusError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StatusError, got %T", err)
	}
	if serr.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", serr.StatusCode)
	}
	if attempts.Load() != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts.Load())
	}
}

func TestClient_ExecuteOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/orders" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Idempotency-Key"); got != "req-1" {
			t.Errorf("expected idempotency key req-1, got %q", got)
		}

		var req domain.OrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.OrderType != domain.OrderTypeLimit || req.LimitPrice == nil {
			t.Errorf("expected limit order with price, got %+v", req)
		}

		json.NewEncoder(w).Encode(domain.OrderResult{
			TxRef:         "0xfeed",
			Success:       true,
			ExecutedPrice: *req.LimitPrice,
			ExecutedSize:  req.Size,
		})
	}))
	defer server.Close()

	limit := decimal.NewFromInt(50000)
	client := NewClient(server.URL)

	res, err := client.ExecuteOrder(context.Background(), domain.OrderRequest{
		RequestID:  "req-1",
		UserID:     "user-1",
		Pair:       "BTC/USD",
		IsLong:     true,
		Size:       decimal.RequireFromString("0.002"),
		Leverage:   decimal.NewFromInt(5),
		OrderType:  domain.OrderTypeLimit,
		LimitPrice: &limit,
	})
	if err != nil {
		t.Fatalf("ExecuteOrder: %v", err)
	}
	if !res.Success || res.TxRef != "0xfeed" {
		t.Errorf("unexpected result %+v", res)
	}
	if !res.ExecutedPrice.Equal(limit) {
		t.Errorf("expected executed price 50000, got %s", res.ExecutedPrice)
	}
}

func TestClient_ExecuteOrder_Classification(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantTransient bool
	}{
		{name: "server error is transient", status: http.StatusBadGateway, wantTransient: true},
		{name: "throttled is transient", status: http.StatusTooManyRequests, wantTransient: true},
		{name: "rejection is permanent", status: http.StatusUnprocessableEntity, wantTransient: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				attempts.Add(1)
				http.Error(w, "insufficient margin", tt.status)
			}))
			defer server.Close()

			client := NewClient(server.URL, WithRetryDelay(time.Millisecond))
			res, err := client.ExecuteOrder(context.Background(), domain.OrderRequest{RequestID: "r"})

			if attempts.Load() != 1 {
				t.Errorf("orders must be submitted once, got %d attempts", attempts.Load())
			}
			if tt.wantTransient {
				if !domain.IsTransient(err) {
					t.Fatalf("expected transient error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("expected unsuccessful result, got error %v", err)
			}
			if res.Success {
				t.Error("expected Success=false")
			}
			if res.Error != "insufficient margin" {
				t.Errorf("expected rejection body, got %q", res.Error)
			}
		})
	}
}

func TestClient_GetArchetype_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := NewClient(server.URL)

	arch, err := client.GetArchetype(context.Background(), "0xdead")
	if err != nil {
		t.Fatalf("GetArchetype: %v", err)
	}
	if arch != nil {
		t.Errorf("expected nil archetype, got %+v", arch)
	}
}

func TestClient_EquityAndPositions(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/accounts/user-1/equity", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"equity":"2500.75"}`))
	})
	mux.HandleFunc("/v1/accounts/user-1/positions/open", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("pair") != "ETH/USD" || r.URL.Query().Get("is_long") != "false" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"open":true}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.URL)
	ctx := context.Background()

	equity, err := client.GetEquity(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetEquity: %v", err)
	}
	if !equity.Equal(decimal.RequireFromString("2500.75")) {
		t.Errorf("expected 2500.75, got %s", equity)
	}

	open, err := client.IsOpen(ctx, "user-1", "ETH/USD", false)
	if err != nil {
		t.Fatalf("IsOpen: %v", err)
	}
	if !open {
		t.Error("expected open position")
	}
}

func TestClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, WithRetryDelay(time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.GetCurrentPrice(ctx, "BTC/USD")
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("backoff should stop when the context ends")
	}
}
