package webhooks

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestDispatcherSignsPayload(t *testing.T) {
	var receivedSignature atomic.Value
	var receivedEvent atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		if len(body) == 0 {
			t.Errorf("expected body")
		}
		var payload ExportReadyPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("decode payload: %v", err)
		} else if payload.RunID != "run-1" || payload.DeliveryID == "" {
			t.Errorf("payload = %+v", payload)
		}
		receivedSignature.Store(r.Header.Get("X-Railscan-Signature"))
		receivedEvent.Store(r.Header.Get("X-Railscan-Event"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()
	payload := ExportReadyPayload{
		RunID: "run-1",
		Files: []ExportFile{{Path: "rails.csv", Rows: 2, Checksum: "abc"}},
	}
	if err := dispatcher.EnqueueExportReady(payload); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(func() bool { return receivedSignature.Load() != nil }, time.Second)
	signature, _ := receivedSignature.Load().(string)
	if signature == "" {
		t.Fatalf("expected signature header")
	}
	if signature[:7] != "sha256=" {
		t.Fatalf("unexpected signature prefix %s", signature)
	}
	if event, _ := receivedEvent.Load().(string); event != string(EventExportReady) {
		t.Fatalf("event header = %q", event)
	}
}

func TestDispatcherRetries(t *testing.T) {
	attempts := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"), WithRetryPolicy(5, time.Millisecond*10, time.Millisecond*20))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()
	payload := RailFinalizedPayload{RailID: "7", BlockNumber: 160}
	if err := dispatcher.EnqueueRailFinalized(payload); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(func() bool { return atomic.LoadInt32(&attempts) >= 3 }, time.Second)
	if atomic.LoadInt32(&attempts) < 3 {
		t.Fatalf("expected retries, got %d", attempts)
	}
}

func TestDispatcherRequiresEndpointAndSecret(t *testing.T) {
	if _, err := NewDispatcher("  ", []byte("secret")); err == nil {
		t.Fatalf("expected error for empty endpoint")
	}
	if _, err := NewDispatcher("http://localhost:9", nil); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}

func waitFor(cond func() bool, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond * 10)
	}
}
