package observability

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMetrics_StartEnd(t *testing.T) {
	m := NewMetrics()

	span := m.Start("POST /api/v1/payments/kakao")
	span.End(nil)
	span = m.Start("POST /api/v1/payments/kakao")
	span.End(errors.New("boom"))

	snap := m.Snapshot()
	op := snap.Operations["POST /api/v1/payments/kakao"]
	if op.Count != 2 {
		t.Fatalf("expected 2 calls, got %d", op.Count)
	}
	if op.Errors != 1 {
		t.Fatalf("expected 1 error, got %d", op.Errors)
	}
	if op.InFlight != 0 {
		t.Fatalf("expected no in-flight, got %d", op.InFlight)
	}
	if snap.TotalRequests != 2 || snap.TotalErrors != 1 {
		t.Fatalf("unexpected totals: %+v", snap)
	}
}

func TestMetrics_InFlightWhileOpen(t *testing.T) {
	m := NewMetrics()

	span := m.Start("GET /api/v1/payments")
	snap := m.Snapshot()
	if snap.Operations["GET /api/v1/payments"].InFlight != 1 {
		t.Fatalf("expected 1 in-flight, got %+v", snap)
	}
	span.End(nil)

	snap = m.Snapshot()
	if snap.Operations["GET /api/v1/payments"].InFlight != 0 {
		t.Fatalf("expected 0 in-flight after end, got %+v", snap)
	}
}

func TestMetrics_RateLimitWait(t *testing.T) {
	m := NewMetrics()

	m.AddRateLimitWait(10 * time.Millisecond)
	m.AddRateLimitWait(5 * time.Millisecond)
	m.AddRateLimitWait(0) // no-op

	snap := m.Snapshot()
	if snap.RateLimitWaits != 2 {
		t.Fatalf("expected 2 waits, got %d", snap.RateLimitWaits)
	}
	if snap.RateLimitWaitMs != 15 {
		t.Fatalf("expected 15ms total, got %d", snap.RateLimitWaitMs)
	}
}

func TestMetrics_Lifecycle(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	if snap.Lifecycle != nil {
		t.Fatalf("lifecycle must be absent before shutdown")
	}

	m.MarkShutdown(3)
	snap = m.Snapshot()
	if snap.Lifecycle == nil || snap.Lifecycle.InFlightAtShutdown != 3 {
		t.Fatalf("unexpected lifecycle snapshot: %+v", snap.Lifecycle)
	}
}

func TestMetrics_NilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	span := m.Start("anything")
	span.End(nil)
	m.AddRateLimitWait(time.Second)
	m.MarkShutdown(0)
	if snap := m.Snapshot(); snap.TotalRequests != 0 {
		t.Fatalf("unexpected snapshot from nil metrics: %+v", snap)
	}
}

func TestHandler_ServesSnapshot(t *testing.T) {
	m := NewMetrics()
	m.Start("GET /health").End(nil)

	w := httptest.NewRecorder()
	Handler(m).ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type: %s", ct)
	}

	var snap Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if snap.Operations["GET /health"].Count != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}
