package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func probe(t *testing.T, serve func(http.ResponseWriter, *http.Request)) (int, result) {
	t.Helper()
	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	serve(rec, req)

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

// TestHealthz verifies liveness always reports ok with a JSON body.
func TestHealthz(t *testing.T) {
	h := New()

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
}

// TestReadyz_AllPass verifies a fully healthy backend set reports ok per
// probe.
func TestReadyz_AllPass(t *testing.T) {
	h := New(
		Checker{Name: "storage", Check: func(_ context.Context) error { return nil }},
		Checker{Name: "index", Check: func(_ context.Context) error { return nil }},
	)

	code, body := probe(t, h.Readyz)
	if code != http.StatusOK {
		t.Errorf("status = %d, want %d", code, http.StatusOK)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
	if body.Checks["storage"] != "ok" || body.Checks["index"] != "ok" {
		t.Errorf("checks = %v, want both ok", body.Checks)
	}
}

// TestReadyz_OneFails verifies a single failing probe flips the endpoint to
// 503 while healthy probes still report ok.
func TestReadyz_OneFails(t *testing.T) {
	h := New(
		Checker{Name: "storage", Check: func(_ context.Context) error {
			return errors.New("connection refused")
		}},
		Checker{Name: "index", Check: func(_ context.Context) error { return nil }},
	)

	code, body := probe(t, h.Readyz)
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", code, http.StatusServiceUnavailable)
	}
	if body.Status != "fail" {
		t.Errorf("status = %q, want %q", body.Status, "fail")
	}
	if body.Checks["storage"] != "fail: connection refused" {
		t.Errorf("storage check = %q", body.Checks["storage"])
	}
	if body.Checks["index"] != "ok" {
		t.Errorf("index check = %q, want ok", body.Checks["index"])
	}
}

// TestReadyz_NoCheckers verifies an empty checker list is trivially ready.
func TestReadyz_NoCheckers(t *testing.T) {
	h := New()

	code, body := probe(t, h.Readyz)
	if code != http.StatusOK {
		t.Errorf("status = %d, want %d", code, http.StatusOK)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
}

// TestReadyz_ProbesRunConcurrently verifies a slow probe does not serialise
// behind the others.
func TestReadyz_ProbesRunConcurrently(t *testing.T) {
	var inFlight, peak atomic.Int32
	slow := func(_ context.Context) error {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		return nil
	}

	h := New(
		Checker{Name: "a", Check: slow},
		Checker{Name: "b", Check: slow},
		Checker{Name: "c", Check: slow},
	)

	code, _ := probe(t, h.Readyz)
	if code != http.StatusOK {
		t.Errorf("status = %d, want %d", code, http.StatusOK)
	}
	if peak.Load() < 2 {
		t.Errorf("peak concurrent probes = %d, want >= 2", peak.Load())
	}
}

// TestReadyz_RespectsContextCancellation verifies a cancelled request
// context propagates into the probes.
func TestReadyz_RespectsContextCancellation(t *testing.T) {
	h := New(
		Checker{Name: "slow", Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
