package mockllm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func complete(t *testing.T, h http.Handler, ctx context.Context) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequestWithContext(ctx, http.MethodPost, "/complete", strings.NewReader(`{"content":"Hello"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCompleteReplies(t *testing.T) {
	s := New(Config{}, zap.NewNop())
	rec := complete(t, s.Handler(), context.Background())
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out["completion"] != DefaultReply {
		t.Errorf("unexpected completion %q", out["completion"])
	}
}

func TestFailFirst(t *testing.T) {
	s := New(Config{FailFirst: 2, Reply: "ok"}, zap.NewNop())
	for i := range 2 {
		rec := complete(t, s.Handler(), context.Background())
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("request %d: expected 500, got %d", i, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "mock-llm failure") {
			t.Errorf("unexpected body %s", rec.Body.String())
		}
	}
	if rec := complete(t, s.Handler(), context.Background()); rec.Code != http.StatusOK {
		t.Errorf("expected 200 after the forced failures, got %d", rec.Code)
	}
	if s.Served() != 3 {
		t.Errorf("expected 3 served, got %d", s.Served())
	}
}

func TestAlwaysFail(t *testing.T) {
	s := New(Config{FailRate: 1}, zap.NewNop())
	if rec := complete(t, s.Handler(), context.Background()); rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestHangUntilClientLeaves(t *testing.T) {
	s := New(Config{HangRate: 1}, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	rec := complete(t, s.Handler(), ctx)
	if time.Since(start) < 30*time.Millisecond {
		t.Error("handler returned before the client went away")
	}
	if rec.Body.Len() != 0 {
		t.Errorf("hanging request should not answer, got %q", rec.Body.String())
	}
}

func TestDelayWithinBounds(t *testing.T) {
	s := New(Config{MinDelay: 20 * time.Millisecond, MaxDelay: 40 * time.Millisecond}, zap.NewNop())
	start := time.Now()
	rec := complete(t, s.Handler(), context.Background())
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("answered too fast: %s", elapsed)
	}
}

func TestUndecodableBodyIsRejected(t *testing.T) {
	s := New(Config{}, zap.NewNop())
	for _, body := range []string{"", `{"content":`, `{"content":42}`} {
		req := httptest.NewRequest(http.MethodPost, "/complete", strings.NewReader(body))
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "invalid JSON body") {
			t.Errorf("body %q: unexpected response %s", body, rec.Body.String())
		}
	}
}
