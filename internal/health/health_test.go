package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/petvet-ai/whatsapp-handler/internal/queue"
)

type stubCounter struct {
	counts queue.Counts
	err    error
}

func (s *stubCounter) Counts(context.Context) (queue.Counts, error) {
	return s.counts, s.err
}

func probe(h *Handler, path string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	h.Mount(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestLiveAlwaysUp(t *testing.T) {
	h := NewHandler(&stubCounter{err: errors.New("queue down")})

	rec := probe(h, "/health/live")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := decode(t, rec)["status"]; got != "live" {
		t.Fatalf("status field = %v, want live", got)
	}
}

func TestReadyFollowsQueue(t *testing.T) {
	h := NewHandler(&stubCounter{})
	if rec := probe(h, "/health/ready"); rec.Code != http.StatusOK {
		t.Fatalf("healthy queue: status = %d, want %d", rec.Code, http.StatusOK)
	}

	h = NewHandler(&stubCounter{err: errors.New("connection refused")})
	rec := probe(h, "/health/ready")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("broken queue: status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	if got := decode(t, rec)["status"]; got != "not ready" {
		t.Fatalf("status field = %v, want not ready", got)
	}
}

func TestBasicReportsUnhealthyQueue(t *testing.T) {
	h := NewHandler(&stubCounter{err: errors.New("connection refused")})

	rec := probe(h, "/health")

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestDetailedDegradedOnBacklog(t *testing.T) {
	tests := []struct {
		name   string
		counts queue.Counts
		status string
		code   int
	}{
		{"calm", queue.Counts{Waiting: 3, Active: 1}, "healthy", http.StatusOK},
		{"waiting backlog", queue.Counts{Waiting: 1001}, "degraded", http.StatusOK},
		{"active backlog", queue.Counts{Active: 101}, "degraded", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(&stubCounter{counts: tt.counts})
			rec := probe(h, "/health/detailed")
			if rec.Code != tt.code {
				t.Fatalf("status = %d, want %d", rec.Code, tt.code)
			}
			if got := decode(t, rec)["status"]; got != tt.status {
				t.Fatalf("status field = %v, want %s", got, tt.status)
			}
		})
	}
}

func TestDetailedUnhealthyWhenQueueDown(t *testing.T) {
	h := NewHandler(&stubCounter{err: errors.New("dial tcp: refused")})

	rec := probe(h, "/health/detailed")

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	body := decode(t, rec)
	checks, _ := body["checks"].(map[string]any)
	if checks["queue"] != "unhealthy" {
		t.Fatalf("queue check = %v, want unhealthy", checks["queue"])
	}
}
