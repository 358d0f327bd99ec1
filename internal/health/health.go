// Package health exposes liveness and readiness probes for the handler.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/petvet-ai/whatsapp-handler/core/buildinfo"
	"github.com/petvet-ai/whatsapp-handler/core/logger"
	"github.com/petvet-ai/whatsapp-handler/internal/queue"
)

const serviceName = "whatsapp-handler"

// Backlog thresholds above which the queue is reported degraded.
const (
	maxWaitingBacklog = 1000
	maxActiveBacklog  = 100
)

// Counter reports queue depth. The probe treats a successful call as proof
// that jobs can be accepted and claimed.
type Counter interface {
	Counts(ctx context.Context) (queue.Counts, error)
}

// Handler serves the health endpoints.
type Handler struct {
	queue   Counter
	started time.Time
	now     func() time.Time
}

// NewHandler builds a health handler over the given queue store.
func NewHandler(q Counter) *Handler {
	return &Handler{
		queue:   q,
		started: time.Now(),
		now:     time.Now,
	}
}

// Mount registers the health routes.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/health", h.basic)
	r.Get("/health/live", h.live)
	r.Get("/health/ready", h.ready)
	r.Get("/health/detailed", h.detailed)
}

type healthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Service   string            `json:"service,omitempty"`
	Version   string            `json:"version,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
	Queue     *queue.Counts     `json:"queue,omitempty"`
	UptimeSec float64           `json:"uptime_seconds,omitempty"`
	Goroutine int               `json:"goroutines,omitempty"`
	Reason    string            `json:"reason,omitempty"`
}

func (h *Handler) basic(w http.ResponseWriter, r *http.Request) {
	if _, err := h.queue.Counts(r.Context()); err != nil {
		logger.L.Warn("health check failed", "component", "health", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status:    "unhealthy",
			Timestamp: h.now().UTC().Format(time.RFC3339),
			Checks:    map[string]string{"queue": "not ready"},
		})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: h.now().UTC().Format(time.RFC3339),
		Service:   serviceName,
		Version:   buildinfo.Version,
	})
}

func (h *Handler) live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "live"})
}

func (h *Handler) ready(w http.ResponseWriter, r *http.Request) {
	if _, err := h.queue.Counts(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status: "not ready",
			Reason: "queue not connected",
		})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ready"})
}

func (h *Handler) detailed(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	status := "healthy"
	var counts *queue.Counts

	c, err := h.queue.Counts(r.Context())
	if err != nil {
		checks["queue"] = "unhealthy"
		status = "unhealthy"
	} else {
		counts = &c
		checks["queue"] = "healthy"
		if c.Waiting > maxWaitingBacklog || c.Active > maxActiveBacklog {
			checks["queue/backlog"] = "degraded"
			status = "degraded"
		} else {
			checks["queue/backlog"] = "healthy"
		}
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, healthResponse{
		Status:    status,
		Timestamp: h.now().UTC().Format(time.RFC3339),
		Service:   serviceName,
		Version:   buildinfo.Version,
		Checks:    checks,
		Queue:     counts,
		UptimeSec: h.now().Sub(h.started).Seconds(),
		Goroutine: runtime.NumGoroutine(),
	})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
