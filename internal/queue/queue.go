// Package queue is the durable inbound message queue. Every accepted webhook
// message becomes a job that survives restarts, retries with exponential
// backoff and dead-letters after the attempt budget is spent. Jobs are
// deduplicated by provider message id.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/petvet-ai/whatsapp-handler/core/logger"
	"github.com/petvet-ai/whatsapp-handler/internal/wa"
)

// ErrEmpty is returned by Claim when no job is ready.
var ErrEmpty = errors.New("queue empty")

// maxErrorLen bounds the stored last_error text.
const maxErrorLen = 500

// errorText renders a cause for the last_error column: control characters
// stripped, length capped. Wrapped provider errors can carry raw response
// bodies.
func errorText(cause error) string {
	if cause == nil {
		return ""
	}
	return logger.SanitizeLimit(cause.Error(), maxErrorLen)
}

// claimTTL is the lease a worker holds on an active job. A worker that dies
// mid-job loses the lease and the job is claimed again, so delivery stays
// at-least-once across crashes. Jobs normally finish in seconds.
const claimTTL = 5 * time.Minute

// Status is a job's lifecycle position.
type Status string

// Job statuses.
const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Payload is the work attached to one inbound message.
type Payload struct {
	Message    wa.Message  `json:"message"`
	Contact    *wa.Contact `json:"contact,omitempty"`
	Metadata   wa.Metadata `json:"metadata"`
	ReceivedAt time.Time   `json:"receivedAt"`
}

// Job is one queued message with its retry bookkeeping. ClaimedUntil is the
// lease deadline while the job is active; an expired lease makes the job
// claimable again.
type Job struct {
	ID           string
	MessageID    string
	Payload      Payload
	Status       Status
	Attempts     int
	MaxAttempts  int
	NextRunAt    time.Time
	ClaimedUntil time.Time
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Counts summarizes queue depth for health reporting.
type Counts struct {
	Waiting   int `json:"waiting" db:"waiting"`
	Active    int `json:"active" db:"active"`
	Completed int `json:"completed" db:"completed"`
	Failed    int `json:"failed" db:"failed"`
}

// Store persists jobs. Enqueue rejects a payload whose message id was seen
// before; the second result reports whether the job was accepted.
type Store interface {
	Enqueue(ctx context.Context, p Payload) (*Job, bool, error)

	// Claim leases the next ready job, marking it active until claimTTL
	// passes. Active jobs whose lease expired are claimable again. Returns
	// ErrEmpty when nothing is due.
	Claim(ctx context.Context) (*Job, error)

	// Complete finishes a claimed job.
	Complete(ctx context.Context, jobID string) error

	// Retry reschedules a claimed job after a failed attempt.
	Retry(ctx context.Context, jobID string, attempts int, delay time.Duration, cause error) error

	// Fail dead-letters a claimed job. The payload stays queryable for
	// operators; it is never claimed again.
	Fail(ctx context.Context, jobID string, cause error) error

	Counts(ctx context.Context) (Counts, error)

	// PruneCompleted drops completed jobs older than the window, bounding
	// how long message ids stay reserved for deduplication.
	PruneCompleted(ctx context.Context, olderThan time.Duration) (int, error)

	Close() error
}
