package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps jobs in process memory. Used in tests and when running
// without a database. Dedup survives job completion until PruneCompleted.
type MemoryStore struct {
	mu          sync.Mutex
	now         func() time.Time
	maxAttempts int
	jobs        map[string]*Job
	seen        map[string]time.Time
}

// NewMemoryStore builds an in-memory queue.
func NewMemoryStore(maxAttempts int) *MemoryStore {
	return &MemoryStore{
		now:         time.Now,
		maxAttempts: maxAttempts,
		jobs:        make(map[string]*Job),
		seen:        make(map[string]time.Time),
	}
}

func (m *MemoryStore) Enqueue(_ context.Context, p Payload) (*Job, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.seen[p.Message.ID]; dup {
		return nil, false, nil
	}

	now := m.now()
	job := &Job{
		ID:          uuid.NewString(),
		MessageID:   p.Message.ID,
		Payload:     p,
		Status:      StatusWaiting,
		MaxAttempts: m.maxAttempts,
		NextRunAt:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.jobs[job.ID] = job
	m.seen[p.Message.ID] = now

	out := *job
	return &out, true, nil
}

func (m *MemoryStore) Claim(_ context.Context) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var next *Job
	for _, job := range m.jobs {
		ready := job.Status == StatusWaiting && !job.NextRunAt.After(now)
		// Expired lease, the claiming worker is gone.
		expired := job.Status == StatusActive && !job.ClaimedUntil.After(now)
		if !ready && !expired {
			continue
		}
		if next == nil || job.NextRunAt.Before(next.NextRunAt) {
			next = job
		}
	}
	if next == nil {
		return nil, ErrEmpty
	}

	next.Status = StatusActive
	next.ClaimedUntil = now.Add(claimTTL)
	next.UpdatedAt = now
	out := *next
	return &out, nil
}

func (m *MemoryStore) Complete(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job, ok := m.jobs[jobID]; ok {
		job.Status = StatusCompleted
		job.ClaimedUntil = time.Time{}
		job.UpdatedAt = m.now()
	}
	return nil
}

func (m *MemoryStore) Retry(_ context.Context, jobID string, attempts int, delay time.Duration, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil
	}
	job.Status = StatusWaiting
	job.Attempts = attempts
	job.NextRunAt = m.now().Add(delay)
	job.ClaimedUntil = time.Time{}
	job.UpdatedAt = m.now()
	if cause != nil {
		job.LastError = errorText(cause)
	}
	return nil
}

func (m *MemoryStore) Fail(_ context.Context, jobID string, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil
	}
	job.Status = StatusFailed
	job.ClaimedUntil = time.Time{}
	job.UpdatedAt = m.now()
	if cause != nil {
		job.LastError = errorText(cause)
	}
	return nil
}

func (m *MemoryStore) Counts(_ context.Context) (Counts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var c Counts
	for _, job := range m.jobs {
		switch job.Status {
		case StatusWaiting:
			c.Waiting++
		case StatusActive:
			c.Active++
		case StatusCompleted:
			c.Completed++
		case StatusFailed:
			c.Failed++
		}
	}
	return c, nil
}

func (m *MemoryStore) PruneCompleted(_ context.Context, olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-olderThan)
	pruned := 0
	for id, job := range m.jobs {
		if job.Status == StatusCompleted && job.UpdatedAt.Before(cutoff) {
			delete(m.jobs, id)
			delete(m.seen, job.MessageID)
			pruned++
		}
	}
	for messageID, at := range m.seen {
		if at.Before(cutoff) {
			delete(m.seen, messageID)
		}
	}
	return pruned, nil
}

func (m *MemoryStore) Close() error { return nil }

// Job returns a copy of the stored job, for tests.
func (m *MemoryStore) Job(jobID string) (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return Job{}, false
	}
	return *job, true
}
