package queue

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/petvet-ai/whatsapp-handler/internal/wa"
)

func textPayload(messageID, from, body string) Payload {
	return Payload{
		Message: wa.Message{
			From: from,
			ID:   messageID,
			Type: "text",
			Text: &wa.Text{Body: body},
		},
		Metadata:   wa.Metadata{PhoneNumberID: "phone-1"},
		ReceivedAt: time.Now(),
	}
}

func TestEnqueueDeduplicatesByMessageID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(3)

	first, accepted, err := store.Enqueue(ctx, textPayload("wamid.dup", "5511999990000", "Oi"))
	if err != nil || !accepted {
		t.Fatalf("first enqueue: accepted=%v err=%v", accepted, err)
	}
	if first.Status != StatusWaiting || first.MaxAttempts != 3 {
		t.Fatalf("job = %+v, want waiting with budget 3", first)
	}

	second, accepted, err := store.Enqueue(ctx, textPayload("wamid.dup", "5511999990000", "Oi"))
	if err != nil {
		t.Fatalf("duplicate enqueue: %v", err)
	}
	if accepted || second != nil {
		t.Fatalf("duplicate accepted: %v %+v", accepted, second)
	}

	c, _ := store.Counts(ctx)
	if c.Waiting != 1 {
		t.Fatalf("waiting = %d, want 1", c.Waiting)
	}
}

func TestClaimHonorsRetrySchedule(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(3)
	now := time.Now()
	store.now = func() time.Time { return now }

	job, _, err := store.Enqueue(ctx, textPayload("wamid.r", "5511999990000", "Oi"))
	if err != nil {
		t.Fatal(err)
	}
	claimed, err := store.Claim(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.ID != job.ID {
		t.Fatalf("claimed %s, want %s", claimed.ID, job.ID)
	}

	if err := store.Retry(ctx, job.ID, 1, 2*time.Second, errors.New("upstream timeout")); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Claim(ctx); !errors.Is(err, ErrEmpty) {
		t.Fatalf("claim before backoff elapsed: err = %v, want ErrEmpty", err)
	}

	now = now.Add(2 * time.Second)
	claimed, err = store.Claim(ctx)
	if err != nil {
		t.Fatalf("claim after backoff: %v", err)
	}
	if claimed.Attempts != 1 || claimed.LastError != "upstream timeout" {
		t.Fatalf("job = %+v, want attempts 1 and recorded cause", claimed)
	}
}

func TestClaimPrefersOldestReady(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(3)
	now := time.Now()
	store.now = func() time.Time { return now }

	a, _, _ := store.Enqueue(ctx, textPayload("wamid.a", "5511999990000", "primeira"))
	now = now.Add(time.Millisecond)
	store.Enqueue(ctx, textPayload("wamid.b", "5511999990000", "segunda"))

	claimed, err := store.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if claimed.ID != a.ID {
		t.Fatalf("claimed %s, want oldest %s", claimed.MessageID, a.MessageID)
	}
}

func TestAbandonedClaimIsRedelivered(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(3)
	now := time.Now()
	store.now = func() time.Time { return now }

	job, _, err := store.Enqueue(ctx, textPayload("wamid.crash", "5511999990000", "Oi"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Claim(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Lease still held, nothing to hand out.
	if _, err := store.Claim(ctx); !errors.Is(err, ErrEmpty) {
		t.Fatalf("second claim = %v, want ErrEmpty", err)
	}

	// The worker never completes, retries or fails the job. Once the lease
	// runs out the job is claimable again.
	now = now.Add(claimTTL + time.Second)
	reclaimed, err := store.Claim(ctx)
	if err != nil {
		t.Fatalf("claim after lease expiry: %v", err)
	}
	if reclaimed.ID != job.ID {
		t.Fatalf("reclaimed %s, want %s", reclaimed.ID, job.ID)
	}
	if reclaimed.Status != StatusActive || !reclaimed.ClaimedUntil.After(now) {
		t.Fatalf("reclaimed job = %+v, want active with a fresh lease", reclaimed)
	}
}

func TestFailedJobIsNeverClaimedAgain(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(3)

	job, _, _ := store.Enqueue(ctx, textPayload("wamid.f", "5511999990000", "Oi"))
	if _, err := store.Claim(ctx); err != nil {
		t.Fatal(err)
	}
	if err := store.Fail(ctx, job.ID, errors.New("boom")); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Claim(ctx); !errors.Is(err, ErrEmpty) {
		t.Fatalf("claim after dead-letter: err = %v, want ErrEmpty", err)
	}

	stored, ok := store.Job(job.ID)
	if !ok || stored.Status != StatusFailed || stored.LastError != "boom" {
		t.Fatalf("job = %+v, want failed with cause kept for operators", stored)
	}
}

func TestStoredErrorIsCleanAndBounded(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(3)

	job, _, _ := store.Enqueue(ctx, textPayload("wamid.err", "5511999990000", "Oi"))
	if _, err := store.Claim(ctx); err != nil {
		t.Fatal(err)
	}

	noisy := "provider said: \x1b[31mno\x1b[0m " + strings.Repeat("x", 2*maxErrorLen)
	if err := store.Retry(ctx, job.ID, 1, time.Second, errors.New(noisy)); err != nil {
		t.Fatal(err)
	}

	stored, ok := store.Job(job.ID)
	if !ok {
		t.Fatal("job not found")
	}
	if strings.ContainsRune(stored.LastError, '\x1b') {
		t.Fatalf("last error kept control characters: %q", stored.LastError)
	}
	if n := len([]rune(stored.LastError)); n > maxErrorLen {
		t.Fatalf("last error length = %d, want at most %d", n, maxErrorLen)
	}
	if !strings.HasPrefix(stored.LastError, "provider said: ") {
		t.Fatalf("last error = %q, want original prefix kept", stored.LastError)
	}
}

func TestPruneCompletedReleasesDedup(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(3)
	now := time.Now()
	store.now = func() time.Time { return now }

	job, _, _ := store.Enqueue(ctx, textPayload("wamid.p", "5511999990000", "Oi"))
	store.Claim(ctx)
	store.Complete(ctx, job.ID)

	// Inside the window the id stays reserved.
	if _, accepted, _ := store.Enqueue(ctx, textPayload("wamid.p", "5511999990000", "Oi")); accepted {
		t.Fatal("redelivery accepted inside dedup window")
	}

	now = now.Add(25 * time.Hour)
	pruned, err := store.PruneCompleted(ctx, 24*time.Hour)
	if err != nil || pruned != 1 {
		t.Fatalf("pruned = %d err = %v, want 1", pruned, err)
	}

	if _, accepted, _ := store.Enqueue(ctx, textPayload("wamid.p", "5511999990000", "Oi")); !accepted {
		t.Fatal("enqueue rejected after dedup window expired")
	}
}
