package session

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryStoreGetOrCreate(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	first, created, err := store.GetOrCreate(ctx, "5511999990000", "Ana")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if !created {
		t.Fatal("expected a new session")
	}
	if first.State.Flow != FlowMainMenu || first.State.Step != "" {
		t.Fatalf("unexpected initial state: %+v", first.State)
	}
	if first.ContactName != "Ana" {
		t.Fatalf("contact name = %q", first.ContactName)
	}

	second, created, err := store.GetOrCreate(ctx, "5511999990000", "Ana")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if created {
		t.Fatal("expected the existing session")
	}
	if second.ID != first.ID {
		t.Fatalf("session id changed: %s != %s", second.ID, first.ID)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	now := time.Unix(1_700_000_000, 0)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	first, _, err := store.GetOrCreate(ctx, "5511999990000", "")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	// Activity inside the window slides the deadline.
	now = now.Add(50 * time.Second)
	if _, err := store.Get(ctx, "5511999990000"); err != nil {
		t.Fatalf("Get within TTL: %v", err)
	}

	now = now.Add(50 * time.Second)
	got, created, err := store.GetOrCreate(ctx, "5511999990000", "")
	if err != nil {
		t.Fatalf("GetOrCreate after slide: %v", err)
	}
	if created || got.ID != first.ID {
		t.Fatal("slid session should survive")
	}

	// Silence past the TTL forgets the conversation.
	now = now.Add(2 * time.Minute)
	if _, err := store.Get(ctx, "5511999990000"); err != ErrNotFound {
		t.Fatalf("Get after expiry = %v, want ErrNotFound", err)
	}
	fresh, created, err := store.GetOrCreate(ctx, "5511999990000", "")
	if err != nil {
		t.Fatalf("GetOrCreate after expiry: %v", err)
	}
	if !created || fresh.ID == first.ID {
		t.Fatal("expired session should be replaced")
	}
	if fresh.State.Flow != FlowMainMenu {
		t.Fatalf("fresh session flow = %s", fresh.State.Flow)
	}
}

func TestMemoryStoreUpdate(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	if err := store.Update(ctx, "5511999990000", InitialState()); err != ErrNotFound {
		t.Fatalf("Update missing = %v, want ErrNotFound", err)
	}

	store.GetOrCreate(ctx, "5511999990000", "")
	state := FlowState{
		Flow:         FlowConsultation,
		Step:         "describe-symptoms",
		Consultation: &ConsultationData{PetID: "pet-1", PetName: "Rex"},
	}
	if err := store.Update(ctx, "5511999990000", state); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := store.SetLinkedUser(ctx, "5511999990000", "user-1"); err != nil {
		t.Fatalf("SetLinkedUser: %v", err)
	}
	if err := store.SetActivePet(ctx, "5511999990000", "pet-1"); err != nil {
		t.Fatalf("SetActivePet: %v", err)
	}

	got, err := store.Get(ctx, "5511999990000")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State.Flow != FlowConsultation || got.State.Consultation == nil || got.State.Consultation.PetName != "Rex" {
		t.Fatalf("state not persisted: %+v", got.State)
	}
	if got.UserID != "user-1" || got.ActivePetID != "pet-1" {
		t.Fatalf("links not persisted: %+v", got)
	}
}

func TestLockerSerializesPerAddress(t *testing.T) {
	locker := NewLocker()

	const goroutines = 8
	const iterations = 50
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				release := locker.Acquire("5511999990000")
				counter++
				release()
			}
		}()
	}
	wg.Wait()

	if counter != goroutines*iterations {
		t.Fatalf("counter = %d, want %d", counter, goroutines*iterations)
	}
}

func TestLockerIndependentAddresses(t *testing.T) {
	locker := NewLocker()

	release := locker.Acquire("5511999990000")
	defer release()

	done := make(chan struct{})
	go func() {
		r := locker.Acquire("5511888880000")
		r()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("different address blocked behind unrelated lease")
	}
}
