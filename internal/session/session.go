package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no live session exists for an address.
var ErrNotFound = errors.New("session not found")

// Session is one sender's conversation record, keyed by phone number.
type Session struct {
	ID             string    `db:"id"`
	PhoneNumber    string    `db:"phone_number"`
	UserID         string    `db:"user_id"`
	ContactName    string    `db:"contact_name"`
	ActivePetID    string    `db:"active_pet_id"`
	State          FlowState `db:"-"`
	CreatedAt      time.Time `db:"created_at"`
	LastActivityAt time.Time `db:"last_activity_at"`
}

// Store persists sessions. Every read and write slides the TTL forward;
// expired sessions behave as if they never existed. All operations address
// sessions by phone number.
type Store interface {
	// GetOrCreate returns the live session for the address, creating a fresh
	// one at the initial state when none exists. The second result reports
	// whether the session was created by this call.
	GetOrCreate(ctx context.Context, phoneNumber, contactName string) (*Session, bool, error)

	// Get returns the live session or ErrNotFound.
	Get(ctx context.Context, phoneNumber string) (*Session, error)

	// Update replaces the flow state.
	Update(ctx context.Context, phoneNumber string, state FlowState) error

	// SetLinkedUser records the backend account bound to this address.
	SetLinkedUser(ctx context.Context, phoneNumber, userID string) error

	// SetActivePet records the pet the conversation is currently about.
	SetActivePet(ctx context.Context, phoneNumber, petID string) error

	// Clear removes the session.
	Clear(ctx context.Context, phoneNumber string) error

	Close() error
}
