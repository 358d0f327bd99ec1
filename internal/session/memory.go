package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petvet-ai/whatsapp-handler/core/logger"
)

// MemoryStore keeps sessions in process memory. Used in tests and when
// running without a database.
type MemoryStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]*memorySession
}

type memorySession struct {
	session   Session
	expiresAt time.Time
}

// NewMemoryStore builds an in-memory store with the given TTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*memorySession),
	}
}

// live returns the non-expired entry for the address, pruning it otherwise.
// Callers hold the mutex.
func (m *MemoryStore) live(phoneNumber string) *memorySession {
	entry, ok := m.sessions[phoneNumber]
	if !ok {
		return nil
	}
	if !m.now().Before(entry.expiresAt) {
		delete(m.sessions, phoneNumber)
		return nil
	}
	return entry
}

func (m *MemoryStore) touch(entry *memorySession) {
	now := m.now()
	entry.session.LastActivityAt = now
	entry.expiresAt = now.Add(m.ttl)
}

func (m *MemoryStore) GetOrCreate(_ context.Context, phoneNumber, contactName string) (*Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry := m.live(phoneNumber); entry != nil {
		m.touch(entry)
		s := entry.session
		return &s, false, nil
	}

	now := m.now()
	entry := &memorySession{
		session: Session{
			ID:             uuid.NewString(),
			PhoneNumber:    phoneNumber,
			ContactName:    contactName,
			State:          InitialState(),
			CreatedAt:      now,
			LastActivityAt: now,
		},
		expiresAt: now.Add(m.ttl),
	}
	m.sessions[phoneNumber] = entry

	logger.SESS.Info("session created",
		"event", "session.create",
		"session_id", entry.session.ID,
		"wa_id", logger.MaskPhone(phoneNumber))

	s := entry.session
	return &s, true, nil
}

func (m *MemoryStore) Get(_ context.Context, phoneNumber string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.live(phoneNumber)
	if entry == nil {
		return nil, ErrNotFound
	}
	m.touch(entry)
	s := entry.session
	return &s, nil
}

func (m *MemoryStore) Update(_ context.Context, phoneNumber string, state FlowState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.live(phoneNumber)
	if entry == nil {
		return ErrNotFound
	}
	entry.session.State = state
	m.touch(entry)
	return nil
}

func (m *MemoryStore) SetLinkedUser(_ context.Context, phoneNumber, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.live(phoneNumber)
	if entry == nil {
		return ErrNotFound
	}
	entry.session.UserID = userID
	m.touch(entry)
	return nil
}

func (m *MemoryStore) SetActivePet(_ context.Context, phoneNumber, petID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.live(phoneNumber)
	if entry == nil {
		return ErrNotFound
	}
	entry.session.ActivePetID = petID
	m.touch(entry)
	return nil
}

func (m *MemoryStore) Clear(_ context.Context, phoneNumber string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, phoneNumber)
	logger.SESS.Info("session cleared",
		"event", "session.clear",
		"wa_id", logger.MaskPhone(phoneNumber))
	return nil
}

func (m *MemoryStore) Close() error { return nil }
