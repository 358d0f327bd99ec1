package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/petvet-ai/whatsapp-handler/core/logger"
)

// PostgresStore persists sessions in the sessions table. The TTL slides on
// every read and write; rows past expires_at count as missing and are
// replaced on the next contact.
type PostgresStore struct {
	db  *sqlx.DB
	ttl time.Duration
}

// NewPostgresStore builds a store over an open database handle.
func NewPostgresStore(db *sqlx.DB, ttl time.Duration) *PostgresStore {
	return &PostgresStore{db: db, ttl: ttl}
}

type sessionRow struct {
	ID             string         `db:"id"`
	PhoneNumber    string         `db:"phone_number"`
	UserID         sql.NullString `db:"user_id"`
	ContactName    sql.NullString `db:"contact_name"`
	ActivePetID    sql.NullString `db:"active_pet_id"`
	State          []byte         `db:"state"`
	CreatedAt      time.Time      `db:"created_at"`
	LastActivityAt time.Time      `db:"last_activity_at"`
}

func (r sessionRow) toSession() (*Session, error) {
	s := &Session{
		ID:             r.ID,
		PhoneNumber:    r.PhoneNumber,
		UserID:         r.UserID.String,
		ContactName:    r.ContactName.String,
		ActivePetID:    r.ActivePetID.String,
		CreatedAt:      r.CreatedAt,
		LastActivityAt: r.LastActivityAt,
	}
	if len(r.State) > 0 {
		if err := json.Unmarshal(r.State, &s.State); err != nil {
			return nil, fmt.Errorf("decode session state: %w", err)
		}
	}
	if s.State.Flow == "" {
		s.State = InitialState()
	}
	return s, nil
}

const selectLive = `
	SELECT id, phone_number, user_id, contact_name, active_pet_id, state, created_at, last_activity_at
	  FROM sessions
	 WHERE phone_number = $1 AND expires_at > now()`

func (p *PostgresStore) GetOrCreate(ctx context.Context, phoneNumber, contactName string) (*Session, bool, error) {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin session tx: %w", err)
	}
	defer tx.Rollback()

	var row sessionRow
	err = tx.GetContext(ctx, &row, selectLive+" FOR UPDATE", phoneNumber)
	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET last_activity_at = now(), expires_at = now() + $2 * interval '1 second' WHERE phone_number = $1`,
			phoneNumber, int(p.ttl.Seconds())); err != nil {
			return nil, false, fmt.Errorf("touch session: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("commit session tx: %w", err)
		}
		s, err := row.toSession()
		return s, false, err

	case errors.Is(err, sql.ErrNoRows):
		// Fresh or expired address. Replace any stale row.
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE phone_number = $1`, phoneNumber); err != nil {
			return nil, false, fmt.Errorf("prune session: %w", err)
		}
		id := uuid.NewString()
		state, err := json.Marshal(InitialState())
		if err != nil {
			return nil, false, fmt.Errorf("encode session state: %w", err)
		}
		err = tx.GetContext(ctx, &row, `
			INSERT INTO sessions (id, phone_number, contact_name, state, created_at, last_activity_at, expires_at)
			VALUES ($1, $2, NULLIF($3, ''), $4, now(), now(), now() + $5 * interval '1 second')
			RETURNING id, phone_number, user_id, contact_name, active_pet_id, state, created_at, last_activity_at`,
			id, phoneNumber, contactName, state, int(p.ttl.Seconds()))
		if err != nil {
			return nil, false, fmt.Errorf("create session: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("commit session tx: %w", err)
		}
		logger.SESS.Info("session created",
			"event", "session.create",
			"session_id", id,
			"wa_id", logger.MaskPhone(phoneNumber))
		s, err := row.toSession()
		return s, true, err

	default:
		return nil, false, fmt.Errorf("load session: %w", err)
	}
}

func (p *PostgresStore) Get(ctx context.Context, phoneNumber string) (*Session, error) {
	var row sessionRow
	if err := p.db.GetContext(ctx, &row, selectLive, phoneNumber); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	if err := p.touch(ctx, phoneNumber); err != nil {
		return nil, err
	}
	return row.toSession()
}

func (p *PostgresStore) touch(ctx context.Context, phoneNumber string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE sessions SET last_activity_at = now(), expires_at = now() + $2 * interval '1 second' WHERE phone_number = $1`,
		phoneNumber, int(p.ttl.Seconds()))
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

func (p *PostgresStore) setColumn(ctx context.Context, phoneNumber, query string, arg any) error {
	res, err := p.db.ExecContext(ctx, query, phoneNumber, arg, int(p.ttl.Seconds()))
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) Update(ctx context.Context, phoneNumber string, state FlowState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}
	return p.setColumn(ctx, phoneNumber, `
		UPDATE sessions
		   SET state = $2, last_activity_at = now(), expires_at = now() + $3 * interval '1 second'
		 WHERE phone_number = $1 AND expires_at > now()`, raw)
}

func (p *PostgresStore) SetLinkedUser(ctx context.Context, phoneNumber, userID string) error {
	return p.setColumn(ctx, phoneNumber, `
		UPDATE sessions
		   SET user_id = $2, last_activity_at = now(), expires_at = now() + $3 * interval '1 second'
		 WHERE phone_number = $1 AND expires_at > now()`, userID)
}

func (p *PostgresStore) SetActivePet(ctx context.Context, phoneNumber, petID string) error {
	return p.setColumn(ctx, phoneNumber, `
		UPDATE sessions
		   SET active_pet_id = $2, last_activity_at = now(), expires_at = now() + $3 * interval '1 second'
		 WHERE phone_number = $1 AND expires_at > now()`, petID)
}

func (p *PostgresStore) Clear(ctx context.Context, phoneNumber string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM sessions WHERE phone_number = $1`, phoneNumber); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	logger.SESS.Info("session cleared",
		"event", "session.clear",
		"wa_id", logger.MaskPhone(phoneNumber))
	return nil
}

func (p *PostgresStore) Close() error { return nil }
