package queue

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

// PostgresStore persists jobs in the queue_jobs table. Workers claim jobs
// with SKIP LOCKED so multiple instances can drain the same queue.
type PostgresStore struct {
	db          *sqlx.DB
	maxAttempts int
}

// NewPostgresStore builds a queue over an open database handle.
func NewPostgresStore(db *sqlx.DB, maxAttempts int) *PostgresStore {
	return &PostgresStore{db: db, maxAttempts: maxAttempts}
}

type jobRow struct {
	ID           string         `db:"id"`
	MessageID    string         `db:"message_id"`
	Payload      []byte         `db:"payload"`
	Status       string         `db:"status"`
	Attempts     int            `db:"attempts"`
	MaxAttempts  int            `db:"max_attempts"`
	NextRunAt    time.Time      `db:"next_run_at"`
	ClaimedUntil sql.NullTime   `db:"claimed_until"`
	LastError    sql.NullString `db:"last_error"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

func (r jobRow) toJob() (*Job, error) {
	job := &Job{
		ID:           r.ID,
		MessageID:    r.MessageID,
		Status:       Status(r.Status),
		Attempts:     r.Attempts,
		MaxAttempts:  r.MaxAttempts,
		NextRunAt:    r.NextRunAt,
		ClaimedUntil: r.ClaimedUntil.Time,
		LastError:    r.LastError.String,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if err := json.Unmarshal(r.Payload, &job.Payload); err != nil {
		return nil, fmt.Errorf("decode job payload: %w", err)
	}
	return job, nil
}

func (p *PostgresStore) Enqueue(ctx context.Context, payload Payload) (*Job, bool, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, false, fmt.Errorf("encode job payload: %w", err)
	}

	var row jobRow
	err = p.db.GetContext(ctx, &row, `
		INSERT INTO queue_jobs (id, message_id, payload, status, max_attempts, next_run_at, created_at, updated_at)
		VALUES ($1, $2, $3, 'waiting', $4, now(), now(), now())
		ON CONFLICT (message_id) DO NOTHING
		RETURNING id, message_id, payload, status, attempts, max_attempts, next_run_at, claimed_until, last_error, created_at, updated_at`,
		uuid.NewString(), payload.Message.ID, raw, p.maxAttempts)
	if errors.Is(err, sql.ErrNoRows) {
		// Duplicate delivery of a message id already queued or processed.
		logger.Q.Debug("duplicate message dropped",
			"event", "queue.dedup",
			"message_id", payload.Message.ID)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("enqueue job: %w", err)
	}

	job, err := row.toJob()
	if err != nil {
		return nil, false, err
	}
	return job, true, nil
}

func (p *PostgresStore) Claim(ctx context.Context) (*Job, error) {
	var row jobRow
	err := p.db.GetContext(ctx, &row, `
		UPDATE queue_jobs
		   SET status = 'active',
		       claimed_until = now() + $1 * interval '1 second',
		       updated_at = now()
		 WHERE id = (
			SELECT id FROM queue_jobs
			 WHERE (status = 'waiting' AND next_run_at <= now())
			    OR (status = 'active' AND claimed_until <= now())
			 ORDER BY next_run_at
			 LIMIT 1
			 FOR UPDATE SKIP LOCKED)
		RETURNING id, message_id, payload, status, attempts, max_attempts, next_run_at, claimed_until, last_error, created_at, updated_at`,
		int(claimTTL.Seconds()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return row.toJob()
}

func (p *PostgresStore) Complete(ctx context.Context, jobID string) error {
	if _, err := p.db.ExecContext(ctx,
		`UPDATE queue_jobs SET status = 'completed', claimed_until = NULL, updated_at = now() WHERE id = $1`, jobID); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

func (p *PostgresStore) Retry(ctx context.Context, jobID string, attempts int, delay time.Duration, cause error) error {
	msg := ""
	if cause != nil {
		msg = errorText(cause)
	}
	if _, err := p.db.ExecContext(ctx, `
		UPDATE queue_jobs
		   SET status = 'waiting',
		       attempts = $2,
		       next_run_at = now() + $3 * interval '1 millisecond',
		       claimed_until = NULL,
		       last_error = NULLIF($4, ''),
		       updated_at = now()
		 WHERE id = $1`,
		jobID, attempts, delay.Milliseconds(), msg); err != nil {
		return fmt.Errorf("retry job: %w", err)
	}
	return nil
}

func (p *PostgresStore) Fail(ctx context.Context, jobID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = errorText(cause)
	}
	if _, err := p.db.ExecContext(ctx, `
		UPDATE queue_jobs
		   SET status = 'failed', claimed_until = NULL, last_error = NULLIF($2, ''), updated_at = now()
		 WHERE id = $1`,
		jobID, msg); err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

func (p *PostgresStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := p.db.GetContext(ctx, &c, `
		SELECT count(*) FILTER (WHERE status = 'waiting')   AS waiting,
		       count(*) FILTER (WHERE status = 'active')    AS active,
		       count(*) FILTER (WHERE status = 'completed') AS completed,
		       count(*) FILTER (WHERE status = 'failed')    AS failed
		  FROM queue_jobs`)
	if err != nil {
		return Counts{}, fmt.Errorf("count jobs: %w", err)
	}
	return c, nil
}

func (p *PostgresStore) PruneCompleted(ctx context.Context, olderThan time.Duration) (int, error) {
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM queue_jobs WHERE status = 'completed' AND updated_at < now() - $1 * interval '1 second'`,
		int(olderThan.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (p *PostgresStore) Close() error { return nil }
