package idempotency

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const schema = `
CREATE TABLE IF NOT EXISTS checkout_submissions (
	key_hash    TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	done        BOOLEAN NOT NULL DEFAULT FALSE,
	status      INTEGER NOT NULL DEFAULT 0,
	header      JSONB,
	body        BYTEA,
	expires_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS checkout_submissions_expires_at_idx ON checkout_submissions (expires_at);
`

// PostgresStore shares submissions between storefront instances.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore uses db, creating the table when missing. The caller owns db.
func NewPostgresStore(ctx context.Context, db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("idempotency: db is required")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("idempotency: migrate: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Reserve implements Store. An expired row is taken over in the same statement.
func (s *PostgresStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := hashKey(key)
	expires := now.Add(ttl).UTC()
	const claim = `
INSERT INTO checkout_submissions (key_hash, fingerprint, expires_at)
VALUES ($1, $2, $3)
ON CONFLICT (key_hash) DO UPDATE SET
	fingerprint = EXCLUDED.fingerprint,
	done = FALSE,
	status = 0,
	header = NULL,
	body = NULL,
	expires_at = EXCLUDED.expires_at
WHERE checkout_submissions.expires_at <= $4
RETURNING key_hash`
	var claimed string
	err := s.db.QueryRowContext(ctx, claim, id, fingerprint, expires, now.UTC()).Scan(&claimed)
	switch {
	case err == nil:
		return Reservation{State: StateNew, Submission: Submission{Key: key, Fingerprint: fingerprint, ExpiresAt: expires}}, nil
	case !errors.Is(err, sql.ErrNoRows):
		return Reservation{}, fmt.Errorf("idempotency: reserve: %w", err)
	}

	const load = `SELECT fingerprint, done, status, header, body, expires_at FROM checkout_submissions WHERE key_hash = $1`
	var (
		sub    = Submission{Key: key}
		header []byte
	)
	err = s.db.QueryRowContext(ctx, load, id).Scan(&sub.Fingerprint, &sub.Done, &sub.Status, &header, &sub.Body, &sub.ExpiresAt)
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: load: %w", err)
	}
	if len(header) > 0 {
		if err := json.Unmarshal(header, &sub.Header); err != nil {
			return Reservation{}, fmt.Errorf("idempotency: decode header: %w", err)
		}
	}
	return classify(sub, fingerprint)
}

// Complete implements Store.
func (s *PostgresStore) Complete(ctx context.Context, key, fingerprint string, resp Response, expiresAt time.Time) error {
	header, err := json.Marshal(replayable(resp.Header))
	if err != nil {
		return fmt.Errorf("idempotency: encode header: %w", err)
	}
	const q = `
UPDATE checkout_submissions
SET done = TRUE, status = $3, header = $4, body = $5, expires_at = $6
WHERE key_hash = $1 AND fingerprint = $2`
	res, err := s.db.ExecContext(ctx, q, hashKey(key), fingerprint, statusOrOK(resp.Status), header, resp.Body, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("idempotency: complete: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrFingerprintMismatch
	}
	return nil
}

// Release implements Store.
func (s *PostgresStore) Release(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkout_submissions WHERE key_hash = $1`, hashKey(key)); err != nil {
		return fmt.Errorf("idempotency: release: %w", err)
	}
	return nil
}

// CleanupExpired implements Store.
func (s *PostgresStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 500
	}
	const q = `
DELETE FROM checkout_submissions WHERE key_hash IN (
	SELECT key_hash FROM checkout_submissions WHERE expires_at <= $1 ORDER BY expires_at LIMIT $2
)`
	res, err := s.db.ExecContext(ctx, q, now.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("idempotency: cleanup: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func statusOrOK(status int) int {
	if status == 0 {
		return http.StatusOK
	}
	return status
}
