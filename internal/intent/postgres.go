package intent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
)

const schema = `
CREATE TABLE IF NOT EXISTS payment_intents (
	token       TEXT PRIMARY KEY,
	order_id    TEXT NOT NULL,
	amount      NUMERIC(14,2) NOT NULL DEFAULT 0,
	access_key  TEXT NOT NULL DEFAULT '',
	env         TEXT NOT NULL DEFAULT '',
	cart_id     TEXT NOT NULL DEFAULT '',
	method      TEXT NOT NULL DEFAULT '',
	bearer      TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL,
	expires_at  TIMESTAMPTZ NOT NULL
);
ALTER TABLE payment_intents ADD COLUMN IF NOT EXISTS bearer TEXT NOT NULL DEFAULT '';
CREATE INDEX IF NOT EXISTS payment_intents_expires_at_idx ON payment_intents (expires_at);
`

// PostgresStore persists intents in Postgres through the pgx driver.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenPostgres connects to dsn and makes sure the table exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("intent: postgres dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("intent: open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	store := &PostgresStore{db: db, now: time.Now}
	if err := store.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("intent: ping postgres: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("intent: migrate: %w", err)
	}
	return nil
}

// DB exposes the pool so other storefront tables can share it.
func (s *PostgresStore) DB() *sql.DB { return s.db }

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Save implements Store. Saving an existing token overwrites it.
func (s *PostgresStore) Save(ctx context.Context, in Intent) error {
	if in.Token == "" {
		return ErrInvalid
	}
	const q = `
INSERT INTO payment_intents (token, order_id, amount, access_key, env, cart_id, method, bearer, created_at, expires_at)
VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (token) DO UPDATE SET
	order_id = EXCLUDED.order_id,
	amount = EXCLUDED.amount,
	access_key = EXCLUDED.access_key,
	env = EXCLUDED.env,
	cart_id = EXCLUDED.cart_id,
	method = EXCLUDED.method,
	bearer = EXCLUDED.bearer,
	expires_at = EXCLUDED.expires_at`
	_, err := s.db.ExecContext(ctx, q,
		in.Token, in.OrderID, in.Amount.StringFixed(2), in.AccessKey, in.Env, in.CartID, in.Method, in.BearerToken,
		in.CreatedAt.UTC(), in.ExpiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("intent: save: %w", err)
	}
	return nil
}

const intentColumns = `token, order_id, amount::text, access_key, env, cart_id, method, bearer, created_at, expires_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntent(row rowScanner) (Intent, error) {
	var (
		in     Intent
		amount string
	)
	err := row.Scan(
		&in.Token, &in.OrderID, &amount, &in.AccessKey, &in.Env, &in.CartID, &in.Method, &in.BearerToken, &in.CreatedAt, &in.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Intent{}, ErrNotFound
	}
	if err != nil {
		return Intent{}, err
	}
	if in.Amount, err = decimal.NewFromString(amount); err != nil {
		return Intent{}, fmt.Errorf("decode amount: %w", err)
	}
	return in, nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, token string) (Intent, error) {
	q := `SELECT ` + intentColumns + ` FROM payment_intents WHERE token = $1 AND expires_at > $2`
	in, err := scanIntent(s.db.QueryRowContext(ctx, q, token, s.now().UTC()))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Intent{}, fmt.Errorf("intent: get: %w", err)
	}
	return in, err
}

// Take implements Store. The row is deleted even when it has expired.
func (s *PostgresStore) Take(ctx context.Context, token string) (Intent, error) {
	q := `DELETE FROM payment_intents WHERE token = $1 RETURNING ` + intentColumns
	in, err := scanIntent(s.db.QueryRowContext(ctx, q, token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Intent{}, err
		}
		return Intent{}, fmt.Errorf("intent: take: %w", err)
	}
	if in.Expired(s.now()) {
		return Intent{}, ErrNotFound
	}
	return in, nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM payment_intents WHERE token = $1`, token); err != nil {
		return fmt.Errorf("intent: delete: %w", err)
	}
	return nil
}

// CleanupExpired implements Store.
func (s *PostgresStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 500
	}
	const q = `
DELETE FROM payment_intents WHERE token IN (
	SELECT token FROM payment_intents WHERE expires_at <= $1 ORDER BY expires_at LIMIT $2
)`
	res, err := s.db.ExecContext(ctx, q, now.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("intent: cleanup: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}
