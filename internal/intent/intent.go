// Package intent stores the payment context that has to survive the round trip to the
// payment gateway. Callback handlers look the record up by token instead of trusting anything
// the browser sends back.
package intent

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// DefaultTTL bounds how long a shopper may spend on the gateway before the intent expires.
const DefaultTTL = 2 * time.Hour

var (
	// ErrNotFound is returned for unknown or expired tokens.
	ErrNotFound = errors.New("intent: not found")
	// ErrInvalid is returned when an intent is missing required fields.
	ErrInvalid = errors.New("intent: invalid")
)

// Intent is the server-held record of a gateway hand-off.
type Intent struct {
	Token       string
	OrderID     string
	Amount      decimal.Decimal
	AccessKey   string
	Env         string
	CartID      string
	Method      string
	// BearerToken authenticates the backend status update on the shopper's behalf.
	BearerToken string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the intent is past its expiry at now.
func (i Intent) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

// Store persists intents.
type Store interface {
	Save(ctx context.Context, in Intent) error
	Get(ctx context.Context, token string) (Intent, error)
	Delete(ctx context.Context, token string) error
	// Take returns the live intent for token and removes it in one step. Of several
	// concurrent callers at most one receives the intent; the rest get ErrNotFound.
	Take(ctx context.Context, token string) (Intent, error)
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// NewToken returns a fresh, time-ordered intent token.
func NewToken(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
}

// ValidToken reports whether s parses as an intent token.
func ValidToken(s string) bool {
	_, err := ulid.ParseStrict(strings.TrimSpace(s))
	return err == nil
}

// Prepare fills the token and timestamps and checks required fields.
func Prepare(in Intent, now time.Time, ttl time.Duration) (Intent, error) {
	if strings.TrimSpace(in.OrderID) == "" {
		return Intent{}, errors.Join(ErrInvalid, errors.New("order id is required"))
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	if in.Token == "" {
		in.Token = NewToken(now)
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = now
	}
	if in.ExpiresAt.IsZero() {
		in.ExpiresAt = in.CreatedAt.Add(ttl)
	}
	return in, nil
}
