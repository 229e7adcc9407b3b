package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL is how long checkout submissions are remembered.
const DefaultTTL = 30 * time.Minute

// ErrFingerprintMismatch is returned when a key is reused for a different submission.
var ErrFingerprintMismatch = errors.New("idempotency: key reused for a different submission")

// Submission is a remembered form post. Once Done it carries the response to replay.
type Submission struct {
	Key         string
	Fingerprint string
	Done        bool
	Status      int
	Header      http.Header
	Body        []byte
	ExpiresAt   time.Time
}

func (s Submission) expired(now time.Time) bool { return !now.Before(s.ExpiresAt) }

// State is what Reserve found for a key.
type State int

const (
	// StateNew means the caller owns the key and should run the handler.
	StateNew State = iota
	// StateReplay means the submission finished and its response should be replayed.
	StateReplay
	// StateInFlight means an identical submission is still running.
	StateInFlight
)

// Reservation is the result of Reserve.
type Reservation struct {
	State      State
	Submission Submission
}

// Response is the handler output kept for replays.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Store remembers submissions.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	Complete(ctx context.Context, key, fingerprint string, resp Response, expiresAt time.Time) error
	Release(ctx context.Context, key string) error
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// classify decides what an unexpired submission means for a new attempt.
func classify(existing Submission, fingerprint string) (Reservation, error) {
	if existing.Fingerprint != fingerprint {
		return Reservation{}, ErrFingerprintMismatch
	}
	if existing.Done {
		return Reservation{State: StateReplay, Submission: existing}, nil
	}
	return Reservation{State: StateInFlight, Submission: existing}, nil
}

func hashKey(key string) string {
	return sha256Hex([]byte(strings.TrimSpace(key)))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// replayable drops hop-by-hop and per-response headers.
func replayable(header http.Header) http.Header {
	out := make(http.Header, len(header))
	for name, values := range header {
		switch http.CanonicalHeaderKey(name) {
		case "Content-Length", "Date", "Connection", "Keep-Alive", "Transfer-Encoding", "Upgrade", "Set-Cookie":
			continue
		}
		out[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
	}
	return out
}
