// Package session keeps per-shopper state in a signed, encrypted cookie: the backend bearer
// token, cart and checkout selections, the pending payment intent and one-shot messages.
package session

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Flash tones.
const (
	ToneSuccess = "success"
	ToneError   = "error"
	ToneInfo    = "info"
)

const maxCarryBytes = 1500

// ErrCarryTooLarge is returned when a carry payload would not fit in the cookie.
var ErrCarryTooLarge = errors.New("session: carry payload too large")

// Flash is a message shown once on the next rendered page.
type Flash struct {
	Tone string `json:"t"`
	Text string `json:"m"`
}

// Carry is a payload handed from one request to the next page, then discarded.
type Carry struct {
	Kind string          `json:"k"`
	Data json.RawMessage `json:"d"`
}

// Data is the persisted session payload.
type Data struct {
	ID                  string    `json:"id"`
	CreatedAt           time.Time `json:"c"`
	LastActive          time.Time `json:"la"`
	ExpiresAt           time.Time `json:"e,omitempty"`
	Token               string    `json:"tok,omitempty"`
	CartID              string    `json:"cart,omitempty"`
	AddressID           string    `json:"addr,omitempty"`
	PaymentMethod       string    `json:"pm,omitempty"`
	IntentToken         string    `json:"intent,omitempty"`
	RefreshCartOnReturn bool      `json:"rcr,omitempty"`
	Flashes             []Flash   `json:"f,omitempty"`
	Carry               *Carry    `json:"cy,omitempty"`
	CSRFToken           string    `json:"csrf,omitempty"`
}

// Session is the mutable session for one request.
type Session struct {
	data      Data
	dirty     bool
	destroyed bool
	fresh     bool
	transient bool
	now       func() time.Time
}

// ID returns the stable session identifier.
func (s *Session) ID() string { return s.data.ID }

// Dirty reports whether the session changed during the request.
func (s *Session) Dirty() bool { return s.dirty && !s.transient }

// Fresh reports whether the request arrived without a usable session cookie.
func (s *Session) Fresh() bool { return s.fresh }

// MarkTransient keeps the session from being written back on this response, so a browser
// that withheld its cookie does not have it replaced.
func (s *Session) MarkTransient() { s.transient = true }

// Token returns the backend bearer token. A JWT whose exp has passed is dropped and "" is
// returned; the backend stays the authority on validity.
func (s *Session) Token() string {
	if s.data.Token == "" {
		return ""
	}
	if TokenExpired(s.data.Token, s.now()) {
		s.data.Token = ""
		s.dirty = true
		return ""
	}
	return s.data.Token
}

// SetToken stores the bearer token.
func (s *Session) SetToken(token string) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if s.data.Token == token {
		return
	}
	s.data.Token = token
	s.dirty = true
}

// LoggedIn reports whether a usable bearer token is held.
func (s *Session) LoggedIn() bool { return s.Token() != "" }

// CartID returns the active cart id.
func (s *Session) CartID() string { return s.data.CartID }

// SetCartID records the active cart id.
func (s *Session) SetCartID(id string) {
	if s.data.CartID == id {
		return
	}
	s.data.CartID = id
	s.dirty = true
}

// AddressID returns the selected delivery address.
func (s *Session) AddressID() string { return s.data.AddressID }

// SetAddressID records the selected delivery address.
func (s *Session) SetAddressID(id string) {
	if s.data.AddressID == id {
		return
	}
	s.data.AddressID = id
	s.dirty = true
}

// PaymentMethod returns the selected payment method.
func (s *Session) PaymentMethod() string { return s.data.PaymentMethod }

// SetPaymentMethod records the selected payment method.
func (s *Session) SetPaymentMethod(method string) {
	if s.data.PaymentMethod == method {
		return
	}
	s.data.PaymentMethod = method
	s.dirty = true
}

// IntentToken returns the pending payment intent token.
func (s *Session) IntentToken() string { return s.data.IntentToken }

// SetIntentToken records the pending payment intent token.
func (s *Session) SetIntentToken(token string) {
	if s.data.IntentToken == token {
		return
	}
	s.data.IntentToken = token
	s.dirty = true
}

// ClearPayment forgets the pending payment intent.
func (s *Session) ClearPayment() {
	if s.data.IntentToken == "" {
		return
	}
	s.data.IntentToken = ""
	s.dirty = true
}

// MarkRefreshCartOnReturn asks the next cart view to reload from the backend and tell the
// shopper why.
func (s *Session) MarkRefreshCartOnReturn() {
	if s.data.RefreshCartOnReturn {
		return
	}
	s.data.RefreshCartOnReturn = true
	s.dirty = true
}

// RefreshCartOnReturn reports whether the flag is set without consuming it.
func (s *Session) RefreshCartOnReturn() bool { return s.data.RefreshCartOnReturn }

// TakeRefreshCartOnReturn reports and clears the flag.
func (s *Session) TakeRefreshCartOnReturn() bool {
	if !s.data.RefreshCartOnReturn {
		return false
	}
	s.data.RefreshCartOnReturn = false
	s.dirty = true
	return true
}

// AddFlash queues a message for the next rendered page.
func (s *Session) AddFlash(tone, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	// Keep the cookie small; the newest messages win.
	if len(s.data.Flashes) >= 3 {
		s.data.Flashes = s.data.Flashes[1:]
	}
	s.data.Flashes = append(s.data.Flashes, Flash{Tone: tone, Text: text})
	s.dirty = true
}

// Flashes returns and clears queued messages.
func (s *Session) Flashes() []Flash {
	if len(s.data.Flashes) == 0 {
		return nil
	}
	out := s.data.Flashes
	s.data.Flashes = nil
	s.dirty = true
	return out
}

// SetCarry stores a one-shot payload for the next page.
func (s *Session) SetCarry(kind string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if len(raw) > maxCarryBytes {
		return ErrCarryTooLarge
	}
	s.data.Carry = &Carry{Kind: kind, Data: raw}
	s.dirty = true
	return nil
}

// TakeCarry decodes and clears the carry payload when it has the given kind.
func (s *Session) TakeCarry(kind string, v any) (bool, error) {
	c := s.data.Carry
	if c == nil || c.Kind != kind {
		return false, nil
	}
	s.data.Carry = nil
	s.dirty = true
	if err := json.Unmarshal(c.Data, v); err != nil {
		return false, err
	}
	return true, nil
}

// CSRFToken returns the session's CSRF token.
func (s *Session) CSRFToken() string { return s.data.CSRFToken }

// Logout drops the bearer token and everything scoped to the shopper.
func (s *Session) Logout() {
	id, csrf := s.data.ID, s.data.CSRFToken
	created, expires := s.data.CreatedAt, s.data.ExpiresAt
	s.data = Data{ID: id, CSRFToken: csrf, CreatedAt: created, ExpiresAt: expires}
	s.dirty = true
}

// Destroy clears the cookie at the end of the request.
func (s *Session) Destroy() {
	s.destroyed = true
	s.dirty = true
}

// TokenExpired reports whether token is a JWT whose exp is at or before now. Tokens that are
// not JWTs, or carry no exp, are never considered expired here.
func TokenExpired(token string, now time.Time) bool {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !now.Before(claims.ExpiresAt.Time)
}

func nowUTC() time.Time { return time.Now().UTC() }
