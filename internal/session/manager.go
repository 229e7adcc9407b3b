package session

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
)

const (
	defaultCookieName = "YESBUY_SESSION"
	defaultCookiePath = "/"
	defaultLifetime   = 30 * 24 * time.Hour
)

// ErrInvalidConfig indicates the manager was initialised with missing or invalid options.
var ErrInvalidConfig = errors.New("session: invalid config")

// Config controls cookie encoding and lifetime.
type Config struct {
	CookieName   string
	HashKey      []byte
	BlockKey     []byte
	CookiePath   string
	CookieDomain string
	CookieSecure bool
	SameSite     http.SameSite
	Lifetime     time.Duration
	Now          func() time.Time
}

// Manager decodes and persists sessions via signed and encrypted cookies.
type Manager struct {
	cfg   Config
	codec *securecookie.SecureCookie
	now   func() time.Time
}

// NewManager constructs a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.HashKey) < 32 {
		return nil, fmt.Errorf("%w: hash key must be at least 32 bytes", ErrInvalidConfig)
	}
	switch len(cfg.BlockKey) {
	case 0, 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: block key must be 16, 24 or 32 bytes", ErrInvalidConfig)
	}
	if cfg.CookieName == "" {
		cfg.CookieName = defaultCookieName
	}
	if cfg.CookiePath == "" {
		cfg.CookiePath = defaultCookiePath
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = defaultLifetime
	}
	if cfg.SameSite == http.SameSiteDefaultMode {
		// Lax keeps the cookie on the gateway's top-level GET redirect back to us.
		cfg.SameSite = http.SameSiteLaxMode
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	codec := securecookie.New(cfg.HashKey, cfg.BlockKey)
	codec.SetSerializer(securecookie.JSONEncoder{})
	codec.MaxAge(int(cfg.Lifetime.Seconds()))
	return &Manager{cfg: cfg, codec: codec, now: now}, nil
}

// CookieName returns the session cookie name.
func (m *Manager) CookieName() string { return m.cfg.CookieName }

// Load returns the request's session, or a fresh one when the cookie is missing, tampered
// with or expired.
func (m *Manager) Load(r *http.Request) *Session {
	cookie, err := r.Cookie(m.cfg.CookieName)
	if err != nil {
		return m.New()
	}
	var stored Data
	if err := m.codec.Decode(m.cfg.CookieName, cookie.Value, &stored); err != nil {
		return m.New()
	}
	now := m.now().UTC()
	if stored.ID == "" || (!stored.ExpiresAt.IsZero() && !now.Before(stored.ExpiresAt)) {
		return m.New()
	}
	return &Session{data: stored, now: m.now}
}

// New returns a pristine session.
func (m *Manager) New() *Session {
	now := m.now().UTC()
	return &Session{
		data: Data{
			ID:         mustToken(18),
			CreatedAt:  now,
			LastActive: now,
			ExpiresAt:  now.Add(m.cfg.Lifetime),
			CSRFToken:  mustToken(24),
		},
		dirty: true,
		fresh: true,
		now:   m.now,
	}
}

// Save writes the session cookie. Destroyed sessions clear it.
func (m *Manager) Save(w http.ResponseWriter, s *Session) error {
	if s == nil {
		return errors.New("session: nil session")
	}
	if s.destroyed {
		http.SetCookie(w, m.expiredCookie())
		return nil
	}
	s.data.LastActive = m.now().UTC()
	encoded, err := m.codec.Encode(m.cfg.CookieName, s.data)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	cookie := &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    encoded,
		Path:     m.cfg.CookiePath,
		Domain:   m.cfg.CookieDomain,
		Secure:   m.cfg.CookieSecure,
		HttpOnly: true,
		SameSite: m.cfg.SameSite,
	}
	if !s.data.ExpiresAt.IsZero() {
		cookie.Expires = s.data.ExpiresAt.UTC()
		if remaining := s.data.ExpiresAt.Sub(m.now()); remaining > 0 {
			cookie.MaxAge = int(remaining.Round(time.Second).Seconds())
		} else {
			cookie.MaxAge = -1
		}
	}
	http.SetCookie(w, cookie)
	s.dirty = false
	return nil
}

func (m *Manager) expiredCookie() *http.Cookie {
	return &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    "",
		Path:     m.cfg.CookiePath,
		Domain:   m.cfg.CookieDomain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   m.cfg.CookieSecure,
		HttpOnly: true,
		SameSite: m.cfg.SameSite,
	}
}

func mustToken(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("session: generate token: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
