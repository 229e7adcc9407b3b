package session

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/jishnu-pg/yesbuy-storefront/internal/backend"
	"github.com/jishnu-pg/yesbuy-storefront/internal/platform/requestctx"
)

// CSRFField is the hidden form field carrying the CSRF token.
const CSRFField = "csrf_token"

type contextKey struct{}

// FromContext returns the request's session. Outside the middleware it returns a detached
// session that is never saved.
func FromContext(ctx context.Context) *Session {
	if s, ok := ctx.Value(contextKey{}).(*Session); ok && s != nil {
		return s
	}
	return &Session{now: nowUTC}
}

// WithSession attaches s to ctx.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// Middleware loads the session, exposes it on the request context along with the shopper's
// bearer token for backend calls, and writes the cookie back before the first byte of the
// response when anything changed.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := m.Load(r)
		ctx := WithSession(r.Context(), s)
		if token := s.Token(); token != "" {
			ctx = backend.WithToken(ctx, token)
		}
		sw := &saveWriter{ResponseWriter: w, save: func() {
			if !s.Dirty() {
				return
			}
			if err := m.Save(w, s); err != nil {
				requestctx.Logger(ctx).Error("session save failed", zap.Error(err))
			}
		}}
		next.ServeHTTP(sw, r.WithContext(ctx))
		sw.flushSave()
	})
}

// CSRF rejects unsafe requests whose csrf_token form field or X-CSRF-Token header does not
// match the session. Paths under exempt prefixes are skipped; payment gateways post there.
func CSRF(exempt ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) || hasPrefix(r.URL.Path, exempt) {
				next.ServeHTTP(w, r)
				return
			}
			want := FromContext(r.Context()).CSRFToken()
			got := r.Header.Get("X-CSRF-Token")
			if got == "" {
				got = r.PostFormValue(CSRFField)
			}
			if want == "" || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
				http.Error(w, "invalid CSRF token", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hasPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func isSafeMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}

type saveWriter struct {
	http.ResponseWriter
	save  func()
	saved bool
}

func (w *saveWriter) flushSave() {
	if w.saved {
		return
	}
	w.saved = true
	w.save()
}

func (w *saveWriter) WriteHeader(status int) {
	w.flushSave()
	w.ResponseWriter.WriteHeader(status)
}

func (w *saveWriter) Write(b []byte) (int, error) {
	w.flushSave()
	return w.ResponseWriter.Write(b)
}

func (w *saveWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
