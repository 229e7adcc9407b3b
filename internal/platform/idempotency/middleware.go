package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jishnu-pg/yesbuy-storefront/internal/platform/httpx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	// FormField is the hidden form input carrying the key for plain HTML form posts.
	FormField        = "idempotency_key"
	replayHeaderName = "X-Idempotent-Replay"
)

// Logger abstracts the logging dependency used inside the middleware.
type Logger interface {
	Printf(format string, args ...any)
}

// RequesterFunc identifies who submitted the request; keys are scoped per requester.
type RequesterFunc func(*http.Request) string

type middlewareConfig struct {
	headerName string
	ttl        time.Duration
	clock      func() time.Time
	logger     Logger
	requester  RequesterFunc
	conflict   http.Handler
}

// MiddlewareOption customises middleware behaviour.
type MiddlewareOption func(*middlewareConfig)

// WithTTL configures how long completed records are retained.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithLogger injects a logger for persistence errors.
func WithLogger(logger Logger) MiddlewareOption {
	return func(cfg *middlewareConfig) { cfg.logger = logger }
}

// WithClock overrides the time source, primarily for testing.
func WithClock(clock func() time.Time) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// WithRequester sets how the submitting shopper is identified.
func WithRequester(fn RequesterFunc) MiddlewareOption {
	return func(cfg *middlewareConfig) { cfg.requester = fn }
}

// WithConflictHandler renders the response used while an identical submission is still running.
func WithConflictHandler(h http.Handler) MiddlewareOption {
	return func(cfg *middlewareConfig) { cfg.conflict = h }
}

// Middleware guards POST submissions against double clicks. Requests without a key pass
// through unchanged so forms keep working when scripts are disabled.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	cfg := middlewareConfig{
		headerName: defaultHeaderName,
		ttl:        DefaultTTL,
		clock:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			body, err := readAndReplayBody(r)
			if err != nil {
				httpx.WriteProblem(r.Context(), w, http.StatusBadRequest, "idempotency_read_body_failed", "unable to read request body")
				return
			}
			key := extractKey(r, body, cfg.headerName)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			requester := "anonymous"
			if cfg.requester != nil {
				if id := strings.TrimSpace(cfg.requester(r)); id != "" {
					requester = id
				}
			}
			fingerprint := requestFingerprint(r, body, requester)
			scoped := key + "|" + requester

			now := cfg.clock()
			reservation, err := store.Reserve(r.Context(), scoped, fingerprint, now, cfg.ttl)
			if err != nil {
				if errors.Is(err, ErrFingerprintMismatch) {
					httpx.WriteProblem(r.Context(), w, http.StatusConflict, "idempotency_key_conflict", "idempotency key already used for a different request")
					return
				}
				cfg.logf("idempotency: store error: %v", err)
				next.ServeHTTP(w, r)
				return
			}
			switch reservation.State {
			case StateReplay:
				replay(w, reservation.Submission)
				return
			case StateInFlight:
				if cfg.conflict != nil {
					cfg.conflict.ServeHTTP(w, r)
					return
				}
				httpx.WriteProblem(r.Context(), w, http.StatusConflict, "idempotency_in_progress", "this submission is already being processed")
				return
			}

			recorder := newResponseRecorder(w)
			next.ServeHTTP(recorder, r)

			resp := Response{Status: recorder.Status(), Header: recorder.header.Clone(), Body: recorder.Body()}
			if resp.Status >= http.StatusInternalServerError {
				// Server failures stay retryable.
				if err := store.Release(r.Context(), scoped); err != nil {
					cfg.logf("idempotency: release %s: %v", key, err)
				}
			} else if err := store.Complete(r.Context(), scoped, fingerprint, resp, cfg.clock().Add(cfg.ttl)); err != nil {
				cfg.logf("idempotency: save response for %s: %v", key, err)
				_ = store.Release(r.Context(), scoped)
			}
			if err := recorder.Commit(); err != nil {
				cfg.logf("idempotency: flush response for %s: %v", key, err)
			}
		})
	}
}

// RunJanitor removes expired records every interval until ctx is done.
func RunJanitor(ctx context.Context, store Store, interval time.Duration, batch int, logger Logger) {
	if store == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := store.CleanupExpired(ctx, now, batch); err != nil && logger != nil {
				logger.Printf("idempotency: cleanup: %v", err)
			}
		}
	}
}

func (cfg middlewareConfig) logf(format string, args ...any) {
	if cfg.logger != nil {
		cfg.logger.Printf(format, args...)
	}
}

func extractKey(r *http.Request, body []byte, header string) string {
	if key := strings.TrimSpace(r.Header.Get(header)); key != "" {
		return key
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/x-www-form-urlencoded" {
		return ""
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(values.Get(FormField))
}

func readAndReplayBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func requestFingerprint(r *http.Request, body []byte, requester string) string {
	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteString("|")
	b.WriteString(r.URL.Path)
	b.WriteString("|")
	b.WriteString(r.URL.RawQuery)
	b.WriteString("|")
	b.WriteString(requester)
	b.WriteString("|")
	if len(body) > 0 {
		b.WriteString(sha256Hex(body))
	}
	return sha256Hex([]byte(b.String()))
}

func replay(w http.ResponseWriter, sub Submission) {
	for name, values := range sub.Header {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.Header().Set(replayHeaderName, "true")
	w.WriteHeader(statusOrOK(sub.Status))
	if len(sub.Body) > 0 {
		_, _ = w.Write(sub.Body)
	}
}

type responseRecorder struct {
	parent http.ResponseWriter
	header http.Header
	status int
	body   bytes.Buffer
}

func newResponseRecorder(parent http.ResponseWriter) *responseRecorder {
	return &responseRecorder{parent: parent, header: make(http.Header)}
}

func (r *responseRecorder) Header() http.Header { return r.header }

func (r *responseRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(data)
}

func (r *responseRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *responseRecorder) Body() []byte {
	if r.body.Len() == 0 {
		return nil
	}
	return append([]byte(nil), r.body.Bytes()...)
}

func (r *responseRecorder) Commit() error {
	dst := r.parent.Header()
	for key, values := range r.header {
		dst[key] = values
	}
	r.parent.WriteHeader(r.Status())
	if r.body.Len() == 0 {
		return nil
	}
	_, err := r.parent.Write(r.body.Bytes())
	return err
}
