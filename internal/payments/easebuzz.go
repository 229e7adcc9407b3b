// Package payments hands shoppers off to payment gateways and classifies what comes back.
package payments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jishnu-pg/yesbuy-storefront/internal/intent"
	"github.com/jishnu-pg/yesbuy-storefront/internal/platform/requestctx"
)

const (
	// SDKGlobal is the constructor the Easebuzz checkout script must expose.
	SDKGlobal = "EasebuzzCheckout"

	// ModeTest and ModeProd are the SDK mode flags.
	ModeTest = "test"
	ModeProd = "prod"

	maxScriptBytes = 2 << 20
)

// HandoffKind selects how the shopper reaches the gateway.
type HandoffKind string

const (
	// HandoffSDK renders a page that loads the checkout script and opens the gateway in place.
	HandoffSDK HandoffKind = "sdk"
	// HandoffRedirect sends the shopper to the gateway's hosted page.
	HandoffRedirect HandoffKind = "redirect"
)

// Request describes a BANK payment ready for the gateway.
type Request struct {
	OrderID   string
	Amount    decimal.Decimal
	AccessKey string
	Env       string
	CartID    string
	// Token is the shopper's backend bearer token, kept so the callback can report the
	// outcome even when the gateway returns without our cookie.
	Token string
}

// Handoff tells the HTTP layer how to move the shopper to the gateway.
type Handoff struct {
	Kind        HandoffKind
	ScriptURL   string
	AccessKey   string
	Mode        string
	URL         string
	IntentToken string
	OrderID     string
	Amount      decimal.Decimal
}

// GatewayError is returned when no hand-off is possible.
type GatewayError struct {
	Code    string
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payments: %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("payments: %s: %s", e.Code, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// EasebuzzConfig configures the adapter.
type EasebuzzConfig struct {
	SDKURLs       []string
	ProbeDelay    time.Duration
	ProbeInterval time.Duration
	ProbeAttempts int
	SDKCacheTTL   time.Duration
	TestBaseURL   string
	ProdBaseURL   string
	IntentTTL     time.Duration
}

// Easebuzz bridges BANK payments to the Easebuzz gateway. Before each hand-off it checks
// whether one of the candidate checkout scripts is reachable and exposes the SDK constructor;
// if none does within the probe window, the shopper is redirected to the hosted payment page.
type Easebuzz struct {
	cfg     EasebuzzConfig
	http    *http.Client
	intents intent.Store
	logger  *zap.Logger
	now     func() time.Time
	sleep   func(context.Context, time.Duration) error

	mu       sync.Mutex
	cached   string
	cachedAt time.Time
}

// EasebuzzOption configures the adapter.
type EasebuzzOption func(*Easebuzz)

// WithEasebuzzHTTPClient overrides the client used to probe scripts.
func WithEasebuzzHTTPClient(hc *http.Client) EasebuzzOption {
	return func(e *Easebuzz) {
		if hc != nil {
			e.http = hc
		}
	}
}

// WithEasebuzzLogger sets the fallback logger.
func WithEasebuzzLogger(logger *zap.Logger) EasebuzzOption {
	return func(e *Easebuzz) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithEasebuzzClock overrides time and waiting, for tests.
func WithEasebuzzClock(now func() time.Time, sleep func(context.Context, time.Duration) error) EasebuzzOption {
	return func(e *Easebuzz) {
		if now != nil {
			e.now = now
		}
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

// NewEasebuzz constructs the adapter. Intents are written to store on every hand-off.
func NewEasebuzz(cfg EasebuzzConfig, store intent.Store, opts ...EasebuzzOption) (*Easebuzz, error) {
	if store == nil {
		return nil, errors.New("payments: intent store is required")
	}
	if cfg.ProbeAttempts <= 0 {
		cfg.ProbeAttempts = 10
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 200 * time.Millisecond
	}
	if cfg.ProbeDelay <= 0 {
		cfg.ProbeDelay = 2 * time.Second
	}
	if cfg.TestBaseURL == "" || cfg.ProdBaseURL == "" {
		return nil, errors.New("payments: easebuzz base urls are required")
	}
	e := &Easebuzz{
		cfg:     cfg,
		http:    &http.Client{},
		intents: store,
		logger:  zap.NewNop(),
		now:     time.Now,
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Window is the longest Begin waits for a usable checkout script.
func (e *Easebuzz) Window() time.Duration {
	return e.cfg.ProbeDelay + time.Duration(e.cfg.ProbeAttempts)*e.cfg.ProbeInterval
}

// Mode returns the SDK mode flag for env.
func Mode(env string) string {
	if isProduction(env) {
		return ModeProd
	}
	return ModeTest
}

// RedirectURL returns the hosted payment page for accessKey.
func (e *Easebuzz) RedirectURL(env, accessKey string) string {
	base := e.cfg.TestBaseURL
	if isProduction(env) {
		base = e.cfg.ProdBaseURL
	}
	return strings.TrimRight(base, "/") + "/pay/" + accessKey
}

func isProduction(env string) bool {
	return strings.EqualFold(strings.TrimSpace(env), "production")
}

// Begin prepares the hand-off for req. The payment context is saved as an intent first so the
// callback can find it whichever path the shopper takes. With no usable script and no access
// key the result is a configuration_error GatewayError.
func (e *Easebuzz) Begin(ctx context.Context, req Request) (Handoff, error) {
	logger := requestctx.LoggerOr(ctx, e.logger)
	logger = logger.With(zap.String("orderID", req.OrderID))

	script := e.probe(ctx, logger)
	accessKey := strings.TrimSpace(req.AccessKey)
	if script == "" && accessKey == "" {
		logger.Error("easebuzz hand-off impossible: no sdk and no access key")
		return Handoff{}, &GatewayError{Code: "configuration_error", Message: "payment gateway is not configured"}
	}

	rec, err := intent.Prepare(intent.Intent{
		OrderID:     req.OrderID,
		Amount:      req.Amount,
		AccessKey:   accessKey,
		Env:         req.Env,
		CartID:      req.CartID,
		Method:      "BANK",
		BearerToken: req.Token,
	}, e.now(), e.cfg.IntentTTL)
	if err != nil {
		return Handoff{}, &GatewayError{Code: "configuration_error", Message: "payment details incomplete", Err: err}
	}
	if err := e.intents.Save(ctx, rec); err != nil {
		return Handoff{}, &GatewayError{Code: "intent_unavailable", Message: "could not record payment", Err: err}
	}

	handoff := Handoff{
		AccessKey:   accessKey,
		Mode:        Mode(req.Env),
		IntentToken: rec.Token,
		OrderID:     req.OrderID,
		Amount:      req.Amount,
	}
	if accessKey != "" {
		handoff.URL = e.RedirectURL(req.Env, accessKey)
	}
	if script != "" {
		handoff.Kind = HandoffSDK
		handoff.ScriptURL = script
		logger.Info("easebuzz sdk hand-off", zap.String("script", script), zap.String("mode", handoff.Mode))
		return handoff, nil
	}
	handoff.Kind = HandoffRedirect
	logger.Warn("easebuzz sdk unavailable; redirecting to hosted page", zap.String("url", handoff.URL))
	return handoff, nil
}

// probe returns the first candidate script that exposes the SDK, or "" when none does within
// the window. Results are cached for SDKCacheTTL, including the negative result.
func (e *Easebuzz) probe(ctx context.Context, logger *zap.Logger) string {
	if len(e.cfg.SDKURLs) == 0 {
		return ""
	}
	now := e.now()
	e.mu.Lock()
	if !e.cachedAt.IsZero() && e.cfg.SDKCacheTTL > 0 && now.Sub(e.cachedAt) < e.cfg.SDKCacheTTL {
		script := e.cached
		e.mu.Unlock()
		return script
	}
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, e.Window())
	defer cancel()

	script := e.firstUsable(ctx, e.cfg.ProbeDelay)
	for attempt := 1; script == "" && attempt < e.cfg.ProbeAttempts; attempt++ {
		if err := e.sleep(ctx, e.cfg.ProbeInterval); err != nil {
			break
		}
		script = e.firstUsable(ctx, e.cfg.ProbeInterval)
	}
	if script == "" {
		logger.Warn("no easebuzz checkout script usable", zap.Int("candidates", len(e.cfg.SDKURLs)))
	}

	e.mu.Lock()
	e.cached, e.cachedAt = script, e.now()
	e.mu.Unlock()
	return script
}

func (e *Easebuzz) firstUsable(ctx context.Context, perFetch time.Duration) string {
	for _, candidate := range e.cfg.SDKURLs {
		if ctx.Err() != nil {
			return ""
		}
		if e.exposesSDK(ctx, candidate, perFetch) {
			return candidate
		}
	}
	return ""
}

func (e *Easebuzz) exposesSDK(ctx context.Context, scriptURL string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, scriptURL, nil)
	if err != nil {
		return false
	}
	resp, err := e.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxScriptBytes))
	if err != nil {
		return false
	}
	return strings.Contains(string(body), SDKGlobal)
}

// Forget drops the cached probe result.
func (e *Easebuzz) Forget() {
	e.mu.Lock()
	e.cached, e.cachedAt = "", time.Time{}
	e.mu.Unlock()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
