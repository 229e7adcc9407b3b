package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile            = ".env"
	defaultPort               = "8080"
	defaultReadTimeout        = 15 * time.Second
	defaultWriteTimeout       = 30 * time.Second
	defaultIdleTimeout        = 120 * time.Second
	defaultShutdownTimeout    = 10 * time.Second
	defaultBackendTimeout     = 15 * time.Second
	defaultSessionCookie      = "YESBUY_SESSION"
	defaultSessionLifetime    = 30 * 24 * time.Hour
	defaultEasebuzzEnv        = "test"
	defaultEasebuzzTestBase   = "https://testpay.easebuzz.in"
	defaultEasebuzzProdBase   = "https://pay.easebuzz.in"
	defaultProbeDelay         = 2 * time.Second
	defaultProbeInterval      = 200 * time.Millisecond
	defaultProbeAttempts      = 10
	defaultSDKCacheTTL        = 10 * time.Minute
	defaultIntentDriver       = "memory"
	defaultIntentTTL          = 2 * time.Hour
	defaultIdempotencyTTL     = 30 * time.Minute
	defaultIdempotencyCleanup = 5 * time.Minute
	defaultServiceName        = "yesbuy-storefront"
)

var defaultEasebuzzSDKURLs = []string{
	"https://ebz-static.s3.ap-south-1.amazonaws.com/easecheckout/v2.0.0/easebuzz-checkout-v2.min.js",
	"https://ebz-static.s3.ap-south-1.amazonaws.com/easecheckout/easebuzz-checkout.js",
	"https://pay.easebuzz.in/easebuzz-checkout.js",
}

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Backend     BackendConfig
	Session     SessionConfig
	Easebuzz    EasebuzzConfig
	Stripe      StripeConfig
	Intents     IntentConfig
	Idempotency IdempotencyConfig
	Telemetry   TelemetryConfig
	Secrets     SecretsConfig
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// SiteURL is the public origin used to build gateway return URLs.
	SiteURL string
}

// BackendConfig points at the REST backend that owns carts, orders and payments.
type BackendConfig struct {
	BaseURL string
	Timeout time.Duration
}

// SessionConfig controls the signed session cookie.
type SessionConfig struct {
	CookieName string
	HashKey    string
	BlockKey   string
	Secure     bool
	Lifetime   time.Duration
}

// EasebuzzConfig configures the hosted payment gateway hand-off.
type EasebuzzConfig struct {
	Env           string
	Key           string
	Salt          string
	SDKURLs       []string
	ProbeDelay    time.Duration
	ProbeInterval time.Duration
	ProbeAttempts int
	TestBaseURL   string
	ProdBaseURL   string
	// SDKCacheTTL is how long a probe result is reused before candidates are checked again.
	SDKCacheTTL time.Duration
	// StrictStatus classifies callbacks without an explicit status as failures.
	StrictStatus bool
}

// StripeConfig enables the card provider used by deferred payment methods.
type StripeConfig struct {
	APIKey string
}

// IntentConfig selects where payment intents live while the shopper is at the gateway.
type IntentConfig struct {
	Driver string
	DSN    string
	TTL    time.Duration
}

// IdempotencyConfig controls duplicate submission protection.
type IdempotencyConfig struct {
	TTL             time.Duration
	CleanupInterval time.Duration
}

// TelemetryConfig names the service in logs and spans.
type TelemetryConfig struct {
	ServiceName string
	LogLevel    string
}

// SecretsConfig points the Secret Manager resolver at a project.
type SecretsConfig struct {
	ProjectID string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects explicit values that take precedence over the system environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// Lookup returns a single raw value with the same precedence Load uses. It lets main read
// bootstrap settings (such as the secrets project) before the resolver exists.
func Lookup(key string, opts ...Option) string {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	dotEnv, _ := loadDotEnv(options.envFile)
	value, _ := options.lookupFunc(dotEnv)(key)
	return value
}

func defaultOptions() loaderOptions {
	return loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
}

func (o loaderOptions) lookupFunc(dotEnv map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if value, ok := o.envMap[key]; ok {
			return value, true
		}
		if o.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnv[key]
		return value, ok
	}
}

// Load assembles configuration from defaults, the .env file, the environment and secret
// references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}
	lookup := options.lookupFunc(dotEnv)

	cfg := Config{
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "STOREFRONT_PORT", stringWithDefault(lookup, "PORT", defaultPort)),
			ReadTimeout:     durationWithDefault(lookup, "STOREFRONT_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "STOREFRONT_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "STOREFRONT_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "STOREFRONT_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
			SiteURL:         strings.TrimRight(stringWithDefault(lookup, "STOREFRONT_SITE_URL", ""), "/"),
		},
		Backend: BackendConfig{
			BaseURL: strings.TrimRight(stringWithDefault(lookup, "STOREFRONT_BACKEND_URL", ""), "/"),
			Timeout: durationWithDefault(lookup, "STOREFRONT_BACKEND_TIMEOUT", defaultBackendTimeout),
		},
		Session: SessionConfig{
			CookieName: stringWithDefault(lookup, "STOREFRONT_SESSION_COOKIE", defaultSessionCookie),
			HashKey:    stringWithDefault(lookup, "STOREFRONT_SESSION_HASH_KEY", ""),
			BlockKey:   stringWithDefault(lookup, "STOREFRONT_SESSION_BLOCK_KEY", ""),
			Secure:     boolWithDefault(lookup, "STOREFRONT_SESSION_SECURE", false),
			Lifetime:   durationWithDefault(lookup, "STOREFRONT_SESSION_LIFETIME", defaultSessionLifetime),
		},
		Easebuzz: EasebuzzConfig{
			Env:           strings.ToLower(stringWithDefault(lookup, "STOREFRONT_EASEBUZZ_ENV", defaultEasebuzzEnv)),
			Key:           stringWithDefault(lookup, "STOREFRONT_EASEBUZZ_KEY", ""),
			Salt:          stringWithDefault(lookup, "STOREFRONT_EASEBUZZ_SALT", ""),
			SDKURLs:       csvWithDefault(lookup, "STOREFRONT_EASEBUZZ_SDK_URLS", defaultEasebuzzSDKURLs),
			ProbeDelay:    durationWithDefault(lookup, "STOREFRONT_EASEBUZZ_PROBE_DELAY", defaultProbeDelay),
			ProbeInterval: durationWithDefault(lookup, "STOREFRONT_EASEBUZZ_PROBE_INTERVAL", defaultProbeInterval),
			ProbeAttempts: intWithDefault(lookup, "STOREFRONT_EASEBUZZ_PROBE_ATTEMPTS", defaultProbeAttempts),
			TestBaseURL:   stringWithDefault(lookup, "STOREFRONT_EASEBUZZ_TEST_URL", defaultEasebuzzTestBase),
			ProdBaseURL:   stringWithDefault(lookup, "STOREFRONT_EASEBUZZ_PROD_URL", defaultEasebuzzProdBase),
			SDKCacheTTL:   durationWithDefault(lookup, "STOREFRONT_EASEBUZZ_SDK_CACHE_TTL", defaultSDKCacheTTL),
			StrictStatus:  boolWithDefault(lookup, "STOREFRONT_EASEBUZZ_STRICT_STATUS", false),
		},
		Stripe: StripeConfig{
			APIKey: stringWithDefault(lookup, "STOREFRONT_STRIPE_API_KEY", ""),
		},
		Intents: IntentConfig{
			Driver: strings.ToLower(stringWithDefault(lookup, "STOREFRONT_INTENT_DRIVER", defaultIntentDriver)),
			DSN:    stringWithDefault(lookup, "STOREFRONT_INTENT_DSN", ""),
			TTL:    durationWithDefault(lookup, "STOREFRONT_INTENT_TTL", defaultIntentTTL),
		},
		Idempotency: IdempotencyConfig{
			TTL:             durationWithDefault(lookup, "STOREFRONT_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval: durationWithDefault(lookup, "STOREFRONT_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyCleanup),
		},
		Telemetry: TelemetryConfig{
			ServiceName: stringWithDefault(lookup, "STOREFRONT_SERVICE_NAME", defaultServiceName),
			LogLevel:    stringWithDefault(lookup, "LOG_LEVEL", "info"),
		},
		Secrets: SecretsConfig{
			ProjectID: stringWithDefault(lookup, "STOREFRONT_SECRETS_PROJECT", ""),
		},
	}

	secretFields := []*string{
		&cfg.Session.HashKey,
		&cfg.Session.BlockKey,
		&cfg.Easebuzz.Key,
		&cfg.Easebuzz.Salt,
		&cfg.Stripe.APIKey,
		&cfg.Intents.DSN,
	}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// IsProduction reports whether the gateway runs against live Easebuzz.
func (c EasebuzzConfig) IsProduction() bool {
	return c.Env == "production"
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	ref := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string
	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Backend.BaseURL == "" {
		missing = append(missing, "Backend.BaseURL")
	}
	if len(cfg.Session.HashKey) < 32 {
		missing = append(missing, "Session.HashKey")
	}
	switch len(cfg.Session.BlockKey) {
	case 0, 16, 24, 32:
	default:
		missing = append(missing, "Session.BlockKey")
	}
	if cfg.Easebuzz.Env == "" {
		missing = append(missing, "Easebuzz.Env")
	}
	if cfg.Easebuzz.ProbeAttempts <= 0 {
		missing = append(missing, "Easebuzz.ProbeAttempts")
	}
	switch cfg.Intents.Driver {
	case "memory":
	case "postgres":
		if cfg.Intents.DSN == "" {
			missing = append(missing, "Intents.DSN")
		}
	default:
		missing = append(missing, "Intents.Driver")
	}
	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string, fallback []string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return append([]string(nil), fallback...)
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
