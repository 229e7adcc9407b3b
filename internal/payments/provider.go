package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// CheckoutSessionRequest captures what a hosted checkout needs for a deferred method.
type CheckoutSessionRequest struct {
	OrderID        string
	Amount         decimal.Decimal
	Currency       string
	Description    string
	CustomerEmail  string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
	Metadata       map[string]string
}

// CheckoutSession is the provider session the shopper is sent to.
type CheckoutSession struct {
	ID          string
	Provider    string
	RedirectURL string
	ExpiresAt   time.Time
}

// PaymentStatus is the normalised state of a hosted checkout.
type PaymentStatus string

const (
	StatusPaid    PaymentStatus = "paid"
	StatusPending PaymentStatus = "pending"
	StatusFailed  PaymentStatus = "failed"
)

// PaymentDetails is what a provider reports about a hosted checkout session.
type PaymentDetails struct {
	Provider  string
	SessionID string
	PaymentID string
	// OrderID is the order reference the session was created for.
	OrderID  string
	Status   PaymentStatus
	Amount   decimal.Decimal
	Currency string
}

// Result maps the session state onto a callback verdict. A session that is neither paid nor
// expired cannot be confirmed yet.
func (d PaymentDetails) Result() Result {
	switch d.Status {
	case StatusPaid:
		id := d.PaymentID
		if id == "" {
			id = d.SessionID
		}
		return Success{TransactionID: id}
	case StatusFailed:
		return Failure{Code: "payment_failed"}
	default:
		return Failure{Code: "ambiguous_response"}
	}
}

// Params flattens the details for the backend's record of the gateway response.
func (d PaymentDetails) Params() Params {
	p := Params{
		"provider":   d.Provider,
		"session_id": d.SessionID,
		"status":     string(d.Status),
		"amount":     d.Amount.StringFixed(2),
	}
	if d.PaymentID != "" {
		p["payment_id"] = d.PaymentID
	}
	if d.Currency != "" {
		p["currency"] = d.Currency
	}
	return p
}

// Provider hosts checkout for payment methods the dispatcher defers.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
	LookupCheckoutSession(ctx context.Context, sessionID string) (PaymentDetails, error)
}

// Manager routes deferred payment methods to providers.
type Manager struct {
	providers       map[string]Provider
	methodRoutes    map[string]string
	defaultProvider string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider sets the provider used for methods without a route.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = strings.ToLower(strings.TrimSpace(provider))
	}
}

// WithMethodRoutes maps payment method names (e.g. "CARD") to provider keys.
func WithMethodRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		for method, provider := range routes {
			m.methodRoutes[normalizeMethod(method)] = strings.ToLower(strings.TrimSpace(provider))
		}
	}
}

// NewManager constructs a Manager over the supplied providers. An empty map is allowed; every
// lookup then fails with ErrUnsupportedProvider.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{providers: copyMap, methodRoutes: map[string]string{}}
	if _, ok := copyMap["stripe"]; ok {
		m.defaultProvider = "stripe"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Supports reports whether method resolves to a provider.
func (m *Manager) Supports(method string) bool {
	_, _, err := m.resolveProvider(method)
	return err == nil
}

func (m *Manager) resolveProvider(method string) (string, Provider, error) {
	if m == nil || len(m.providers) == 0 {
		return "", nil, ErrUnsupportedProvider
	}
	if key, ok := m.methodRoutes[normalizeMethod(method)]; ok {
		if p, ok := m.providers[key]; ok {
			return key, p, nil
		}
	}
	if p, ok := m.providers[strings.ToLower(strings.TrimSpace(method))]; ok {
		return strings.ToLower(strings.TrimSpace(method)), p, nil
	}
	if p, ok := m.providers[m.defaultProvider]; ok {
		return m.defaultProvider, p, nil
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreateCheckoutSession delegates to the provider for method.
func (m *Manager) CreateCheckoutSession(ctx context.Context, method string, req CheckoutSessionRequest) (CheckoutSession, error) {
	key, provider, err := m.resolveProvider(method)
	if err != nil {
		return CheckoutSession{}, err
	}
	session, err := provider.CreateCheckoutSession(ctx, req)
	if err != nil {
		return CheckoutSession{}, err
	}
	session.Provider = key
	return session, nil
}

// LookupCheckoutSession asks the provider for method how session sessionID ended.
func (m *Manager) LookupCheckoutSession(ctx context.Context, method, sessionID string) (PaymentDetails, error) {
	key, provider, err := m.resolveProvider(method)
	if err != nil {
		return PaymentDetails{}, err
	}
	details, err := provider.LookupCheckoutSession(ctx, sessionID)
	if err != nil {
		return PaymentDetails{}, err
	}
	details.Provider = key
	return details, nil
}

func normalizeMethod(method string) string {
	return strings.ToUpper(strings.TrimSpace(method))
}
