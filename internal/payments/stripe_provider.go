package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"go.uber.org/zap"
)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey   string
	Backends *stripe.Backends
	Logger   *zap.Logger
	Clock    func() time.Time
	sessions stripeSessionAPI
}

// StripeProvider hosts deferred card payments on Stripe Checkout.
type StripeProvider struct {
	sessions stripeSessionAPI
	clock    func() time.Time
	logger   *zap.Logger
}

// NewStripeProvider constructs a Stripe provider.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	sessions := cfg.sessions
	if sessions == nil {
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		sessions = client.New(apiKey, cfg.Backends).CheckoutSessions
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StripeProvider{sessions: sessions, clock: clock, logger: logger}, nil
}

// CreateCheckoutSession creates a Stripe Checkout session for the whole order amount.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	if !req.Amount.IsPositive() {
		return CheckoutSession{}, errors.New("stripe: amount must be positive")
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "inr"
	}
	description := req.Description
	if description == "" {
		description = "Order " + req.OrderID
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.OrderID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(req.Amount.Shift(2).Round(0).IntPart()),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(description),
				},
			},
		}},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	params.Metadata = map[string]string{"order_id": req.OrderID}
	for k, v := range req.Metadata {
		params.Metadata[k] = v
	}

	session, err := p.sessions.New(params)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	p.logger.Info("stripe checkout session created", zap.String("sessionID", session.ID), zap.String("orderID", req.OrderID))

	expiresAt := p.clock().UTC().Add(30 * time.Minute)
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}
	return CheckoutSession{
		ID:          session.ID,
		Provider:    "stripe",
		RedirectURL: session.URL,
		ExpiresAt:   expiresAt,
	}, nil
}

// LookupCheckoutSession retrieves a Checkout session after Stripe sends the shopper back.
func (p *StripeProvider) LookupCheckoutSession(ctx context.Context, sessionID string) (PaymentDetails, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return PaymentDetails{}, errors.New("stripe: session id is required")
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	session, err := p.sessions.Get(sessionID, params)
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("stripe: lookup checkout session: %w", err)
	}
	details := stripePaymentDetails(session)
	p.logger.Info("stripe checkout session retrieved",
		zap.String("sessionID", details.SessionID),
		zap.String("orderID", details.OrderID),
		zap.String("status", string(details.Status)))
	return details, nil
}

func stripePaymentDetails(session *stripe.CheckoutSession) PaymentDetails {
	if session == nil {
		return PaymentDetails{Provider: "stripe", Status: StatusPending}
	}
	status := StatusPending
	switch {
	case session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		session.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		status = StatusPaid
	case session.Status == stripe.CheckoutSessionStatusExpired:
		status = StatusFailed
	}
	details := PaymentDetails{
		Provider:  "stripe",
		SessionID: session.ID,
		OrderID:   session.ClientReferenceID,
		Status:    status,
		Amount:    decimal.New(session.AmountTotal, -2),
		Currency:  strings.ToUpper(string(session.Currency)),
	}
	if session.PaymentIntent != nil {
		details.PaymentID = session.PaymentIntent.ID
	}
	return details
}
