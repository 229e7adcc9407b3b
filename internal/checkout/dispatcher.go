// Package checkout turns the shopper's chosen payment method into the matching backend calls.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/jishnu-pg/yesbuy-storefront/internal/backend"
	"github.com/jishnu-pg/yesbuy-storefront/internal/cart"
	"github.com/jishnu-pg/yesbuy-storefront/internal/payments"
	"github.com/jishnu-pg/yesbuy-storefront/internal/platform/requestctx"
)

const meterName = "github.com/jishnu-pg/yesbuy-storefront/internal/checkout"

// Method is the payment method the shopper selected.
type Method string

const (
	MethodPickup Method = backend.PaymentMethodPickup
	MethodCOD    Method = backend.PaymentMethodCOD
	MethodBank   Method = backend.PaymentMethodBank
)

// ParseMethod normalises a submitted method. Anything outside the three built-in methods is
// kept as a deferred method name.
func ParseMethod(raw string) Method {
	trimmed := strings.TrimSpace(raw)
	switch upper := strings.ToUpper(trimmed); upper {
	case string(MethodPickup), string(MethodCOD), string(MethodBank):
		return Method(upper)
	}
	return Method(trimmed)
}

// NeedsAddress reports whether the method ships to a delivery address.
func (m Method) NeedsAddress() bool {
	return m == MethodCOD || m == MethodBank
}

// Deferred reports whether the method is handled outside the dispatcher.
func (m Method) Deferred() bool {
	switch m {
	case MethodPickup, MethodCOD, MethodBank:
		return false
	}
	return true
}

// Kind identifies what the shopper sees next.
type Kind string

const (
	KindPickupConfirmation Kind = "pickup-confirmation"
	KindOrderSuccess       Kind = "order-success"
	KindGateway            Kind = "gateway"
	KindDeferred           Kind = "deferred"
)

// Request is a checkout submission.
type Request struct {
	Cart      cart.Snapshot
	AddressID string
	Method    Method
}

// Outcome is the result of a successful dispatch.
type Outcome struct {
	Kind    Kind
	Method  Method
	OrderID string
	Message string
	Pickup  *backend.PickupResult
	Payment *backend.PaymentResponse
	Handoff *payments.Handoff
}

// Backend is the subset of the backend client used for checkout.
type Backend interface {
	PickupInStore(ctx context.Context, req backend.PickupRequest) (backend.PickupResult, error)
	CompletePayment(ctx context.Context, req backend.PaymentRequest) (backend.PaymentResponse, error)
}

// Gateway hands BANK payments to the payment gateway.
type Gateway interface {
	Begin(ctx context.Context, req payments.Request) (payments.Handoff, error)
}

// Dispatcher runs checkout for each payment method.
type Dispatcher struct {
	backend  Backend
	gateway  Gateway
	logger   *zap.Logger
	outcomes metric.Int64Counter
}

// Option configures the dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the fallback logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMeterProvider overrides the global meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(d *Dispatcher) {
		if mp != nil {
			d.outcomes = newCounter(mp)
		}
	}
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(b Backend, gw Gateway, opts ...Option) (*Dispatcher, error) {
	if b == nil || gw == nil {
		return nil, errors.New("checkout: backend and gateway are required")
	}
	d := &Dispatcher{backend: b, gateway: gw, logger: zap.NewNop(), outcomes: newCounter(otel.GetMeterProvider())}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func newCounter(mp metric.MeterProvider) metric.Int64Counter {
	counter, err := mp.Meter(meterName).Int64Counter("storefront.checkout.dispatch",
		metric.WithDescription("Checkout submissions by payment method and result"))
	if err != nil {
		counter, _ = otel.GetMeterProvider().Meter(meterName).Int64Counter("storefront.checkout.dispatch")
	}
	return counter
}

// Validate checks a submission before any backend call.
func Validate(req Request) error {
	if !cart.ValidCartID(string(req.Cart.CartID)) || req.Cart.Empty() {
		return &ValidationError{Err: ErrNoCart}
	}
	if req.Cart.HasOutOfStock() {
		return &ValidationError{Err: ErrOutOfStock}
	}
	if strings.TrimSpace(string(req.Method)) == "" {
		return &ValidationError{Err: ErrNoMethod}
	}
	if req.Method.NeedsAddress() && strings.TrimSpace(req.AddressID) == "" {
		return &ValidationError{Err: ErrAddressRequired}
	}
	return nil
}

// Dispatch validates req and runs the method's request sequence.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Outcome, error) {
	out, err := d.dispatch(ctx, req)
	d.observe(ctx, req, out, err)
	return out, err
}

// PlaceDeferred creates the backend order for a deferred method before the shopper is sent to
// the provider hosting it. Deferred orders ship, so an address is required.
func (d *Dispatcher) PlaceDeferred(ctx context.Context, req Request) (Outcome, error) {
	out, err := d.placeDeferred(ctx, req)
	d.observe(ctx, req, out, err)
	return out, err
}

func (d *Dispatcher) observe(ctx context.Context, req Request, out Outcome, err error) {
	logger := requestctx.LoggerOr(ctx, d.logger)
	logger = logger.With(zap.String("method", string(req.Method)), zap.String("cartID", string(req.Cart.CartID)))

	result := "ok"
	switch {
	case err == nil:
		logger.Info("checkout dispatched", zap.String("outcome", string(out.Kind)), zap.String("orderID", out.OrderID))
	case errors.As(err, new(*ValidationError)):
		result = "invalid"
		logger.Info("checkout rejected", zap.Error(err))
	default:
		result = "error"
		logger.Warn("checkout failed", zap.Error(err))
	}
	d.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", methodLabel(req.Method)),
		attribute.String("result", result),
	))
}

func (d *Dispatcher) placeDeferred(ctx context.Context, req Request) (Outcome, error) {
	if !req.Method.Deferred() {
		return Outcome{}, &ValidationError{Err: ErrNoMethod}
	}
	if err := Validate(req); err != nil {
		return Outcome{}, err
	}
	if strings.TrimSpace(req.AddressID) == "" {
		return Outcome{}, &ValidationError{Err: ErrAddressRequired}
	}
	res, err := d.backend.CompletePayment(ctx, backend.PaymentRequest{
		CartID:        string(req.Cart.CartID),
		AddressID:     req.AddressID,
		PaymentMethod: string(req.Method),
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("complete payment: %w", err)
	}
	if res.Order().Empty() {
		return Outcome{}, ErrNoOrder
	}
	return Outcome{Kind: KindDeferred, Method: req.Method, OrderID: string(res.Order()), Message: res.Message, Payment: &res}, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, req Request) (Outcome, error) {
	if err := Validate(req); err != nil {
		return Outcome{}, err
	}
	cartID := string(req.Cart.CartID)

	switch req.Method {
	case MethodPickup:
		res, err := d.backend.PickupInStore(ctx, backend.PickupRequest{CartID: cartID})
		if err != nil {
			return Outcome{}, fmt.Errorf("pickup in store: %w", err)
		}
		return Outcome{Kind: KindPickupConfirmation, Method: req.Method, OrderID: string(res.OrderID), Message: res.Message, Pickup: &res}, nil

	case MethodCOD:
		res, err := d.backend.CompletePayment(ctx, backend.PaymentRequest{CartID: cartID, AddressID: req.AddressID, PaymentMethod: backend.PaymentMethodCOD})
		if err != nil {
			return Outcome{}, fmt.Errorf("complete payment: %w", err)
		}
		if res.Order().Empty() {
			return Outcome{}, ErrNoOrder
		}
		return Outcome{Kind: KindOrderSuccess, Method: req.Method, OrderID: string(res.Order()), Message: res.Message, Payment: &res}, nil

	case MethodBank:
		res, err := d.backend.CompletePayment(ctx, backend.PaymentRequest{CartID: cartID, AddressID: req.AddressID, PaymentMethod: backend.PaymentMethodBank})
		if err != nil {
			return Outcome{}, fmt.Errorf("complete payment: %w", err)
		}
		if res.Order().Empty() {
			return Outcome{}, ErrNoOrder
		}
		handoff, err := d.gateway.Begin(ctx, payments.Request{
			OrderID:   string(res.Order()),
			Amount:    amountOrTotal(res, req.Cart),
			AccessKey: res.AccessKey,
			Env:       res.Env,
			CartID:    cartID,
			Token:     backend.TokenFrom(ctx),
		})
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Kind: KindGateway, Method: req.Method, OrderID: string(res.Order()), Payment: &res, Handoff: &handoff}, nil

	default:
		return Outcome{Kind: KindDeferred, Method: req.Method}, nil
	}
}

func methodLabel(m Method) string {
	if m.Deferred() {
		return "other"
	}
	return string(m)
}
