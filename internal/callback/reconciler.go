// Package callback reconciles the shopper's return from the payment gateway with the intent
// recorded before the hand-off.
package callback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jishnu-pg/yesbuy-storefront/internal/backend"
	"github.com/jishnu-pg/yesbuy-storefront/internal/intent"
	"github.com/jishnu-pg/yesbuy-storefront/internal/payments"
	"github.com/jishnu-pg/yesbuy-storefront/internal/platform/requestctx"
)

const (
	// FailureDelay is how long the failure page waits before returning to the cart.
	FailureDelay = time.Second

	defaultUpdateTimeout = 10 * time.Second
)

// Route is the callback endpoint the gateway sent the shopper to.
type Route string

const (
	RouteSuccess  Route = "payment-success"
	RouteFail     Route = "payment-fail"
	RouteCallback Route = "payment-callback"
	// RouteConfirm is the return from a hosted provider checkout.
	RouteConfirm Route = "checkout-confirm"
)

// Kind is the reconciliation verdict.
type Kind string

const (
	KindSuccess       Kind = "success"
	KindFailure       Kind = "failure"
	KindMissingIntent Kind = "missing-intent"
)

// Decision tells the HTTP layer what to show.
type Decision struct {
	Kind          Kind
	OrderID       string
	Amount        decimal.Decimal
	CartID        string
	Method        string
	TransactionID string
	Assumed       bool
	Code          string
	Message       string
	RedirectTo    string
	Delay         time.Duration
	// RefreshCart asks the cart page to reload and explain the failed payment.
	RefreshCart bool
}

// StatusUpdater notifies the backend of a gateway outcome.
type StatusUpdater interface {
	UpdateTransactionStatus(ctx context.Context, update backend.TransactionUpdate) error
}

// Reconciler classifies callbacks and settles their intents.
type Reconciler struct {
	intents       intent.Store
	classifier    *payments.Classifier
	updater       StatusUpdater
	logger        *zap.Logger
	updateTimeout time.Duration
	intentTTL     time.Duration

	wg sync.WaitGroup
}

// Option configures the reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger used by background updates.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithUpdateTimeout bounds each background status update.
func WithUpdateTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.updateTimeout = d
		}
	}
}

// WithIntentTTL bounds intents saved through Record.
func WithIntentTTL(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.intentTTL = d
		}
	}
}

// NewReconciler constructs a reconciler.
func NewReconciler(store intent.Store, classifier *payments.Classifier, updater StatusUpdater, opts ...Option) (*Reconciler, error) {
	if store == nil || classifier == nil || updater == nil {
		return nil, errors.New("callback: intent store, classifier and updater are required")
	}
	r := &Reconciler{
		intents:       store,
		classifier:    classifier,
		updater:       updater,
		logger:        zap.NewNop(),
		updateTimeout: defaultUpdateTimeout,
		intentTTL:     intent.DefaultTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Reconcile settles the intent behind token using the gateway's parameters. The intent is
// claimed and deleted in one step whatever the verdict, so each intent settles once. On
// success the backend is told about the transaction in the background; the shopper does not
// wait for it.
func (r *Reconciler) Reconcile(ctx context.Context, route Route, token string, params payments.Params) Decision {
	return r.settle(ctx, route, token, func(rec intent.Intent) (payments.Result, payments.Params) {
		if rec.Method != "" && rec.Method != backend.PaymentMethodBank {
			// Hosted checkouts settle through their provider, not through gateway parameters.
			requestctx.Logger(ctx).Warn("gateway callback for a hosted checkout intent", zap.String("method", rec.Method))
			return r.classifier.FailureFor("hash_mismatch"), params
		}
		result := r.classifier.Classify(params)
		if s, ok := result.(payments.Success); ok && s.Assumed && route == RouteFail {
			// The gateway chose the failure URL; a bare transaction id does not overrule it.
			result = r.classifier.FailureFor("payment_failed")
		}
		return result, params
	})
}

// Confirmation is a provider's own report of a hosted checkout, fetched by the storefront
// rather than posted by the browser.
type Confirmation struct {
	Result payments.Result
	// OrderID is the order the provider session was created for; it must match the intent.
	OrderID  string
	Response payments.Params
}

// Confirm settles the intent behind token with a provider confirmation. A confirmation for
// another order fails the payment.
func (r *Reconciler) Confirm(ctx context.Context, token string, c Confirmation) Decision {
	return r.settle(ctx, RouteConfirm, token, func(rec intent.Intent) (payments.Result, payments.Params) {
		if c.OrderID != "" && c.OrderID != rec.OrderID {
			requestctx.Logger(ctx).Warn("provider confirmation for another order",
				zap.String("orderID", rec.OrderID), zap.String("confirmedOrderID", c.OrderID))
			return r.classifier.FailureFor("hash_mismatch"), c.Response
		}
		result := c.Result
		if f, ok := result.(payments.Failure); ok && f.Message == "" {
			result = r.classifier.FailureFor(f.Code)
		}
		return result, c.Response
	})
}

// Record saves the intent for a hand-off the storefront starts itself.
func (r *Reconciler) Record(ctx context.Context, in intent.Intent) (intent.Intent, error) {
	rec, err := intent.Prepare(in, time.Now(), r.intentTTL)
	if err != nil {
		return intent.Intent{}, err
	}
	if err := r.intents.Save(ctx, rec); err != nil {
		return intent.Intent{}, err
	}
	return rec, nil
}

// Forget drops an intent whose hand-off never started.
func (r *Reconciler) Forget(ctx context.Context, token string) {
	if err := r.intents.Delete(ctx, token); err != nil {
		requestctx.Logger(ctx).Warn("intent delete failed", zap.String("intent", token), zap.Error(err))
	}
}

type resolveFunc func(rec intent.Intent) (payments.Result, payments.Params)

func (r *Reconciler) settle(ctx context.Context, route Route, token string, resolve resolveFunc) Decision {
	logger := requestctx.Logger(ctx).With(zap.String("route", string(route)))

	rec, err := r.take(ctx, token)
	if err != nil {
		if !errors.Is(err, intent.ErrNotFound) {
			logger.Error("intent lookup failed", zap.Error(err))
		} else {
			logger.Warn("callback without a payment intent")
		}
		failure := r.classifier.FailureFor("intent_missing")
		return Decision{Kind: KindMissingIntent, Code: failure.Code, Message: failure.Message, RedirectTo: "/cart"}
	}
	logger = logger.With(zap.String("orderID", rec.OrderID))
	result, params := resolve(rec)

	base := Decision{OrderID: rec.OrderID, Amount: rec.Amount, CartID: rec.CartID, Method: rec.Method}
	switch res := result.(type) {
	case payments.Success:
		if res.Assumed {
			logger.Warn("payment success assumed from transaction id without status", zap.String("txnid", res.TransactionID))
		}
		r.notify(ctx, rec.BearerToken, backend.TransactionUpdate{
			OrderID:       rec.OrderID,
			TransactionID: res.TransactionID,
			Status:        "success",
			Response:      map[string]string(params),
		})
		base.Kind = KindSuccess
		base.TransactionID = res.TransactionID
		base.Assumed = res.Assumed
		base.RedirectTo = "/order-success"
		logger.Info("payment reconciled", zap.String("txnid", res.TransactionID))
		return base
	case payments.Failure:
		base.Kind = KindFailure
		base.Code = res.Code
		base.Message = res.Message
		base.RedirectTo = "/cart"
		base.Delay = FailureDelay
		base.RefreshCart = true
		logger.Info("payment failed", zap.String("code", res.Code))
		return base
	}
	return base
}

// take claims the intent behind token. A second callback for the same intent finds nothing.
func (r *Reconciler) take(ctx context.Context, token string) (intent.Intent, error) {
	if token == "" {
		return intent.Intent{}, intent.ErrNotFound
	}
	return r.intents.Take(ctx, token)
}

// notify sends the status update on its own goroutine, detached from the request. The
// bearer token recorded with the intent is used when the request carried none.
func (r *Reconciler) notify(ctx context.Context, bearer string, update backend.TransactionUpdate) {
	bg := requestctx.Detached(ctx)
	if backend.TokenFrom(bg) == "" && bearer != "" {
		bg = backend.WithToken(bg, bearer)
	}
	logger := requestctx.LoggerOr(ctx, r.logger)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(bg, r.updateTimeout)
		defer cancel()
		if err := r.updater.UpdateTransactionStatus(ctx, update); err != nil {
			logger.Warn("transaction status update failed",
				zap.String("orderID", update.OrderID),
				zap.String("txnid", update.TransactionID),
				zap.Error(err))
		}
	}()
}

// Wait blocks until background updates finish or ctx ends.
func (r *Reconciler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
