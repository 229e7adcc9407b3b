// Package handlers serves the storefront's HTML pages: cart, checkout, payment callbacks,
// orders and account screens.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/jishnu-pg/yesbuy-storefront/internal/backend"
	"github.com/jishnu-pg/yesbuy-storefront/internal/callback"
	"github.com/jishnu-pg/yesbuy-storefront/internal/cart"
	"github.com/jishnu-pg/yesbuy-storefront/internal/checkout"
	"github.com/jishnu-pg/yesbuy-storefront/internal/content"
	"github.com/jishnu-pg/yesbuy-storefront/internal/payments"
	"github.com/jishnu-pg/yesbuy-storefront/internal/platform/idempotency"
	"github.com/jishnu-pg/yesbuy-storefront/internal/platform/observability"
	"github.com/jishnu-pg/yesbuy-storefront/internal/session"
)

const defaultRequestTimeout = 30 * time.Second

// Backend is the part of the backend API the pages read directly.
type Backend interface {
	ListAddresses(ctx context.Context) ([]backend.Address, error)
	ListOrders(ctx context.Context, page int) (backend.Page[backend.Order], error)
	GetOrder(ctx context.Context, orderID string) (backend.Order, error)
	TrackShipment(ctx context.Context, orderID string) (backend.Tracking, error)
	RequestReturn(ctx context.Context, orderID string, req backend.ReturnRequest) (string, error)
	RequestExchange(ctx context.Context, orderID string, req backend.ExchangeRequest) (string, error)
	ListBankAccounts(ctx context.Context) ([]backend.BankAccount, error)
	AddBankAccount(ctx context.Context, account backend.BankAccount) (string, error)
	GetContent(ctx context.Context, kind backend.ContentKind) (backend.Content, error)
}

// Config wires the storefront's dependencies into the router.
type Config struct {
	Backend    Backend
	Carts      *cart.Service
	Dispatcher *checkout.Dispatcher
	Reconciler *callback.Reconciler
	// Providers hosts deferred payment methods; nil disables them.
	Providers   *payments.Manager
	Sessions    *session.Manager
	Idempotency idempotency.Store
	// IdempotencyTTL bounds how long a completed checkout submission is replayed.
	IdempotencyTTL time.Duration
	Content        *content.Renderer
	Logger         *zap.Logger
	ServiceName    string
	// SiteURL is the public origin used in provider return URLs.
	SiteURL        string
	RequestTimeout time.Duration
}

// Handlers holds the page handlers.
type Handlers struct {
	backend    Backend
	carts      *cart.Service
	dispatcher *checkout.Dispatcher
	reconciler *callback.Reconciler
	providers  *payments.Manager
	content    *content.Renderer
	views      *views
	siteURL    string
}

// New builds the storefront router.
func New(cfg Config) (*chi.Mux, error) {
	if cfg.Backend == nil || cfg.Carts == nil || cfg.Dispatcher == nil || cfg.Reconciler == nil || cfg.Sessions == nil {
		return nil, errors.New("handlers: backend, cart service, dispatcher, reconciler and sessions are required")
	}
	v, err := newViews()
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	renderer := cfg.Content
	if renderer == nil {
		renderer = content.NewRenderer()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	h := &Handlers{
		backend:    cfg.Backend,
		carts:      cfg.Carts,
		dispatcher: cfg.Dispatcher,
		reconciler: cfg.Reconciler,
		providers:  cfg.Providers,
		content:    renderer,
		views:      v,
		siteURL:    strings.TrimRight(cfg.SiteURL, "/"),
	}

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(observability.TraceMiddleware(cfg.ServiceName))
	router.Use(observability.InjectLoggerMiddleware(logger))
	router.Use(observability.RequestLoggerMiddleware())
	router.Use(observability.RecoveryMiddleware(logger, h.crash))
	router.Use(chimw.Compress(5))
	router.Use(chimw.Timeout(timeout))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	submissions := idempotency.Middleware(cfg.Idempotency,
		idempotency.WithTTL(cfg.IdempotencyTTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger)),
		idempotency.WithRequester(func(r *http.Request) string {
			return session.FromContext(r.Context()).ID()
		}),
		idempotency.WithConflictHandler(http.HandlerFunc(h.submissionInFlight)),
	)
	csrf := session.CSRF()

	router.Group(func(r chi.Router) {
		r.Use(cfg.Sessions.Middleware)
		r.Use(chimw.NoCache)

		// The gateway posts back without our CSRF token.
		r.Get("/payment-success", h.paymentCallback(callback.RouteSuccess))
		r.Post("/payment-success", h.paymentCallback(callback.RouteSuccess))
		r.Get("/payment-fail", h.paymentCallback(callback.RouteFail))
		r.Post("/payment-fail", h.paymentCallback(callback.RouteFail))
		r.Get("/payment-callback", h.paymentCallback(callback.RouteCallback))
		r.Post("/payment-callback", h.paymentCallback(callback.RouteCallback))

		// The idempotency guard reads the raw form body, so it runs before CSRF parses it.
		r.With(submissions, csrf).Post("/checkout", h.placeOrder)
		r.With(submissions, csrf).Post("/checkout/deferred", h.startDeferred)

		r.Group(func(r chi.Router) {
			r.Use(csrf)

			r.Get("/cart", h.showCart)
			r.Post("/cart/items", h.addItem)
			r.Post("/cart/items/{itemID}/quantity", h.changeQuantity)
			r.Post("/cart/items/{itemID}/size", h.changeSize)
			r.Post("/cart/items/{itemID}/meter", h.changeMeter)
			r.Post("/cart/coupon", h.applyCoupon)
			r.Post("/cart/coupon/remove", h.removeCoupon)
			r.Post("/cart/bogo", h.addFreeItem)

			r.Get("/checkout", h.showCheckout)
			r.Post("/checkout/address", h.selectAddress)
			r.Post("/checkout/method", h.selectMethod)
			r.Get("/checkout/pickup-confirmation", h.pickupConfirmation)
			r.Get("/checkout/deferred", h.showDeferred)
			r.Get("/checkout/pay", h.showPay)
			r.Get("/checkout/confirm", h.confirmDeferred)
			r.Get("/order-success", h.orderSuccess)

			r.Get("/terms", h.showContent(backend.ContentTerms, "Terms & Conditions"))
			r.Get("/privacy", h.showContent(backend.ContentPrivacy, "Privacy Policy"))
			r.Get("/faq", h.showContent(backend.ContentFAQ, "FAQ"))

			r.Get("/login", h.showLogin)
			r.Post("/login/token", h.login)
			r.Post("/logout", h.logout)

			r.Group(func(r chi.Router) {
				r.Use(requireLogin)
				r.Get("/orders", h.listOrders)
				r.Get("/orders/{orderID}", h.showOrder)
				r.Post("/orders/{orderID}/return", h.requestReturn)
				r.Post("/orders/{orderID}/exchange", h.requestExchange)
				r.Get("/account/bank", h.showBank)
				r.Post("/account/bank", h.addBank)
			})
		})

		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			h.views.renderError(w, r, http.StatusNotFound, "Page not found", "We couldn't find that page.")
		})
	})

	return router, nil
}

// Route is one entry of the route table.
type Route struct {
	Method  string
	Pattern string
}

// Routes lists the registered routes, sorted by pattern then method.
func Routes(r chi.Routes) ([]Route, error) {
	var out []Route
	err := chi.Walk(r, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		out = append(out, Route{Method: method, Pattern: route})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pattern != out[j].Pattern {
			return out[i].Pattern < out[j].Pattern
		}
		return out[i].Method < out[j].Method
	})
	return out, nil
}

// requireLogin sends signed-out shoppers to the sign-in page.
func requireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !session.FromContext(r.Context()).LoggedIn() {
			target := "/login?next=" + r.URL.EscapedPath()
			flashRedirect(w, r, session.ToneInfo, "Please sign in to continue.", target)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handlers) crash(w http.ResponseWriter, r *http.Request) {
	h.views.renderError(w, r, http.StatusInternalServerError, "Something went wrong", "An unexpected error occurred. You can go home, reload the page or try again.")
}

func (h *Handlers) submissionInFlight(w http.ResponseWriter, r *http.Request) {
	h.views.renderError(w, r, http.StatusConflict, "Order in progress", "Your order is already being placed. Please wait a moment and check your orders.")
}
