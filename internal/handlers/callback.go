package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/jishnu-pg/yesbuy-storefront/internal/backend"
	"github.com/jishnu-pg/yesbuy-storefront/internal/callback"
	"github.com/jishnu-pg/yesbuy-storefront/internal/payments"
	"github.com/jishnu-pg/yesbuy-storefront/internal/platform/requestctx"
	"github.com/jishnu-pg/yesbuy-storefront/internal/session"
)

// intentParam carries the intent token when the gateway returns without our cookie, as a
// cross-site form post does.
const intentParam = "intent"

// bridgedParam marks a callback replayed through the bridge page.
const bridgedParam = "bridged"

type bridgeView struct {
	URL string
}

type failureView struct {
	Code    string
	Message string
	OrderID string
}

// paymentCallback handles the shopper's return from the gateway on route.
func (h *Handlers) paymentCallback(route callback.Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess := session.FromContext(ctx)
		if err := r.ParseForm(); err != nil {
			requestctx.Logger(ctx).Warn("callback form unreadable", zap.Error(err))
		}
		params := payments.ParamsFromValues(r.URL.Query(), r.PostForm)
		bridged := r.URL.Query().Get(bridgedParam) != ""
		delete(params, bridgedParam)
		token := sess.IntentToken()
		if token == "" {
			token = strings.TrimSpace(params.Get(intentParam))
			if token != "" && sess.Fresh() && !bridged {
				h.bridgeCallback(w, r, params)
				return
			}
		}
		delete(params, intentParam)

		decision := h.reconciler.Reconcile(ctx, route, token, params)
		sess.ClearPayment()
		h.showDecision(w, r, decision)
	}
}

// showDecision sends the shopper on from a settled payment.
func (h *Handlers) showDecision(w http.ResponseWriter, r *http.Request, decision callback.Decision) {
	sess := session.FromContext(r.Context())
	switch decision.Kind {
	case callback.KindSuccess:
		if cartID := sess.CartID(); cartID == "" || cartID == decision.CartID {
			sess.SetCartID("")
		}
		method := decision.Method
		if method == "" {
			method = backend.PaymentMethodBank
		}
		h.carry(r, carryOrder, orderView{
			OrderID:       decision.OrderID,
			Amount:        decision.Amount,
			TransactionID: decision.TransactionID,
			Method:        method,
		})
		redirect(w, r, decision.RedirectTo)

	case callback.KindFailure:
		sess.MarkRefreshCartOnReturn()
		// Queued for the cart page; this page only bridges the delay.
		sess.AddFlash(session.ToneError, decision.Message)
		h.views.render(w, r, http.StatusOK, "payment_failed", page{
			Title:    "Payment failed",
			Path:     r.URL.Path,
			CSRF:     sess.CSRFToken(),
			LoggedIn: sess.LoggedIn(),
			Refresh:  &refresh{Seconds: int(decision.Delay.Seconds()), URL: decision.RedirectTo},
			Data:     failureView{Code: decision.Code, Message: decision.Message, OrderID: decision.OrderID},
		})

	default:
		flashRedirect(w, r, session.ToneError, decision.Message, decision.RedirectTo)
	}
}

// bridgeCallback answers a callback that arrived without the session cookie. The browser
// withholds a Lax cookie on a cross-site post, so the parameters are replayed as a same-site
// GET to the same route, which carries the cookie. Nothing is written back here; the intent
// stays untouched until the replay settles it.
func (h *Handlers) bridgeCallback(w http.ResponseWriter, r *http.Request, params payments.Params) {
	sess := session.FromContext(r.Context())
	sess.MarkTransient()

	query := url.Values{}
	for key, value := range params {
		query.Set(key, value)
	}
	query.Set(bridgedParam, "1")
	target := r.URL.Path + "?" + query.Encode()
	requestctx.Logger(r.Context()).Info("callback without session cookie; bridging", zap.String("path", r.URL.Path))

	h.views.render(w, r, http.StatusOK, "payment_bridge", page{
		Title:   "Confirming payment",
		Path:    r.URL.Path,
		Refresh: &refresh{Seconds: 0, URL: target},
		Data:    bridgeView{URL: target},
	})
}
