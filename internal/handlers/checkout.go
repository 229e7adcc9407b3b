package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jishnu-pg/yesbuy-storefront/internal/backend"
	"github.com/jishnu-pg/yesbuy-storefront/internal/callback"
	"github.com/jishnu-pg/yesbuy-storefront/internal/cart"
	"github.com/jishnu-pg/yesbuy-storefront/internal/checkout"
	"github.com/jishnu-pg/yesbuy-storefront/internal/intent"
	"github.com/jishnu-pg/yesbuy-storefront/internal/payments"
	"github.com/jishnu-pg/yesbuy-storefront/internal/platform/idempotency"
	"github.com/jishnu-pg/yesbuy-storefront/internal/platform/requestctx"
	"github.com/jishnu-pg/yesbuy-storefront/internal/session"
)

// Carry kinds handed from a submission to the page it redirects to.
const (
	carryPickup   = "pickup"
	carryOrder    = "order"
	carryHandoff  = "handoff"
	carryDeferred = "deferred"
)

// cardMethod is the deferred method offered when a hosted card provider is configured.
const cardMethod = "CARD"

type methodOption struct {
	Value string
	Label string
}

type checkoutView struct {
	Cart           cart.Snapshot
	Addresses      []backend.Address
	AddressID      string
	Method         string
	Methods        []methodOption
	IdempotencyKey string
}

type pickupView struct {
	OrderID string `json:"order_id"`
	Store   string `json:"store,omitempty"`
	Message string `json:"message,omitempty"`
}

type orderView struct {
	OrderID       string          `json:"order_id"`
	Amount        decimal.Decimal `json:"amount"`
	TransactionID string          `json:"txnid,omitempty"`
	Method        string          `json:"method,omitempty"`
	Message       string          `json:"message,omitempty"`
}

type payView struct {
	ScriptURL   string          `json:"script"`
	AccessKey   string          `json:"key"`
	Mode        string          `json:"mode"`
	IntentToken string          `json:"intent"`
	OrderID     string          `json:"order_id"`
	Amount      decimal.Decimal `json:"amount"`
	FallbackURL string          `json:"fallback,omitempty"`
	// SuccessStatuses routes the SDK response the same way the callback classifier does.
	SuccessStatuses []string `json:"-"`
}

type deferredView struct {
	Method         string `json:"method"`
	Supported      bool   `json:"-"`
	IdempotencyKey string `json:"-"`
}

func (h *Handlers) methodOptions() []methodOption {
	opts := []methodOption{
		{Value: string(checkout.MethodPickup), Label: "Pick up in store"},
		{Value: string(checkout.MethodCOD), Label: "Cash on delivery"},
		{Value: string(checkout.MethodBank), Label: "Pay online (UPI, cards, net banking)"},
	}
	if h.providers.Supports(cardMethod) {
		opts = append(opts, methodOption{Value: cardMethod, Label: "Credit or debit card"})
	}
	return opts
}

func (h *Handlers) showCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := session.FromContext(ctx)
	cartID := sess.CartID()
	loggedIn := sess.LoggedIn()

	var (
		snap      cart.Snapshot
		addresses []backend.Address
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap, err = h.carts.Load(gctx, cartID)
		return err
	})
	g.Go(func() error {
		if !loggedIn {
			return nil
		}
		list, err := h.backend.ListAddresses(gctx)
		if err != nil {
			// Checkout still works for pickup without addresses.
			requestctx.Logger(ctx).Warn("list addresses failed", zap.Error(err))
			return nil
		}
		addresses = list
		return nil
	})
	if err := g.Wait(); err != nil {
		requestctx.Logger(ctx).Warn("load checkout failed", zap.Error(err))
		flashRedirect(w, r, session.ToneError, cart.UserMessage(err), "/cart")
		return
	}
	if snap.Empty() {
		flashRedirect(w, r, session.ToneInfo, checkout.UserMessage(checkout.ErrNoCart), "/cart")
		return
	}

	addressID := sess.AddressID()
	if addressID == "" {
		for _, a := range addresses {
			if a.IsDefault {
				addressID = string(a.ID)
				sess.SetAddressID(addressID)
				break
			}
		}
	}
	h.views.render(w, r, http.StatusOK, "checkout", newPage(r, "Checkout", checkoutView{
		Cart:           snap,
		Addresses:      addresses,
		AddressID:      addressID,
		Method:         sess.PaymentMethod(),
		Methods:        h.methodOptions(),
		IdempotencyKey: uuid.NewString(),
	}))
}

func (h *Handlers) selectAddress(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PostFormValue("address_id"))
	if id == "" {
		flashRedirect(w, r, session.ToneError, checkout.UserMessage(checkout.ErrAddressRequired), "/checkout")
		return
	}
	session.FromContext(r.Context()).SetAddressID(id)
	redirect(w, r, "/checkout")
}

func (h *Handlers) selectMethod(w http.ResponseWriter, r *http.Request) {
	method := checkout.ParseMethod(r.PostFormValue("payment_method"))
	if method == "" {
		flashRedirect(w, r, session.ToneError, checkout.UserMessage(checkout.ErrNoMethod), "/checkout")
		return
	}
	session.FromContext(r.Context()).SetPaymentMethod(string(method))
	redirect(w, r, "/checkout")
}

// placeOrder dispatches the checkout for the selected method and sends the shopper to the
// page for the outcome.
func (h *Handlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := session.FromContext(ctx)
	if id := strings.TrimSpace(r.PostFormValue("address_id")); id != "" {
		sess.SetAddressID(id)
	}
	if m := strings.TrimSpace(r.PostFormValue("payment_method")); m != "" {
		sess.SetPaymentMethod(string(checkout.ParseMethod(m)))
	}

	snap, err := h.carts.Load(ctx, sess.CartID())
	if err != nil {
		flashRedirect(w, r, session.ToneError, cart.UserMessage(err), "/checkout")
		return
	}
	out, err := h.dispatcher.Dispatch(ctx, checkout.Request{
		Cart:      snap,
		AddressID: sess.AddressID(),
		Method:    checkout.ParseMethod(sess.PaymentMethod()),
	})
	if err != nil {
		target := "/checkout"
		if errors.Is(err, checkout.ErrOutOfStock) || errors.Is(err, checkout.ErrNoCart) {
			target = "/cart"
		}
		flashRedirect(w, r, session.ToneError, checkout.UserMessage(err), target)
		return
	}

	switch out.Kind {
	case checkout.KindPickupConfirmation:
		view := pickupView{OrderID: out.OrderID, Message: out.Message}
		if out.Pickup != nil {
			view.Store = out.Pickup.StoreRef
		}
		h.carry(r, carryPickup, view)
		sess.SetCartID("")
		redirect(w, r, "/checkout/pickup-confirmation")

	case checkout.KindOrderSuccess:
		h.carry(r, carryOrder, orderView{
			OrderID: out.OrderID,
			Amount:  snap.Bill.Total,
			Method:  string(out.Method),
			Message: out.Message,
		})
		sess.SetCartID("")
		redirect(w, r, "/order-success")

	case checkout.KindGateway:
		hand := out.Handoff
		sess.SetIntentToken(hand.IntentToken)
		if hand.Kind == payments.HandoffRedirect {
			http.Redirect(w, r, hand.URL, http.StatusSeeOther)
			return
		}
		h.carry(r, carryHandoff, payView{
			ScriptURL:   hand.ScriptURL,
			AccessKey:   hand.AccessKey,
			Mode:        hand.Mode,
			IntentToken: hand.IntentToken,
			OrderID:     hand.OrderID,
			Amount:      hand.Amount,
			FallbackURL: hand.URL,
		})
		redirect(w, r, "/checkout/pay")

	default:
		h.carry(r, carryDeferred, deferredView{Method: string(out.Method)})
		redirect(w, r, "/checkout/deferred")
	}
}

func (h *Handlers) carry(r *http.Request, kind string, v any) {
	if err := session.FromContext(r.Context()).SetCarry(kind, v); err != nil {
		requestctx.Logger(r.Context()).Warn("carry dropped", zap.String("kind", kind), zap.Error(err))
	}
}

func (h *Handlers) pickupConfirmation(w http.ResponseWriter, r *http.Request) {
	var view pickupView
	if ok, _ := session.FromContext(r.Context()).TakeCarry(carryPickup, &view); !ok {
		redirect(w, r, "/orders")
		return
	}
	h.views.render(w, r, http.StatusOK, "pickup", newPage(r, "Pickup confirmed", view))
}

func (h *Handlers) orderSuccess(w http.ResponseWriter, r *http.Request) {
	var view orderView
	_, _ = session.FromContext(r.Context()).TakeCarry(carryOrder, &view)
	h.views.render(w, r, http.StatusOK, "order_success", newPage(r, "Order confirmed", view))
}

func (h *Handlers) showPay(w http.ResponseWriter, r *http.Request) {
	var view payView
	if ok, _ := session.FromContext(r.Context()).TakeCarry(carryHandoff, &view); !ok {
		flashRedirect(w, r, session.ToneError, "Your payment session has expired. Please try again.", "/checkout")
		return
	}
	view.SuccessStatuses = payments.SuccessStatuses()
	h.views.render(w, r, http.StatusOK, "pay", newPage(r, "Payment", view))
}

func (h *Handlers) showDeferred(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	var view deferredView
	if ok, _ := sess.TakeCarry(carryDeferred, &view); !ok {
		view.Method = sess.PaymentMethod()
	}
	if view.Method == "" {
		redirect(w, r, "/checkout")
		return
	}
	view.Supported = h.providers.Supports(view.Method)
	view.IdempotencyKey = uuid.NewString()
	h.views.render(w, r, http.StatusOK, "deferred", newPage(r, "Payment", view))
}

// startDeferred creates the backend order for a deferred method and opens a hosted checkout
// session for it. The provider returns the shopper to /checkout/confirm.
func (h *Handlers) startDeferred(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := session.FromContext(ctx)
	method := strings.TrimSpace(r.PostFormValue("payment_method"))
	if method == "" {
		method = sess.PaymentMethod()
	}
	if !h.providers.Supports(method) {
		flashRedirect(w, r, session.ToneError, "This payment method isn't available. Please choose another.", "/checkout")
		return
	}
	snap, err := h.carts.Load(ctx, sess.CartID())
	if err != nil {
		flashRedirect(w, r, session.ToneError, cart.UserMessage(err), "/checkout")
		return
	}
	out, err := h.dispatcher.PlaceDeferred(ctx, checkout.Request{Cart: snap, AddressID: sess.AddressID(), Method: checkout.ParseMethod(method)})
	if err != nil {
		target := "/checkout"
		if errors.Is(err, checkout.ErrOutOfStock) || errors.Is(err, checkout.ErrNoCart) {
			target = "/cart"
		}
		flashRedirect(w, r, session.ToneError, checkout.UserMessage(err), target)
		return
	}

	cartID := string(snap.CartID)
	amount := snap.Bill.Total
	if out.Payment != nil && out.Payment.Amount.IsPositive() {
		amount = out.Payment.Amount
	}
	rec, err := h.reconciler.Record(ctx, intent.Intent{
		OrderID:     out.OrderID,
		Amount:      amount,
		CartID:      cartID,
		Method:      method,
		BearerToken: sess.Token(),
	})
	if err != nil {
		requestctx.Logger(ctx).Error("record payment intent failed", zap.String("orderID", out.OrderID), zap.Error(err))
		flashRedirect(w, r, session.ToneError, "We couldn't start the payment. Please try again.", "/checkout")
		return
	}

	confirm := url.Values{intentParam: {rec.Token}, "method": {method}}
	cs, err := h.providers.CreateCheckoutSession(ctx, method, payments.CheckoutSessionRequest{
		OrderID:     out.OrderID,
		Amount:      amount,
		Description: "Yesbuy order " + out.OrderID,
		// Stripe fills in the session id placeholder; it must stay unescaped.
		SuccessURL:     h.siteURL + "/checkout/confirm?" + confirm.Encode() + "&session_id={CHECKOUT_SESSION_ID}",
		CancelURL:      h.siteURL + "/checkout/confirm?" + confirm.Encode() + "&cancelled=1",
		IdempotencyKey: r.PostFormValue(idempotency.FormField),
		Metadata:       map[string]string{"cart_id": cartID, "intent": rec.Token},
	})
	if err != nil {
		h.reconciler.Forget(ctx, rec.Token)
		requestctx.Logger(ctx).Error("create checkout session failed", zap.String("method", method), zap.Error(err))
		flashRedirect(w, r, session.ToneError, "We couldn't start the payment. Please try again.", "/checkout")
		return
	}
	sess.SetIntentToken(rec.Token)
	http.Redirect(w, r, cs.RedirectURL, http.StatusSeeOther)
}

// confirmDeferred settles a hosted checkout once the provider sends the shopper back. The
// outcome comes from the provider itself, never from the query string.
func (h *Handlers) confirmDeferred(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := session.FromContext(ctx)
	query := r.URL.Query()
	token := sess.IntentToken()
	if token == "" {
		token = strings.TrimSpace(query.Get(intentParam))
	}
	method := strings.TrimSpace(query.Get("method"))

	var confirmation callback.Confirmation
	switch sessionID := strings.TrimSpace(query.Get("session_id")); {
	case query.Get("cancelled") != "":
		confirmation.Result = payments.Failure{Code: "usercancelled"}
	case sessionID == "":
		flashRedirect(w, r, session.ToneError, "Your payment session has expired. Please try again from your cart.", "/cart")
		return
	default:
		details, err := h.providers.LookupCheckoutSession(ctx, method, sessionID)
		if err != nil {
			// The intent stays so a reload can confirm once the provider answers.
			requestctx.Logger(ctx).Warn("checkout session lookup failed", zap.String("sessionID", sessionID), zap.Error(err))
			flashRedirect(w, r, session.ToneError, "We couldn't confirm your payment yet. Please check your orders before trying again.", "/cart")
			return
		}
		confirmation = callback.Confirmation{Result: details.Result(), OrderID: details.OrderID, Response: details.Params()}
	}

	decision := h.reconciler.Confirm(ctx, token, confirmation)
	sess.ClearPayment()
	h.showDecision(w, r, decision)
}
