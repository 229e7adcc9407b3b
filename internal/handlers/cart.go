package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jishnu-pg/yesbuy-storefront/internal/backend"
	"github.com/jishnu-pg/yesbuy-storefront/internal/cart"
	"github.com/jishnu-pg/yesbuy-storefront/internal/platform/requestctx"
	"github.com/jishnu-pg/yesbuy-storefront/internal/session"
)

const paymentReturnNotice = "Your cart has been refreshed after the payment attempt."

type cartView struct {
	Cart cart.Snapshot
	BOGO []backend.CartItem
}

func (h *Handlers) showCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := session.FromContext(ctx)
	if sess.TakeRefreshCartOnReturn() {
		sess.AddFlash(session.ToneInfo, paymentReturnNotice)
	}
	snap, err := h.carts.Load(ctx, sess.CartID())
	if err != nil {
		if backend.IsNotFound(err) {
			// The cart became an order or expired server-side.
			sess.SetCartID("")
			snap = cart.Snapshot{}
		} else {
			requestctx.Logger(ctx).Warn("load cart failed", zap.Error(err))
			h.views.renderError(w, r, http.StatusBadGateway, "Cart unavailable", cart.UserMessage(err))
			return
		}
	}
	h.views.render(w, r, http.StatusOK, "cart", newPage(r, "Cart", cartView{Cart: snap, BOGO: snap.BOGOEligible()}))
}

func (h *Handlers) addItem(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	in := backend.CartItemInput{
		ProductID: backend.ID(strings.TrimSpace(r.PostFormValue("product_id"))),
		VariantID: backend.ID(strings.TrimSpace(r.PostFormValue("variant_id"))),
		Size:      strings.TrimSpace(r.PostFormValue("size")),
	}
	if raw := strings.TrimSpace(r.PostFormValue("quantity")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			flashRedirect(w, r, session.ToneError, "Please enter a valid quantity.", "/cart")
			return
		}
		in.Quantity = n
	}
	if raw := strings.TrimSpace(r.PostFormValue("meter")); raw != "" {
		m, err := decimal.NewFromString(raw)
		if err != nil || !m.IsPositive() {
			flashRedirect(w, r, session.ToneError, "Please enter a valid length.", "/cart")
			return
		}
		in.Meter = &m
	}
	out, err := h.carts.AddItem(r.Context(), sess.CartID(), in)
	h.finishMutation(w, r, out, err)
}

func (h *Handlers) changeQuantity(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(strings.TrimSpace(r.PostFormValue("quantity")))
	if err != nil || n < 1 {
		flashRedirect(w, r, session.ToneError, "Please enter a valid quantity.", "/cart")
		return
	}
	sess := session.FromContext(r.Context())
	out, err := h.carts.ChangeQuantity(r.Context(), sess.CartID(), chi.URLParam(r, "itemID"), n)
	h.finishMutation(w, r, out, err)
}

func (h *Handlers) changeSize(w http.ResponseWriter, r *http.Request) {
	size := strings.TrimSpace(r.PostFormValue("size"))
	if size == "" {
		flashRedirect(w, r, session.ToneError, "Please choose a size.", "/cart")
		return
	}
	sess := session.FromContext(r.Context())
	out, err := h.carts.ChangeSize(r.Context(), sess.CartID(), chi.URLParam(r, "itemID"), size)
	h.finishMutation(w, r, out, err)
}

func (h *Handlers) changeMeter(w http.ResponseWriter, r *http.Request) {
	m, err := decimal.NewFromString(strings.TrimSpace(r.PostFormValue("meter")))
	if err != nil || !m.IsPositive() {
		flashRedirect(w, r, session.ToneError, "Please enter a valid length.", "/cart")
		return
	}
	sess := session.FromContext(r.Context())
	out, err := h.carts.ChangeMeter(r.Context(), sess.CartID(), chi.URLParam(r, "itemID"), m)
	h.finishMutation(w, r, out, err)
}

func (h *Handlers) applyCoupon(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	out, err := h.carts.ApplyCoupon(r.Context(), sess.CartID(), r.PostFormValue("code"))
	h.finishMutation(w, r, out, err)
}

func (h *Handlers) removeCoupon(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	out, err := h.carts.RemoveCoupon(r.Context(), sess.CartID())
	h.finishMutation(w, r, out, err)
}

func (h *Handlers) addFreeItem(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	out, err := h.carts.AddFreeItem(r.Context(), sess.CartID(),
		strings.TrimSpace(r.PostFormValue("item_id")), strings.TrimSpace(r.PostFormValue("variant_id")))
	h.finishMutation(w, r, out, err)
}

// finishMutation records the cart id the backend returned, queues the outcome toast and goes
// back to the cart.
func (h *Handlers) finishMutation(w http.ResponseWriter, r *http.Request, out cart.Outcome, err error) {
	sess := session.FromContext(r.Context())
	if id := string(out.Snapshot.CartID); cart.ValidCartID(id) {
		sess.SetCartID(id)
	}
	if err != nil {
		if !errors.Is(err, cart.ErrLineRestored) && !errors.Is(err, cart.ErrLineLost) && cart.Message(err) != "" {
			requestctx.Logger(r.Context()).Info("cart change rejected", zap.Error(err))
		} else {
			requestctx.Logger(r.Context()).Warn("cart change failed", zap.Error(err))
		}
		flashRedirect(w, r, session.ToneError, cart.UserMessage(err), "/cart")
		return
	}
	tone := session.ToneSuccess
	if out.CouponDropped {
		tone = session.ToneInfo
	}
	flashRedirect(w, r, tone, out.Message, "/cart")
}
