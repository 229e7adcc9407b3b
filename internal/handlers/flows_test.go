package handlers

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jishnu-pg/yesbuy-storefront/internal/backend"
	"github.com/jishnu-pg/yesbuy-storefront/internal/payments"
)

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	resp, doc := h.get("/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", doc.Text())
}

func TestAddItemCreatesCartAndRendersLines(t *testing.T) {
	h := newHarness(t)
	h.addItem("p1")
	h.addItem("p2")

	_, doc := h.get("/cart")
	assert.Equal(t, 2, doc.Find(".cart-line").Length())
	assert.Equal(t, "₹1,499", strings.TrimSpace(doc.Find(".bill .total").Text()))
	assert.Equal(t, 1, h.backend.called("add:0"), "first add asks the backend for a new cart")
	assert.Equal(t, 1, h.backend.called("add:cart-1"))
	assert.Contains(t, toasts(doc), "Added to cart")
}

func TestQuantityChangeKeepsCoupon(t *testing.T) {
	h := newHarness(t)
	h.addItem("p1")
	resp := h.post("/cart/coupon", url.Values{"code": {" save10 "}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	resp = h.post("/cart/items/11/quantity", url.Values{"quantity": {"3"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/cart", location(resp))
	assert.Equal(t, 2, h.backend.called("coupon:SAVE10"), "coupon applied once by the shopper and once after the swap")

	_, doc := h.get("/cart")
	assert.Equal(t, "SAVE10", doc.Find(".applied-coupon").Text())
	assert.Contains(t, toasts(doc), "Quantity updated")
}

func TestInvalidQuantityIsRejectedBeforeBackend(t *testing.T) {
	h := newHarness(t)
	h.addItem("p1")
	resp := h.post("/cart/items/11/quantity", url.Values{"quantity": {"zero"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Zero(t, h.backend.called("delete:"))

	_, doc := h.get("/cart")
	assert.Contains(t, toasts(doc), "Please enter a valid quantity.")
}

func TestMutationsRejectForgedPosts(t *testing.T) {
	h := newHarness(t)
	h.token()
	req, err := http.NewRequest(http.MethodPost, h.server.URL+"/cart/coupon", strings.NewReader("code=SAVE10"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp := h.do(req)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, h.backend.called("coupon:"))
}

func TestCheckoutWithoutAddressBlocksCODAndBank(t *testing.T) {
	for _, method := range []string{"COD", "BANK"} {
		t.Run(method, func(t *testing.T) {
			h := newHarness(t)
			h.login()
			h.addItem("p1")
			resp := h.post("/checkout", url.Values{"payment_method": {method}})
			require.Equal(t, http.StatusSeeOther, resp.StatusCode)
			assert.Equal(t, "/checkout", location(resp))
			assert.Zero(t, h.backend.called("payment:"))

			_, doc := h.get("/checkout")
			assert.Contains(t, toasts(doc), "Please select a delivery address.")
		})
	}
}

func TestCheckoutOutOfStockBlocksEveryMethod(t *testing.T) {
	for _, method := range []string{"PICKUP IN STORE", "COD", "BANK", "CARD"} {
		t.Run(method, func(t *testing.T) {
			h := newHarness(t)
			h.addItem("p1")
			h.backend.mu.Lock()
			h.backend.cart.Items[0].IsInStock = false
			h.backend.mu.Unlock()

			resp := h.post("/checkout", url.Values{"payment_method": {method}, "address_id": {"A1"}})
			require.Equal(t, http.StatusSeeOther, resp.StatusCode)
			assert.Equal(t, "/cart", location(resp))
			assert.Zero(t, h.backend.called("pickup"))
			assert.Zero(t, h.backend.called("payment:"))
		})
	}
}

func TestPickupShowsConfirmation(t *testing.T) {
	h := newHarness(t)
	h.addItem("p1")
	resp := h.post("/checkout", url.Values{"payment_method": {"pickup in store"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/checkout/pickup-confirmation", location(resp))

	_, doc := h.get("/checkout/pickup-confirmation")
	assert.Equal(t, "PK-1", doc.Find(".order-id").Text())
	assert.Equal(t, "Order placed for pickup", strings.TrimSpace(doc.Find(".message").Text()))

	// The confirmation is shown once.
	resp, _ = h.get("/checkout/pickup-confirmation")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
}

func TestCODGoesToOrderSuccess(t *testing.T) {
	h := newHarness(t)
	h.login()
	h.addItem("p1")
	resp := h.post("/checkout", url.Values{"payment_method": {"COD"}, "address_id": {"A1"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/order-success", location(resp))

	_, doc := h.get("/order-success")
	assert.Equal(t, "ORD-9", doc.Find(".order-id").Text())
}

func TestDuplicateCheckoutSubmissionIsReplayed(t *testing.T) {
	h := newHarness(t)
	h.addItem("p1")
	form := url.Values{"payment_method": {"PICKUP IN STORE"}, "idempotency_key": {"key-1"}}
	first := h.post("/checkout", form)
	second := h.post("/checkout", form)
	assert.Equal(t, location(first), location(second))
	assert.Equal(t, 1, h.backend.called("pickup"))
}

// startBankPayment places a BANK order and returns the gateway redirect.
func startBankPayment(t *testing.T, h *harness) *http.Response {
	t.Helper()
	h.login()
	h.addItem("p1")
	resp := h.post("/checkout", url.Values{"payment_method": {"BANK"}, "address_id": {"A1"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	return resp
}

func TestBankRedirectsToHostedPageAndReconcilesSuccess(t *testing.T) {
	h := newHarness(t)
	resp := startBankPayment(t, h)
	assert.Equal(t, "https://testpay.easebuzz.in/pay/AK1", location(resp))
	assert.Equal(t, 1, h.intents.Len())

	resp, _ = h.get("/payment-success?status=success&txnid=TXN-77&easepayid=E1")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/order-success", location(resp))
	assert.Zero(t, h.intents.Len())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.reconciler.Wait(ctx))
	h.backend.mu.Lock()
	require.Len(t, h.backend.updates, 1)
	assert.Equal(t, "ORD-9", h.backend.updates[0].OrderID)
	assert.Equal(t, "TXN-77", h.backend.updates[0].TransactionID)
	h.backend.mu.Unlock()

	_, doc := h.get("/order-success")
	assert.Equal(t, "ORD-9", doc.Find(".order-id").Text())
	assert.Contains(t, doc.Find(".txn").Text(), "TXN-77")
	assert.Contains(t, doc.Find(".amount").Text(), "₹1,499")
}

func TestPaymentFailClearsIntentAndRefreshesCart(t *testing.T) {
	h := newHarness(t)
	startBankPayment(t, h)
	require.Equal(t, 1, h.intents.Len())

	resp, doc := h.get("/payment-fail?status=failure&txnid=TXN-5&error_Message=Bank+declined+the+transaction")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, h.intents.Len(), "intent deleted on arrival")
	refresh, ok := doc.Find(`meta[http-equiv="refresh"]`).Attr("content")
	require.True(t, ok)
	assert.Equal(t, "1;url=/cart", refresh)
	failure := strings.TrimSpace(doc.Find(".failure").Text())
	assert.NotEmpty(t, failure)
	assert.Empty(t, toasts(doc), "the toast waits for the cart page")
	assert.Zero(t, h.backend.called("txn"))

	_, doc = h.get("/cart")
	msgs := toasts(doc)
	assert.Contains(t, msgs, failure)
	assert.Contains(t, msgs, paymentReturnNotice, "refresh flag consumed by the cart page")

	_, doc = h.get("/cart")
	assert.NotContains(t, toasts(doc), paymentReturnNotice)

	// The session no longer points at an intent.
	resp, _ = h.get("/payment-fail?status=failure")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/cart", location(resp))
}

func TestFailRouteDoesNotAssumeSuccess(t *testing.T) {
	h := newHarness(t)
	startBankPayment(t, h)
	resp, _ := h.get("/payment-fail?txnid=TXN-1")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, h.backend.called("txn"))
}

// postWithoutCookie sends a cross-site style form post: no session cookie, no CSRF token.
func postWithoutCookie(t *testing.T, h *harness, path string, form url.Values) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, h.server.URL+path, strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := (&http.Client{CheckRedirect: h.client.CheckRedirect}).Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func sessionCookieSet(resp *http.Response) bool {
	for _, c := range resp.Cookies() {
		if c.Name == "YESBUY_SESSION" {
			return true
		}
	}
	return false
}

func bridgeTarget(t *testing.T, resp *http.Response) string {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	require.NoError(t, err)
	target, ok := doc.Find("a.continue").Attr("href")
	require.True(t, ok)
	refresh, ok := doc.Find(`meta[http-equiv="refresh"]`).Attr("content")
	require.True(t, ok)
	assert.Equal(t, "0;url="+target, refresh)
	return target
}

func TestGatewayPostWithoutCookieBridgesToSession(t *testing.T) {
	h := newHarness(t)
	startBankPayment(t, h)
	token := h.intents.lastSaved()
	require.NotEmpty(t, token)

	resp := postWithoutCookie(t, h, "/payment-callback?intent="+token, url.Values{"status": {"success"}, "txnid": {"TXN-9"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, sessionCookieSet(resp), "the shopper's cookie is left alone")
	assert.Equal(t, 1, h.intents.Len(), "nothing settles before the browser returns with its cookie")
	target := bridgeTarget(t, resp)
	assert.True(t, strings.HasPrefix(target, "/payment-callback?"))

	resp, _ = h.get(target)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/order-success", location(resp))
	assert.Zero(t, h.intents.Len())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.reconciler.Wait(ctx))
	h.backend.mu.Lock()
	require.Len(t, h.backend.updates, 1)
	assert.Equal(t, "TXN-9", h.backend.updates[0].TransactionID)
	assert.Equal(t, []string{"opaque-token"}, h.backend.tokens)
	h.backend.mu.Unlock()

	// Still signed in after paying.
	resp, _ = h.get("/orders")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBridgedCallbackWithoutAnySessionUsesIntentToken(t *testing.T) {
	h := newHarness(t)
	startBankPayment(t, h)
	token := h.intents.lastSaved()

	resp := postWithoutCookie(t, h, "/payment-callback?intent="+token, url.Values{"status": {"success"}, "txnid": {"TXN-10"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	target := bridgeTarget(t, resp)

	// A browser that holds no session at all comes back without a cookie again.
	req, err := http.NewRequest(http.MethodGet, h.server.URL+target, nil)
	require.NoError(t, err)
	resp, err = (&http.Client{CheckRedirect: h.client.CheckRedirect}).Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/order-success", location(resp))
	assert.Zero(t, h.intents.Len())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.reconciler.Wait(ctx))
	h.backend.mu.Lock()
	defer h.backend.mu.Unlock()
	assert.Equal(t, []string{"opaque-token"}, h.backend.tokens, "status update authenticated from the intent")
}

// startCardPayment places a CARD order and returns the confirm URL the provider would use.
func startCardPayment(t *testing.T, h *harness, provider *cardProvider) string {
	t.Helper()
	h.login()
	h.addItem("p1")
	resp := h.post("/checkout/address", url.Values{"address_id": {"A1"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	resp = h.post("/checkout/deferred", url.Values{"payment_method": {"CARD"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "https://checkout.example/cs_1", location(resp))
	assert.Equal(t, 1, h.backend.called("payment:CARD"), "the backend order exists before the shopper pays")
	assert.Equal(t, 1, h.intents.Len())

	provider.mu.Lock()
	defer provider.mu.Unlock()
	require.Len(t, provider.requests, 1)
	req := provider.requests[0]
	assert.Equal(t, "ORD-9", req.OrderID)
	assert.True(t, req.Amount.Equal(decimal.RequireFromString("1499.00")))
	assert.True(t, strings.HasSuffix(req.SuccessURL, "&session_id={CHECKOUT_SESSION_ID}"))
	confirm := strings.TrimPrefix(req.SuccessURL, "http://shop.test")
	return strings.Replace(confirm, "{CHECKOUT_SESSION_ID}", "cs_1", 1)
}

func TestCardPaymentConfirmsWithProvider(t *testing.T) {
	provider := &cardProvider{details: payments.PaymentDetails{Status: payments.StatusPaid, PaymentID: "pi_1", OrderID: "ORD-9"}}
	h := newHarness(t, withCardProvider(t, provider))
	confirm := startCardPayment(t, h, provider)

	resp, _ := h.get(confirm)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/order-success", location(resp))
	assert.Zero(t, h.intents.Len())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.reconciler.Wait(ctx))
	h.backend.mu.Lock()
	require.Len(t, h.backend.updates, 1)
	assert.Equal(t, "ORD-9", h.backend.updates[0].OrderID)
	assert.Equal(t, "pi_1", h.backend.updates[0].TransactionID)
	assert.Equal(t, "cs_1", h.backend.updates[0].Response["session_id"])
	h.backend.mu.Unlock()

	_, doc := h.get("/order-success")
	assert.Equal(t, "ORD-9", doc.Find(".order-id").Text())
	assert.Contains(t, doc.Find(".txn").Text(), "pi_1")

	_, doc = h.get("/cart")
	assert.Equal(t, 1, doc.Find(".empty").Length(), "the paid cart is no longer the session's cart")

	// A second return for the same session settles nothing.
	resp, _ = h.get(confirm)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/cart", location(resp))
}

func TestCardConfirmationForAnotherOrderFails(t *testing.T) {
	provider := &cardProvider{details: payments.PaymentDetails{Status: payments.StatusPaid, PaymentID: "pi_2", OrderID: "ORD-OTHER"}}
	h := newHarness(t, withCardProvider(t, provider))
	confirm := startCardPayment(t, h, provider)

	resp, doc := h.get(confirm)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, strings.TrimSpace(doc.Find(".failure").Text()))
	assert.Zero(t, h.intents.Len())
	assert.Zero(t, h.backend.called("txn"))
}

func TestCardPaymentCancelled(t *testing.T) {
	provider := &cardProvider{}
	h := newHarness(t, withCardProvider(t, provider))
	startCardPayment(t, h, provider)

	provider.mu.Lock()
	cancelURL := strings.TrimPrefix(provider.requests[0].CancelURL, "http://shop.test")
	provider.mu.Unlock()

	resp, doc := h.get(cancelURL)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "You cancelled the payment.", strings.TrimSpace(doc.Find(".failure").Text()))
	assert.Zero(t, h.intents.Len())
	assert.Zero(t, h.backend.called("txn"))
}

func TestOrdersRequireLogin(t *testing.T) {
	h := newHarness(t)
	resp, _ := h.get("/orders")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login?next=/orders", location(resp))
}

func TestOrderPagesAndReturnUpload(t *testing.T) {
	h := newHarness(t)
	h.backend.orders = []backend.Order{{
		ID:     "42",
		Status: "Delivered",
		Total:  decimal.RequireFromString("2100"),
		Items: []backend.OrderItem{{
			ID: "7", Name: "Silk saree", Quantity: 1, Price: decimal.RequireFromString("2100"), Returnable: true,
		}},
	}}
	h.login()

	_, doc := h.get("/orders")
	assert.Equal(t, 1, doc.Find(".order").Length())
	assert.Contains(t, doc.Find(".order .total").Text(), "₹2,100")

	_, doc = h.get("/orders/42")
	require.Equal(t, 1, doc.Find("form.return").Length())
	assert.Zero(t, doc.Find(".tracking").Length())

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("csrf_token", h.token()))
	require.NoError(t, mw.WriteField("item_id", "7"))
	require.NoError(t, mw.WriteField("reason", "Damaged"))
	part, err := mw.CreatePart(map[string][]string{
		"Content-Disposition": {`form-data; name="images"; filename="tear.jpg"`},
		"Content-Type":        {"image/jpeg"},
	})
	require.NoError(t, err)
	_, _ = part.Write([]byte("jpeg-bytes"))
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, h.server.URL+"/orders/42/return", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp := h.do(req)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/orders/42", location(resp))

	h.backend.mu.Lock()
	require.Len(t, h.backend.returns, 1)
	ret := h.backend.returns[0]
	h.backend.mu.Unlock()
	assert.Equal(t, "7", ret.ItemID)
	require.Len(t, ret.Images, 1)
	assert.Equal(t, "tear.jpg", ret.Images[0].Filename)
	assert.Equal(t, []byte("jpeg-bytes"), ret.Images[0].Data)

	resp, _ = h.get("/orders/404")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBankAccountValidatesIFSCBeforeCalling(t *testing.T) {
	h := newHarness(t)
	h.login()
	resp := h.post("/account/bank", url.Values{
		"account_holder_name":    {"Anu Thomas"},
		"account_number":         {"123456789012"},
		"confirm_account_number": {"123456789012"},
		"ifsc_code":              {"SBIN00"},
	})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Zero(t, h.backend.called("bank"))
	_, doc := h.get("/account/bank")
	assert.Contains(t, toasts(doc), "IFSC code must be 11 characters.")

	resp = h.post("/account/bank", url.Values{
		"account_holder_name":    {"Anu Thomas"},
		"account_number":         {"123456789012"},
		"confirm_account_number": {"123456789012"},
		"ifsc_code":              {"sbin0001234"},
	})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, 1, h.backend.called("bank"))
}

func TestContentPagesAreSanitized(t *testing.T) {
	h := newHarness(t)
	h.backend.content = backend.Content{
		Title: "Terms",
		Body:  "## Orders\n\nAll sales are final.\n\n<script>alert(1)</script>",
	}
	resp, doc := h.get("/terms")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Orders", doc.Find(".content-page h2").Text())
	assert.Zero(t, doc.Find(".content-page script").Length())
}

func TestPanicsRenderRecoveryPage(t *testing.T) {
	h := newHarness(t)
	h.backend.panicOnContent = true
	resp, doc := h.get("/privacy")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, 1, doc.Find(".error-page").Length())
	assert.Equal(t, 3, doc.Find(".error-page nav a").Length())
}

func TestRoutesListsCheckoutSurface(t *testing.T) {
	h := newHarness(t)
	routes, err := Routes(h.router)
	require.NoError(t, err)
	want := []Route{
		{Method: http.MethodPost, Pattern: "/checkout"},
		{Method: http.MethodGet, Pattern: "/payment-fail"},
		{Method: http.MethodPost, Pattern: "/payment-callback"},
		{Method: http.MethodPost, Pattern: "/cart/items/{itemID}/meter"},
		{Method: http.MethodGet, Pattern: "/faq"},
	}
	for _, r := range want {
		assert.Contains(t, routes, r)
	}
}
