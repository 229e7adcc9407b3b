package handlers

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jishnu-pg/yesbuy-storefront/internal/backend"
	"github.com/jishnu-pg/yesbuy-storefront/internal/callback"
	"github.com/jishnu-pg/yesbuy-storefront/internal/cart"
	"github.com/jishnu-pg/yesbuy-storefront/internal/checkout"
	"github.com/jishnu-pg/yesbuy-storefront/internal/intent"
	"github.com/jishnu-pg/yesbuy-storefront/internal/payments"
	"github.com/jishnu-pg/yesbuy-storefront/internal/platform/idempotency"
	"github.com/jishnu-pg/yesbuy-storefront/internal/session"
)

// fakeBackend stands in for every backend endpoint the storefront calls.
type fakeBackend struct {
	mu sync.Mutex

	cart     backend.Cart
	nextItem int
	calls    []string

	payment   backend.PaymentResponse
	pickup    backend.PickupResult
	updates   []backend.TransactionUpdate
	tokens    []string
	addresses []backend.Address
	orders    []backend.Order
	accounts  []backend.BankAccount
	content   backend.Content
	returns   []backend.ReturnRequest

	panicOnContent bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		cart:     backend.Cart{CartID: "cart-1"},
		nextItem: 10,
		pickup:   backend.PickupResult{OrderID: "PK-1", StoreRef: "Yesbuy Kochi", Message: "Order placed for pickup"},
		payment:  backend.PaymentResponse{OrderID: "ORD-9", AccessKey: "AK1", Env: "test", Amount: decimal.RequireFromString("1499.00")},
	}
}

func (f *fakeBackend) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeBackend) called(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeBackend) GetCart(ctx context.Context, cartID string) (backend.Cart, error) {
	f.record("get")
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.cart
	c.Items = append([]backend.CartItem(nil), f.cart.Items...)
	return c, nil
}

func (f *fakeBackend) AddCartItem(ctx context.Context, cartID string, in backend.CartItemInput) (backend.AddResult, error) {
	f.record("add:" + cartID)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextItem++
	id := backend.ID(decimal.NewFromInt(int64(f.nextItem)).String())
	f.cart.Items = append(f.cart.Items, backend.CartItem{
		ID: id,
		Products: []backend.ProductDetail{{
			ProductID:      in.ProductID,
			VariantID:      in.VariantID,
			Name:           "Kurta " + string(in.ProductID),
			Price:          decimal.RequireFromString("749.50"),
			SizeType:       backend.SizeTypeClothing,
			AvailableSizes: []string{"S", "M", "L"},
		}},
		SelectedQuantity: in.Quantity,
		SelectedSize:     in.Size,
		IsInStock:        true,
	})
	f.cart.Bill.CouponCode = ""
	f.cart.Bill.Total = decimal.RequireFromString("749.50").Mul(decimal.NewFromInt(int64(len(f.cart.Items))))
	return backend.AddResult{CartID: f.cart.CartID, ItemID: id}, nil
}

func (f *fakeBackend) DeleteCartItem(ctx context.Context, itemID string) error {
	f.record("delete:" + itemID)
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, item := range f.cart.Items {
		if string(item.ID) == itemID {
			f.cart.Items = append(f.cart.Items[:i], f.cart.Items[i+1:]...)
			break
		}
	}
	f.cart.Bill.CouponCode = ""
	return nil
}

func (f *fakeBackend) ApplyCoupon(ctx context.Context, cartID, code string) (string, error) {
	f.record("coupon:" + code)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cart.Bill.CouponCode = code
	return "Coupon applied successfully", nil
}

func (f *fakeBackend) RemoveCoupon(ctx context.Context, cartID string) (string, error) {
	f.record("uncoupon")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cart.Bill.CouponCode = ""
	return "", nil
}

func (f *fakeBackend) AddFreeItem(ctx context.Context, cartID, itemID, variantID string) (string, error) {
	f.record("free:" + itemID)
	return "", nil
}

func (f *fakeBackend) PickupInStore(ctx context.Context, req backend.PickupRequest) (backend.PickupResult, error) {
	f.record("pickup")
	return f.pickup, nil
}

func (f *fakeBackend) CompletePayment(ctx context.Context, req backend.PaymentRequest) (backend.PaymentResponse, error) {
	f.record("payment:" + req.PaymentMethod)
	return f.payment, nil
}

func (f *fakeBackend) UpdateTransactionStatus(ctx context.Context, update backend.TransactionUpdate) error {
	f.record("txn")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, update)
	f.tokens = append(f.tokens, backend.TokenFrom(ctx))
	return nil
}

func (f *fakeBackend) ListAddresses(ctx context.Context) ([]backend.Address, error) {
	f.record("addresses")
	return f.addresses, nil
}

func (f *fakeBackend) ListOrders(ctx context.Context, page int) (backend.Page[backend.Order], error) {
	f.record("orders")
	return backend.Page[backend.Order]{Count: len(f.orders), Results: f.orders}, nil
}

func (f *fakeBackend) GetOrder(ctx context.Context, orderID string) (backend.Order, error) {
	f.record("order:" + orderID)
	for _, o := range f.orders {
		if string(o.ID) == orderID {
			return o, nil
		}
	}
	return backend.Order{}, &backend.Error{Kind: backend.KindHTTP, Status: http.StatusNotFound, Message: "Order not found"}
}

func (f *fakeBackend) TrackShipment(ctx context.Context, orderID string) (backend.Tracking, error) {
	return backend.Tracking{}, &backend.Error{Kind: backend.KindHTTP, Status: http.StatusNotFound}
}

func (f *fakeBackend) RequestReturn(ctx context.Context, orderID string, req backend.ReturnRequest) (string, error) {
	f.record("return:" + orderID)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.returns = append(f.returns, req)
	return "Return request submitted", nil
}

func (f *fakeBackend) RequestExchange(ctx context.Context, orderID string, req backend.ExchangeRequest) (string, error) {
	f.record("exchange:" + orderID)
	return "", nil
}

func (f *fakeBackend) ListBankAccounts(ctx context.Context) ([]backend.BankAccount, error) {
	return f.accounts, nil
}

func (f *fakeBackend) AddBankAccount(ctx context.Context, account backend.BankAccount) (string, error) {
	f.record("bank")
	return "Bank account added", nil
}

func (f *fakeBackend) GetContent(ctx context.Context, kind backend.ContentKind) (backend.Content, error) {
	if f.panicOnContent {
		panic("content exploded")
	}
	return f.content, nil
}

// recordingStore remembers saved intent tokens, standing in for the shopper's browser.
type recordingStore struct {
	*intent.MemoryStore
	mu    sync.Mutex
	saved []string
}

func (s *recordingStore) Save(ctx context.Context, in intent.Intent) error {
	s.mu.Lock()
	s.saved = append(s.saved, in.Token)
	s.mu.Unlock()
	return s.MemoryStore.Save(ctx, in)
}

func (s *recordingStore) lastSaved() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saved) == 0 {
		return ""
	}
	return s.saved[len(s.saved)-1]
}

type harness struct {
	t          *testing.T
	backend    *fakeBackend
	intents    *recordingStore
	reconciler *callback.Reconciler
	router     *chi.Mux
	server     *httptest.Server
	client     *http.Client
	csrf       string
}

func noSleep(context.Context, time.Duration) error { return nil }

// cardProvider stands in for a hosted card checkout.
type cardProvider struct {
	mu       sync.Mutex
	requests []payments.CheckoutSessionRequest
	details  payments.PaymentDetails
}

func (p *cardProvider) CreateCheckoutSession(ctx context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	return payments.CheckoutSession{ID: "cs_1", RedirectURL: "https://checkout.example/cs_1"}, nil
}

func (p *cardProvider) LookupCheckoutSession(ctx context.Context, sessionID string) (payments.PaymentDetails, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d := p.details
	d.SessionID = sessionID
	return d, nil
}

func withCardProvider(t *testing.T, p *cardProvider) func(*Config) {
	return func(cfg *Config) {
		mgr, err := payments.NewManager(map[string]payments.Provider{"stripe": p},
			payments.WithMethodRoutes(map[string]string{"CARD": "stripe"}))
		require.NoError(t, err)
		cfg.Providers = mgr
	}
}

func newHarness(t *testing.T, opts ...func(*Config)) *harness {
	t.Helper()
	fb := newFakeBackend()
	store := &recordingStore{MemoryStore: intent.NewMemoryStore()}

	gateway, err := payments.NewEasebuzz(payments.EasebuzzConfig{
		TestBaseURL: "https://testpay.easebuzz.in",
		ProdBaseURL: "https://pay.easebuzz.in",
	}, store, payments.WithEasebuzzClock(nil, noSleep))
	require.NoError(t, err)
	dispatcher, err := checkout.NewDispatcher(fb, gateway)
	require.NoError(t, err)
	reconciler, err := callback.NewReconciler(store, payments.NewClassifier(), fb)
	require.NoError(t, err)
	sessions, err := session.NewManager(session.Config{HashKey: []byte(strings.Repeat("k", 32))})
	require.NoError(t, err)

	cfg := Config{
		Backend:     fb,
		Carts:       cart.NewService(fb),
		Dispatcher:  dispatcher,
		Reconciler:  reconciler,
		Sessions:    sessions,
		Idempotency: idempotency.NewMemoryStore(),
		ServiceName: "storefront-test",
		SiteURL:     "http://shop.test",
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	router, err := New(cfg)
	require.NoError(t, err)

	srv := httptest.NewServer(router)
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	h := &harness{
		t:          t,
		backend:    fb,
		intents:    store,
		reconciler: reconciler,
		router:     router,
		server:     srv,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = reconciler.Wait(ctx)
	})
	return h
}

func (h *harness) do(req *http.Request) *http.Response {
	h.t.Helper()
	resp, err := h.client.Do(req)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (h *harness) get(path string) (*http.Response, *goquery.Document) {
	h.t.Helper()
	req, err := http.NewRequest(http.MethodGet, h.server.URL+path, nil)
	require.NoError(h.t, err)
	req.Header.Set("Accept", "text/html")
	resp := h.do(req)
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	require.NoError(h.t, err)
	return resp, doc
}

// token returns the session's CSRF token, starting a session if needed.
func (h *harness) token() string {
	h.t.Helper()
	if h.csrf == "" {
		_, doc := h.get("/login")
		h.csrf, _ = doc.Find(`input[name="csrf_token"]`).Attr("value")
		require.NotEmpty(h.t, h.csrf)
	}
	return h.csrf
}

func (h *harness) post(path string, form url.Values) *http.Response {
	h.t.Helper()
	if form == nil {
		form = url.Values{}
	}
	form.Set("csrf_token", h.token())
	req, err := http.NewRequest(http.MethodPost, h.server.URL+path, strings.NewReader(form.Encode()))
	require.NoError(h.t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return h.do(req)
}

func (h *harness) login() {
	h.t.Helper()
	resp := h.post("/login/token", url.Values{"token": {"opaque-token"}})
	require.Equal(h.t, http.StatusSeeOther, resp.StatusCode)
}

func (h *harness) addItem(product string) {
	h.t.Helper()
	resp := h.post("/cart/items", url.Values{"product_id": {product}, "size": {"M"}, "quantity": {"1"}})
	require.Equal(h.t, http.StatusSeeOther, resp.StatusCode)
}

func toasts(doc *goquery.Document) []string {
	var out []string
	doc.Find(".toast").Each(func(_ int, s *goquery.Selection) {
		out = append(out, strings.TrimSpace(s.Text()))
	})
	return out
}

func location(resp *http.Response) string {
	return resp.Header.Get("Location")
}
