package checkout

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/jishnu-pg/yesbuy-storefront/internal/backend"
	"github.com/jishnu-pg/yesbuy-storefront/internal/cart"
	"github.com/jishnu-pg/yesbuy-storefront/internal/payments"
)

type fakeBackend struct {
	pickupCalls   int
	paymentCalls  []backend.PaymentRequest
	pickupResult  backend.PickupResult
	paymentResult backend.PaymentResponse
	err           error
}

func (f *fakeBackend) PickupInStore(ctx context.Context, req backend.PickupRequest) (backend.PickupResult, error) {
	f.pickupCalls++
	return f.pickupResult, f.err
}

func (f *fakeBackend) CompletePayment(ctx context.Context, req backend.PaymentRequest) (backend.PaymentResponse, error) {
	f.paymentCalls = append(f.paymentCalls, req)
	return f.paymentResult, f.err
}

func (f *fakeBackend) networkCalls() int {
	return f.pickupCalls + len(f.paymentCalls)
}

type fakeGateway struct {
	calls   []payments.Request
	handoff payments.Handoff
	err     error
}

func (f *fakeGateway) Begin(ctx context.Context, req payments.Request) (payments.Handoff, error) {
	f.calls = append(f.calls, req)
	return f.handoff, f.err
}

var allMethods = []Method{MethodPickup, MethodCOD, MethodBank, Method("CARD")}

func snapshot(items ...backend.CartItem) cart.Snapshot {
	return cart.Snapshot{Cart: backend.Cart{
		CartID: "cart-1",
		Items:  items,
		Bill:   backend.BillDetails{Total: decimal.RequireFromString("999.00")},
	}}
}

func inStock(id string) backend.CartItem {
	return backend.CartItem{ID: backend.ID(id), IsInStock: true}
}

func newTestDispatcher(t *testing.T, b *fakeBackend, gw *fakeGateway) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(b, gw)
	require.NoError(t, err)
	return d
}

func TestMissingAddressBlocksCODAndBank(t *testing.T) {
	for _, method := range allMethods {
		t.Run(string(method), func(t *testing.T) {
			b := &fakeBackend{
				pickupResult:  backend.PickupResult{OrderID: "P1"},
				paymentResult: backend.PaymentResponse{OrderID: "O1", AccessKey: "AK"},
			}
			gw := &fakeGateway{handoff: payments.Handoff{Kind: payments.HandoffRedirect}}
			d := newTestDispatcher(t, b, gw)

			_, err := d.Dispatch(context.Background(), Request{Cart: snapshot(inStock("1")), Method: method})
			if method.NeedsAddress() {
				require.ErrorIs(t, err, ErrAddressRequired)
				assert.Empty(t, b.paymentCalls)
				assert.Empty(t, gw.calls)
				assert.Equal(t, "Please select a delivery address.", UserMessage(err))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestOutOfStockBlocksEveryMethod(t *testing.T) {
	for _, method := range allMethods {
		t.Run(string(method), func(t *testing.T) {
			b := &fakeBackend{}
			gw := &fakeGateway{}
			d := newTestDispatcher(t, b, gw)

			cartWithGap := snapshot(inStock("1"), backend.CartItem{ID: "2", IsInStock: false})
			_, err := d.Dispatch(context.Background(), Request{Cart: cartWithGap, AddressID: "addr-1", Method: method})
			require.ErrorIs(t, err, ErrOutOfStock)
			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)
			assert.Zero(t, b.networkCalls())
			assert.Empty(t, gw.calls)
		})
	}
}

func TestEmptyCartRejected(t *testing.T) {
	b := &fakeBackend{}
	d := newTestDispatcher(t, b, &fakeGateway{})
	_, err := d.Dispatch(context.Background(), Request{Cart: cart.Snapshot{Cart: backend.Cart{CartID: "0"}}, Method: MethodPickup})
	require.ErrorIs(t, err, ErrNoCart)
	assert.Zero(t, b.networkCalls())
}

func TestPickupReturnsConfirmation(t *testing.T) {
	b := &fakeBackend{pickupResult: backend.PickupResult{OrderID: "P9", Message: "Ready in 2 hours"}}
	d := newTestDispatcher(t, b, &fakeGateway{})

	out, err := d.Dispatch(context.Background(), Request{Cart: snapshot(inStock("1")), Method: ParseMethod("pickup in store")})
	require.NoError(t, err)
	assert.Equal(t, KindPickupConfirmation, out.Kind)
	assert.Equal(t, "P9", out.OrderID)
	require.NotNil(t, out.Pickup)
	assert.Equal(t, "Ready in 2 hours", out.Pickup.Message)
}

func TestCODUsesLastOrderID(t *testing.T) {
	b := &fakeBackend{paymentResult: backend.PaymentResponse{LastOrderID: "L5"}}
	d := newTestDispatcher(t, b, &fakeGateway{})

	out, err := d.Dispatch(context.Background(), Request{Cart: snapshot(inStock("1")), AddressID: "a1", Method: MethodCOD})
	require.NoError(t, err)
	assert.Equal(t, KindOrderSuccess, out.Kind)
	assert.Equal(t, "L5", out.OrderID)
	require.Len(t, b.paymentCalls, 1)
	assert.Equal(t, backend.PaymentRequest{CartID: "cart-1", AddressID: "a1", PaymentMethod: "COD"}, b.paymentCalls[0])
}

func TestCODWithoutOrderIDFails(t *testing.T) {
	b := &fakeBackend{paymentResult: backend.PaymentResponse{}}
	d := newTestDispatcher(t, b, &fakeGateway{})
	_, err := d.Dispatch(context.Background(), Request{Cart: snapshot(inStock("1")), AddressID: "a1", Method: MethodCOD})
	assert.ErrorIs(t, err, ErrNoOrder)
}

func TestBankHandsOffToGateway(t *testing.T) {
	b := &fakeBackend{paymentResult: backend.PaymentResponse{OrderID: "O1", AccessKey: "AK", Env: "production"}}
	gw := &fakeGateway{handoff: payments.Handoff{Kind: payments.HandoffRedirect, URL: "https://pay.easebuzz.in/pay/AK"}}
	d := newTestDispatcher(t, b, gw)

	out, err := d.Dispatch(context.Background(), Request{Cart: snapshot(inStock("1")), AddressID: "a1", Method: MethodBank})
	require.NoError(t, err)
	assert.Equal(t, KindGateway, out.Kind)
	require.Len(t, gw.calls, 1)
	assert.Equal(t, "AK", gw.calls[0].AccessKey)
	assert.Equal(t, "production", gw.calls[0].Env)
	assert.Equal(t, "999", gw.calls[0].Amount.String(), "falls back to the cart total")
	assert.Equal(t, "https://pay.easebuzz.in/pay/AK", out.Handoff.URL)
}

func TestBankGatewayErrorSurfaces(t *testing.T) {
	b := &fakeBackend{paymentResult: backend.PaymentResponse{OrderID: "O1"}}
	gw := &fakeGateway{err: &payments.GatewayError{Code: "configuration_error", Message: "x"}}
	d := newTestDispatcher(t, b, gw)

	_, err := d.Dispatch(context.Background(), Request{Cart: snapshot(inStock("1")), AddressID: "a1", Method: MethodBank})
	require.Error(t, err)
	assert.Contains(t, UserMessage(err), "Online payment is not available")
}

func TestOtherMethodIsDeferred(t *testing.T) {
	b := &fakeBackend{}
	d := newTestDispatcher(t, b, &fakeGateway{})
	out, err := d.Dispatch(context.Background(), Request{Cart: snapshot(inStock("1")), Method: ParseMethod(" Card ")})
	require.NoError(t, err)
	assert.Equal(t, KindDeferred, out.Kind)
	assert.Equal(t, Method("Card"), out.Method)
	assert.Zero(t, b.networkCalls())
}

func TestBackendErrorMessage(t *testing.T) {
	b := &fakeBackend{err: &backend.Error{Kind: backend.KindSoft, Message: "Store closed"}}
	d := newTestDispatcher(t, b, &fakeGateway{})
	_, err := d.Dispatch(context.Background(), Request{Cart: snapshot(inStock("1")), Method: MethodPickup})
	require.Error(t, err)
	assert.Equal(t, "Store closed", UserMessage(err))
	assert.False(t, errors.As(err, new(*ValidationError)))
}

func TestDispatchCountsOutcomes(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	d, err := NewDispatcher(&fakeBackend{}, &fakeGateway{}, WithMeterProvider(mp))
	require.NoError(t, err)

	_, _ = d.Dispatch(context.Background(), Request{Cart: snapshot(inStock("1")), Method: MethodCOD})
	_, _ = d.Dispatch(context.Background(), Request{Cart: snapshot(inStock("1")), Method: "CARD"})

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	require.Len(t, rm.ScopeMetrics[0].Metrics, 1)
	sum, ok := rm.ScopeMetrics[0].Metrics[0].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(2), total)
	assert.Len(t, sum.DataPoints, 2)
}

func TestPlaceDeferredCreatesOrderForMethod(t *testing.T) {
	b := &fakeBackend{paymentResult: backend.PaymentResponse{OrderID: "O-CARD", Message: "Order created"}}
	gw := &fakeGateway{}
	d := newTestDispatcher(t, b, gw)

	out, err := d.PlaceDeferred(context.Background(), Request{Cart: snapshot(inStock("1")), AddressID: "a1", Method: Method("CARD")})
	require.NoError(t, err)
	assert.Equal(t, KindDeferred, out.Kind)
	assert.Equal(t, "O-CARD", out.OrderID)
	require.Len(t, b.paymentCalls, 1)
	assert.Equal(t, backend.PaymentRequest{CartID: "cart-1", AddressID: "a1", PaymentMethod: "CARD"}, b.paymentCalls[0])
	assert.Empty(t, gw.calls)
}

func TestPlaceDeferredValidatesFirst(t *testing.T) {
	cases := []struct {
		name string
		req  Request
		want error
	}{
		{"built-in method", Request{Cart: snapshot(inStock("1")), AddressID: "a1", Method: MethodCOD}, ErrNoMethod},
		{"no address", Request{Cart: snapshot(inStock("1")), Method: Method("CARD")}, ErrAddressRequired},
		{"out of stock", Request{Cart: snapshot(backend.CartItem{ID: "1"}), AddressID: "a1", Method: Method("CARD")}, ErrOutOfStock},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := &fakeBackend{}
			d := newTestDispatcher(t, b, &fakeGateway{})
			_, err := d.PlaceDeferred(context.Background(), tc.req)
			assert.ErrorIs(t, err, tc.want)
			assert.Zero(t, b.networkCalls())
		})
	}

	b := &fakeBackend{}
	d := newTestDispatcher(t, b, &fakeGateway{})
	_, err := d.PlaceDeferred(context.Background(), Request{Cart: snapshot(inStock("1")), AddressID: "a1", Method: Method("CARD")})
	assert.ErrorIs(t, err, ErrNoOrder)
}

func TestBankPassesShopperTokenToGateway(t *testing.T) {
	b := &fakeBackend{paymentResult: backend.PaymentResponse{OrderID: "O1", AccessKey: "AK"}}
	gw := &fakeGateway{handoff: payments.Handoff{Kind: payments.HandoffRedirect}}
	d := newTestDispatcher(t, b, gw)

	ctx := backend.WithToken(context.Background(), "shopper-jwt")
	_, err := d.Dispatch(ctx, Request{Cart: snapshot(inStock("1")), AddressID: "a1", Method: MethodBank})
	require.NoError(t, err)
	require.Len(t, gw.calls, 1)
	assert.Equal(t, "shopper-jwt", gw.calls[0].Token)
}
