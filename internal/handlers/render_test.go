package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jishnu-pg/yesbuy-storefront/internal/payments"
)

func TestPayPageRoutesOnSDKCallbacks(t *testing.T) {
	v, err := newViews()
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/checkout/pay", nil)
	w := httptest.NewRecorder()
	v.render(w, r, http.StatusOK, "pay", newPage(r, "Payment", payView{
		ScriptURL:       "https://ebz-static.s3.ap-south-1.amazonaws.com/easecheckout/v2.0.0/easebuzz-checkout-v2.min.js",
		AccessKey:       "ak-1",
		Mode:            "test",
		IntentToken:     "tok-1",
		OrderID:         "ORD-1",
		Amount:          decimal.RequireFromString("499"),
		SuccessStatuses: payments.SuccessStatuses(),
	}))
	require.Equal(t, http.StatusOK, w.Code)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(w.Body.String()))
	require.NoError(t, err)
	var inline string
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if _, external := s.Attr("src"); !external {
			inline += s.Text()
		}
	})
	require.NotEmpty(t, inline)

	want, err := json.Marshal(payments.SuccessStatuses())
	require.NoError(t, err)
	assert.Contains(t, inline, "var successStatuses = "+string(want))
	assert.Contains(t, inline, `onSuccess: function (response) { settle("/payment-success", response); }`)
	assert.Contains(t, inline, `onFailure: function (response) { settle("/payment-fail", response); }`)
	assert.Contains(t, inline, "onResponse: function (response) { settle(routeFor(response), response); }")
	assert.NotContains(t, inline, `=== "success"`)
}
