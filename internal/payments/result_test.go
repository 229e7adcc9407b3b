package payments

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPaymentSuccess(t *testing.T) {
	cases := []struct {
		name   string
		params Params
		want   bool
	}{
		{"vendor spelling mixed case", Params{"status": "Payment_Successfull"}, true},
		{"success padded", Params{"status": "  SUCCESS "}, true},
		{"numeric flag", Params{"payment_status": "1"}, true},
		{"boolean flag", Params{"status": "true"}, true},
		{"captured", Params{"txn_status": "captured"}, true},
		{"failure", Params{"status": "failure"}, false},
		{"failure with txn id", Params{"status": "failure", "txnid": "123"}, false},
		{"no status txn id only", Params{"txnid": "123"}, true},
		{"no status easepayid only", Params{"easepayid": "E99"}, true},
		{"no status error and txn id", Params{"txnid": "123", "error": "bank declined"}, false},
		{"nothing at all", Params{}, false},
		{"case-insensitive key", Params{"Status": "success"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsPaymentSuccess(tc.params))
		})
	}
}

func TestSuccessStatusesMatchClassifier(t *testing.T) {
	statuses := SuccessStatuses()
	require.NotEmpty(t, statuses)
	assert.IsNonDecreasing(t, statuses)
	for _, status := range statuses {
		assert.True(t, IsPaymentSuccess(Params{"status": status}), status)
	}
	assert.NotContains(t, statuses, "failure")
}

func TestExtractTransactionIDKeyOrder(t *testing.T) {
	assert.Equal(t, "T1", ExtractTransactionID(Params{"id": "X", "txnid": "T1"}))
	assert.Equal(t, "E1", ExtractTransactionID(Params{"id": "X", "easepayid": "E1"}))
	assert.Equal(t, "P1", ExtractTransactionID(Params{"payment_id": "P1"}))
	assert.Equal(t, "X", ExtractTransactionID(Params{"id": "X"}))
	assert.Empty(t, ExtractTransactionID(Params{"txnid": "  "}))
}

func TestParamsFromValuesPrefersFirstSource(t *testing.T) {
	query := url.Values{"status": {"success"}, "txnid": {"Q"}}
	form := url.Values{"txnid": {"F"}, "amount": {"10.00"}}
	p := ParamsFromValues(query, form)
	assert.Equal(t, "Q", p["txnid"])
	assert.Equal(t, "10.00", p["amount"])
	assert.Equal(t, "success", p["status"])
}

func TestClassifierSuccessAndAssumed(t *testing.T) {
	c := NewClassifier()

	res := c.Classify(Params{"status": "success", "txnid": "T1"})
	require.IsType(t, Success{}, res)
	assert.Equal(t, Success{TransactionID: "T1"}, res)

	res = c.Classify(Params{"txnid": "T2"})
	assert.Equal(t, Success{TransactionID: "T2", Assumed: true}, res)
}

func TestClassifierStrictRejectsAmbiguous(t *testing.T) {
	c := NewClassifier(WithStrictStatus(true))
	res := c.Classify(Params{"txnid": "T2"})
	failure, ok := res.(Failure)
	require.True(t, ok)
	assert.Equal(t, "ambiguous_response", failure.Code)

	assert.IsType(t, Success{}, c.Classify(Params{"status": "success", "txnid": "T2"}))
}

func TestClassifierFailureMessages(t *testing.T) {
	c := NewClassifier()
	cases := []struct {
		params Params
		code   string
		msg    string
	}{
		{Params{"status": "userCancelled"}, "usercancelled", "You cancelled the payment."},
		{Params{"status": "failure", "error_Message": "Transaction declined by issuer"}, "failure", "Payment failed. Please try again or choose another payment method."},
		{Params{"status": "dropped"}, "dropped", "The payment was not completed."},
		{Params{"error": "Insufficient balance in account"}, "payment_failed", "Payment failed. Please try again or choose another payment method."},
		{Params{"status": "weird", "error_Message": "Insufficient balance"}, "weird", "Your account has insufficient funds."},
		{Params{"status": "weird", "error_Message": "Card holder name mismatch"}, "weird", "Card holder name mismatch"},
		{Params{"status": "weird"}, "weird", "Payment failed. Please try again or choose another payment method."},
	}
	for _, tc := range cases {
		res := c.Classify(tc.params)
		failure, ok := res.(Failure)
		require.True(t, ok, "%v", tc.params)
		assert.Equal(t, tc.code, failure.Code, "%v", tc.params)
		assert.Equal(t, tc.msg, failure.Message, "%v", tc.params)
	}
}

func TestClassifierVerifiesHash(t *testing.T) {
	p := Params{"status": "success", "txnid": "T9", "amount": "100.00", "email": "a@b.c", "firstname": "A", "productinfo": "Order"}
	p["hash"] = ResponseHash(p, "KEY", "SALT")

	c := NewClassifier(WithHashVerification("KEY", "SALT"))
	assert.Equal(t, Success{TransactionID: "T9"}, c.Classify(p))

	p["amount"] = "1.00"
	res := c.Classify(p)
	failure, ok := res.(Failure)
	require.True(t, ok)
	assert.Equal(t, "hash_mismatch", failure.Code)

	delete(p, "hash")
	res = c.Classify(p)
	failure, ok = res.(Failure)
	require.True(t, ok)
	assert.Equal(t, "hash_missing", failure.Code)
	assert.NotEmpty(t, failure.Message)
}

func TestClassifierRejectsUnsignedCallbacks(t *testing.T) {
	c := NewClassifier(WithHashVerification("KEY", "SALT"))
	for _, p := range []Params{
		{"status": "success", "txnid": "FORGED-1"},
		{"txnid": "FORGED-2"},
	} {
		failure, ok := c.Classify(p).(Failure)
		require.True(t, ok, "%v", p)
		assert.Equal(t, "hash_missing", failure.Code)
	}

	unsigned := NewClassifier()
	assert.Equal(t, Success{TransactionID: "FORGED-1"}, unsigned.Classify(Params{"status": "success", "txnid": "FORGED-1"}))
}

func TestCatalogueParse(t *testing.T) {
	c, err := ParseCatalogue([]byte("codes:\n  ABC: custom\nmatches:\n  - contains: FOO\n    message: foo happened\n"))
	require.NoError(t, err)
	assert.Equal(t, "custom", c.Message("abc", ""))
	assert.Equal(t, "foo happened", c.Message("", "some foo here"))
	assert.Equal(t, "Payment failed. Please try again.", c.Message("", ""))

	_, err = ParseCatalogue([]byte("codes: [not a map"))
	assert.Error(t, err)
}
