package payments

import (
	"net/url"
	"sort"
	"strings"
)

// Result is the classified outcome of a gateway callback. It is either Success or Failure.
type Result interface {
	isResult()
}

// Success is a payment the gateway reported as completed.
type Success struct {
	TransactionID string
	// Assumed is set when the callback carried no status field and success was inferred from
	// the presence of a transaction id.
	Assumed bool
}

// Failure is a payment that did not complete.
type Failure struct {
	Code    string
	Message string
}

func (Success) isResult() {}
func (Failure) isResult() {}

// Params is a gateway callback flattened to one value per key.
type Params map[string]string

// ParamsFromValues flattens query or form values, keeping the first value of each key.
// Keys are matched case-insensitively by the accessors.
func ParamsFromValues(values ...url.Values) Params {
	out := Params{}
	for _, v := range values {
		for key, vals := range v {
			if len(vals) == 0 {
				continue
			}
			if _, exists := out[key]; exists {
				continue
			}
			out[key] = vals[0]
		}
	}
	return out
}

// Get returns the first non-empty value among keys, matched without regard to case.
func (p Params) Get(keys ...string) string {
	for _, want := range keys {
		if v, ok := p[want]; ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		for key, v := range p {
			if strings.EqualFold(key, want) && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
	}
	return ""
}

var (
	statusKeys        = []string{"status", "payment_status", "txn_status", "transaction_status"}
	errorKeys         = []string{"error", "error_message", "errorMessage", "error_code"}
	transactionIDKeys = []string{"txnid", "easepayid", "transaction_id", "txn_id", "payment_id", "id"}
	successStatuses   = map[string]struct{}{
		"payment_successfull": {},
		"success":             {},
		"successful":          {},
		"completed":           {},
		"captured":            {},
		"paid":                {},
		"1":                   {},
		"true":                {},
	}
)

// ExtractTransactionID returns the gateway transaction id under any of the keys gateways use.
func ExtractTransactionID(p Params) string {
	return p.Get(transactionIDKeys...)
}

// IsPaymentSuccess reports whether callback parameters describe a successful payment. An
// explicit status decides on its own. Without one, the payment counts as successful when no
// error is reported and a transaction id is present.
func IsPaymentSuccess(p Params) bool {
	if status := p.Get(statusKeys...); status != "" {
		_, ok := successStatuses[strings.ToLower(status)]
		return ok
	}
	if p.Get(errorKeys...) != "" {
		return false
	}
	return ExtractTransactionID(p) != ""
}

// SuccessStatuses lists the lower-cased status values counted as a successful payment.
func SuccessStatuses() []string {
	out := make([]string, 0, len(successStatuses))
	for status := range successStatuses {
		out = append(out, status)
	}
	sort.Strings(out)
	return out
}

// statusPresent reports whether the callback carried an explicit status.
func statusPresent(p Params) bool {
	return p.Get(statusKeys...) != ""
}
