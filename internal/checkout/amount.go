package checkout

import (
	"github.com/shopspring/decimal"

	"github.com/jishnu-pg/yesbuy-storefront/internal/backend"
	"github.com/jishnu-pg/yesbuy-storefront/internal/cart"
)

// amountOrTotal prefers the amount the backend quoted for the gateway and falls back to the
// cart total it last reported.
func amountOrTotal(res backend.PaymentResponse, snap cart.Snapshot) decimal.Decimal {
	if res.Amount.IsPositive() {
		return res.Amount
	}
	return snap.Bill.Total
}
