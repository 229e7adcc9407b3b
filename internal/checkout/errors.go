package checkout

import (
	"errors"

	"github.com/jishnu-pg/yesbuy-storefront/internal/backend"
	"github.com/jishnu-pg/yesbuy-storefront/internal/payments"
)

var (
	ErrNoCart          = errors.New("checkout: cart is empty")
	ErrOutOfStock      = errors.New("checkout: cart has out of stock items")
	ErrNoMethod        = errors.New("checkout: payment method required")
	ErrAddressRequired = errors.New("checkout: delivery address required")
	// ErrNoOrder is returned when the backend accepted the payment call without an order id.
	ErrNoOrder = errors.New("checkout: backend returned no order")
)

// ValidationError is a submission rejected before any backend call.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }

func (e *ValidationError) Unwrap() error { return e.Err }

// UserMessage maps dispatch errors to shopper-facing text.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoCart):
		return "Your cart is empty."
	case errors.Is(err, ErrOutOfStock):
		return "Some items in your cart are out of stock. Remove them to continue."
	case errors.Is(err, ErrNoMethod):
		return "Please choose a payment method."
	case errors.Is(err, ErrAddressRequired):
		return "Please select a delivery address."
	case errors.Is(err, ErrNoOrder):
		return "We couldn't confirm your order. Please check your orders before trying again."
	}
	var gerr *payments.GatewayError
	if errors.As(err, &gerr) {
		return payments.DefaultCatalogue().Message(gerr.Code, "")
	}
	return backend.UserMessage(err, "Something went wrong while placing your order. Please try again.")
}
