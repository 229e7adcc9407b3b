package cart

import "errors"

var (
	// ErrNoCart is returned when the shopper has no cart yet.
	ErrNoCart = errors.New("cart: no active cart")
	// ErrItemNotFound is returned when the line is no longer in the cart.
	ErrItemNotFound = errors.New("cart: item not found")
	// ErrCouponRequired is returned for an empty coupon code.
	ErrCouponRequired = errors.New("cart: coupon code required")
	// ErrInvalidChange is returned when a change does not fit the line's size type.
	ErrInvalidChange = errors.New("cart: invalid change")
	// ErrLineRestored means the re-add failed and the original line was put back.
	ErrLineRestored = errors.New("cart: change failed, original item restored")
	// ErrLineLost means both the re-add and the restore failed; the line is gone.
	ErrLineLost = errors.New("cart: change failed, item removed from cart")
)

// Message maps cart errors to shopper-facing text.
func Message(err error) string {
	switch {
	case errors.Is(err, ErrNoCart):
		return "Your cart is empty."
	case errors.Is(err, ErrItemNotFound):
		return "That item is no longer in your cart."
	case errors.Is(err, ErrCouponRequired):
		return "Please enter a coupon code."
	case errors.Is(err, ErrInvalidChange):
		return "That option isn't available for this item."
	case errors.Is(err, ErrLineRestored):
		return "We couldn't update that item. Your cart has been left as it was."
	case errors.Is(err, ErrLineLost):
		return "We couldn't update that item and it was removed from your cart. Please add it again."
	default:
		return ""
	}
}
