// Package cart wraps the backend cart endpoints with the storefront's mutation rules: every
// line change is a delete followed by a re-add, and the applied coupon survives the swap.
package cart

import (
	"strings"

	"github.com/jishnu-pg/yesbuy-storefront/internal/backend"
)

// Snapshot is the cart as last fetched from the backend.
type Snapshot struct {
	backend.Cart
	Coupon string
}

func newSnapshot(c backend.Cart) Snapshot {
	return Snapshot{Cart: c, Coupon: AppliedCoupon(c)}
}

// Empty reports whether the cart has no lines.
func (s Snapshot) Empty() bool { return len(s.Items) == 0 }

// HasOutOfStock reports whether any line is out of stock.
func (s Snapshot) HasOutOfStock() bool {
	for _, item := range s.Items {
		if !item.IsInStock {
			return true
		}
	}
	return false
}

// Item returns the line with the given id.
func (s Snapshot) Item(itemID string) (backend.CartItem, bool) {
	for _, item := range s.Items {
		if string(item.ID) == itemID {
			return item, true
		}
	}
	return backend.CartItem{}, false
}

// BOGOEligible lists paid lines whose product offers a free variant.
func (s Snapshot) BOGOEligible() []backend.CartItem {
	var out []backend.CartItem
	for _, item := range s.Items {
		p := item.Product()
		if bool(p.BOGO) && !bool(item.IsFree) && len(p.FreeVariants) > 0 {
			out = append(out, item)
		}
	}
	return out
}

// AppliedCoupon finds the applied coupon code. Backend versions have placed it at the cart
// root (applied_coupon, coupon_code), in a nested coupon object, or inside bill_details.
func AppliedCoupon(c backend.Cart) string {
	candidates := []string{c.AppliedCoupon, c.CouponCode}
	if c.Coupon != nil {
		candidates = append(candidates, c.Coupon.Code)
	}
	candidates = append(candidates, c.Bill.CouponCode, c.Bill.AppliedCoupon)
	for _, code := range candidates {
		if code = strings.TrimSpace(code); code != "" {
			return code
		}
	}
	return ""
}

// ValidCartID reports whether id names an existing cart rather than the new-cart sentinel.
func ValidCartID(id string) bool {
	id = strings.TrimSpace(id)
	return id != "" && id != backend.NewCartID
}
