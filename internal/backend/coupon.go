package backend

import "context"

type couponPayload struct {
	CartID     string `json:"cart_id"`
	CouponCode string `json:"coupon_code,omitempty"`
}

// ApplyCoupon applies code to the cart and returns the backend's message.
func (c *Client) ApplyCoupon(ctx context.Context, cartID, code string) (string, error) {
	env, err := c.post(ctx, EndpointCouponApply, couponPayload{CartID: cartID, CouponCode: code})
	if err != nil {
		return "", err
	}
	return env.MessageText(), nil
}

// RemoveCoupon clears any coupon applied to the cart.
func (c *Client) RemoveCoupon(ctx context.Context, cartID string) (string, error) {
	env, err := c.post(ctx, EndpointCouponRemove, couponPayload{CartID: cartID})
	if err != nil {
		return "", err
	}
	return env.MessageText(), nil
}
