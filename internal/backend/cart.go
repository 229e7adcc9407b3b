package backend

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// NewCartID asks the backend to create a cart when used as the target of AddCartItem.
const NewCartID = "0"

// Size types decide which cart item fields apply.
const (
	SizeTypeClothing = "clothing_size"
	SizeTypeRunning  = "running_material"
	SizeTypeOthers   = "others"
)

// Cart is the server-owned cart snapshot. The applied coupon has been seen in several places
// across backend versions; all of them are kept so callers can look in each.
type Cart struct {
	CartID        ID           `json:"cart_id"`
	Items         []CartItem   `json:"cart_items"`
	Bill          BillDetails  `json:"bill_details"`
	AppliedCoupon string       `json:"applied_coupon"`
	CouponCode    string       `json:"coupon_code"`
	Coupon        *CouponState `json:"coupon"`
}

// CouponState is the nested coupon object some cart responses carry.
type CouponState struct {
	Code    string `json:"code"`
	Applied Flag   `json:"is_applied"`
}

// BillDetails are totals computed by the backend.
type BillDetails struct {
	Subtotal       decimal.Decimal `json:"sub_total"`
	Discount       decimal.Decimal `json:"discount"`
	CouponDiscount decimal.Decimal `json:"coupon_discount"`
	DeliveryCharge decimal.Decimal `json:"delivery_charge"`
	Total          decimal.Decimal `json:"total_amount"`
	CouponCode     string          `json:"coupon_code"`
	AppliedCoupon  string          `json:"applied_coupon"`
}

// CartItem is one cart line.
type CartItem struct {
	ID               ID              `json:"id"`
	Products         []ProductDetail `json:"product_details"`
	SelectedQuantity int             `json:"selected_quantity"`
	SelectedMeter    decimal.Decimal `json:"selected_meter"`
	SelectedSize     string          `json:"selected_size"`
	IsInStock        Flag            `json:"is_in_stock"`
	IsFree           Flag            `json:"is_free"`
}

// Product returns the first product detail, which is the one the line refers to.
func (i CartItem) Product() ProductDetail {
	if len(i.Products) == 0 {
		return ProductDetail{}
	}
	return i.Products[0]
}

// ProductDetail describes the product and variant behind a cart line.
type ProductDetail struct {
	ProductID      ID              `json:"product_id"`
	VariantID      ID              `json:"variant_id"`
	Name           string          `json:"name"`
	Image          string          `json:"image"`
	Price          decimal.Decimal `json:"price"`
	MRP            decimal.Decimal `json:"mrp"`
	SizeType       string          `json:"size_type"`
	AvailableSizes []string        `json:"available_sizes"`
	BOGO           Flag            `json:"is_bogo"`
	FreeVariants   []FreeVariant   `json:"free_variants"`
}

// FreeVariant is a variant offered as the free half of a BOGO pair.
type FreeVariant struct {
	VariantID ID     `json:"variant_id"`
	Name      string `json:"name"`
	Size      string `json:"size"`
	Image     string `json:"image"`
}

// CartItemInput is the payload for adding a line. Quantity and Size apply to clothing and
// other goods; Meter applies to running material.
type CartItemInput struct {
	ProductID ID               `json:"product_id"`
	VariantID ID               `json:"variant_id,omitempty"`
	Quantity  int              `json:"quantity,omitempty"`
	Size      string           `json:"size,omitempty"`
	Meter     *decimal.Decimal `json:"meter,omitempty"`
}

// AddResult is what the backend returns for an added line.
type AddResult struct {
	CartID ID `json:"cart_id"`
	ItemID ID `json:"id"`
}

// GetCart fetches the cart snapshot.
func (c *Client) GetCart(ctx context.Context, cartID string) (Cart, error) {
	path := Path(EndpointCartDetail, cartID)
	env, err := c.get(ctx, path, nil)
	if err != nil {
		return Cart{}, err
	}
	var cart Cart
	if err := decodeInto(path, env, &cart); err != nil {
		return Cart{}, err
	}
	if cart.CartID.Empty() {
		cart.CartID = ID(cartID)
	}
	return cart, nil
}

// AddCartItem adds a line to cartID, or to a new cart when cartID is NewCartID or empty.
func (c *Client) AddCartItem(ctx context.Context, cartID string, in CartItemInput) (AddResult, error) {
	if strings.TrimSpace(cartID) == "" {
		cartID = NewCartID
	}
	path := Path(EndpointCartItemAdd, cartID)
	env, err := c.post(ctx, path, in)
	if err != nil {
		return AddResult{}, err
	}
	var res AddResult
	if len(env.Data) > 0 {
		_ = json.Unmarshal(env.Data, &res)
	}
	if res.CartID.Empty() && cartID != NewCartID {
		res.CartID = ID(cartID)
	}
	return res, nil
}

// DeleteCartItem removes a line by id.
func (c *Client) DeleteCartItem(ctx context.Context, itemID string) error {
	_, err := c.delete(ctx, Path(EndpointCartItemDelete, itemID))
	return err
}

// AddFreeItem attaches the chosen free variant to a BOGO line.
func (c *Client) AddFreeItem(ctx context.Context, cartID, itemID, variantID string) (string, error) {
	env, err := c.post(ctx, Path(EndpointCartFreeItem, cartID), map[string]string{
		"cart_item_id": itemID,
		"variant_id":   variantID,
	})
	if err != nil {
		return "", err
	}
	return env.MessageText(), nil
}
