package backend

import (
	"context"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

// Product is a catalogue entry.
type Product struct {
	ID         ID              `json:"id"`
	Name       string          `json:"name"`
	Slug       string          `json:"slug"`
	Image      string          `json:"image"`
	Price      decimal.Decimal `json:"price"`
	MRP        decimal.Decimal `json:"mrp"`
	SizeType   string          `json:"size_type"`
	BOGO       Flag            `json:"is_bogo"`
	Variants   []Variant       `json:"variants"`
	Wishlisted Flag            `json:"is_wishlisted"`
}

// Variant is a purchasable size/colour of a product.
type Variant struct {
	ID        ID              `json:"id"`
	Size      string          `json:"size"`
	Colour    string          `json:"color"`
	Price     decimal.Decimal `json:"price"`
	IsInStock Flag            `json:"is_in_stock"`
}

// Notification is an inbox message.
type Notification struct {
	ID      ID     `json:"id"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Read    Flag   `json:"is_read"`
}

// Tracking is the courier status for an order.
type Tracking struct {
	AWB     string          `json:"awb_code"`
	Courier string          `json:"courier_name"`
	Status  string          `json:"current_status"`
	Events  []TrackingEvent `json:"shipment_track_activities"`
}

// TrackingEvent is one courier scan.
type TrackingEvent struct {
	Date     string `json:"date"`
	Activity string `json:"activity"`
	Location string `json:"location"`
}

// ListProducts lists products matching query (category, page, sort).
func (c *Client) ListProducts(ctx context.Context, query url.Values) (Page[Product], error) {
	return c.productPage(ctx, EndpointProductList, query)
}

// Search runs a free-text product search.
func (c *Client) Search(ctx context.Context, term string) (Page[Product], error) {
	return c.productPage(ctx, EndpointSearch, url.Values{"q": []string{strings.TrimSpace(term)}})
}

func (c *Client) productPage(ctx context.Context, path string, query url.Values) (Page[Product], error) {
	env, err := c.get(ctx, path, query)
	if err != nil {
		return Page[Product]{}, err
	}
	page, err := decodePage[Product](env)
	if err != nil {
		return Page[Product]{}, &Error{Kind: KindDecode, Endpoint: path, Message: "The store sent an unexpected response.", Err: err}
	}
	return page, nil
}

// GetProduct fetches a single product.
func (c *Client) GetProduct(ctx context.Context, productID string) (Product, error) {
	path := Path(EndpointProductDetail, productID)
	env, err := c.get(ctx, path, nil)
	if err != nil {
		return Product{}, err
	}
	var p Product
	if err := decodeInto(path, env, &p); err != nil {
		return Product{}, err
	}
	return p, nil
}

// ListWishlist returns wishlisted products.
func (c *Client) ListWishlist(ctx context.Context) ([]Product, error) {
	page, err := c.productPage(ctx, EndpointWishlist, nil)
	if err != nil {
		return nil, err
	}
	return page.Results, nil
}

// ToggleWishlist adds or removes a product from the wishlist.
func (c *Client) ToggleWishlist(ctx context.Context, productID string) (string, error) {
	env, err := c.post(ctx, EndpointWishlistToggle, map[string]string{"product_id": productID})
	if err != nil {
		return "", err
	}
	return env.MessageText(), nil
}

// ListNotifications returns the shopper's notifications.
func (c *Client) ListNotifications(ctx context.Context) ([]Notification, error) {
	env, err := c.get(ctx, EndpointNotificationList, nil)
	if err != nil {
		return nil, err
	}
	page, err := decodePage[Notification](env)
	if err != nil {
		return nil, &Error{Kind: KindDecode, Endpoint: EndpointNotificationList, Message: "The store sent an unexpected response.", Err: err}
	}
	return page.Results, nil
}

// TrackShipment fetches courier tracking for an order.
func (c *Client) TrackShipment(ctx context.Context, orderID string) (Tracking, error) {
	path := Path(EndpointShipmentTracking, orderID)
	env, err := c.get(ctx, path, nil)
	if err != nil {
		return Tracking{}, err
	}
	var t Tracking
	if err := decodeInto(path, env, &t); err != nil {
		return Tracking{}, err
	}
	return t, nil
}
