package backend

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Payment methods understood by the complete-payment endpoint.
const (
	PaymentMethodPickup = "PICKUP IN STORE"
	PaymentMethodCOD    = "COD"
	PaymentMethodBank   = "BANK"
)

// PickupRequest reserves the cart for in-store pickup.
type PickupRequest struct {
	CartID string `json:"cart_id"`
}

// PickupResult is the pickup confirmation. Raw keeps the full response for display.
type PickupResult struct {
	OrderID  ID              `json:"order_id"`
	StoreRef string          `json:"store_name"`
	Message  string          `json:"-"`
	Raw      json.RawMessage `json:"-"`
}

// PaymentRequest completes a cart with the chosen payment method.
type PaymentRequest struct {
	CartID        string `json:"cart_id"`
	AddressID     string `json:"address_id,omitempty"`
	PaymentMethod string `json:"payment_method"`
}

// PaymentResponse carries the created order, plus gateway credentials for BANK.
type PaymentResponse struct {
	OrderID     ID              `json:"order_id"`
	LastOrderID ID              `json:"last_order_id"`
	AccessKey   string          `json:"access_key"`
	Env         string          `json:"env"`
	Amount      decimal.Decimal `json:"amount"`
	Message     string          `json:"-"`
}

// Order returns whichever of order_id or last_order_id the backend populated.
func (p PaymentResponse) Order() ID {
	if !p.OrderID.Empty() {
		return p.OrderID
	}
	return p.LastOrderID
}

// TransactionUpdate reports the gateway outcome for an order.
type TransactionUpdate struct {
	OrderID       string            `json:"order_id"`
	TransactionID string            `json:"transaction_id"`
	Status        string            `json:"status"`
	Response      map[string]string `json:"gateway_response,omitempty"`
}

// Order is a placed order.
type Order struct {
	ID            ID              `json:"id"`
	OrderNumber   string          `json:"order_number"`
	Status        string          `json:"status"`
	PaymentMethod string          `json:"payment_method"`
	PaymentStatus string          `json:"payment_status"`
	Total         decimal.Decimal `json:"total_amount"`
	PlacedAt      time.Time       `json:"created_at"`
	Items         []OrderItem     `json:"order_items"`
	Address       *Address        `json:"address"`
}

// OrderItem is one line of an order.
type OrderItem struct {
	ID            ID              `json:"id"`
	Name          string          `json:"product_name"`
	Image         string          `json:"image"`
	Size          string          `json:"size"`
	Quantity      int             `json:"quantity"`
	Meter         decimal.Decimal `json:"meter"`
	Price         decimal.Decimal `json:"price"`
	Returnable    Flag            `json:"is_returnable"`
	Exchangeable  Flag            `json:"is_exchangeable"`
	ReturnStatus  string          `json:"return_status"`
	ExchangeSizes []string        `json:"exchange_sizes"`
}

// ReturnRequest asks for a line to be returned. Images are optional evidence.
type ReturnRequest struct {
	ItemID   string
	Reason   string
	Comments string
	Images   []FilePart
}

// ExchangeRequest asks for a line to be exchanged for another size.
type ExchangeRequest struct {
	ItemID   string
	Reason   string
	NewSize  string
	Comments string
	Images   []FilePart
}

// PickupInStore places a pickup order for the cart.
func (c *Client) PickupInStore(ctx context.Context, req PickupRequest) (PickupResult, error) {
	env, err := c.post(ctx, EndpointOrderPickup, req)
	if err != nil {
		return PickupResult{}, err
	}
	var res PickupResult
	if len(env.Data) > 0 {
		_ = json.Unmarshal(env.Data, &res)
		res.Raw = env.Data
	} else {
		res.Raw = env.Raw()
	}
	res.Message = env.MessageText()
	return res, nil
}

// CompletePayment places the order for COD or requests gateway credentials for BANK.
func (c *Client) CompletePayment(ctx context.Context, req PaymentRequest) (PaymentResponse, error) {
	env, err := c.post(ctx, EndpointOrderComplete, req)
	if err != nil {
		return PaymentResponse{}, err
	}
	var res PaymentResponse
	if err := decodeInto(EndpointOrderComplete, env, &res); err != nil {
		return PaymentResponse{}, err
	}
	res.Message = env.MessageText()
	return res, nil
}

// UpdateTransactionStatus tells the backend how the gateway round trip ended.
func (c *Client) UpdateTransactionStatus(ctx context.Context, update TransactionUpdate) error {
	_, err := c.post(ctx, EndpointOrderTxnStatus, update)
	return err
}

// ListOrders returns one page of the shopper's orders; page numbering starts at 1.
func (c *Client) ListOrders(ctx context.Context, page int) (Page[Order], error) {
	query := url.Values{}
	if page > 1 {
		query.Set("page", strconv.Itoa(page))
	}
	env, err := c.get(ctx, EndpointOrderList, query)
	if err != nil {
		return Page[Order]{}, err
	}
	out, err := decodePage[Order](env)
	if err != nil {
		return Page[Order]{}, &Error{Kind: KindDecode, Endpoint: EndpointOrderList, Message: "The store sent an unexpected response.", Err: err}
	}
	return out, nil
}

// GetOrder fetches one order.
func (c *Client) GetOrder(ctx context.Context, orderID string) (Order, error) {
	path := Path(EndpointOrderDetail, orderID)
	env, err := c.get(ctx, path, nil)
	if err != nil {
		return Order{}, err
	}
	var order Order
	if err := decodeInto(path, env, &order); err != nil {
		return Order{}, err
	}
	return order, nil
}

// RequestReturn submits a return for an order line.
func (c *Client) RequestReturn(ctx context.Context, orderID string, req ReturnRequest) (string, error) {
	body := &Multipart{
		Fields: map[string]string{
			"order_item_id": req.ItemID,
			"reason":        req.Reason,
			"comments":      req.Comments,
		},
		Files: withField(req.Images, "images"),
	}
	env, err := c.post(ctx, Path(EndpointOrderReturn, orderID), body)
	if err != nil {
		return "", err
	}
	return env.MessageText(), nil
}

// RequestExchange submits an exchange for an order line.
func (c *Client) RequestExchange(ctx context.Context, orderID string, req ExchangeRequest) (string, error) {
	body := &Multipart{
		Fields: map[string]string{
			"order_item_id": req.ItemID,
			"reason":        req.Reason,
			"new_size":      req.NewSize,
			"comments":      req.Comments,
		},
		Files: withField(req.Images, "images"),
	}
	env, err := c.post(ctx, Path(EndpointOrderExchange, orderID), body)
	if err != nil {
		return "", err
	}
	return env.MessageText(), nil
}

func withField(files []FilePart, field string) []FilePart {
	out := make([]FilePart, 0, len(files))
	for _, f := range files {
		if f.Field == "" {
			f.Field = field
		}
		out = append(out, f)
	}
	return out
}
