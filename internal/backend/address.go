package backend

import (
	"context"
	"strings"
)

// Address is a saved delivery address.
type Address struct {
	ID        ID     `json:"id"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Line1     string `json:"address_line_1"`
	Line2     string `json:"address_line_2"`
	Landmark  string `json:"landmark"`
	City      string `json:"city"`
	State     string `json:"state"`
	Pincode   string `json:"pincode"`
	IsDefault Flag   `json:"is_default"`
}

// Summary renders the address on a single line.
func (a Address) Summary() string {
	parts := make([]string, 0, 5)
	for _, p := range []string{a.Line1, a.Line2, a.City, a.State, a.Pincode} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// ListAddresses returns the shopper's saved addresses.
func (c *Client) ListAddresses(ctx context.Context) ([]Address, error) {
	env, err := c.get(ctx, EndpointAddressList, nil)
	if err != nil {
		return nil, err
	}
	page, err := decodePage[Address](env)
	if err != nil {
		return nil, &Error{Kind: KindDecode, Endpoint: EndpointAddressList, Message: "The store sent an unexpected response.", Err: err}
	}
	return page.Results, nil
}
