package backend

import "context"

// BankAccount is a refund destination for returns.
type BankAccount struct {
	ID            ID     `json:"id"`
	AccountHolder string `json:"account_holder_name"`
	AccountNumber string `json:"account_number"`
	IFSC          string `json:"ifsc_code"`
	BankName      string `json:"bank_name"`
	IsPrimary     Flag   `json:"is_primary"`
}

// MaskedNumber shows only the last four digits.
func (b BankAccount) MaskedNumber() string {
	n := b.AccountNumber
	if len(n) <= 4 {
		return n
	}
	masked := make([]byte, len(n))
	for i := range masked {
		masked[i] = '*'
	}
	copy(masked[len(n)-4:], n[len(n)-4:])
	return string(masked)
}

// ListBankAccounts returns the shopper's refund accounts.
func (c *Client) ListBankAccounts(ctx context.Context) ([]BankAccount, error) {
	env, err := c.get(ctx, EndpointBankAccountList, nil)
	if err != nil {
		return nil, err
	}
	page, err := decodePage[BankAccount](env)
	if err != nil {
		return nil, &Error{Kind: KindDecode, Endpoint: EndpointBankAccountList, Message: "The store sent an unexpected response.", Err: err}
	}
	return page.Results, nil
}

// AddBankAccount registers a refund account.
func (c *Client) AddBankAccount(ctx context.Context, account BankAccount) (string, error) {
	env, err := c.post(ctx, EndpointBankAccountList, account)
	if err != nil {
		return "", err
	}
	return env.MessageText(), nil
}
