package storefront

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// StatusPaid is the only financial status the bridge acts on.
const StatusPaid = "paid"

// Customer holds the optional contact details attached to an order.
type Customer struct {
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Order is the subset of the storefront order consumed by the bridge.
type Order struct {
	ID              string    `json:"id"`
	TotalPrice      string    `json:"total_price"`
	Currency        string    `json:"currency"`
	FinancialStatus string    `json:"financial_status"`
	Customer        *Customer `json:"customer,omitempty"`
}

// IsPaid reports whether the storefront already considers the order paid.
func (o Order) IsPaid() bool {
	return strings.EqualFold(strings.TrimSpace(o.FinancialStatus), StatusPaid)
}

// CustomerEmail returns the contact email or an empty string.
func (o Order) CustomerEmail() string {
	if o.Customer == nil {
		return ""
	}
	return o.Customer.Email
}

// CustomerPhone returns the contact phone or an empty string.
func (o Order) CustomerPhone() string {
	if o.Customer == nil {
		return ""
	}
	return o.Customer.Phone
}

// UnmarshalJSON accepts numeric or string identifiers and prices.
func (o *Order) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID              json.RawMessage `json:"id"`
		TotalPrice      json.RawMessage `json:"total_price"`
		Currency        string          `json:"currency"`
		FinancialStatus string          `json:"financial_status"`
		Customer        *Customer       `json:"customer"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	id, err := scalarString(raw.ID)
	if err != nil {
		return fmt.Errorf("order id: %w", err)
	}
	price, err := scalarString(raw.TotalPrice)
	if err != nil {
		return fmt.Errorf("order total_price: %w", err)
	}
	*o = Order{
		ID:              id,
		TotalPrice:      price,
		Currency:        raw.Currency,
		FinancialStatus: raw.FinancialStatus,
		Customer:        raw.Customer,
	}
	return nil
}

// scalarString renders a JSON string or number literal verbatim.
func scalarString(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return "", fmt.Errorf("expected string or number, got %s", trimmed)
	}
	return n.String(), nil
}

// Transaction is the record submitted to transition an order to paid.
type Transaction struct {
	Kind          string `json:"kind"`
	Status        string `json:"status"`
	Gateway       string `json:"gateway"`
	Authorization string `json:"authorization"`
	Amount        string `json:"amount"`
}

// SaleTransaction builds a successful sale record for the given gateway.
func SaleTransaction(gateway, authorization, amount string) Transaction {
	return Transaction{
		Kind:          "sale",
		Status:        "success",
		Gateway:       gateway,
		Authorization: authorization,
		Amount:        amount,
	}
}
