// README: Catalog snapshots and fee breakdown used at checkout.
package pricing

import (
	"nelo/internal/types"
)

type Provider struct {
	ID             types.ID    `json:"id"`
	Name           string      `json:"name"`
	Address        string      `json:"address"`
	Position       types.Point `json:"position"`
	IsActive       bool        `json:"is_active"`
	IsOpen         bool        `json:"is_open"`
	MinOrderAmount int64       `json:"min_order_amount"`
}

type Product struct {
	ID          types.ID
	ProviderID  types.ID
	Name        string
	Price       int64
	IsAvailable bool
}

// ItemRequest is one cart line as sent by the customer.
type ItemRequest struct {
	ProductID types.ID `json:"product_id"`
	Quantity  int      `json:"quantity"`
	Options   string   `json:"options,omitempty"`
}

// Line is a priced cart line frozen at checkout.
type Line struct {
	ProductID  types.ID `json:"product_id"`
	Name       string   `json:"name"`
	UnitPrice  int64    `json:"unit_price"`
	Quantity   int      `json:"quantity"`
	Options    string   `json:"options,omitempty"`
	TotalPrice int64    `json:"total_price"`
}

// Quote is the validated cart for one provider.
type Quote struct {
	Provider Provider
	Lines    []Line
	Subtotal int64
}

type Fees struct {
	DeliveryFee int64 `json:"delivery_fee"`
	ServiceFee  int64 `json:"service_fee"`
	Discount    int64 `json:"discount_amount"`
}

// Total is what the customer pays. Client-supplied totals are never used.
func (f Fees) Total(subtotal, tip int64) int64 {
	return subtotal + f.DeliveryFee + f.ServiceFee - f.Discount + tip
}
