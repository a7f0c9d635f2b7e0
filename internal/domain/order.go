package domain

import (
	"time"
)

// Platform identifies the storefront an order was synced from.
type Platform string

const (
	PlatformShopify     Platform = "shopify"
	PlatformBigCommerce Platform = "bigcommerce"
	PlatformWooCommerce Platform = "woocommerce"
)

// Order is a platform order synced for a merchant.
// It is immutable apart from re-sync overwrites.
type Order struct {
	ID         string   `json:"id"`
	MerchantID string   `json:"merchantId"`
	ExternalID string   `json:"externalId"`
	Platform   Platform `json:"platform"`

	OrderNumber   string     `json:"orderNumber"`
	CustomerEmail string     `json:"customerEmail"`
	LineItems     []LineItem `json:"lineItems"`
	Total         Money      `json:"total"`
	Currency      string     `json:"currency"`

	// ShippingAddress is where the shopper ships returns from, when known.
	ShippingAddress *Address `json:"shippingAddress,omitempty"`

	OrderedAt time.Time `json:"orderedAt"`
	SyncedAt  time.Time `json:"syncedAt"`
}

// Address is a postal address.
type Address struct {
	Name    string `json:"name"`
	Street1 string `json:"street1"`
	Street2 string `json:"street2,omitempty"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
	Country string `json:"country"`
	Phone   string `json:"phone,omitempty"`
}

// LineItem is one purchased product line on an order.
type LineItem struct {
	ID        string `json:"id"`
	SKU       string `json:"sku"`
	Title     string `json:"title"`
	UnitPrice Money  `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
}

// LineItem looks up a line item by id.
func (o *Order) LineItem(id string) (LineItem, bool) {
	for _, li := range o.LineItems {
		if li.ID == id {
			return li, true
		}
	}
	return LineItem{}, false
}

// DefaultCurrency is applied when a synced order carries no currency.
const DefaultCurrency = "USD"
