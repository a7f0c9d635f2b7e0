// Package shipping issues prepaid return labels through a carrier API.
package shipping

import (
	"context"
	"errors"
	"strings"

	"github.com/opensource-finance/returnguard/internal/domain"
)

// Label returned when no carrier API key is configured.
const (
	TestLabelURL       = "https://www.w3.org/WAI/ER/tests/xhtml/testfiles/resources/pdf/dummy.pdf"
	TestTrackingNumber = "TEST-TRACKING-123"
)

var (
	// ErrNoRates is returned when the carrier quotes no rate for a shipment.
	ErrNoRates = errors.New("carrier returned no rates")

	// ErrInvalidLabel is returned when a purchased shipment carries no label.
	ErrInvalidLabel = errors.New("carrier returned no label")
)

// LabelRequest describes the return shipment to buy.
type LabelRequest struct {
	MerchantID    string
	ReturnID      string
	OrderNumber   string
	CustomerEmail string

	// From is the shopper's address. Nil uses a placeholder sender.
	From *domain.Address
}

// Label is a purchased shipping label.
type Label struct {
	URL            string `json:"labelUrl"`
	TrackingNumber string `json:"trackingNumber"`
}

// Issuer buys return labels.
type Issuer interface {
	Issue(ctx context.Context, req LabelRequest) (Label, error)
}

// New returns the carrier client, or a static issuer when cfg has no API key.
func New(cfg domain.ShippingConfig) Issuer {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return StaticIssuer{}
	}
	return NewEasyPost(cfg)
}

// StaticIssuer hands out the fixed test label.
type StaticIssuer struct{}

// Issue implements Issuer.
func (StaticIssuer) Issue(context.Context, LabelRequest) (Label, error) {
	return Label{URL: TestLabelURL, TrackingNumber: TestTrackingNumber}, nil
}

// placeholderSender stands in for shoppers whose order has no address.
func placeholderSender(email string) domain.Address {
	return domain.Address{
		Name:    email,
		Street1: "123 Customer St",
		City:    "San Francisco",
		State:   "CA",
		Zip:     "94105",
		Country: "US",
		Phone:   "415-123-4567",
	}
}

func warehouse(cfg domain.ShippingConfig) domain.Address {
	return domain.Address{
		Name:    cfg.WarehouseName,
		Street1: cfg.WarehouseStreet,
		City:    cfg.WarehouseCity,
		State:   cfg.WarehouseState,
		Zip:     cfg.WarehouseZip,
		Country: cfg.WarehouseCountry,
	}
}
