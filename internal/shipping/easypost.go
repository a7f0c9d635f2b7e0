package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/opensource-finance/returnguard/internal/domain"
	"github.com/opensource-finance/returnguard/internal/logger"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Parcel dimensions in inches and weight in ounces.
var defaultParcel = parcel{Length: 10, Width: 8, Height: 4, Weight: 16}

// EasyPost buys return labels through the EasyPost REST API.
type EasyPost struct {
	baseURL   string
	apiKey    string
	warehouse domain.Address
	http      *http.Client
	limiter   *rate.Limiter
}

// NewEasyPost creates a client from cfg.
func NewEasyPost(cfg domain.ShippingConfig) *EasyPost {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	return &EasyPost{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		warehouse: warehouse(cfg),
		http:      &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
	}
}

type address struct {
	Name    string `json:"name,omitempty"`
	Street1 string `json:"street1"`
	Street2 string `json:"street2,omitempty"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
	Country string `json:"country,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

type parcel struct {
	Length float64 `json:"length"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Weight float64 `json:"weight"`
}

type shipmentRate struct {
	ID      string `json:"id"`
	Rate    string `json:"rate"`
	Carrier string `json:"carrier"`
	Service string `json:"service"`
}

type shipment struct {
	ID           string         `json:"id"`
	Rates        []shipmentRate `json:"rates"`
	TrackingCode string         `json:"tracking_code"`
	PostageLabel *struct {
		LabelURL string `json:"label_url"`
	} `json:"postage_label"`
}

type createShipment struct {
	Shipment struct {
		ToAddress   address `json:"to_address"`
		FromAddress address `json:"from_address"`
		Parcel      parcel  `json:"parcel"`
		IsReturn    bool    `json:"is_return"`
		Reference   string  `json:"reference,omitempty"`
	} `json:"shipment"`
}

type buyShipment struct {
	Rate struct {
		ID string `json:"id"`
	} `json:"rate"`
}

// Issue creates a return shipment from the shopper to the warehouse and
// buys its lowest rate.
func (c *EasyPost) Issue(ctx context.Context, req LabelRequest) (Label, error) {
	from := placeholderSender(req.CustomerEmail)
	if req.From != nil {
		from = *req.From
	}

	var body createShipment
	body.Shipment.ToAddress = toAddress(c.warehouse)
	body.Shipment.FromAddress = toAddress(from)
	body.Shipment.Parcel = defaultParcel
	body.Shipment.IsReturn = true
	body.Shipment.Reference = req.ReturnID

	var created shipment
	if err := c.do(ctx, http.MethodPost, "/shipments", body, &created); err != nil {
		return Label{}, fmt.Errorf("create shipment: %w", err)
	}

	lowest, ok := lowestRate(created.Rates)
	if !ok {
		return Label{}, fmt.Errorf("%w: shipment %s", ErrNoRates, created.ID)
	}

	var buy buyShipment
	buy.Rate.ID = lowest.ID
	var bought shipment
	if err := c.do(ctx, http.MethodPost, "/shipments/"+created.ID+"/buy", buy, &bought); err != nil {
		return Label{}, fmt.Errorf("buy shipment %s: %w", created.ID, err)
	}
	if bought.PostageLabel == nil || bought.PostageLabel.LabelURL == "" {
		return Label{}, fmt.Errorf("%w: shipment %s", ErrInvalidLabel, created.ID)
	}

	logger.Infow("shipping_label_purchased",
		"merchant_id", req.MerchantID,
		"return_id", req.ReturnID,
		"shipment_id", created.ID,
		"carrier", lowest.Carrier,
		"service", lowest.Service,
		"rate", lowest.Rate,
	)
	return Label{URL: bought.PostageLabel.LabelURL, TrackingNumber: bought.TrackingCode}, nil
}

func (c *EasyPost) do(ctx context.Context, method, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.apiKey, "")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("carrier responded %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return json.Unmarshal(raw, out)
}

// lowestRate picks the cheapest parseable rate.
func lowestRate(rates []shipmentRate) (shipmentRate, bool) {
	var best shipmentRate
	var bestAmount decimal.Decimal
	found := false
	for _, r := range rates {
		amount, err := decimal.NewFromString(r.Rate)
		if err != nil {
			continue
		}
		if !found || amount.LessThan(bestAmount) {
			best, bestAmount, found = r, amount, true
		}
	}
	return best, found
}

func toAddress(a domain.Address) address {
	return address{
		Name:    a.Name,
		Street1: a.Street1,
		Street2: a.Street2,
		City:    a.City,
		State:   a.State,
		Zip:     a.Zip,
		Country: a.Country,
		Phone:   a.Phone,
	}
}
