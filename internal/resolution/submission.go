// Package resolution turns a shopper's return submission into a decided
// return request: fraud screening first, then the merchant's automation rules.
package resolution

import (
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/returnguard/internal/domain"
	"github.com/opensource-finance/returnguard/internal/repository"
)

// Submission is a shopper's request to return items from an order.
type Submission struct {
	MerchantID     string            `json:"merchantId,omitempty"`
	OrderID        string            `json:"orderId"`
	Items          []RequestedItem   `json:"items"`
	Reason         string            `json:"reason"`
	Resolution     domain.Resolution `json:"resolution,omitempty"`
	IsGift         bool              `json:"isGift"`
	RecipientEmail string            `json:"recipientEmail,omitempty"`
}

// RequestedItem names an order line item and how many units go back.
type RequestedItem struct {
	LineItemID string `json:"lineItemId"`
	Quantity   int    `json:"quantity"`
}

// Validate checks the fields a request cannot be built without.
func (s Submission) Validate() error {
	if strings.TrimSpace(s.OrderID) == "" {
		return fmt.Errorf("%w: orderId is required", repository.ErrInvalidInput)
	}
	switch s.Resolution {
	case "", domain.ResolutionRefund, domain.ResolutionExchange:
	default:
		return fmt.Errorf("%w: unknown resolution %q", repository.ErrInvalidInput, s.Resolution)
	}
	return nil
}

// BuildRequest creates the pending request for sub against order. Requested
// items that match no order line item, or ask for no units, are left out of
// both the stored items and the refund; their count is returned.
func BuildRequest(order *domain.Order, sub Submission, id string, now time.Time) (*domain.ReturnRequest, int) {
	now = now.UTC()
	req := &domain.ReturnRequest{
		ID:            id,
		OrderID:       order.ID,
		MerchantID:    order.MerchantID,
		CustomerEmail: order.CustomerEmail,
		Reason:        domain.TaggedReason(sub.Reason, sub.Resolution, sub.IsGift),
		Status:        domain.StatusPending,
		Items:         make([]domain.ReturnItem, 0, len(sub.Items)),
		IsGift:        sub.IsGift,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if sub.IsGift {
		req.RecipientEmail = strings.TrimSpace(sub.RecipientEmail)
	}

	dropped := 0
	for _, item := range sub.Items {
		li, ok := order.LineItem(item.LineItemID)
		if !ok || item.Quantity <= 0 {
			dropped++
			continue
		}
		req.Items = append(req.Items, domain.ReturnItem{
			LineItemID: li.ID,
			SKU:        li.SKU,
			Title:      li.Title,
			UnitPrice:  li.UnitPrice,
			Quantity:   item.Quantity,
		})
	}
	req.RefundAmount = domain.NewMoney(req.ItemsTotal())
	return req, dropped
}
