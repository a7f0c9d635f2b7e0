package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidTransition is returned when a status change is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrFraudGated is returned when an automation rule is applied to a
	// request that has been flagged as fraudulent.
	ErrFraudGated = errors.New("request is flagged as fraudulent")
)

// ReturnStatus is the lifecycle state of a return request.
type ReturnStatus string

const (
	StatusPending   ReturnStatus = "pending"
	StatusApproved  ReturnStatus = "approved"
	StatusRejected  ReturnStatus = "rejected"
	StatusCompleted ReturnStatus = "completed"
)

// transitions lists the statuses reachable from each status.
// completed is only entered by fulfillment once the carrier confirms delivery.
var transitions = map[ReturnStatus][]ReturnStatus{
	StatusPending:  {StatusApproved, StatusRejected},
	StatusApproved: {StatusCompleted},
}

// CanTransition reports whether from -> to is an allowed status change.
func CanTransition(from, to ReturnStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Resolution is what the shopper asked for in exchange for the return.
type Resolution string

const (
	ResolutionRefund   Resolution = "refund"
	ResolutionExchange Resolution = "exchange"
)

// Reason tags appended to the stored reason text.
const (
	TagRefund   = "[REFUND]"
	TagExchange = "[EXCHANGE]"
	TagGift     = "[GIFT]"
)

// TaggedReason appends the resolution and gift tags to the shopper's text.
func TaggedReason(text string, resolution Resolution, gift bool) string {
	reason := strings.TrimSpace(text)
	switch resolution {
	case ResolutionExchange:
		reason += " " + TagExchange
	case ResolutionRefund:
		reason += " " + TagRefund
	}
	if gift {
		reason += " " + TagGift
	}
	return strings.TrimSpace(reason)
}

// ReturnItem is a requested line item with the quantity being returned.
type ReturnItem struct {
	LineItemID string `json:"lineItemId"`
	SKU        string `json:"sku"`
	Title      string `json:"title"`
	UnitPrice  Money  `json:"unitPrice"`
	Quantity   int    `json:"quantity"`
}

// LineTotal is unit price times quantity. Non-positive quantities count as zero.
func (i ReturnItem) LineTotal() decimal.Decimal {
	if i.Quantity <= 0 {
		return decimal.Zero
	}
	return i.UnitPrice.Decimal.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ReturnRequest is a shopper's submission to return items from an order.
type ReturnRequest struct {
	ID            string `json:"id"`
	OrderID       string `json:"orderId"`
	MerchantID    string `json:"merchantId"`
	CustomerEmail string `json:"customerEmail"`

	Reason       string       `json:"reason"`
	Status       ReturnStatus `json:"status"`
	Items        []ReturnItem `json:"items"`
	RefundAmount Money        `json:"refundAmount"`

	IsFlaggedFraud   bool   `json:"isFlaggedFraud"`
	FraudReason      string `json:"fraudReason,omitempty"`
	AutomationRuleID string `json:"automationRuleId,omitempty"`

	IsGift         bool   `json:"isGift"`
	RecipientEmail string `json:"recipientEmail,omitempty"`

	ShippingLabelURL string `json:"shippingLabelUrl,omitempty"`
	TrackingNumber   string `json:"trackingNumber,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ItemsTotal sums the line totals of the requested items.
func (r *ReturnRequest) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range r.Items {
		total = total.Add(item.LineTotal())
	}
	return total
}

// ShopperReason returns the reason text without resolution or gift tags.
func (r *ReturnRequest) ShopperReason() string {
	reason := r.Reason
	if i := strings.Index(reason, "["); i >= 0 {
		reason = reason[:i]
	}
	return strings.TrimSpace(reason)
}

// Resolution parses the resolution tag from the stored reason.
func (r *ReturnRequest) Resolution() Resolution {
	switch {
	case strings.Contains(r.Reason, TagExchange):
		return ResolutionExchange
	case strings.Contains(r.Reason, TagRefund):
		return ResolutionRefund
	default:
		return ""
	}
}

func (r *ReturnRequest) transition(to ReturnStatus) error {
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
	}
	r.Status = to
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// FlagFraud marks a pending request as fraudulent. The status stays pending.
func (r *ReturnRequest) FlagFraud(reason string) error {
	if r.Status != StatusPending {
		return fmt.Errorf("%w: cannot flag %s request", ErrInvalidTransition, r.Status)
	}
	if r.AutomationRuleID != "" {
		return fmt.Errorf("%w: automation rule %s already applied", ErrInvalidTransition, r.AutomationRuleID)
	}
	r.IsFlaggedFraud = true
	r.FraudReason = reason
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// ApplyRule records the matched rule and moves the status according to its type.
// FLAG rules leave the request pending.
func (r *ReturnRequest) ApplyRule(rule *AutomationRule) error {
	if rule == nil {
		return nil
	}
	if r.IsFlaggedFraud {
		return ErrFraudGated
	}
	if r.Status != StatusPending {
		return fmt.Errorf("%w: rule applied to %s request", ErrInvalidTransition, r.Status)
	}

	switch rule.Type {
	case RuleApprove:
		if err := r.transition(StatusApproved); err != nil {
			return err
		}
	case RuleReject:
		if err := r.transition(StatusRejected); err != nil {
			return err
		}
	case RuleFlag:
	default:
		return fmt.Errorf("unknown rule type %q", rule.Type)
	}

	r.AutomationRuleID = rule.ID
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// Complete marks an approved request as fulfilled.
func (r *ReturnRequest) Complete() error {
	return r.transition(StatusCompleted)
}

// AttachLabel records the issued shipping label. It only succeeds once.
func (r *ReturnRequest) AttachLabel(labelURL, trackingNumber string) error {
	if r.ShippingLabelURL != "" || r.TrackingNumber != "" {
		return fmt.Errorf("shipping label already attached to return %s", r.ID)
	}
	r.ShippingLabelURL = labelURL
	r.TrackingNumber = trackingNumber
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// NotifyEmail is the address that receives return confirmations.
func (r *ReturnRequest) NotifyEmail() string {
	if r.IsGift && r.RecipientEmail != "" {
		return r.RecipientEmail
	}
	return r.CustomerEmail
}
