package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/returnguard/internal/domain"
)

// SaveReturnRequest inserts a decided return request. Requests are written once.
func (r *SQLRepository) SaveReturnRequest(ctx context.Context, merchantID string, req *domain.ReturnRequest) error {
	if err := requireMerchant(merchantID); err != nil {
		return err
	}
	if req == nil || req.ID == "" || req.OrderID == "" {
		return fmt.Errorf("%w: return request id and order id are required", ErrInvalidInput)
	}

	items, err := json.Marshal(req.Items)
	if err != nil {
		return fmt.Errorf("failed to encode return items: %w", err)
	}

	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	if req.UpdatedAt.IsZero() {
		req.UpdatedAt = now
	}

	query := `
		INSERT INTO return_requests (
			id, order_id, merchant_id, customer_email, reason, status, items, refund_amount,
			is_flagged_fraud, fraud_reason, automation_rule_id, is_gift, recipient_email,
			shipping_label_url, tracking_number, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		req.ID, req.OrderID, merchantID, req.CustomerEmail, req.Reason, string(req.Status),
		string(items), req.RefundAmount,
		boolToInt(req.IsFlaggedFraud), nullString(req.FraudReason), nullString(req.AutomationRuleID),
		boolToInt(req.IsGift), nullString(req.RecipientEmail),
		nullString(req.ShippingLabelURL), nullString(req.TrackingNumber),
		req.CreatedAt.UTC(), req.UpdatedAt.UTC(),
	)
	return err
}

// GetReturnRequest retrieves a return request by ID with merchant isolation.
func (r *SQLRepository) GetReturnRequest(ctx context.Context, merchantID string, requestID string) (*domain.ReturnRequest, error) {
	if err := requireMerchant(merchantID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, order_id, merchant_id, customer_email, reason, status, items, refund_amount,
			   is_flagged_fraud, fraud_reason, automation_rule_id, is_gift, recipient_email,
			   shipping_label_url, tracking_number, created_at, updated_at
		FROM return_requests
		WHERE merchant_id = ? AND id = ?
	`

	var req domain.ReturnRequest
	var status, items string
	var fraud, gift int
	var fraudReason, ruleID, recipient, labelURL, tracking sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), merchantID, requestID).Scan(
		&req.ID, &req.OrderID, &req.MerchantID, &req.CustomerEmail, &req.Reason, &status,
		&items, &req.RefundAmount,
		&fraud, &fraudReason, &ruleID, &gift, &recipient,
		&labelURL, &tracking, &req.CreatedAt, &req.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	req.Status = domain.ReturnStatus(status)
	req.IsFlaggedFraud = fraud == 1
	req.FraudReason = fraudReason.String
	req.AutomationRuleID = ruleID.String
	req.IsGift = gift == 1
	req.RecipientEmail = recipient.String
	req.ShippingLabelURL = labelURL.String
	req.TrackingNumber = tracking.String

	if err := json.Unmarshal([]byte(items), &req.Items); err != nil {
		return nil, fmt.Errorf("failed to parse items for return %s: %w", req.ID, err)
	}

	return &req, nil
}

// UpdateReturnShipping records the issued label. A request is labeled at most
// once; a second attempt returns ErrConflict.
func (r *SQLRepository) UpdateReturnShipping(ctx context.Context, merchantID string, requestID string, labelURL string, trackingNumber string) error {
	if err := requireMerchant(merchantID); err != nil {
		return err
	}

	query := `
		UPDATE return_requests
		SET shipping_label_url = ?, tracking_number = ?, updated_at = ?
		WHERE merchant_id = ? AND id = ?
		  AND (shipping_label_url IS NULL OR shipping_label_url = '')
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		nullString(labelURL), nullString(trackingNumber), time.Now().UTC(),
		merchantID, requestID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	if _, err := r.GetReturnRequest(ctx, merchantID, requestID); err != nil {
		return err
	}
	return fmt.Errorf("%w: return %s already has a shipping label", ErrConflict, requestID)
}

// CountRecentReturns counts the merchant's pending or completed return requests
// whose order belongs to customerEmail and that were created at or after since.
// The email match is case-sensitive. excludeID is left out of the count.
func (r *SQLRepository) CountRecentReturns(ctx context.Context, merchantID string, customerEmail string, since time.Time, excludeID string) (int64, error) {
	if err := requireMerchant(merchantID); err != nil {
		return 0, err
	}

	query := `
		SELECT COUNT(*)
		FROM return_requests rr
		JOIN orders o ON o.id = rr.order_id AND o.merchant_id = rr.merchant_id
		WHERE rr.merchant_id = ?
		  AND o.customer_email = ?
		  AND rr.created_at >= ?
		  AND rr.status IN (?, ?)
		  AND rr.id <> ?
	`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query),
		merchantID, customerEmail, since.UTC(),
		string(domain.StatusPending), string(domain.StatusCompleted),
		excludeID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count recent returns: %w", err)
	}
	return count, nil
}
