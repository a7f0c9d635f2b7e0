// Package worker runs the follow-up tasks of a return decision: buying the
// shipping label and emailing the confirmation.
package worker

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"
	"github.com/opensource-finance/returnguard/internal/domain"
	"github.com/opensource-finance/returnguard/internal/logger"
	"github.com/opensource-finance/returnguard/internal/metrics"
	"github.com/opensource-finance/returnguard/internal/notify"
	"github.com/opensource-finance/returnguard/internal/queue"
	"github.com/opensource-finance/returnguard/internal/repository"
	"github.com/opensource-finance/returnguard/internal/shipping"
)

// Consumer handles return tasks.
type Consumer struct {
	Repo    domain.Repository
	Labels  shipping.Issuer
	Mailer  notify.Sender
	Metrics *metrics.Metrics

	// Followup receives the confirmation once a label is stored.
	// Nil sends it inline.
	Followup queue.Dispatcher
}

// Register binds the task handlers to mux.
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		logger.Debugw("worker_register_skip_nil", "consumer_nil", c == nil, "mux_nil", mux == nil)
		return
	}
	mux.HandleFunc(queue.TaskIssueLabel, c.handleIssueLabel)
	mux.HandleFunc(queue.TaskSendConfirmation, c.handleSendConfirmation)
}

func (c *Consumer) handleIssueLabel(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParsePayload(task)
	if err != nil {
		logger.Warnw("worker_issue_label_unmarshal_failed", "error", err)
		return err
	}
	return c.IssueLabel(ctx, payload)
}

func (c *Consumer) handleSendConfirmation(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParsePayload(task)
	if err != nil {
		logger.Warnw("worker_send_confirmation_unmarshal_failed", "error", err)
		return err
	}
	return c.SendConfirmation(ctx, payload)
}

// IssueLabel buys and stores the return label. Fraud-flagged, rejected and
// already labeled requests are skipped.
func (c *Consumer) IssueLabel(ctx context.Context, payload queue.ReturnTaskPayload) (err error) {
	defer func() { c.Metrics.Task(queue.TaskIssueLabel, err) }()

	if !payload.Valid() {
		logger.Debugw("worker_issue_label_skip_invalid_payload", "merchant_id", payload.MerchantID, "return_id", payload.ReturnID)
		return nil
	}

	req, err := c.Repo.GetReturnRequest(ctx, payload.MerchantID, payload.ReturnID)
	if errors.Is(err, repository.ErrNotFound) {
		logger.Debugw("worker_issue_label_skip_not_found", "merchant_id", payload.MerchantID, "return_id", payload.ReturnID)
		return nil
	}
	if err != nil {
		logger.Warnw("worker_issue_label_fetch_failed", "return_id", payload.ReturnID, "error", err)
		return err
	}
	if req.IsFlaggedFraud || req.Status == domain.StatusRejected {
		logger.Debugw("worker_issue_label_skip_ineligible",
			"return_id", req.ID, "status", req.Status, "is_flagged_fraud", req.IsFlaggedFraud)
		return nil
	}
	if req.ShippingLabelURL != "" {
		logger.Debugw("worker_issue_label_skip_already_labeled", "return_id", req.ID)
		return nil
	}

	labelReq := shipping.LabelRequest{
		MerchantID:    payload.MerchantID,
		ReturnID:      req.ID,
		CustomerEmail: req.CustomerEmail,
	}
	order, err := c.Repo.GetOrder(ctx, payload.MerchantID, req.OrderID)
	switch {
	case err == nil:
		labelReq.OrderNumber = order.OrderNumber
		labelReq.From = order.ShippingAddress
	case errors.Is(err, repository.ErrNotFound):
		logger.Warnw("worker_issue_label_order_missing", "return_id", req.ID, "order_id", req.OrderID)
	default:
		return err
	}

	label, err := c.Labels.Issue(ctx, labelReq)
	if err != nil {
		logger.Warnw("worker_issue_label_carrier_failed", "return_id", req.ID, "error", err)
		return err
	}

	err = c.Repo.UpdateReturnShipping(ctx, payload.MerchantID, req.ID, label.URL, label.TrackingNumber)
	if errors.Is(err, repository.ErrConflict) {
		logger.Debugw("worker_issue_label_skip_conflict", "return_id", req.ID)
		return nil
	}
	if err != nil {
		logger.Warnw("worker_issue_label_store_failed", "return_id", req.ID, "error", err)
		return err
	}

	logger.Infow("return_label_issued",
		"merchant_id", payload.MerchantID,
		"return_id", req.ID,
		"tracking_number", label.TrackingNumber,
	)

	if c.Followup != nil {
		if ferr := c.Followup.SendConfirmation(ctx, payload); ferr != nil {
			logger.Warnw("worker_enqueue_confirmation_failed", "return_id", req.ID, "error", ferr)
		}
		return nil
	}
	if cerr := c.SendConfirmation(ctx, payload); cerr != nil {
		logger.Warnw("worker_send_confirmation_failed", "return_id", req.ID, "error", cerr)
	}
	return nil
}

// SendConfirmation emails the shopper the label. Requests without a label are
// skipped, as is everything when email is disabled.
func (c *Consumer) SendConfirmation(ctx context.Context, payload queue.ReturnTaskPayload) (err error) {
	defer func() { c.Metrics.Task(queue.TaskSendConfirmation, err) }()

	if c.Mailer == nil {
		logger.Debugw("worker_send_confirmation_skip_mailer_nil", "return_id", payload.ReturnID)
		return nil
	}
	if !payload.Valid() {
		logger.Debugw("worker_send_confirmation_skip_invalid_payload", "merchant_id", payload.MerchantID, "return_id", payload.ReturnID)
		return nil
	}

	req, err := c.Repo.GetReturnRequest(ctx, payload.MerchantID, payload.ReturnID)
	if errors.Is(err, repository.ErrNotFound) {
		logger.Debugw("worker_send_confirmation_skip_not_found", "return_id", payload.ReturnID)
		return nil
	}
	if err != nil {
		return err
	}
	if req.ShippingLabelURL == "" {
		logger.Debugw("worker_send_confirmation_skip_no_label", "return_id", req.ID)
		return nil
	}

	order, err := c.Repo.GetOrder(ctx, payload.MerchantID, req.OrderID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	err = c.Mailer.SendConfirmation(ctx, notify.NewConfirmation(order, req))
	if errors.Is(err, notify.ErrEmailServiceDisabled) {
		logger.Debugw("worker_send_confirmation_skip_disabled", "return_id", req.ID)
		return nil
	}
	if errors.Is(err, notify.ErrInvalidEmail) || errors.Is(err, notify.ErrEmailRecipientRejected) {
		logger.Warnw("worker_send_confirmation_bad_recipient", "return_id", req.ID, "error", err)
		return nil
	}
	if err != nil {
		return err
	}

	logger.Infow("return_confirmation_sent", "merchant_id", payload.MerchantID, "return_id", req.ID)
	return nil
}
