package resolution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/returnguard/internal/bus"
	"github.com/opensource-finance/returnguard/internal/domain"
	"github.com/opensource-finance/returnguard/internal/logger"
	"github.com/opensource-finance/returnguard/internal/metrics"
	"github.com/opensource-finance/returnguard/internal/queue"
	"github.com/opensource-finance/returnguard/internal/repository"
	"github.com/opensource-finance/returnguard/internal/rulestore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("returnguard/resolution")

// Snapshots serves a merchant's rules and fraud settings.
type Snapshots interface {
	Snapshot(ctx context.Context, merchantID string) (*rulestore.Snapshot, error)
}

// Outcome is the result of one submission.
type Outcome struct {
	Request      *domain.ReturnRequest `json:"request"`
	Decision     Decision              `json:"decision"`
	DroppedItems int                   `json:"droppedItems"`
}

// DecidedEvent is published on TopicReturnDecided for analytics.
type DecidedEvent struct {
	ReturnID         string              `json:"returnId"`
	OrderID          string              `json:"orderId"`
	Status           domain.ReturnStatus `json:"status"`
	Decision         Decision            `json:"decision"`
	ItemCount        int                 `json:"itemCount"`
	DroppedItems     int                 `json:"droppedItems"`
	AutomationRuleID string              `json:"automationRuleId,omitempty"`
	IsFlaggedFraud   bool                `json:"isFlaggedFraud"`
	RefundAmount     domain.Money        `json:"refundAmount"`
	Resolution       domain.Resolution   `json:"resolution,omitempty"`
	IsGift           bool                `json:"isGift"`
	DecidedAt        time.Time           `json:"decidedAt"`
}

// FraudAlert is published on TopicFraudAlert when a request is flagged.
type FraudAlert struct {
	ReturnID      string       `json:"returnId"`
	OrderID       string       `json:"orderId"`
	CustomerEmail string       `json:"customerEmail"`
	Reason        string       `json:"reason"`
	RefundAmount  domain.Money `json:"refundAmount"`
}

// Deps are the collaborators a Service hands decisions to. Nil members are skipped.
type Deps struct {
	Bus        domain.EventBus
	Dispatcher queue.Dispatcher
	Metrics    *metrics.Metrics
}

// Service decides and records return submissions.
type Service struct {
	repo      domain.Repository
	snapshots Snapshots
	engine    *Engine
	deps      Deps

	now   func() time.Time
	newID func() string
}

// NewService creates a service.
func NewService(repo domain.Repository, snapshots Snapshots, engine *Engine, deps Deps) *Service {
	return &Service{
		repo:      repo,
		snapshots: snapshots,
		engine:    engine,
		deps:      deps,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// Submit builds the request for sub, decides it, and stores it. Only input,
// order lookup and persistence failures are returned; everything after the
// request is stored is best effort.
func (s *Service) Submit(ctx context.Context, merchantID string, sub Submission) (*Outcome, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "resolution.Submit", trace.WithAttributes(
		attribute.String("merchant.id", merchantID),
		attribute.String("order.id", sub.OrderID),
		attribute.Int("items.requested", len(sub.Items)),
	))
	defer span.End()

	outcome, err := s.submit(ctx, merchantID, sub)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	req := outcome.Request
	span.SetAttributes(
		attribute.String("return.id", req.ID),
		attribute.String("return.decision", string(outcome.Decision)),
		attribute.Bool("return.fraud", req.IsFlaggedFraud),
		attribute.Int("items.dropped", outcome.DroppedItems),
	)

	s.dispatch(ctx, merchantID, req)
	s.publish(ctx, merchantID, outcome)

	elapsed := time.Since(start)
	s.deps.Metrics.Decision(string(outcome.Decision), req.IsFlaggedFraud, outcome.DroppedItems, elapsed)

	logger.Infow("return_decided",
		"merchant_id", merchantID,
		"return_id", req.ID,
		"order_id", req.OrderID,
		"status", req.Status,
		"decision", outcome.Decision,
		"automation_rule_id", req.AutomationRuleID,
		"is_flagged_fraud", req.IsFlaggedFraud,
		"refund_amount", req.RefundAmount.String(),
		"duration_ms", elapsed.Milliseconds(),
	)
	return outcome, nil
}

func (s *Service) submit(ctx context.Context, merchantID string, sub Submission) (*Outcome, error) {
	if merchantID == "" {
		return nil, fmt.Errorf("%w: merchantID is required", repository.ErrInvalidInput)
	}
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	order, err := s.repo.GetOrder(ctx, merchantID, sub.OrderID)
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", sub.OrderID, err)
	}

	req, dropped := BuildRequest(order, sub, s.newID(), s.now())
	req.MerchantID = merchantID
	if dropped > 0 {
		logger.Warnw("return_items_dropped",
			"merchant_id", merchantID,
			"return_id", req.ID,
			"order_id", order.ID,
			"dropped", dropped,
			"requested", len(sub.Items),
		)
	}

	snap, err := s.snapshots.Snapshot(ctx, merchantID)
	if err != nil {
		logger.Warnw("return_snapshot_unavailable", "merchant_id", merchantID, "return_id", req.ID, "error", err)
		snap = nil
	}

	decision := s.engine.Decide(ctx, snap, req)

	if err := s.repo.SaveReturnRequest(ctx, merchantID, req); err != nil {
		return nil, fmt.Errorf("save return request %s: %w", req.ID, err)
	}

	return &Outcome{Request: req, Decision: decision, DroppedItems: dropped}, nil
}

// dispatch requests a label for requests that were neither fraud-flagged nor rejected.
func (s *Service) dispatch(ctx context.Context, merchantID string, req *domain.ReturnRequest) {
	if s.deps.Dispatcher == nil || req.IsFlaggedFraud || req.Status == domain.StatusRejected {
		return
	}
	payload := queue.ReturnTaskPayload{MerchantID: merchantID, ReturnID: req.ID}
	if err := s.deps.Dispatcher.IssueLabel(ctx, payload); err != nil {
		logger.Warnw("return_label_dispatch_failed", "merchant_id", merchantID, "return_id", req.ID, "error", err)
	}
}

func (s *Service) publish(ctx context.Context, merchantID string, outcome *Outcome) {
	if s.deps.Bus == nil {
		return
	}
	req := outcome.Request

	event := DecidedEvent{
		ReturnID:         req.ID,
		OrderID:          req.OrderID,
		Status:           req.Status,
		Decision:         outcome.Decision,
		ItemCount:        len(req.Items),
		DroppedItems:     outcome.DroppedItems,
		AutomationRuleID: req.AutomationRuleID,
		IsFlaggedFraud:   req.IsFlaggedFraud,
		RefundAmount:     req.RefundAmount,
		Resolution:       req.Resolution(),
		IsGift:           req.IsGift,
		DecidedAt:        req.UpdatedAt,
	}
	if err := bus.PublishJSON(ctx, s.deps.Bus, merchantID, domain.TopicReturnDecided, event); err != nil {
		logger.Warnw("return_decided_publish_failed", "merchant_id", merchantID, "return_id", req.ID, "error", err)
	}

	if !req.IsFlaggedFraud {
		return
	}
	alert := FraudAlert{
		ReturnID:      req.ID,
		OrderID:       req.OrderID,
		CustomerEmail: req.CustomerEmail,
		Reason:        req.FraudReason,
		RefundAmount:  req.RefundAmount,
	}
	if err := bus.PublishJSON(ctx, s.deps.Bus, merchantID, domain.TopicFraudAlert, alert); err != nil {
		logger.Warnw("fraud_alert_publish_failed", "merchant_id", merchantID, "return_id", req.ID, "error", err)
	}
}
