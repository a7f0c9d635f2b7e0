// Package intake feeds return submissions from the event bus into the
// resolution service.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/returnguard/internal/bus"
	"github.com/opensource-finance/returnguard/internal/domain"
	"github.com/opensource-finance/returnguard/internal/logger"
	"github.com/opensource-finance/returnguard/internal/resolution"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// GlobalMerchant is the bus merchant used when no merchants are configured.
// Submissions on it must name their merchant in the payload.
const GlobalMerchant = "_global"

// ErrStopped is returned for messages delivered after Stop.
var ErrStopped = errors.New("intake: stopped")

var tracer = otel.Tracer("returnguard/intake")

// Submitter decides one submission.
type Submitter interface {
	Submit(ctx context.Context, merchantID string, sub resolution.Submission) (*resolution.Outcome, error)
}

// Worker subscribes to TopicReturnSubmitted and submits every message it receives.
type Worker struct {
	bus       domain.EventBus
	submitter Submitter

	mu            sync.Mutex
	subscriptions []domain.Subscription
	stopping      bool
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
}

// NewWorker creates an intake worker.
func NewWorker(b domain.EventBus, submitter Submitter) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       b,
		submitter: submitter,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes for each merchant, or once on GlobalMerchant when
// merchants is empty. A merchant that fails to subscribe is logged and skipped.
func (w *Worker) Start(merchants []string) error {
	if len(merchants) == 0 {
		return w.subscribe(GlobalMerchant)
	}

	started := 0
	for _, merchantID := range merchants {
		if err := w.subscribe(merchantID); err != nil {
			logger.Errorw("intake_subscribe_failed", "merchant_id", merchantID, "error", err)
			continue
		}
		started++
	}
	if started == 0 {
		return fmt.Errorf("intake: no merchant subscriptions started")
	}

	logger.Infow("intake_started", "merchant_count", started)
	return nil
}

func (w *Worker) subscribe(merchantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, merchantID, domain.TopicReturnSubmitted, func(ctx context.Context, msg *domain.Message) error {
		return w.handle(ctx, merchantID, msg)
	})
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	logger.Infow("intake_subscribed", "merchant_id", merchantID, "topic", domain.TopicReturnSubmitted)
	return nil
}

// handle decides one message. A submission already running is finished even
// if its subscription is cancelled; messages arriving after Stop are refused.
func (w *Worker) handle(ctx context.Context, merchantID string, msg *domain.Message) error {
	w.mu.Lock()
	if w.stopping {
		w.mu.Unlock()
		return ErrStopped
	}
	w.wg.Add(1)
	w.mu.Unlock()
	defer w.wg.Done()
	start := time.Now()

	ctx, span := tracer.Start(bus.MessageContext(context.WithoutCancel(ctx), msg), "intake.handle",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "returnguard"),
			attribute.String("messaging.destination.name", msg.Topic),
			attribute.String("messaging.message.id", msg.ID),
		),
	)
	defer span.End()

	outcome, err := w.process(ctx, merchantID, msg)
	if err != nil {
		w.failed.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Errorw("intake_submission_failed",
			"merchant_id", merchantID,
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	w.processed.Add(1)
	logger.Debugw("intake_submission_processed",
		"merchant_id", outcome.Request.MerchantID,
		"message_id", msg.ID,
		"return_id", outcome.Request.ID,
		"decision", outcome.Decision,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (w *Worker) process(ctx context.Context, merchantID string, msg *domain.Message) (*resolution.Outcome, error) {
	var sub resolution.Submission
	if err := json.Unmarshal(msg.Payload, &sub); err != nil {
		return nil, fmt.Errorf("decode submission: %w", err)
	}

	if merchantID == GlobalMerchant {
		merchantID = sub.MerchantID
		if merchantID == "" && msg.MerchantID != GlobalMerchant {
			merchantID = msg.MerchantID
		}
	}
	if merchantID == "" || merchantID == GlobalMerchant {
		return nil, fmt.Errorf("submission on %s names no merchant", GlobalMerchant)
	}
	if sub.MerchantID != "" && sub.MerchantID != merchantID {
		return nil, fmt.Errorf("submission for merchant %s arrived on merchant %s", sub.MerchantID, merchantID)
	}

	return w.submitter.Submit(ctx, merchantID, sub)
}

// Stop unsubscribes, waits for in-flight submissions to finish, then
// releases the worker context.
func (w *Worker) Stop() error {
	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.stopping = true
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			logger.Errorw("intake_unsubscribe_failed", "topic", sub.Topic(), "error", err)
		}
	}

	w.wg.Wait()
	w.cancel()
	logger.Infow("intake_stopped", "processed", w.processed.Load(), "failed", w.failed.Load())
	return nil
}

// Stats reports intake activity.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current intake statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
	}
}
