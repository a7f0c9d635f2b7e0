package worker

import (
	"context"
	"sync"

	"github.com/opensource-finance/returnguard/internal/queue"
)

// Inline runs tasks on goroutines in this process. It stands in for the
// queue when Redis is not configured.
type Inline struct {
	consumer *Consumer
	wg       sync.WaitGroup
}

// NewInline creates an in-process dispatcher over consumer.
func NewInline(consumer *Consumer) *Inline {
	return &Inline{consumer: consumer}
}

// IssueLabel implements queue.Dispatcher.
func (d *Inline) IssueLabel(ctx context.Context, payload queue.ReturnTaskPayload) error {
	d.run(ctx, func(ctx context.Context) { _ = d.consumer.IssueLabel(ctx, payload) })
	return nil
}

// SendConfirmation implements queue.Dispatcher.
func (d *Inline) SendConfirmation(ctx context.Context, payload queue.ReturnTaskPayload) error {
	d.run(ctx, func(ctx context.Context) { _ = d.consumer.SendConfirmation(ctx, payload) })
	return nil
}

// Wait blocks until every dispatched task has finished.
func (d *Inline) Wait() {
	d.wg.Wait()
}

func (d *Inline) run(ctx context.Context, fn func(context.Context)) {
	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn(ctx)
	}()
}
