package intake

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/returnguard/internal/bus"
	"github.com/opensource-finance/returnguard/internal/domain"
	"github.com/opensource-finance/returnguard/internal/resolution"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	merchantID string
	sub        resolution.Submission
}

type stubSubmitter struct {
	mu    sync.Mutex
	calls []call
	err   error
	done  chan struct{}
}

func newStub() *stubSubmitter {
	return &stubSubmitter{done: make(chan struct{}, 10)}
}

func (s *stubSubmitter) Submit(_ context.Context, merchantID string, sub resolution.Submission) (*resolution.Outcome, error) {
	defer func() { s.done <- struct{}{} }()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{merchantID: merchantID, sub: sub})
	if s.err != nil {
		return nil, s.err
	}
	return &resolution.Outcome{
		Request:  &domain.ReturnRequest{ID: "ret-1", MerchantID: merchantID},
		Decision: resolution.DecisionManualReview,
	}, nil
}

func (s *stubSubmitter) wait(t *testing.T) {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for submission")
	}
}

func (s *stubSubmitter) snapshot() []call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]call(nil), s.calls...)
}

func TestWorkerMerchantSubscriptions(t *testing.T) {
	ctx := context.Background()
	b := bus.NewChannelBus(10)
	defer b.Close()

	stub := newStub()
	w := NewWorker(b, stub)
	require.NoError(t, w.Start([]string{"merchant-001", "merchant-002"}))

	stats := w.GetStats()
	assert.Equal(t, 2, stats.SubscriptionCount)
	assert.Equal(t, []string{domain.TopicReturnSubmitted, domain.TopicReturnSubmitted}, stats.Topics)

	require.NoError(t, bus.PublishJSON(ctx, b, "merchant-002", domain.TopicReturnSubmitted, resolution.Submission{
		OrderID: "order-1",
		Reason:  "too small",
		Items:   []resolution.RequestedItem{{LineItemID: "li-1", Quantity: 1}},
	}))
	stub.wait(t)

	calls := stub.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "merchant-002", calls[0].merchantID)
	assert.Equal(t, "order-1", calls[0].sub.OrderID)
	assert.Len(t, calls[0].sub.Items, 1)

	require.NoError(t, w.Stop())
	assert.Equal(t, 0, w.GetStats().SubscriptionCount)
	assert.Equal(t, int64(1), w.GetStats().Processed)
}

func TestWorkerGlobalSubscription(t *testing.T) {
	ctx := context.Background()
	b := bus.NewChannelBus(10)
	defer b.Close()

	stub := newStub()
	w := NewWorker(b, stub)
	require.NoError(t, w.Start(nil))
	defer w.Stop()

	require.NoError(t, bus.PublishJSON(ctx, b, GlobalMerchant, domain.TopicReturnSubmitted, resolution.Submission{
		MerchantID: "merchant-009",
		OrderID:    "order-9",
	}))
	stub.wait(t)

	calls := stub.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "merchant-009", calls[0].merchantID)
}

func TestWorkerRejectsBadMessages(t *testing.T) {
	stub := newStub()
	w := NewWorker(bus.NewChannelBus(1), stub)
	ctx := context.Background()

	t.Run("Malformed", func(t *testing.T) {
		err := w.handle(ctx, "merchant-001", &domain.Message{ID: "m-1", Payload: []byte("{not json")})
		assert.Error(t, err)
	})

	t.Run("GlobalWithoutMerchant", func(t *testing.T) {
		err := w.handle(ctx, GlobalMerchant, &domain.Message{ID: "m-2", MerchantID: GlobalMerchant, Payload: []byte(`{"orderId":"o-1"}`)})
		assert.Error(t, err)
	})

	t.Run("MerchantMismatch", func(t *testing.T) {
		err := w.handle(ctx, "merchant-001", &domain.Message{ID: "m-3", Payload: []byte(`{"merchantId":"merchant-002","orderId":"o-1"}`)})
		assert.Error(t, err)
	})

	assert.Empty(t, stub.snapshot())
	assert.Equal(t, int64(3), w.GetStats().Failed)
}

func TestWorkerSubmitError(t *testing.T) {
	stub := newStub()
	stub.err = errors.New("order not found")
	w := NewWorker(bus.NewChannelBus(1), stub)

	err := w.handle(context.Background(), "merchant-001", &domain.Message{ID: "m-1", Payload: []byte(`{"orderId":"o-1"}`)})
	assert.ErrorIs(t, err, stub.err)
	assert.Equal(t, int64(1), w.GetStats().Failed)
	assert.Equal(t, int64(0), w.GetStats().Processed)
}

func TestWorkerStartFailsWhenBusClosed(t *testing.T) {
	b := bus.NewChannelBus(1)
	require.NoError(t, b.Close())

	w := NewWorker(b, newStub())
	assert.Error(t, w.Start([]string{"merchant-001"}))
	assert.ErrorIs(t, w.Start(nil), bus.ErrClosed)
}

type blockingSubmitter struct {
	entered chan struct{}
	release chan struct{}
	ctxErr  chan error
}

func (s *blockingSubmitter) Submit(ctx context.Context, merchantID string, _ resolution.Submission) (*resolution.Outcome, error) {
	close(s.entered)
	<-s.release
	s.ctxErr <- ctx.Err()
	return &resolution.Outcome{
		Request:  &domain.ReturnRequest{ID: "ret-1", MerchantID: merchantID},
		Decision: resolution.DecisionManualReview,
	}, nil
}

func TestWorkerStopDrainsInFlight(t *testing.T) {
	ctx := context.Background()
	b := bus.NewChannelBus(10)
	defer b.Close()

	sub := &blockingSubmitter{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		ctxErr:  make(chan error, 1),
	}
	w := NewWorker(b, sub)
	require.NoError(t, w.Start([]string{"merchant-001"}))

	require.NoError(t, bus.PublishJSON(ctx, b, "merchant-001", domain.TopicReturnSubmitted, resolution.Submission{OrderID: "order-1"}))
	select {
	case <-sub.entered:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for submission to start")
	}

	stopped := make(chan struct{})
	go func() {
		_ = w.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned before the in-flight submission finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(sub.release)
	select {
	case err := <-sub.ctxErr:
		assert.NoError(t, err, "in-flight submission keeps a live context while draining")
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for submission to finish")
	}

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for Stop")
	}
	assert.Equal(t, int64(1), w.GetStats().Processed)

	err := w.handle(ctx, "merchant-001", &domain.Message{ID: "late", Payload: []byte(`{"orderId":"o-2"}`)})
	assert.ErrorIs(t, err, ErrStopped)
}
