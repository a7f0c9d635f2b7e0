package worker

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/opensource-finance/returnguard/internal/domain"
	"github.com/opensource-finance/returnguard/internal/metrics"
	"github.com/opensource-finance/returnguard/internal/notify"
	"github.com/opensource-finance/returnguard/internal/queue"
	"github.com/opensource-finance/returnguard/internal/repository"
	"github.com/opensource-finance/returnguard/internal/shipping"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const merchantID = "merchant-001"

type stubIssuer struct {
	mu    sync.Mutex
	calls []shipping.LabelRequest
	err   error
}

func (s *stubIssuer) Issue(_ context.Context, req shipping.LabelRequest) (shipping.Label, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	if s.err != nil {
		return shipping.Label{}, s.err
	}
	return shipping.Label{URL: "https://labels.example/" + req.ReturnID + ".pdf", TrackingNumber: "TRK-" + req.ReturnID}, nil
}

func (s *stubIssuer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type stubMailer struct {
	mu   sync.Mutex
	sent []notify.Confirmation
	err  error
}

func (s *stubMailer) SendConfirmation(_ context.Context, c notify.Confirmation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, c)
	return nil
}

func (s *stubMailer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type recordingDispatcher struct {
	labels, confirmations []queue.ReturnTaskPayload
}

func (d *recordingDispatcher) IssueLabel(_ context.Context, p queue.ReturnTaskPayload) error {
	d.labels = append(d.labels, p)
	return nil
}

func (d *recordingDispatcher) SendConfirmation(_ context.Context, p queue.ReturnTaskPayload) error {
	d.confirmations = append(d.confirmations, p)
	return nil
}

func newRepo(t *testing.T) domain.Repository {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "returnguard-worker-*.db")
	require.NoError(t, err)
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func seed(t *testing.T, repo domain.Repository, id string, mutate func(*domain.ReturnRequest)) *domain.Order {
	t.Helper()
	ctx := context.Background()

	order := &domain.Order{
		ExternalID:    "ext-" + id,
		Platform:      domain.PlatformShopify,
		OrderNumber:   "1001",
		CustomerEmail: "shopper@example.com",
		LineItems:     []domain.LineItem{{ID: "li-1", Title: "Tee", UnitPrice: domain.MustMoney("25.00"), Quantity: 1}},
		Total:         domain.MustMoney("25.00"),
		OrderedAt:     time.Now().UTC(),
		ShippingAddress: &domain.Address{
			Name: "Pat", Street1: "1 Main St", City: "Austin", State: "TX", Zip: "73301", Country: "US",
		},
	}
	require.NoError(t, repo.SaveOrder(ctx, merchantID, order))

	req := &domain.ReturnRequest{
		ID:            id,
		OrderID:       order.ID,
		CustomerEmail: order.CustomerEmail,
		Reason:        "too small [REFUND]",
		Status:        domain.StatusApproved,
		Items:         []domain.ReturnItem{{LineItemID: "li-1", UnitPrice: domain.MustMoney("25.00"), Quantity: 1}},
		RefundAmount:  domain.MustMoney("25.00"),
	}
	if mutate != nil {
		mutate(req)
	}
	require.NoError(t, repo.SaveReturnRequest(ctx, merchantID, req))
	return order
}

func payload(id string) queue.ReturnTaskPayload {
	return queue.ReturnTaskPayload{MerchantID: merchantID, ReturnID: id}
}

func TestIssueLabel(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	issuer := &stubIssuer{}
	mailer := &stubMailer{}
	m := metrics.New()
	consumer := &Consumer{Repo: repo, Labels: issuer, Mailer: mailer, Metrics: m}

	t.Run("StoresLabelAndSendsConfirmation", func(t *testing.T) {
		seed(t, repo, "ret-1", nil)

		require.NoError(t, consumer.IssueLabel(ctx, payload("ret-1")))

		got, err := repo.GetReturnRequest(ctx, merchantID, "ret-1")
		require.NoError(t, err)
		assert.Equal(t, "https://labels.example/ret-1.pdf", got.ShippingLabelURL)
		assert.Equal(t, "TRK-ret-1", got.TrackingNumber)

		require.Equal(t, 1, issuer.count())
		assert.Equal(t, "Austin", issuer.calls[0].From.City)
		assert.Equal(t, "1001", issuer.calls[0].OrderNumber)

		require.Equal(t, 1, mailer.count())
		assert.Equal(t, "shopper@example.com", mailer.sent[0].To)
		assert.Equal(t, "TRK-ret-1", mailer.sent[0].TrackingNumber)
	})

	t.Run("SecondRunIsNoop", func(t *testing.T) {
		require.NoError(t, consumer.IssueLabel(ctx, payload("ret-1")))
		assert.Equal(t, 1, issuer.count())
	})

	t.Run("SkipsFraudAndRejected", func(t *testing.T) {
		seed(t, repo, "ret-fraud", func(r *domain.ReturnRequest) {
			r.Status = domain.StatusPending
			r.IsFlaggedFraud = true
			r.FraudReason = "High value return"
		})
		seed(t, repo, "ret-rejected", func(r *domain.ReturnRequest) { r.Status = domain.StatusRejected })

		require.NoError(t, consumer.IssueLabel(ctx, payload("ret-fraud")))
		require.NoError(t, consumer.IssueLabel(ctx, payload("ret-rejected")))
		assert.Equal(t, 1, issuer.count())
	})

	t.Run("SkipsMissingAndInvalid", func(t *testing.T) {
		assert.NoError(t, consumer.IssueLabel(ctx, payload("missing")))
		assert.NoError(t, consumer.IssueLabel(ctx, queue.ReturnTaskPayload{ReturnID: "ret-1"}))
	})

	t.Run("CarrierFailureIsRetried", func(t *testing.T) {
		seed(t, repo, "ret-2", nil)
		issuer.err = errors.New("carrier down")
		defer func() { issuer.err = nil }()

		assert.Error(t, consumer.IssueLabel(ctx, payload("ret-2")))

		got, err := repo.GetReturnRequest(ctx, merchantID, "ret-2")
		require.NoError(t, err)
		assert.Empty(t, got.ShippingLabelURL)
	})

	series, err := testutil.GatherAndCount(m.Registry(), "returnguard_tasks_total")
	require.NoError(t, err)
	assert.Equal(t, 3, series, "issue ok, issue error, confirmation ok")
}

func TestIssueLabelDefersConfirmation(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	mailer := &stubMailer{}
	followup := &recordingDispatcher{}
	consumer := &Consumer{Repo: repo, Labels: &stubIssuer{}, Mailer: mailer, Followup: followup}

	seed(t, repo, "ret-1", nil)
	require.NoError(t, consumer.IssueLabel(ctx, payload("ret-1")))

	assert.Equal(t, []queue.ReturnTaskPayload{payload("ret-1")}, followup.confirmations)
	assert.Equal(t, 0, mailer.count())
}

func TestSendConfirmation(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	seed(t, repo, "ret-gift", func(r *domain.ReturnRequest) {
		r.IsGift = true
		r.RecipientEmail = "friend@example.com"
		r.ShippingLabelURL = "https://labels.example/gift.pdf"
		r.TrackingNumber = "TRK-GIFT"
	})
	seed(t, repo, "ret-unlabeled", nil)

	t.Run("AddressesGiftRecipient", func(t *testing.T) {
		mailer := &stubMailer{}
		consumer := &Consumer{Repo: repo, Mailer: mailer}

		require.NoError(t, consumer.SendConfirmation(ctx, payload("ret-gift")))
		require.Equal(t, 1, mailer.count())
		assert.Equal(t, "friend@example.com", mailer.sent[0].To)
		assert.Equal(t, "1001", mailer.sent[0].OrderNumber)
	})

	t.Run("SkipsUnlabeled", func(t *testing.T) {
		mailer := &stubMailer{}
		consumer := &Consumer{Repo: repo, Mailer: mailer}
		require.NoError(t, consumer.SendConfirmation(ctx, payload("ret-unlabeled")))
		assert.Equal(t, 0, mailer.count())
	})

	t.Run("DisabledEmailIsNotAnError", func(t *testing.T) {
		consumer := &Consumer{Repo: repo, Mailer: notify.NewMailer(domain.EmailConfig{})}
		assert.NoError(t, consumer.SendConfirmation(ctx, payload("ret-gift")))
	})

	t.Run("NilMailer", func(t *testing.T) {
		consumer := &Consumer{Repo: repo}
		assert.NoError(t, consumer.SendConfirmation(ctx, payload("ret-gift")))
	})

	t.Run("TransientFailureIsReturned", func(t *testing.T) {
		consumer := &Consumer{Repo: repo, Mailer: &stubMailer{err: errors.New("421 try later")}}
		assert.Error(t, consumer.SendConfirmation(ctx, payload("ret-gift")))
	})
}

func TestHandlers(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	issuer := &stubIssuer{}
	consumer := &Consumer{Repo: repo, Labels: issuer}
	seed(t, repo, "ret-1", nil)

	task, err := queue.NewIssueLabelTask(payload("ret-1"))
	require.NoError(t, err)
	require.NoError(t, consumer.handleIssueLabel(ctx, task))
	assert.Equal(t, 1, issuer.count())

	assert.Error(t, consumer.handleIssueLabel(ctx, asynq.NewTask(queue.TaskIssueLabel, []byte("not json"))))
	assert.Error(t, consumer.handleSendConfirmation(ctx, asynq.NewTask(queue.TaskSendConfirmation, []byte("{"))))

	mux := asynq.NewServeMux()
	consumer.Register(mux)
	var nilConsumer *Consumer
	nilConsumer.Register(mux)
}

func TestInline(t *testing.T) {
	repo := newRepo(t)
	issuer := &stubIssuer{}
	mailer := &stubMailer{}
	inline := NewInline(&Consumer{Repo: repo, Labels: issuer, Mailer: mailer})

	seed(t, repo, "ret-1", nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, inline.IssueLabel(ctx, payload("ret-1")))
	cancel()
	inline.Wait()

	assert.Equal(t, 1, issuer.count())
	assert.Equal(t, 1, mailer.count())
}

func TestNewService(t *testing.T) {
	_, err := NewService(&domain.QueueConfig{Enabled: false}, &Consumer{})
	assert.EqualError(t, err, "queue disabled")

	_, err = NewService(&domain.QueueConfig{Enabled: true}, nil)
	assert.EqualError(t, err, "consumer is nil")

	svc, err := NewService(&domain.QueueConfig{Enabled: true, Host: "127.0.0.1", Port: 6379}, &Consumer{})
	require.NoError(t, err)
	assert.Equal(t, "worker", svc.Name())

	var nilService *Service
	assert.Equal(t, "worker", nilService.Name())
	assert.NoError(t, nilService.Stop(context.Background()))
	assert.Error(t, nilService.Start(context.Background()))
}
