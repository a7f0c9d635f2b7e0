package velocity

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/returnguard/internal/domain"
	"github.com/opensource-finance/returnguard/internal/repository"
)

func TestVelocityService(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "velocity-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	svc := NewService(repo)
	ctx := context.Background()
	merchantID := "merchant-001"
	email := "shopper@example.com"

	order := &domain.Order{
		ExternalID:    "ext-1",
		Platform:      domain.PlatformShopify,
		OrderNumber:   "1001",
		CustomerEmail: email,
		Total:         domain.MustMoney("100"),
	}
	if err := repo.SaveOrder(ctx, merchantID, order); err != nil {
		t.Fatalf("SaveOrder failed: %v", err)
	}

	t.Run("EmptyHistory", func(t *testing.T) {
		count, err := svc.RecentReturns(ctx, merchantID, email, "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 0 {
			t.Errorf("expected count 0 for empty history, got %d", count)
		}
	})

	t.Run("WithReturns", func(t *testing.T) {
		now := time.Now().UTC()
		for i := 0; i < 3; i++ {
			req := &domain.ReturnRequest{
				ID:            fmt.Sprintf("ret-%d", i),
				OrderID:       order.ID,
				CustomerEmail: email,
				Reason:        "wrong size [REFUND]",
				Status:        domain.StatusPending,
				RefundAmount:  domain.MustMoney("10"),
				CreatedAt:     now.Add(-time.Duration(i) * 24 * time.Hour),
			}
			if err := repo.SaveReturnRequest(ctx, merchantID, req); err != nil {
				t.Fatalf("SaveReturnRequest failed: %v", err)
			}
		}

		count, err := svc.RecentReturns(ctx, merchantID, email, "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 3 {
			t.Errorf("expected count 3, got %d", count)
		}

		count, _ = svc.RecentReturns(ctx, merchantID, email, "ret-0")
		if count != 2 {
			t.Errorf("expected count 2 excluding ret-0, got %d", count)
		}
	})

	t.Run("WindowMovesWithClock", func(t *testing.T) {
		shifted := NewService(repo)
		shifted.now = func() time.Time { return time.Now().Add(31 * 24 * time.Hour) }

		count, err := shifted.RecentReturns(ctx, merchantID, email, "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 0 {
			t.Errorf("expected count 0 once the window has passed, got %d", count)
		}
	})

	t.Run("MerchantIsolation", func(t *testing.T) {
		count, err := svc.RecentReturns(ctx, "merchant-002", email, "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 0 {
			t.Errorf("expected count 0 for different merchant, got %d", count)
		}
	})

	t.Run("RequiresParameters", func(t *testing.T) {
		if _, err := svc.RecentReturns(ctx, "", email, ""); err == nil {
			t.Error("expected error for empty merchantID")
		}
		if _, err := svc.RecentReturns(ctx, merchantID, "", ""); err == nil {
			t.Error("expected error for empty customerEmail")
		}
	})

	if svc.Window() != 30*24*time.Hour {
		t.Errorf("expected 30 day window, got %v", svc.Window())
	}
}
