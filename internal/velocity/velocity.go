// Package velocity counts a shopper's recent returns for the fraud detector.
package velocity

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/returnguard/internal/domain"
)

// Counter reports how many qualifying returns a customer has in the
// trailing window.
type Counter interface {
	RecentReturns(ctx context.Context, merchantID, customerEmail, excludeID string) (int64, error)
}

// Service counts historical return requests through the repository.
type Service struct {
	repo   domain.Repository
	window time.Duration
	now    func() time.Time
}

// NewService creates a velocity service over the trailing VelocityWindow.
func NewService(repo domain.Repository) *Service {
	return &Service{
		repo:   repo,
		window: domain.VelocityWindow,
		now:    time.Now,
	}
}

// Window returns the trailing window the service counts over.
func (s *Service) Window() time.Duration {
	return s.window
}

// RecentReturns counts the merchant's pending or completed returns for
// customerEmail created inside the window, leaving out excludeID.
func (s *Service) RecentReturns(ctx context.Context, merchantID, customerEmail, excludeID string) (int64, error) {
	if merchantID == "" || customerEmail == "" {
		return 0, fmt.Errorf("merchantID and customerEmail are required")
	}

	since := s.now().UTC().Add(-s.window)
	count, err := s.repo.CountRecentReturns(ctx, merchantID, customerEmail, since, excludeID)
	if err != nil {
		return 0, fmt.Errorf("failed to count recent returns: %w", err)
	}
	return count, nil
}
