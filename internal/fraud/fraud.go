// Package fraud decides whether a return request looks fraudulent under a
// merchant's fraud policy.
package fraud

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/returnguard/internal/domain"
	"github.com/opensource-finance/returnguard/internal/logger"
	"github.com/opensource-finance/returnguard/internal/velocity"
)

// check inspects one heuristic. It returns a reason when it fires.
type check func(ctx context.Context, settings *domain.FraudSettings, req *domain.ReturnRequest) (string, bool)

// Detector runs the velocity check, then the value check. The first check
// that fires decides the verdict.
type Detector struct {
	counter velocity.Counter
	window  time.Duration
	checks  []check
}

// NewDetector creates a detector that reads history through counter.
func NewDetector(counter velocity.Counter) *Detector {
	d := &Detector{
		counter: counter,
		window:  domain.VelocityWindow,
	}
	d.checks = []check{d.velocity, d.value}
	return d
}

// Check returns the verdict for req. nil settings disable fraud checking.
// It never fails: history lookup errors count as no history.
func (d *Detector) Check(ctx context.Context, settings *domain.FraudSettings, req *domain.ReturnRequest) domain.Verdict {
	if settings == nil || req == nil {
		return domain.Verdict{}
	}
	for _, c := range d.checks {
		if reason, fired := c(ctx, settings, req); fired {
			return domain.Verdict{IsFraud: true, Reason: reason}
		}
	}
	return domain.Verdict{}
}

func (d *Detector) velocity(ctx context.Context, settings *domain.FraudSettings, req *domain.ReturnRequest) (string, bool) {
	if !settings.FlagHighVelocity || d.counter == nil {
		return "", false
	}

	count, err := d.counter.RecentReturns(ctx, req.MerchantID, req.CustomerEmail, req.ID)
	if err != nil {
		logger.Warnw("fraud_history_unavailable",
			"merchant_id", req.MerchantID,
			"return_id", req.ID,
			"error", err,
		)
		count = 0
	}

	if count < int64(settings.MaxReturnVelocity) {
		return "", false
	}
	days := int(d.window / (24 * time.Hour))
	return fmt.Sprintf("High return velocity: %d returns in last %d days.", count, days), true
}

func (d *Detector) value(_ context.Context, settings *domain.FraudSettings, req *domain.ReturnRequest) (string, bool) {
	if !settings.FlagHighValue {
		return "", false
	}

	total := req.ItemsTotal()
	threshold := settings.HighValueThreshold.Decimal
	if total.LessThan(threshold) {
		return "", false
	}
	return fmt.Sprintf("High value return: $%s exceeds threshold of $%s.", total.StringFixed(2), threshold.StringFixed(2)), true
}
