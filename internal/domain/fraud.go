package domain

import "time"

// VelocityWindow is the trailing window used by the return velocity check.
const VelocityWindow = 30 * 24 * time.Hour

// FraudSettings is a merchant's fraud policy. One per merchant.
type FraudSettings struct {
	MerchantID string `json:"merchantId"`

	FlagHighVelocity  bool `json:"flagHighVelocity"`
	MaxReturnVelocity int  `json:"maxReturnVelocity"`

	FlagHighValue      bool  `json:"flagHighValue"`
	HighValueThreshold Money `json:"highValueThreshold"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// DefaultFraudSettings returns the policy created on first configuration access.
func DefaultFraudSettings(merchantID string) *FraudSettings {
	return &FraudSettings{
		MerchantID:         merchantID,
		FlagHighVelocity:   true,
		MaxReturnVelocity:  3,
		FlagHighValue:      true,
		HighValueThreshold: MustMoney("500.00"),
		UpdatedAt:          time.Now().UTC(),
	}
}

// Verdict is the fraud detector's answer for one request.
type Verdict struct {
	IsFraud bool   `json:"isFraud"`
	Reason  string `json:"reason,omitempty"`
}
