package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingRequest() *ReturnRequest {
	return &ReturnRequest{
		ID:            "ret-001",
		MerchantID:    "merchant-001",
		CustomerEmail: "shopper@example.com",
		Status:        StatusPending,
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to ReturnStatus
		want     bool
	}{
		{StatusPending, StatusApproved, true},
		{StatusPending, StatusRejected, true},
		{StatusApproved, StatusCompleted, true},
		{StatusPending, StatusCompleted, false},
		{StatusRejected, StatusApproved, false},
		{StatusApproved, StatusRejected, false},
		{StatusCompleted, StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestApplyRule(t *testing.T) {
	t.Run("ApproveMovesToApproved", func(t *testing.T) {
		req := pendingRequest()
		require.NoError(t, req.ApplyRule(&AutomationRule{ID: "r1", Type: RuleApprove}))
		assert.Equal(t, StatusApproved, req.Status)
		assert.Equal(t, "r1", req.AutomationRuleID)
	})

	t.Run("RejectMovesToRejected", func(t *testing.T) {
		req := pendingRequest()
		require.NoError(t, req.ApplyRule(&AutomationRule{ID: "r2", Type: RuleReject}))
		assert.Equal(t, StatusRejected, req.Status)
		assert.Equal(t, "r2", req.AutomationRuleID)
	})

	t.Run("FlagStaysPendingWithRule", func(t *testing.T) {
		req := pendingRequest()
		require.NoError(t, req.ApplyRule(&AutomationRule{ID: "r3", Type: RuleFlag}))
		assert.Equal(t, StatusPending, req.Status)
		assert.Equal(t, "r3", req.AutomationRuleID)
	})

	t.Run("FraudGated", func(t *testing.T) {
		req := pendingRequest()
		require.NoError(t, req.FlagFraud("High value return"))

		err := req.ApplyRule(&AutomationRule{ID: "r1", Type: RuleApprove})
		assert.True(t, errors.Is(err, ErrFraudGated))
		assert.Equal(t, StatusPending, req.Status)
		assert.Empty(t, req.AutomationRuleID)
	})

	t.Run("NotPending", func(t *testing.T) {
		req := pendingRequest()
		req.Status = StatusRejected

		err := req.ApplyRule(&AutomationRule{ID: "r1", Type: RuleApprove})
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Empty(t, req.AutomationRuleID)
	})

	t.Run("UnknownType", func(t *testing.T) {
		req := pendingRequest()
		assert.Error(t, req.ApplyRule(&AutomationRule{ID: "r1", Type: "ESCALATE"}))
		assert.Empty(t, req.AutomationRuleID)
	})
}

func TestFlagFraudAfterRule(t *testing.T) {
	req := pendingRequest()
	require.NoError(t, req.ApplyRule(&AutomationRule{ID: "r3", Type: RuleFlag}))

	err := req.FlagFraud("late")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.False(t, req.IsFlaggedFraud)
}

func TestComplete(t *testing.T) {
	req := pendingRequest()
	assert.ErrorIs(t, req.Complete(), ErrInvalidTransition)

	require.NoError(t, req.ApplyRule(&AutomationRule{ID: "r1", Type: RuleApprove}))
	require.NoError(t, req.Complete())
	assert.Equal(t, StatusCompleted, req.Status)
}

func TestAttachLabelOnce(t *testing.T) {
	req := pendingRequest()
	require.NoError(t, req.AttachLabel("https://labels.example/1.pdf", "TRK-1"))
	assert.Error(t, req.AttachLabel("https://labels.example/2.pdf", "TRK-2"))
	assert.Equal(t, "TRK-1", req.TrackingNumber)
}

func TestReasonTags(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		resolution Resolution
		gift       bool
		want       string
	}{
		{"Refund", "Too small", ResolutionRefund, false, "Too small [REFUND]"},
		{"ExchangeGift", "Wrong colour ", ResolutionExchange, true, "Wrong colour [EXCHANGE] [GIFT]"},
		{"NoResolution", "Damaged", "", false, "Damaged"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TaggedReason(tt.text, tt.resolution, tt.gift)
			assert.Equal(t, tt.want, got)

			req := &ReturnRequest{Reason: got}
			assert.Equal(t, strings.TrimSpace(tt.text), req.ShopperReason())
			assert.Equal(t, tt.resolution, req.Resolution())
		})
	}
}

func TestItemsTotal(t *testing.T) {
	req := &ReturnRequest{Items: []ReturnItem{
		{LineItemID: "li-1", UnitPrice: MustMoney("19.99"), Quantity: 2},
		{LineItemID: "li-2", UnitPrice: MustMoney("10.02"), Quantity: 1},
		{LineItemID: "li-3", UnitPrice: MustMoney("99.00"), Quantity: 0},
		{LineItemID: "li-4", UnitPrice: MustMoney("99.00"), Quantity: -3},
	}}

	assert.Equal(t, "50.00", req.ItemsTotal().StringFixed(2))
}

func TestNotifyEmail(t *testing.T) {
	req := pendingRequest()
	assert.Equal(t, "shopper@example.com", req.NotifyEmail())

	req.IsGift = true
	req.RecipientEmail = "friend@example.com"
	assert.Equal(t, "friend@example.com", req.NotifyEmail())
}

func TestMoneyJSON(t *testing.T) {
	var m Money
	require.NoError(t, json.Unmarshal([]byte(`"12.5"`), &m))
	assert.Equal(t, "12.50", m.String())

	require.NoError(t, json.Unmarshal([]byte(`7.125`), &m))
	assert.Equal(t, "7.13", m.String())

	out, err := json.Marshal(MustMoney("3"))
	require.NoError(t, err)
	assert.Equal(t, `"3.00"`, string(out))

	_, err = ParseMoney("abc")
	assert.Error(t, err)
}

func TestDefaultFraudSettings(t *testing.T) {
	s := DefaultFraudSettings("merchant-001")
	assert.True(t, s.FlagHighVelocity)
	assert.Equal(t, 3, s.MaxReturnVelocity)
	assert.True(t, s.FlagHighValue)
	assert.Equal(t, "500.00", s.HighValueThreshold.String())
}
