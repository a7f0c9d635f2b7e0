package automation

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/opensource-finance/returnguard/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const merchantID = "merchant-001"

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func newEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	e, err := NewEvaluator()
	require.NoError(t, err)
	return e
}

func rule(id string, trigger domain.TriggerField, op domain.Operator, value string, age int) *domain.AutomationRule {
	return &domain.AutomationRule{
		ID:         id,
		MerchantID: merchantID,
		Name:       id,
		Type:       domain.RuleApprove,
		Trigger:    trigger,
		Operator:   op,
		Value:      value,
		Active:     true,
		CreatedAt:  epoch.Add(time.Duration(age) * time.Minute),
	}
}

func returnOf(reason string, prices ...string) *domain.ReturnRequest {
	req := &domain.ReturnRequest{
		ID:         "ret-1",
		MerchantID: merchantID,
		Reason:     reason,
		Status:     domain.StatusPending,
	}
	for i, p := range prices {
		req.Items = append(req.Items, domain.ReturnItem{
			LineItemID: fmt.Sprintf("li-%d", i),
			UnitPrice:  domain.MustMoney(p),
			Quantity:   1,
		})
	}
	return req
}

func TestEvaluateTotalValue(t *testing.T) {
	e := newEvaluator(t)

	tests := []struct {
		name  string
		op    domain.Operator
		value string
		items []string
		want  bool
	}{
		{"EqualsExact", domain.OpEquals, "50", []string{"20.00", "30.00"}, true},
		{"EqualsTrailingZeros", domain.OpEquals, "50.000", []string{"50"}, true},
		{"EqualsOffByCent", domain.OpEquals, "50.00", []string{"50.01"}, false},
		{"GreaterThan", domain.OpGreaterThan, "100", []string{"100.01"}, true},
		{"GreaterThanEqual", domain.OpGreaterThan, "100", []string{"100.00"}, false},
		{"LessThan", domain.OpLessThan, "25", []string{"24.99"}, true},
		{"LessThanEmpty", domain.OpLessThan, "25", nil, true},
		{"NonNumericValue", domain.OpLessThan, "cheap", []string{"1.00"}, false},
		{"ContainsNeverMatches", domain.OpContains, "5", []string{"5.00"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := rule("r1", domain.TriggerTotalValue, tt.op, tt.value, 0)
			got := e.Evaluate(merchantID, []*domain.AutomationRule{r}, returnOf("any", tt.items...))
			assert.Equal(t, tt.want, got != nil)
		})
	}
}

func TestEvaluateQuantityCounts(t *testing.T) {
	e := newEvaluator(t)
	req := returnOf("x", "25.00")
	req.Items[0].Quantity = 2

	r := rule("r1", domain.TriggerTotalValue, domain.OpEquals, "50", 0)
	assert.NotNil(t, e.Evaluate(merchantID, []*domain.AutomationRule{r}, req))
}

func TestEvaluateReturnReason(t *testing.T) {
	e := newEvaluator(t)

	tests := []struct {
		name   string
		op     domain.Operator
		value  string
		reason string
		want   bool
	}{
		{"ContainsCaseInsensitive", domain.OpContains, "Wrong Size", "WRONG SIZE, too tight [REFUND]", true},
		{"ContainsMiss", domain.OpContains, "damaged", "wrong size [REFUND]", false},
		{"EqualsRawReason", domain.OpEquals, "wrong size [refund]", "Wrong Size [REFUND]", true},
		{"EqualsIgnoresNothing", domain.OpEquals, "wrong size", "wrong size [REFUND]", false},
		{"ContainsTag", domain.OpContains, "[gift]", "for my aunt [EXCHANGE] [GIFT]", true},
		{"GreaterThanNeverMatches", domain.OpGreaterThan, "a", "b", false},
		{"LessThanNeverMatches", domain.OpLessThan, "z", "a", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := rule("r1", domain.TriggerReturnReason, tt.op, tt.value, 0)
			got := e.Evaluate(merchantID, []*domain.AutomationRule{r}, returnOf(tt.reason, "10.00"))
			assert.Equal(t, tt.want, got != nil)
		})
	}
}

func TestEvaluateItemConditionNeverMatches(t *testing.T) {
	e := newEvaluator(t)
	for _, op := range []domain.Operator{domain.OpEquals, domain.OpContains, domain.OpGreaterThan, domain.OpLessThan} {
		r := rule("r1", domain.TriggerItemCondition, op, "damaged", 0)
		assert.Nil(t, e.Evaluate(merchantID, []*domain.AutomationRule{r}, returnOf("damaged", "1.00")), op)
	}
}

func TestEvaluateFirstMatchWins(t *testing.T) {
	e := newEvaluator(t)
	req := returnOf("wrong size [REFUND]", "40.00")

	older := rule("b-older", domain.TriggerTotalValue, domain.OpLessThan, "100", 0)
	newer := rule("a-newer", domain.TriggerReturnReason, domain.OpContains, "wrong size", 5)
	newer.Type = domain.RuleReject

	got := e.Evaluate(merchantID, []*domain.AutomationRule{newer, older}, req)
	require.NotNil(t, got)
	assert.Equal(t, "b-older", got.ID)

	t.Run("TieBrokenByID", func(t *testing.T) {
		x := rule("x", domain.TriggerTotalValue, domain.OpLessThan, "100", 0)
		y := rule("y", domain.TriggerTotalValue, domain.OpLessThan, "100", 0)
		got := e.Evaluate(merchantID, []*domain.AutomationRule{y, x}, req)
		require.NotNil(t, got)
		assert.Equal(t, "x", got.ID)
	})
}

func TestEvaluateSkipsInactiveAndForeignRules(t *testing.T) {
	e := newEvaluator(t)
	req := returnOf("x", "10.00")

	inactive := rule("inactive", domain.TriggerTotalValue, domain.OpLessThan, "100", 0)
	inactive.Active = false
	foreign := rule("foreign", domain.TriggerTotalValue, domain.OpLessThan, "100", 1)
	foreign.MerchantID = "merchant-002"

	assert.Nil(t, e.Evaluate(merchantID, []*domain.AutomationRule{inactive, foreign, nil}, req))
	assert.Nil(t, e.Evaluate(merchantID, nil, req))
	assert.Nil(t, e.Evaluate(merchantID, []*domain.AutomationRule{inactive}, nil))
}

func TestEvaluateDoesNotReorderInput(t *testing.T) {
	e := newEvaluator(t)
	rules := []*domain.AutomationRule{
		rule("late", domain.TriggerTotalValue, domain.OpGreaterThan, "1", 9),
		rule("early", domain.TriggerTotalValue, domain.OpGreaterThan, "1", 1),
	}
	_ = e.Evaluate(merchantID, rules, returnOf("x", "5.00"))
	assert.Equal(t, "late", rules[0].ID)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		rule    *domain.AutomationRule
		wantErr error
	}{
		{"Valid", rule("r", domain.TriggerTotalValue, domain.OpGreaterThan, "100.50", 0), nil},
		{"ValidReason", rule("r", domain.TriggerReturnReason, domain.OpContains, "damaged", 0), nil},
		{"Nil", nil, ErrInvalidRule},
		{"NumericValueRequired", rule("r", domain.TriggerTotalValue, domain.OpEquals, "ten", 0), ErrInvalidRule},
		{"EmptyValue", rule("r", domain.TriggerReturnReason, domain.OpContains, "  ", 0), ErrInvalidRule},
		{"UnknownOperator", rule("r", domain.TriggerReturnReason, "STARTS_WITH", "x", 0), ErrInvalidRule},
		{"ReasonGreaterThan", rule("r", domain.TriggerReturnReason, domain.OpGreaterThan, "x", 0), ErrIncompatibleOperator},
		{"TotalContains", rule("r", domain.TriggerTotalValue, domain.OpContains, "5", 0), ErrIncompatibleOperator},
		{"ItemConditionAccepted", rule("r", domain.TriggerItemCondition, domain.OpEquals, "new", 0), nil},
		{"ItemConditionAnyOperator", rule("r", domain.TriggerItemCondition, domain.OpGreaterThan, "new", 0), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.rule)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	badType := rule("r", domain.TriggerTotalValue, domain.OpEquals, "1", 0)
	badType.Type = "ESCALATE"
	assert.ErrorIs(t, Validate(badType), ErrInvalidRule)
}

func TestEvaluateProperties(t *testing.T) {
	e := newEvaluator(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	// Each threshold becomes a LESS_THAN rule; ages decide evaluation order.
	build := func(thresholds []int, ages []int) []*domain.AutomationRule {
		rules := make([]*domain.AutomationRule, 0, len(thresholds))
		for i, th := range thresholds {
			age := 0
			if i < len(ages) {
				age = ages[i]
			}
			rules = append(rules, rule(fmt.Sprintf("r%03d", i), domain.TriggerTotalValue, domain.OpLessThan, fmt.Sprint(th), age))
		}
		return rules
	}

	properties.Property("result is the earliest rule that matches alone", prop.ForAll(
		func(thresholds []int, ages []int, total int) bool {
			rules := build(thresholds, ages)
			req := returnOf("x", fmt.Sprint(total))

			got := e.Evaluate(merchantID, rules, req)

			sorted := append([]*domain.AutomationRule(nil), rules...)
			SortRules(sorted)
			for _, r := range sorted {
				if e.Evaluate(merchantID, []*domain.AutomationRule{r}, req) != nil {
					return got != nil && got.ID == r.ID
				}
			}
			return got == nil
		},
		gen.SliceOf(gen.IntRange(0, 500)),
		gen.SliceOf(gen.IntRange(0, 20)),
		gen.IntRange(0, 500),
	))

	properties.Property("input order does not change the result", prop.ForAll(
		func(thresholds []int, ages []int, total int, seed int64) bool {
			rules := build(thresholds, ages)
			req := returnOf("x", fmt.Sprint(total))

			shuffled := append([]*domain.AutomationRule(nil), rules...)
			rand.New(rand.NewSource(seed)).Shuffle(len(shuffled), func(i, j int) {
				shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
			})

			a := e.Evaluate(merchantID, rules, req)
			b := e.Evaluate(merchantID, shuffled, req)
			if a == nil || b == nil {
				return a == nil && b == nil
			}
			return a.ID == b.ID
		},
		gen.SliceOf(gen.IntRange(0, 500)),
		gen.SliceOf(gen.IntRange(0, 20)),
		gen.IntRange(0, 500),
		gen.Int64(),
	))

	properties.TestingRun(t)
}
