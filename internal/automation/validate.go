package automation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/opensource-finance/returnguard/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidRule          = errors.New("automation: invalid rule")
	ErrIncompatibleOperator = errors.New("automation: operator not supported for trigger")
)

// Validate reports configuration problems that would keep rule from ever
// matching. ITEM_CONDITION rules pass; the evaluator never matches them.
func Validate(rule *domain.AutomationRule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule is required", ErrInvalidRule)
	}
	if !rule.Type.Valid() {
		return fmt.Errorf("%w: unknown rule type %q", ErrInvalidRule, rule.Type)
	}
	if !rule.Trigger.Valid() {
		return fmt.Errorf("%w: unknown trigger field %q", ErrInvalidRule, rule.Trigger)
	}
	if !rule.Operator.Valid() {
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidRule, rule.Operator)
	}
	if strings.TrimSpace(rule.Value) == "" {
		return fmt.Errorf("%w: value is required", ErrInvalidRule)
	}

	// ITEM_CONDITION is accepted and stored but has no item data to match yet.
	if rule.Trigger == domain.TriggerItemCondition {
		return nil
	}
	if !Compatible(rule.Trigger, rule.Operator) {
		return fmt.Errorf("%w: %s with %s", ErrIncompatibleOperator, rule.Trigger, rule.Operator)
	}

	if rule.Trigger == domain.TriggerTotalValue {
		if _, err := decimal.NewFromString(strings.TrimSpace(rule.Value)); err != nil {
			return fmt.Errorf("%w: %s value %q is not a number", ErrInvalidRule, rule.Trigger, rule.Value)
		}
	}
	return nil
}

// Compatible reports whether the evaluator can ever match trigger with op.
func Compatible(trigger domain.TriggerField, op domain.Operator) bool {
	switch trigger {
	case domain.TriggerTotalValue:
		_, ok := expressions[programKey{numeric, op}]
		return ok
	case domain.TriggerReturnReason:
		_, ok := expressions[programKey{text, op}]
		return ok
	default:
		return false
	}
}
