// Package automation evaluates merchant-authored return rules.
package automation

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/returnguard/internal/domain"
	"github.com/opensource-finance/returnguard/internal/logger"
	"github.com/shopspring/decimal"
)

// operand selects which CEL program family an operator runs in.
type operand int

const (
	numeric operand = iota
	text
)

type programKey struct {
	operand  operand
	operator domain.Operator
}

// Numeric programs see the sign of the decimal comparison rather than the
// amounts themselves, so no float conversion happens.
var expressions = map[programKey]string{
	{numeric, domain.OpEquals}:      "cmp == 0",
	{numeric, domain.OpGreaterThan}: "cmp > 0",
	{numeric, domain.OpLessThan}:    "cmp < 0",
	{text, domain.OpEquals}:         "actual == expected",
	{text, domain.OpContains}:       "actual.contains(expected)",
}

// Evaluator picks the first matching rule for a return request.
// It is safe for concurrent use.
type Evaluator struct {
	programs map[programKey]cel.Program
}

// NewEvaluator compiles the operator programs.
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("cmp", cel.IntType),
		cel.Variable("actual", cel.StringType),
		cel.Variable("expected", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	programs := make(map[programKey]cel.Program, len(expressions))
	for key, expr := range expressions {
		ast, issues := env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("failed to compile %s: %w", key.operator, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("operator %s: expression must return bool, got %s", key.operator, ast.OutputType())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("failed to create program for %s: %w", key.operator, err)
		}
		programs[key] = prg
	}

	return &Evaluator{programs: programs}, nil
}

// Evaluate returns the first active rule of merchantID that matches req, or
// nil. Rules are tried by ascending creation time, then id, whatever order
// they are passed in. Misconfigured rules never match.
func (e *Evaluator) Evaluate(merchantID string, rules []*domain.AutomationRule, req *domain.ReturnRequest) *domain.AutomationRule {
	if req == nil {
		return nil
	}

	candidates := make([]*domain.AutomationRule, 0, len(rules))
	for _, r := range rules {
		if r != nil && r.Active && r.MerchantID == merchantID {
			candidates = append(candidates, r)
		}
	}
	SortRules(candidates)

	total := req.ItemsTotal()
	for _, r := range candidates {
		if e.matches(r, req, total) {
			return r
		}
	}
	return nil
}

// SortRules orders rules by ascending creation time, ties broken by id.
func SortRules(rules []*domain.AutomationRule) {
	slices.SortStableFunc(rules, func(a, b *domain.AutomationRule) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func (e *Evaluator) matches(r *domain.AutomationRule, req *domain.ReturnRequest, total decimal.Decimal) bool {
	switch r.Trigger {
	case domain.TriggerTotalValue:
		expected, err := decimal.NewFromString(strings.TrimSpace(r.Value))
		if err != nil {
			logger.Debugw("automation_rule_value_invalid", "rule_id", r.ID, "value", r.Value)
			return false
		}
		return e.run(r, programKey{numeric, r.Operator}, map[string]any{
			"cmp":      int64(total.Cmp(expected)),
			"actual":   "",
			"expected": "",
		})

	case domain.TriggerReturnReason:
		return e.run(r, programKey{text, r.Operator}, map[string]any{
			"cmp":      int64(0),
			"actual":   strings.ToLower(req.Reason),
			"expected": strings.ToLower(r.Value),
		})

	default:
		return false
	}
}

func (e *Evaluator) run(r *domain.AutomationRule, key programKey, activation map[string]any) bool {
	prg, ok := e.programs[key]
	if !ok {
		return false
	}

	out, _, err := prg.Eval(activation)
	if err != nil {
		logger.Debugw("automation_rule_eval_failed", "rule_id", r.ID, "error", err)
		return false
	}
	matched, ok := out.(types.Bool)
	return ok && bool(matched)
}
