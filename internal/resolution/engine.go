package resolution

import (
	"context"

	"github.com/opensource-finance/returnguard/internal/domain"
	"github.com/opensource-finance/returnguard/internal/logger"
	"github.com/opensource-finance/returnguard/internal/rulestore"
)

// Decision is how the engine left a request.
type Decision string

const (
	DecisionFraud        Decision = "fraud_flagged"
	DecisionApproved     Decision = "approved"
	DecisionRejected     Decision = "rejected"
	DecisionFlagged      Decision = "flagged_for_review"
	DecisionManualReview Decision = "manual_review"
)

// FraudChecker screens a request under the merchant's fraud settings.
type FraudChecker interface {
	Check(ctx context.Context, settings *domain.FraudSettings, req *domain.ReturnRequest) domain.Verdict
}

// RuleMatcher returns the first matching automation rule, if any.
type RuleMatcher interface {
	Evaluate(merchantID string, rules []*domain.AutomationRule, req *domain.ReturnRequest) *domain.AutomationRule
}

// stage decides the request or passes it to the next stage.
type stage func(ctx context.Context, snap *rulestore.Snapshot, req *domain.ReturnRequest) (Decision, bool)

// Engine runs the decision stages in order: fraud screening, then rules.
// The first stage that decides ends the pass.
type Engine struct {
	fraud  FraudChecker
	rules  RuleMatcher
	stages []stage
}

// NewEngine creates an engine.
func NewEngine(fraud FraudChecker, rules RuleMatcher) *Engine {
	e := &Engine{fraud: fraud, rules: rules}
	e.stages = []stage{e.screenFraud, e.applyRules}
	return e
}

// Decide mutates req according to snap and reports the decision. A request
// no stage decides stays pending for manual review.
func (e *Engine) Decide(ctx context.Context, snap *rulestore.Snapshot, req *domain.ReturnRequest) Decision {
	if snap == nil {
		snap = &rulestore.Snapshot{MerchantID: req.MerchantID}
	}
	for _, s := range e.stages {
		if d, done := s(ctx, snap, req); done {
			return d
		}
	}
	return DecisionManualReview
}

func (e *Engine) screenFraud(ctx context.Context, snap *rulestore.Snapshot, req *domain.ReturnRequest) (Decision, bool) {
	if e.fraud == nil || snap.Fraud == nil {
		return "", false
	}
	verdict := e.fraud.Check(ctx, snap.Fraud, req)
	if !verdict.IsFraud {
		return "", false
	}
	if err := req.FlagFraud(verdict.Reason); err != nil {
		logger.Warnw("return_fraud_flag_failed", "return_id", req.ID, "error", err)
		return DecisionManualReview, true
	}
	return DecisionFraud, true
}

func (e *Engine) applyRules(_ context.Context, snap *rulestore.Snapshot, req *domain.ReturnRequest) (Decision, bool) {
	if e.rules == nil {
		return "", false
	}
	rule := e.rules.Evaluate(req.MerchantID, snap.Rules, req)
	if rule == nil {
		return "", false
	}
	if err := req.ApplyRule(rule); err != nil {
		logger.Warnw("return_rule_apply_failed", "return_id", req.ID, "rule_id", rule.ID, "error", err)
		return DecisionManualReview, true
	}

	switch rule.Type {
	case domain.RuleApprove:
		return DecisionApproved, true
	case domain.RuleReject:
		return DecisionRejected, true
	default:
		return DecisionFlagged, true
	}
}
