package domain

import "time"

// RuleType is the disposition an automation rule applies when it matches.
type RuleType string

const (
	RuleApprove RuleType = "APPROVE"
	RuleReject  RuleType = "REJECT"
	RuleFlag    RuleType = "FLAG"
)

// TriggerField is the attribute of a return request a rule is evaluated against.
type TriggerField string

const (
	TriggerTotalValue    TriggerField = "TOTAL_VALUE"
	TriggerReturnReason  TriggerField = "RETURN_REASON"
	TriggerItemCondition TriggerField = "ITEM_CONDITION"
)

// Operator compares the trigger value against the configured value.
type Operator string

const (
	OpEquals      Operator = "EQUALS"
	OpGreaterThan Operator = "GREATER_THAN"
	OpLessThan    Operator = "LESS_THAN"
	OpContains    Operator = "CONTAINS"
)

// AutomationRule is a merchant-authored condition mapped to a disposition.
type AutomationRule struct {
	ID         string       `json:"id"`
	MerchantID string       `json:"merchantId"`
	Name       string       `json:"name"`
	Type       RuleType     `json:"ruleType"`
	Trigger    TriggerField `json:"triggerField"`
	Operator   Operator     `json:"operator"`

	// Value is merchant-supplied text; numeric triggers parse it as a decimal.
	Value string `json:"value"`

	Active    bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Valid reports whether the enumerated fields hold known values.
func (t RuleType) Valid() bool {
	switch t {
	case RuleApprove, RuleReject, RuleFlag:
		return true
	}
	return false
}

// Valid reports whether the trigger is a known field.
func (f TriggerField) Valid() bool {
	switch f {
	case TriggerTotalValue, TriggerReturnReason, TriggerItemCondition:
		return true
	}
	return false
}

// Valid reports whether the operator is known.
func (o Operator) Valid() bool {
	switch o {
	case OpEquals, OpGreaterThan, OpLessThan, OpContains:
		return true
	}
	return false
}
