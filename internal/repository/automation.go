package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/returnguard/internal/domain"
)

// SaveAutomationRule upserts a rule with merchant isolation. The creation
// timestamp of an existing rule is never changed, so evaluation order is stable
// across edits.
func (r *SQLRepository) SaveAutomationRule(ctx context.Context, merchantID string, rule *domain.AutomationRule) error {
	if err := requireMerchant(merchantID); err != nil {
		return err
	}
	if rule == nil {
		return fmt.Errorf("%w: rule is required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	rule.MerchantID = merchantID

	query := `
		INSERT INTO automation_rules (
			id, merchant_id, name, rule_type, trigger_field, operator, value, is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			rule_type = excluded.rule_type,
			trigger_field = excluded.trigger_field,
			operator = excluded.operator,
			value = excluded.value,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
		WHERE automation_rules.merchant_id = excluded.merchant_id
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, merchantID, rule.Name,
		string(rule.Type), string(rule.Trigger), string(rule.Operator), rule.Value,
		boolToInt(rule.Active), rule.CreatedAt.UTC(), rule.UpdatedAt,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: rule %s belongs to another merchant", ErrConflict, rule.ID)
	}
	return nil
}

// GetAutomationRule retrieves a rule with merchant isolation.
func (r *SQLRepository) GetAutomationRule(ctx context.Context, merchantID string, ruleID string) (*domain.AutomationRule, error) {
	if err := requireMerchant(merchantID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, merchant_id, name, rule_type, trigger_field, operator, value, is_active, created_at, updated_at
		FROM automation_rules
		WHERE merchant_id = ? AND id = ?
	`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), merchantID, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// ListAutomationRules returns a merchant's rules in evaluation order:
// ascending creation time, ties broken by id.
func (r *SQLRepository) ListAutomationRules(ctx context.Context, merchantID string, activeOnly bool) ([]*domain.AutomationRule, error) {
	if err := requireMerchant(merchantID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, merchant_id, name, rule_type, trigger_field, operator, value, is_active, created_at, updated_at
		FROM automation_rules
		WHERE merchant_id = ?
	`
	if activeOnly {
		query += " AND is_active = 1"
	}
	query += " ORDER BY created_at, id"

	rows, err := r.db.QueryContext(ctx, r.rebind(query), merchantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.AutomationRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

// DisableAutomationRule soft-disables a rule by setting is_active = 0.
func (r *SQLRepository) DisableAutomationRule(ctx context.Context, merchantID string, ruleID string) error {
	if err := requireMerchant(merchantID); err != nil {
		return err
	}

	query := `
		UPDATE automation_rules
		SET is_active = 0, updated_at = ?
		WHERE merchant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), merchantID, ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// GetFraudSettings returns ErrNotFound when the merchant has none.
func (r *SQLRepository) GetFraudSettings(ctx context.Context, merchantID string) (*domain.FraudSettings, error) {
	if err := requireMerchant(merchantID); err != nil {
		return nil, err
	}

	query := `
		SELECT merchant_id, flag_high_velocity, max_return_velocity, flag_high_value, high_value_threshold, updated_at
		FROM fraud_settings
		WHERE merchant_id = ?
	`

	var s domain.FraudSettings
	var velocity, value int

	err := r.db.QueryRowContext(ctx, r.rebind(query), merchantID).Scan(
		&s.MerchantID, &velocity, &s.MaxReturnVelocity, &value, &s.HighValueThreshold, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	s.FlagHighVelocity = velocity == 1
	s.FlagHighValue = value == 1
	return &s, nil
}

// SaveFraudSettings upserts the merchant's fraud policy.
func (r *SQLRepository) SaveFraudSettings(ctx context.Context, merchantID string, settings *domain.FraudSettings) error {
	if err := requireMerchant(merchantID); err != nil {
		return err
	}
	if settings == nil {
		return fmt.Errorf("%w: settings are required", ErrInvalidInput)
	}
	if settings.MaxReturnVelocity < 0 || settings.HighValueThreshold.IsNegative() {
		return fmt.Errorf("%w: fraud thresholds must not be negative", ErrInvalidInput)
	}

	settings.MerchantID = merchantID
	settings.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO fraud_settings (
			merchant_id, flag_high_velocity, max_return_velocity, flag_high_value, high_value_threshold, updated_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(merchant_id) DO UPDATE SET
			flag_high_velocity = excluded.flag_high_velocity,
			max_return_velocity = excluded.max_return_velocity,
			flag_high_value = excluded.flag_high_value,
			high_value_threshold = excluded.high_value_threshold,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		merchantID, boolToInt(settings.FlagHighVelocity), settings.MaxReturnVelocity,
		boolToInt(settings.FlagHighValue), settings.HighValueThreshold, settings.UpdatedAt,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*domain.AutomationRule, error) {
	var rule domain.AutomationRule
	var ruleType, trigger, operator string
	var active int

	if err := row.Scan(
		&rule.ID, &rule.MerchantID, &rule.Name, &ruleType, &trigger, &operator,
		&rule.Value, &active, &rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return nil, err
	}

	rule.Type = domain.RuleType(ruleType)
	rule.Trigger = domain.TriggerField(trigger)
	rule.Operator = domain.Operator(operator)
	rule.Active = active == 1
	return &rule, nil
}
