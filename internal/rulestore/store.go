// Package rulestore serves merchant-scoped snapshots of automation rules and
// fraud settings, and owns the configuration path that edits them.
package rulestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/returnguard/internal/automation"
	"github.com/opensource-finance/returnguard/internal/cache"
	"github.com/opensource-finance/returnguard/internal/domain"
	"github.com/opensource-finance/returnguard/internal/logger"
	"github.com/opensource-finance/returnguard/internal/repository"
)

const snapshotKey = "decision-snapshot"

// Snapshot is what the engine reads for one merchant: active rules in
// evaluation order, and fraud settings (nil when none are configured).
type Snapshot struct {
	MerchantID string                   `json:"merchantId"`
	Rules      []*domain.AutomationRule `json:"rules"`
	Fraud      *domain.FraudSettings    `json:"fraud,omitempty"`
	LoadedAt   time.Time                `json:"loadedAt"`
}

// Store reads through cache to the repository.
type Store struct {
	repo  domain.Repository
	cache domain.Cache
	ttl   time.Duration
}

// New creates a store. A non-positive ttl disables snapshot caching.
func New(repo domain.Repository, c domain.Cache, ttl time.Duration) *Store {
	return &Store{repo: repo, cache: c, ttl: ttl}
}

// Snapshot returns the merchant's decision inputs, cached for the store TTL.
// Cache failures fall back to the repository.
func (s *Store) Snapshot(ctx context.Context, merchantID string) (*Snapshot, error) {
	if merchantID == "" {
		return nil, fmt.Errorf("%w: merchantID is required", repository.ErrInvalidInput)
	}

	if s.cache != nil && s.ttl > 0 {
		var snap Snapshot
		ok, err := cache.GetJSON(ctx, s.cache, merchantID, snapshotKey, &snap)
		if err != nil {
			logger.Warnw("rule_snapshot_cache_read_failed", "merchant_id", merchantID, "error", err)
		}
		if ok {
			return &snap, nil
		}
	}

	snap, err := s.load(ctx, merchantID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && s.ttl > 0 {
		if err := cache.SetJSON(ctx, s.cache, merchantID, snapshotKey, snap, s.ttl); err != nil {
			logger.Warnw("rule_snapshot_cache_write_failed", "merchant_id", merchantID, "error", err)
		}
	}
	return snap, nil
}

func (s *Store) load(ctx context.Context, merchantID string) (*Snapshot, error) {
	rules, err := s.repo.ListAutomationRules(ctx, merchantID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to load automation rules: %w", err)
	}
	automation.SortRules(rules)

	settings, err := s.repo.GetFraudSettings(ctx, merchantID)
	if errors.Is(err, repository.ErrNotFound) {
		settings, err = nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load fraud settings: %w", err)
	}

	return &Snapshot{
		MerchantID: merchantID,
		Rules:      rules,
		Fraud:      settings,
		LoadedAt:   time.Now().UTC(),
	}, nil
}

// Invalidate drops the cached snapshot so the next read reloads it.
func (s *Store) Invalidate(ctx context.Context, merchantID string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Delete(ctx, merchantID, snapshotKey)
}

// Rules lists every rule of the merchant, inactive ones included.
func (s *Store) Rules(ctx context.Context, merchantID string) ([]*domain.AutomationRule, error) {
	return s.repo.ListAutomationRules(ctx, merchantID, false)
}

// SaveRule validates and stores a rule. Rules the evaluator could never
// match are refused.
func (s *Store) SaveRule(ctx context.Context, merchantID string, rule *domain.AutomationRule) error {
	if err := automation.Validate(rule); err != nil {
		return err
	}
	if err := s.repo.SaveAutomationRule(ctx, merchantID, rule); err != nil {
		return err
	}
	logger.Infow("automation_rule_saved",
		"merchant_id", merchantID,
		"rule_id", rule.ID,
		"rule_type", rule.Type,
		"trigger", rule.Trigger,
		"operator", rule.Operator,
		"active", rule.Active,
	)
	return s.invalidate(ctx, merchantID)
}

// DisableRule soft-disables a rule.
func (s *Store) DisableRule(ctx context.Context, merchantID, ruleID string) error {
	if err := s.repo.DisableAutomationRule(ctx, merchantID, ruleID); err != nil {
		return err
	}
	logger.Infow("automation_rule_disabled", "merchant_id", merchantID, "rule_id", ruleID)
	return s.invalidate(ctx, merchantID)
}

// FraudSettings returns the merchant's fraud policy, creating it with
// defaults on first access.
func (s *Store) FraudSettings(ctx context.Context, merchantID string) (*domain.FraudSettings, error) {
	settings, err := s.repo.GetFraudSettings(ctx, merchantID)
	if err == nil {
		return settings, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	settings = domain.DefaultFraudSettings(merchantID)
	if err := s.repo.SaveFraudSettings(ctx, merchantID, settings); err != nil {
		return nil, fmt.Errorf("failed to create default fraud settings: %w", err)
	}
	logger.Infow("fraud_settings_created", "merchant_id", merchantID)

	if err := s.invalidate(ctx, merchantID); err != nil {
		return nil, err
	}
	return settings, nil
}

// SaveFraudSettings replaces the merchant's fraud policy.
func (s *Store) SaveFraudSettings(ctx context.Context, merchantID string, settings *domain.FraudSettings) error {
	if err := s.repo.SaveFraudSettings(ctx, merchantID, settings); err != nil {
		return err
	}
	logger.Infow("fraud_settings_saved",
		"merchant_id", merchantID,
		"flag_high_velocity", settings.FlagHighVelocity,
		"max_return_velocity", settings.MaxReturnVelocity,
		"flag_high_value", settings.FlagHighValue,
		"high_value_threshold", settings.HighValueThreshold.String(),
	)
	return s.invalidate(ctx, merchantID)
}

func (s *Store) invalidate(ctx context.Context, merchantID string) error {
	if err := s.Invalidate(ctx, merchantID); err != nil {
		return fmt.Errorf("failed to invalidate rule snapshot: %w", err)
	}
	return nil
}
