// Package domain defines the core types and interfaces for ReturnGuard.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require merchantID for strict merchant isolation.
type Repository interface {
	// Orders
	SaveOrder(ctx context.Context, merchantID string, order *Order) error
	GetOrder(ctx context.Context, merchantID string, orderID string) (*Order, error)

	// Return requests
	SaveReturnRequest(ctx context.Context, merchantID string, req *ReturnRequest) error
	GetReturnRequest(ctx context.Context, merchantID string, requestID string) (*ReturnRequest, error)
	UpdateReturnShipping(ctx context.Context, merchantID string, requestID string, labelURL string, trackingNumber string) error
	CountRecentReturns(ctx context.Context, merchantID string, customerEmail string, since time.Time, excludeID string) (int64, error)

	// Automation rules
	SaveAutomationRule(ctx context.Context, merchantID string, rule *AutomationRule) error
	GetAutomationRule(ctx context.Context, merchantID string, ruleID string) (*AutomationRule, error)
	ListAutomationRules(ctx context.Context, merchantID string, activeOnly bool) ([]*AutomationRule, error)
	DisableAutomationRule(ctx context.Context, merchantID string, ruleID string) error

	// Fraud settings
	GetFraudSettings(ctx context.Context, merchantID string) (*FraudSettings, error)
	SaveFraudSettings(ctx context.Context, merchantID string, settings *FraudSettings) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDB       string `mapstructure:"postgres_db"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}
