package repository

// Schema definitions for the ReturnGuard database.
// Compatible with both SQLite and PostgreSQL. Money columns hold fixed
// two-decimal text.

const schemaOrders = `
CREATE TABLE IF NOT EXISTS orders (
    id TEXT PRIMARY KEY,
    merchant_id TEXT NOT NULL,
    external_id TEXT NOT NULL,
    platform TEXT NOT NULL,
    order_number TEXT NOT NULL,
    customer_email TEXT NOT NULL,
    line_items TEXT NOT NULL,
    total TEXT NOT NULL,
    currency TEXT NOT NULL DEFAULT 'USD',
    shipping_address TEXT,
    ordered_at TIMESTAMP NOT NULL,
    synced_at TIMESTAMP NOT NULL,
    UNIQUE (merchant_id, platform, external_id)
);

CREATE INDEX IF NOT EXISTS idx_orders_merchant ON orders(merchant_id);
CREATE INDEX IF NOT EXISTS idx_orders_email ON orders(merchant_id, customer_email);
`

const schemaReturnRequests = `
CREATE TABLE IF NOT EXISTS return_requests (
    id TEXT PRIMARY KEY,
    order_id TEXT NOT NULL,
    merchant_id TEXT NOT NULL,
    customer_email TEXT NOT NULL,
    reason TEXT NOT NULL,
    status TEXT NOT NULL,
    items TEXT NOT NULL,
    refund_amount TEXT NOT NULL,
    is_flagged_fraud INTEGER NOT NULL DEFAULT 0,
    fraud_reason TEXT,
    automation_rule_id TEXT,
    is_gift INTEGER NOT NULL DEFAULT 0,
    recipient_email TEXT,
    shipping_label_url TEXT,
    tracking_number TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_return_requests_merchant ON return_requests(merchant_id);
CREATE INDEX IF NOT EXISTS idx_return_requests_velocity ON return_requests(merchant_id, customer_email, created_at);
CREATE INDEX IF NOT EXISTS idx_return_requests_order ON return_requests(merchant_id, order_id);
`

const schemaAutomationRules = `
CREATE TABLE IF NOT EXISTS automation_rules (
    id TEXT PRIMARY KEY,
    merchant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    rule_type TEXT NOT NULL,
    trigger_field TEXT NOT NULL,
    operator TEXT NOT NULL,
    value TEXT NOT NULL,
    is_active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_automation_rules_merchant ON automation_rules(merchant_id, is_active);
CREATE INDEX IF NOT EXISTS idx_automation_rules_order ON automation_rules(merchant_id, created_at, id);
`

const schemaFraudSettings = `
CREATE TABLE IF NOT EXISTS fraud_settings (
    merchant_id TEXT PRIMARY KEY,
    flag_high_velocity INTEGER NOT NULL DEFAULT 1,
    max_return_velocity INTEGER NOT NULL DEFAULT 3,
    flag_high_value INTEGER NOT NULL DEFAULT 1,
    high_value_threshold TEXT NOT NULL DEFAULT '500.00',
    updated_at TIMESTAMP NOT NULL
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaOrders,
		schemaReturnRequests,
		schemaAutomationRules,
		schemaFraudSettings,
	}
}
