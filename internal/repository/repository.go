// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/returnguard/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("record conflict")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := NewWithDB(db, cfg.Driver)

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

// NewWithDB wraps an already opened database. No migrations are run.
func NewWithDB(db *sql.DB, driver string) *SQLRepository {
	return &SQLRepository{db: db, driver: driver}
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

func requireMerchant(merchantID string) error {
	if merchantID == "" {
		return fmt.Errorf("%w: merchantID is required", ErrInvalidInput)
	}
	return nil
}

// SaveOrder upserts a synced order. A re-sync of the same platform order
// overwrites the stored copy and keeps its original id.
func (r *SQLRepository) SaveOrder(ctx context.Context, merchantID string, order *domain.Order) error {
	if err := requireMerchant(merchantID); err != nil {
		return err
	}
	if order == nil || order.ExternalID == "" || order.Platform == "" {
		return fmt.Errorf("%w: order external id and platform are required", ErrInvalidInput)
	}

	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	if order.Currency == "" {
		order.Currency = domain.DefaultCurrency
	}
	if order.OrderedAt.IsZero() {
		order.OrderedAt = time.Now().UTC()
	}
	order.SyncedAt = time.Now().UTC()
	order.MerchantID = merchantID

	items, err := json.Marshal(order.LineItems)
	if err != nil {
		return fmt.Errorf("failed to encode line items: %w", err)
	}

	var address sql.NullString
	if order.ShippingAddress != nil {
		b, err := json.Marshal(order.ShippingAddress)
		if err != nil {
			return fmt.Errorf("failed to encode shipping address: %w", err)
		}
		address = nullString(string(b))
	}

	query := `
		INSERT INTO orders (
			id, merchant_id, external_id, platform, order_number, customer_email,
			line_items, total, currency, shipping_address, ordered_at, synced_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(merchant_id, platform, external_id) DO UPDATE SET
			order_number = excluded.order_number,
			customer_email = excluded.customer_email,
			line_items = excluded.line_items,
			total = excluded.total,
			currency = excluded.currency,
			shipping_address = excluded.shipping_address,
			ordered_at = excluded.ordered_at,
			synced_at = excluded.synced_at
		RETURNING id
	`

	return r.db.QueryRowContext(ctx, r.rebind(query),
		order.ID, merchantID, order.ExternalID, string(order.Platform),
		order.OrderNumber, order.CustomerEmail,
		string(items), order.Total, order.Currency, address,
		order.OrderedAt.UTC(), order.SyncedAt,
	).Scan(&order.ID)
}

// GetOrder retrieves an order by ID with merchant isolation.
func (r *SQLRepository) GetOrder(ctx context.Context, merchantID string, orderID string) (*domain.Order, error) {
	if err := requireMerchant(merchantID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, merchant_id, external_id, platform, order_number, customer_email,
			   line_items, total, currency, shipping_address, ordered_at, synced_at
		FROM orders
		WHERE merchant_id = ? AND id = ?
	`

	var o domain.Order
	var platform, items string
	var address sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), merchantID, orderID).Scan(
		&o.ID, &o.MerchantID, &o.ExternalID, &platform, &o.OrderNumber, &o.CustomerEmail,
		&items, &o.Total, &o.Currency, &address, &o.OrderedAt, &o.SyncedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	o.Platform = domain.Platform(platform)
	if err := json.Unmarshal([]byte(items), &o.LineItems); err != nil {
		return nil, fmt.Errorf("failed to parse line items for order %s: %w", o.ID, err)
	}
	if address.Valid {
		o.ShippingAddress = &domain.Address{}
		if err := json.Unmarshal([]byte(address.String), o.ShippingAddress); err != nil {
			return nil, fmt.Errorf("failed to parse shipping address for order %s: %w", o.ID, err)
		}
	}

	return &o, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
