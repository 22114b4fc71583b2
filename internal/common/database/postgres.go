package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"order-fulfillment/internal/common/config"

	_ "github.com/lib/pq"
)

type PostgresClient struct {
	DB *sql.DB
}

func NewPostgres(cfg config.PostgresConfig) (*PostgresClient, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &PostgresClient{DB: db}, nil
}

func (c *PostgresClient) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

func (c *PostgresClient) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}

func (c *PostgresClient) GetDB() *sql.DB {
	return c.DB
}

// schema is applied in order; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS branches (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		is_open BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		base_price NUMERIC(10,2) NOT NULL CHECK (base_price >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS branch_products (
		branch_id TEXT NOT NULL REFERENCES branches(id),
		product_id TEXT NOT NULL REFERENCES products(id),
		is_available BOOLEAN NOT NULL DEFAULT TRUE,
		is_bogo BOOLEAN NOT NULL DEFAULT FALSE,
		sale_price NUMERIC(10,2),
		PRIMARY KEY (branch_id, product_id)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		customer_name TEXT NOT NULL,
		customer_phone TEXT NOT NULL,
		branch_id TEXT NOT NULL REFERENCES branches(id),
		order_type TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		total_amount NUMERIC(10,2) NOT NULL,
		items JSONB NOT NULL,
		delivery_location TEXT,
		order_status TEXT NOT NULL DEFAULT 'new',
		payment_status TEXT NOT NULL DEFAULT 'pending'
	)`,
	`CREATE INDEX IF NOT EXISTS orders_branch_active_idx ON orders (branch_id, created_at) WHERE order_status <> 'completed'`,
	`CREATE TABLE IF NOT EXISTS payment_requests (
		checkout_request_id TEXT PRIMARY KEY,
		merchant_request_id TEXT NOT NULL DEFAULT '',
		order_id TEXT NOT NULL REFERENCES orders(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// Migrate creates the fulfillment tables when they are missing.
func (c *PostgresClient) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := c.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i+1, err)
		}
	}
	return nil
}
