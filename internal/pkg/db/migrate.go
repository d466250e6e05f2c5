package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// migration is one idempotent schema step.
type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{
		name: "network_members table",
		sql: `
		CREATE TABLE IF NOT EXISTS network_members (
			user_id UUID PRIMARY KEY,
			sponsor_id UUID REFERENCES network_members(user_id),
			referral_code VARCHAR(32) NOT NULL UNIQUE,
			activation_status VARCHAR(16) NOT NULL DEFAULT 'inactive',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CHECK (sponsor_id IS NULL OR sponsor_id <> user_id)
		);
		CREATE INDEX IF NOT EXISTS idx_network_members_sponsor ON network_members(sponsor_id);
		`,
	},
	{
		name: "transactions table",
		sql: `
		CREATE TABLE IF NOT EXISTS transactions (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL,
			type VARCHAR(16) NOT NULL,
			amount_minor BIGINT NOT NULL CHECK (amount_minor <> 0),
			currency VARCHAR(3) NOT NULL,
			status VARCHAR(16) NOT NULL,
			level INT CHECK (level >= 1),
			structure_type VARCHAR(16),
			source_id UUID,
			source_ref VARCHAR(255),
			frozen_until TIMESTAMPTZ,
			payload JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT transactions_source_ref_key UNIQUE (source_ref)
		);
		CREATE INDEX IF NOT EXISTS idx_transactions_user_time ON transactions(user_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_transactions_frozen ON transactions(frozen_until) WHERE frozen_until IS NOT NULL;
		`,
	},
	{
		name: "commission_plan_levels table",
		sql: `
		CREATE TABLE IF NOT EXISTS commission_plan_levels (
			plan_id VARCHAR(64) NOT NULL,
			structure_type VARCHAR(16) NOT NULL,
			level INT NOT NULL CHECK (level >= 1),
			percent NUMERIC(7,4) NOT NULL CHECK (percent >= 0 AND percent <= 100),
			description TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (plan_id, structure_type, level)
		);
		`,
	},
	{
		name: "orders tables",
		sql: `
		CREATE TABLE IF NOT EXISTS orders (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL,
			status VARCHAR(16) NOT NULL,
			structure_type VARCHAR(16) NOT NULL DEFAULT 'primary',
			total_minor BIGINT NOT NULL,
			currency VARCHAR(3) NOT NULL,
			gateway_amount NUMERIC(20,4) NOT NULL DEFAULT 0,
			gateway_currency VARCHAR(3) NOT NULL DEFAULT '',
			fx_rate NUMERIC(20,8),
			description TEXT NOT NULL DEFAULT '',
			paid_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_orders_user_time ON orders(user_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS order_items (
			id UUID PRIMARY KEY,
			order_id UUID NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
			product_id UUID,
			price_minor BIGINT NOT NULL,
			qty INT NOT NULL CHECK (qty > 0),
			is_activation_snapshot BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items(order_id);
		`,
	},
	{
		name: "withdrawal tables",
		sql: `
		CREATE TABLE IF NOT EXISTS auto_withdraw_rules (
			user_id UUID PRIMARY KEY,
			enabled BOOLEAN NOT NULL DEFAULT FALSE,
			threshold_minor BIGINT NOT NULL DEFAULT 0,
			min_amount_minor BIGINT NOT NULL DEFAULT 0,
			schedule VARCHAR(16) NOT NULL DEFAULT 'monthly',
			method_id UUID,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS withdrawals (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL,
			method_id UUID,
			amount_minor BIGINT NOT NULL,
			fee_minor BIGINT NOT NULL DEFAULT 0,
			status VARCHAR(16) NOT NULL,
			transaction_id UUID REFERENCES transactions(id),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			processed_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_withdrawals_user ON withdrawals(user_id, created_at DESC);
		`,
	},
}

// Migrate applies the schema. Every step is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	log.Info().Msg("Running database migrations...")

	for i, m := range migrations {
		if _, err := pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", i+1, m.name, err)
		}
		log.Info().Int("step", i+1).Str("migration", m.name).Msg("Migration applied")
	}

	log.Info().Msg("All migrations completed successfully")
	return nil
}
