package store

import (
	"context"
	"fmt"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		account_type TEXT NOT NULL,
		currency TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		balance REAL NOT NULL DEFAULT 0,
		user_id INTEGER,
		metadata TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_accounts_user_id ON accounts(user_id)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		transaction_type TEXT NOT NULL,
		amount REAL NOT NULL,
		currency TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		source_account_id TEXT,
		destination_account_id TEXT,
		user_id INTEGER,
		created_at TIMESTAMP NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		reference_id TEXT,
		metadata TEXT NOT NULL DEFAULT '{}',
		processed_at TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_user_id ON transactions(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_source ON transactions(source_account_id)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_destination ON transactions(destination_account_id)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_created_at ON transactions(created_at)`,
	`CREATE TABLE IF NOT EXISTS currency_rates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		base_currency TEXT NOT NULL,
		quote_currency TEXT NOT NULL,
		rate REAL NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		source TEXT NOT NULL DEFAULT 'unknown'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_currency_rates_pair ON currency_rates(base_currency, quote_currency, timestamp)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		account_type TEXT NOT NULL,
		currency TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL,
		balance DOUBLE PRECISION NOT NULL DEFAULT 0,
		user_id BIGINT,
		metadata TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_accounts_user_id ON accounts(user_id)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		transaction_type TEXT NOT NULL,
		amount DOUBLE PRECISION NOT NULL CHECK (amount > 0),
		currency TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		source_account_id TEXT REFERENCES accounts(id),
		destination_account_id TEXT REFERENCES accounts(id),
		user_id BIGINT,
		created_at TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		reference_id TEXT,
		metadata TEXT NOT NULL DEFAULT '{}',
		processed_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_user_id ON transactions(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_source ON transactions(source_account_id)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_destination ON transactions(destination_account_id)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_created_at ON transactions(created_at)`,
	`CREATE TABLE IF NOT EXISTS currency_rates (
		id BIGSERIAL PRIMARY KEY,
		base_currency TEXT NOT NULL,
		quote_currency TEXT NOT NULL,
		rate DOUBLE PRECISION NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		source TEXT NOT NULL DEFAULT 'unknown'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_currency_rates_pair ON currency_rates(base_currency, quote_currency, timestamp)`,
}

// Migrate creates the accounts, transactions and currency_rates tables if missing.
func Migrate(ctx context.Context, gw Gateway) error {
	stmts := sqliteSchema
	if gw.Dialect() == DialectPostgres {
		stmts = postgresSchema
	}
	for _, stmt := range stmts {
		if _, err := gw.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
