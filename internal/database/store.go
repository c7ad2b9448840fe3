package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// Store owns all durable state: holdings, cash balances, the transaction
// log, the reporter settings row, and the alert dedup log. Queries are
// written with ? binds and passed through Rebind so the same code runs on
// sqlite3 and postgres.
type Store struct {
	db  *sqlx.DB
	log *logrus.Logger
}

func New(db *sqlx.DB, log *logrus.Logger) *Store {
	return &Store{db: db, log: log}
}

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS holdings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol TEXT NOT NULL UNIQUE,
	shares NUMERIC NOT NULL,
	total_cost NUMERIC NOT NULL,
	avg_price NUMERIC NOT NULL,
	currency TEXT NOT NULL DEFAULT 'USD',
	buy_date TIMESTAMP,
	stop_loss NUMERIC,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS cash_balances (
	currency TEXT PRIMARY KEY,
	amount NUMERIC NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	symbol TEXT NOT NULL,
	shares NUMERIC NOT NULL,
	amount NUMERIC NOT NULL,
	price NUMERIC NOT NULL,
	currency TEXT NOT NULL DEFAULT 'USD',
	occurred_at TIMESTAMP NOT NULL,
	notes TEXT
);

CREATE TABLE IF NOT EXISTS reporter_settings (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	enabled INTEGER NOT NULL DEFAULT 0,
	email_address TEXT NOT NULL DEFAULT '',
	smtp_host TEXT NOT NULL DEFAULT '',
	smtp_port INTEGER NOT NULL DEFAULT 0,
	smtp_username TEXT NOT NULL DEFAULT '',
	smtp_password TEXT NOT NULL DEFAULT '',
	from_address TEXT NOT NULL DEFAULT '',
	check_interval INTEGER NOT NULL DEFAULT 60,
	last_run TIMESTAMP
);

CREATE TABLE IF NOT EXISTS alerts_log (
	holding_id INTEGER NOT NULL,
	alert_type TEXT NOT NULL,
	last_triggered TIMESTAMP NOT NULL,
	PRIMARY KEY (holding_id, alert_type)
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS holdings (
	id BIGSERIAL PRIMARY KEY,
	symbol TEXT NOT NULL UNIQUE,
	shares NUMERIC NOT NULL,
	total_cost NUMERIC NOT NULL,
	avg_price NUMERIC NOT NULL,
	currency TEXT NOT NULL DEFAULT 'USD',
	buy_date TIMESTAMPTZ,
	stop_loss NUMERIC,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS cash_balances (
	currency TEXT PRIMARY KEY,
	amount NUMERIC NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	symbol TEXT NOT NULL,
	shares NUMERIC NOT NULL,
	amount NUMERIC NOT NULL,
	price NUMERIC NOT NULL,
	currency TEXT NOT NULL DEFAULT 'USD',
	occurred_at TIMESTAMPTZ NOT NULL,
	notes TEXT
);

CREATE TABLE IF NOT EXISTS reporter_settings (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	enabled BOOLEAN NOT NULL DEFAULT FALSE,
	email_address TEXT NOT NULL DEFAULT '',
	smtp_host TEXT NOT NULL DEFAULT '',
	smtp_port INTEGER NOT NULL DEFAULT 0,
	smtp_username TEXT NOT NULL DEFAULT '',
	smtp_password TEXT NOT NULL DEFAULT '',
	from_address TEXT NOT NULL DEFAULT '',
	check_interval INTEGER NOT NULL DEFAULT 60,
	last_run TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS alerts_log (
	holding_id BIGINT NOT NULL,
	alert_type TEXT NOT NULL,
	last_triggered TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (holding_id, alert_type)
);
`

// Bootstrap creates the schema when missing and seeds the reporter
// settings singleton (disabled, 60s interval), matching a fresh install.
func (s *Store) Bootstrap(ctx context.Context) error {
	schema := schemaSQLite
	if s.db.DriverName() == "postgres" {
		schema = schemaPostgres
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("bootstrap schema: %w", err)
	}

	var count int
	if err := s.db.GetContext(ctx, &count, s.db.Rebind(`SELECT COUNT(*) FROM reporter_settings WHERE id = 1`)); err != nil {
		return fmt.Errorf("check settings row: %w", err)
	}
	if count == 0 {
		q := s.db.Rebind(`INSERT INTO reporter_settings (id, enabled, check_interval) VALUES (1, ?, 60)`)
		if _, err := s.db.ExecContext(ctx, q, false); err != nil {
			return fmt.Errorf("seed settings row: %w", err)
		}
	}
	return nil
}
