// Copyright 2026 Ahmad
// SPDX-License-Identifier: MIT

package possync

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// initializeSchemaInTx creates the sync and POS tables within an existing
// transaction. Migrations are additive and idempotent so service startup is
// safe against concurrent instances.
func (s *SyncService) initializeSchemaInTx(ctx context.Context, tx pgx.Tx) error {
	migrations := []string{
		// Dedicated schema for the reconciliation engine's own state
		/*language=postgresql*/ `CREATE SCHEMA IF NOT EXISTS possync`,

		// The sync record: one row per offline document, keyed by the
		// client-generated offline id. The UNIQUE constraint is the atomic
		// idempotency gate; the check-then-insert pattern is never used.
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS possync.sync_records (
			id                 BIGSERIAL PRIMARY KEY,
			offline_id         TEXT        NOT NULL,
			document_type      TEXT        NOT NULL CHECK (document_type IN ('sales_invoice','customer')),
			payload            JSON        NOT NULL,
			device_id          TEXT        NOT NULL DEFAULT '',
			submitted_by       TEXT        NOT NULL DEFAULT '',
			session_ref        TEXT        NOT NULL DEFAULT '',
			created_offline_at TIMESTAMPTZ,
			received_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
			status             TEXT        NOT NULL DEFAULT 'pending'
			                   CHECK (status IN ('pending','processing','synced','failed','conflict')),
			failure_class      TEXT        NOT NULL DEFAULT '',
			attempt_count      INT         NOT NULL DEFAULT 0,
			last_attempt_at    TIMESTAMPTZ,
			priority           INT         NOT NULL DEFAULT 0,
			resolved_document_id TEXT,
			synced_at          TIMESTAMPTZ,
			error_message      TEXT,
			UNIQUE (offline_id)
		)`,
		// Retry sweep scans pending/failed in priority order
		`CREATE INDEX IF NOT EXISTS sr_retry_idx
			ON possync.sync_records (priority DESC, COALESCE(created_offline_at, received_at) ASC)
			WHERE status IN ('pending','failed')`,
		`CREATE INDEX IF NOT EXISTS sr_status_idx ON possync.sync_records (status)`,
		`CREATE INDEX IF NOT EXISTS sr_synced_at_idx ON possync.sync_records (synced_at) WHERE status = 'synced'`,

		// Business schema: server document store plus the master data the
		// materializer resolves against and the snapshot builder exports.
		/*language=postgresql*/ `CREATE SCHEMA IF NOT EXISTS pos`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS pos.companies (
			name                TEXT PRIMARY KEY,
			default_cost_center TEXT,
			tax_id              TEXT NOT NULL DEFAULT '',
			modified_at         TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS pos.cost_centers (
			name     TEXT PRIMARY KEY,
			company  TEXT NOT NULL REFERENCES pos.companies(name),
			is_group BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS pos.accounts (
			name    TEXT PRIMARY KEY,
			company TEXT NOT NULL REFERENCES pos.companies(name)
		)`,
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS pos.warehouses (
			name    TEXT PRIMARY KEY,
			company TEXT NOT NULL REFERENCES pos.companies(name)
		)`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS pos.item_groups (
			name        TEXT PRIMARY KEY,
			parent      TEXT NOT NULL DEFAULT '',
			modified_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS pos.items (
			item_code   TEXT PRIMARY KEY,
			item_name   TEXT NOT NULL,
			item_group  TEXT NOT NULL DEFAULT '' ,
			stock_uom   TEXT NOT NULL DEFAULT 'Unit',
			brand       TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			disabled    BOOLEAN NOT NULL DEFAULT FALSE,
			modified_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS items_modified_idx ON pos.items (modified_at)`,
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS pos.item_prices (
			item_code   TEXT NOT NULL REFERENCES pos.items(item_code),
			price_list  TEXT NOT NULL,
			rate        DOUBLE PRECISION NOT NULL DEFAULT 0,
			modified_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (item_code, price_list)
		)`,
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS pos.item_barcodes (
			barcode   TEXT PRIMARY KEY,
			item_code TEXT NOT NULL REFERENCES pos.items(item_code)
		)`,
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS pos.stock_bins (
			item_code  TEXT NOT NULL REFERENCES pos.items(item_code),
			warehouse  TEXT NOT NULL REFERENCES pos.warehouses(name),
			actual_qty DOUBLE PRECISION NOT NULL DEFAULT 0,
			PRIMARY KEY (item_code, warehouse)
		)`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS pos.customers (
			name           TEXT PRIMARY KEY,
			customer_group TEXT NOT NULL DEFAULT '',
			customer_type  TEXT NOT NULL DEFAULT 'Individual',
			phone          TEXT NOT NULL DEFAULT '',
			email          TEXT NOT NULL DEFAULT '',
			loyalty_points DOUBLE PRECISION NOT NULL DEFAULT 0,
			disabled       BOOLEAN NOT NULL DEFAULT FALSE,
			modified_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS customers_lower_name_idx ON pos.customers (lower(name))`,
		`CREATE INDEX IF NOT EXISTS customers_phone_idx ON pos.customers (phone) WHERE phone <> ''`,
		`CREATE INDEX IF NOT EXISTS customers_modified_idx ON pos.customers (modified_at)`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS pos.payment_methods (
			name        TEXT PRIMARY KEY,
			kind        TEXT NOT NULL DEFAULT 'Cash',
			modified_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS pos.payment_method_accounts (
			method  TEXT NOT NULL REFERENCES pos.payment_methods(name),
			company TEXT NOT NULL REFERENCES pos.companies(name),
			account TEXT NOT NULL REFERENCES pos.accounts(name),
			PRIMARY KEY (method, company)
		)`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS pos.tax_templates (
			name    TEXT PRIMARY KEY,
			company TEXT NOT NULL REFERENCES pos.companies(name)
		)`,
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS pos.tax_template_lines (
			template    TEXT NOT NULL REFERENCES pos.tax_templates(name),
			idx         INT  NOT NULL,
			charge_type TEXT NOT NULL DEFAULT 'On Net Total',
			account_head TEXT NOT NULL,
			rate        DOUBLE PRECISION NOT NULL DEFAULT 0,
			description TEXT NOT NULL DEFAULT '',
			modified_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (template, idx)
		)`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS pos.profiles (
			name             TEXT PRIMARY KEY,
			company          TEXT NOT NULL REFERENCES pos.companies(name),
			warehouse        TEXT NOT NULL DEFAULT '',
			selling_price_list TEXT NOT NULL DEFAULT '',
			tax_template     TEXT,
			income_account   TEXT,
			default_customer TEXT,
			currency         TEXT NOT NULL DEFAULT '',
			disabled         BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS pos.profile_item_groups (
			profile    TEXT NOT NULL REFERENCES pos.profiles(name),
			item_group TEXT NOT NULL REFERENCES pos.item_groups(name),
			PRIMARY KEY (profile, item_group)
		)`,
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS pos.operator_settings (
			operator         TEXT PRIMARY KEY,
			enabled          BOOLEAN NOT NULL DEFAULT TRUE,
			company          TEXT,
			cost_center      TEXT,
			warehouse        TEXT,
			income_account   TEXT,
			default_customer TEXT
		)`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS pos.sessions (
			id           UUID PRIMARY KEY,
			profile      TEXT NOT NULL REFERENCES pos.profiles(name),
			company      TEXT NOT NULL,
			operator     TEXT NOT NULL,
			device_id    TEXT NOT NULL DEFAULT '',
			status       TEXT NOT NULL DEFAULT 'open' CHECK (status IN ('open','closed')),
			opened_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			closed_at    TIMESTAMPTZ,
			opening_cash DOUBLE PRECISION NOT NULL DEFAULT 0,
			actual_cash  DOUBLE PRECISION NOT NULL DEFAULT 0,
			total_sales    DOUBLE PRECISION NOT NULL DEFAULT 0,
			total_returns  DOUBLE PRECISION NOT NULL DEFAULT 0,
			total_invoices INT NOT NULL DEFAULT 0,
			total_items    DOUBLE PRECISION NOT NULL DEFAULT 0
		)`,
		// One open session per operator+profile
		`CREATE UNIQUE INDEX IF NOT EXISTS sessions_open_idx
			ON pos.sessions (operator, profile) WHERE status = 'open'`,

		// Server document store. The UNIQUE on offline_id is the document-level
		// backstop against races that slip past the sync record gate.
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS pos.sales_invoices (
			id           UUID PRIMARY KEY,
			offline_id   TEXT,
			company      TEXT NOT NULL REFERENCES pos.companies(name),
			customer     TEXT NOT NULL,
			profile      TEXT NOT NULL DEFAULT '',
			session_id   UUID,
			cost_center  TEXT NOT NULL DEFAULT '',
			posting_date DATE NOT NULL DEFAULT CURRENT_DATE,
			status       TEXT NOT NULL DEFAULT 'draft' CHECK (status IN ('draft','submitted','voided')),
			is_return    BOOLEAN NOT NULL DEFAULT FALSE,
			net_total    DOUBLE PRECISION NOT NULL DEFAULT 0,
			tax_total    DOUBLE PRECISION NOT NULL DEFAULT 0,
			discount     DOUBLE PRECISION NOT NULL DEFAULT 0,
			grand_total  DOUBLE PRECISION NOT NULL DEFAULT 0,
			device_id    TEXT NOT NULL DEFAULT '',
			synced_from_offline BOOLEAN NOT NULL DEFAULT FALSE,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (offline_id)
		)`,
		`CREATE INDEX IF NOT EXISTS si_session_idx ON pos.sales_invoices (session_id) WHERE session_id IS NOT NULL`,
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS pos.sales_invoice_items (
			invoice_id     UUID NOT NULL REFERENCES pos.sales_invoices(id) ON DELETE CASCADE,
			idx            INT  NOT NULL,
			item_code      TEXT NOT NULL,
			item_name      TEXT NOT NULL DEFAULT '',
			qty            DOUBLE PRECISION NOT NULL,
			rate           DOUBLE PRECISION NOT NULL,
			amount         DOUBLE PRECISION NOT NULL,
			warehouse      TEXT NOT NULL DEFAULT '',
			income_account TEXT NOT NULL DEFAULT '',
			cost_center    TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (invoice_id, idx)
		)`,
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS pos.sales_invoice_payments (
			invoice_id UUID NOT NULL REFERENCES pos.sales_invoices(id) ON DELETE CASCADE,
			idx        INT  NOT NULL,
			method     TEXT NOT NULL,
			amount     DOUBLE PRECISION NOT NULL,
			account    TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (invoice_id, idx)
		)`,
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS pos.sales_invoice_taxes (
			invoice_id   UUID NOT NULL REFERENCES pos.sales_invoices(id) ON DELETE CASCADE,
			idx          INT  NOT NULL,
			charge_type  TEXT NOT NULL DEFAULT 'On Net Total',
			account_head TEXT NOT NULL,
			rate         DOUBLE PRECISION NOT NULL DEFAULT 0,
			tax_amount   DOUBLE PRECISION NOT NULL DEFAULT 0,
			description  TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (invoice_id, idx)
		)`,
	}

	for i, migration := range migrations {
		s.logger.Debug("Running schema migration", "step", i+1, "total", len(migrations))
		if _, err := tx.Exec(ctx, migration); err != nil {
			return fmt.Errorf("schema migration %d failed: %w", i+1, err)
		}
	}
	s.logger.Info("POS sync schema initialized", "migrations", len(migrations))

	return nil
}
