// Copyright 2026 Ahmad
// SPDX-License-Identifier: MIT

package possync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DocumentObserver receives notifications after an invoice changes its
// lifecycle state and the change is committed. Observer failures are logged
// and never roll back the document.
type DocumentObserver interface {
	// DocumentFinalized fires after an invoice reaches submitted state.
	DocumentFinalized(ctx context.Context, inv *SalesInvoice) error
	// DocumentVoided fires after a submitted invoice is voided.
	DocumentVoided(ctx context.Context, inv *SalesInvoice) error
}

// SessionTotalsObserver keeps cash session aggregates consistent with the
// invoices attached to the session. Totals are recomputed from the document
// store rather than incremented, so redelivered notifications and retried
// records cannot double-count.
type SessionTotalsObserver struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewSessionTotalsObserver(pool *pgxpool.Pool, logger *slog.Logger) *SessionTotalsObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionTotalsObserver{pool: pool, logger: logger}
}

func (o *SessionTotalsObserver) DocumentFinalized(ctx context.Context, inv *SalesInvoice) error {
	return o.recompute(ctx, inv)
}

func (o *SessionTotalsObserver) DocumentVoided(ctx context.Context, inv *SalesInvoice) error {
	return o.recompute(ctx, inv)
}

func (o *SessionTotalsObserver) recompute(ctx context.Context, inv *SalesInvoice) error {
	if inv.SessionID == nil {
		return nil
	}
	tag, err := o.pool.Exec(ctx, `
		UPDATE pos.sessions SET
			total_sales    = sub.sales,
			total_returns  = sub.returns,
			total_invoices = sub.invoices,
			total_items    = sub.items
		FROM (
			SELECT
				COALESCE(sum(i.grand_total)      FILTER (WHERE NOT i.is_return), 0) AS sales,
				COALESCE(sum(abs(i.grand_total)) FILTER (WHERE i.is_return), 0)     AS returns,
				count(*)                                                            AS invoices,
				COALESCE(sum(li.qty), 0)                                            AS items
			FROM pos.sales_invoices i
			LEFT JOIN LATERAL (
				SELECT sum(qty) AS qty FROM pos.sales_invoice_items WHERE invoice_id = i.id
			) li ON TRUE
			WHERE i.session_id = $1 AND i.status = 'submitted'
		) sub
		WHERE id = $1`, *inv.SessionID)
	if err != nil {
		return fmt.Errorf("recompute session totals: %w", err)
	}
	if tag.RowsAffected() == 0 {
		o.logger.Warn("Invoice references unknown session",
			"invoice", inv.ID, "session", *inv.SessionID)
	}
	return nil
}
