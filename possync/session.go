// Copyright 2026 Ahmad
// SPDX-License-Identifier: MIT

package possync

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Cash session lifecycle. A session scopes the invoices a terminal submits
// between opening and closing the till; the partial unique index on
// (operator, profile) enforces at most one open session per pair.

// OpenSessionRequest opens a cash session for the calling operator.
type OpenSessionRequest struct {
	Profile     string  `json:"pos_profile" validate:"required"`
	DeviceID    string  `json:"device_id,omitempty"`
	OpeningCash float64 `json:"opening_cash" validate:"gte=0"`
}

// CloseSessionRequest closes a session with the counted cash amount.
type CloseSessionRequest struct {
	SessionID  string  `json:"session_id" validate:"required"`
	ActualCash float64 `json:"actual_cash" validate:"gte=0"`
}

// OpenSession creates an open session for operator under the given profile.
func (s *SyncService) OpenSession(ctx context.Context, operator string, req *OpenSessionRequest) (*Session, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadPayload, validationSummary(err))
	}

	profile, err := s.loadProfile(ctx, req.Profile)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		ID:          uuid.New(),
		Profile:     profile.Name,
		Company:     profile.Company,
		Operator:    operator,
		DeviceID:    req.DeviceID,
		Status:      "open",
		OpeningCash: req.OpeningCash,
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO pos.sessions (id, profile, company, operator, device_id, opening_cash)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING opened_at`,
		sess.ID, sess.Profile, sess.Company, sess.Operator, sess.DeviceID, sess.OpeningCash,
	).Scan(&sess.OpenedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: operator %q already has an open session for profile %q",
				ErrEntityConflict, operator, profile.Name)
		}
		return nil, fmt.Errorf("open session: %w", err)
	}

	s.logger.Info("Session opened",
		"session", sess.ID, "operator", operator, "profile", profile.Name)
	return sess, nil
}

// CloseSession closes an open session, recording the counted cash. Totals
// were maintained incrementally by the finalized/voided hooks and are
// returned as part of the closed session.
func (s *SyncService) CloseSession(ctx context.Context, operator string, req *CloseSessionRequest) (*Session, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadPayload, validationSummary(err))
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: session_id is not a valid id", ErrBadPayload)
	}

	var sess Session
	err = s.pool.QueryRow(ctx, `
		UPDATE pos.sessions
		SET status = 'closed', closed_at = now(), actual_cash = $2
		WHERE id = $1 AND status = 'open'
		RETURNING id, profile, company, operator, device_id, status, opened_at, closed_at,
		          opening_cash, actual_cash, total_sales, total_returns, total_invoices, total_items`,
		sessionID, req.ActualCash).Scan(
		&sess.ID, &sess.Profile, &sess.Company, &sess.Operator, &sess.DeviceID,
		&sess.Status, &sess.OpenedAt, &sess.ClosedAt, &sess.OpeningCash, &sess.ActualCash,
		&sess.TotalSales, &sess.TotalReturns, &sess.TotalInvoices, &sess.TotalItems)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: no open session %s", ErrRecordNotFound, req.SessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("close session: %w", err)
	}

	s.logger.Info("Session closed",
		"session", sess.ID,
		"operator", operator,
		"sales", sess.TotalSales,
		"returns", sess.TotalReturns,
		"invoices", sess.TotalInvoices)
	return &sess, nil
}

// GetSession loads one session by id.
func (s *SyncService) GetSession(ctx context.Context, sessionID uuid.UUID) (*Session, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	var sess Session
	err := s.pool.QueryRow(ctx, `
		SELECT id, profile, company, operator, device_id, status, opened_at, closed_at,
		       opening_cash, actual_cash, total_sales, total_returns, total_invoices, total_items
		FROM pos.sessions WHERE id = $1`, sessionID).Scan(
		&sess.ID, &sess.Profile, &sess.Company, &sess.Operator, &sess.DeviceID,
		&sess.Status, &sess.OpenedAt, &sess.ClosedAt, &sess.OpeningCash, &sess.ActualCash,
		&sess.TotalSales, &sess.TotalReturns, &sess.TotalInvoices, &sess.TotalItems)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: session %s", ErrRecordNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return &sess, nil
}

// VoidInvoice marks a submitted invoice voided and notifies observers so
// dependent aggregates drop it. Already-voided invoices return not found.
func (s *SyncService) VoidInvoice(ctx context.Context, invoiceID uuid.UUID) (*SalesInvoice, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	var inv SalesInvoice
	err := s.pool.QueryRow(ctx, `
		UPDATE pos.sales_invoices
		SET status = $2
		WHERE id = $1 AND status = $3
		RETURNING id, COALESCE(offline_id, ''), company, customer, profile, session_id, status, grand_total`,
		invoiceID, InvoiceVoided, InvoiceSubmitted).Scan(
		&inv.ID, &inv.OfflineID, &inv.Company, &inv.Customer, &inv.Profile,
		&inv.SessionID, &inv.Status, &inv.GrandTotal)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: no submitted invoice %s", ErrRecordNotFound, invoiceID)
	}
	if err != nil {
		return nil, fmt.Errorf("void invoice: %w", err)
	}

	s.notifyVoided(ctx, &inv)
	s.logger.Info("Invoice voided", "invoice", inv.ID, "offline_id", inv.OfflineID)
	return &inv, nil
}
