// Copyright 2026 Ahmad
// SPDX-License-Identifier: MIT

package possync

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Materialization turns a claimed sync record into committed server
// documents. Each record runs in its own transaction with its own deadline so
// one poisoned payload cannot take down the rest of a batch or sweep.

type outcomeKind int

const (
	outcomeSynced outcomeKind = iota
	outcomeDuplicate
	outcomeFailed
	outcomeConflict
)

type matResult struct {
	kind     outcomeKind
	serverID string
	err      error
}

// materializeRecord drives a single record through
// processing -> synced | failed | conflict. The record must already be
// gated; force is set only by conflict resolution to override entity
// dedupe checks.
func (s *SyncService) materializeRecord(ctx context.Context, rec *SyncRecord, force bool) matResult {
	claimed, err := s.beginAttempt(ctx, rec)
	if err != nil {
		return matResult{kind: outcomeFailed, err: err}
	}
	if !claimed {
		return matResult{kind: outcomeFailed, err: errors.New("record claimed by another worker")}
	}

	itemCtx, cancel := context.WithTimeout(ctx, s.config.ItemTimeout)
	defer cancel()

	var (
		docID     string
		duplicate bool
		finalized *SalesInvoice
	)
	err = pgx.BeginTxFunc(itemCtx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		switch rec.DocumentType {
		case DocTypeSalesInvoice:
			inv, dup, mErr := s.materializeInvoice(itemCtx, tx, rec, force)
			if mErr != nil {
				return mErr
			}
			docID, duplicate = inv.ID.String(), dup
			if !dup && inv.Status == InvoiceSubmitted {
				finalized = inv
			}
			return nil
		case DocTypeCustomer:
			name, dup, mErr := s.materializeCustomer(itemCtx, tx, rec, force)
			if mErr != nil {
				return mErr
			}
			docID, duplicate = name, dup
			return nil
		default:
			return fmt.Errorf("%w: unknown document type %q", ErrBadPayload, rec.DocumentType)
		}
	})

	// Status writes run on a non-cancellable context: the submitting client
	// disconnecting or the sweep budget expiring mid-item must not strand the
	// record in processing.
	doneCtx := context.WithoutCancel(ctx)
	if err != nil {
		if errors.Is(err, ErrEntityConflict) {
			if uErr := s.finishConflict(doneCtx, rec, err); uErr != nil {
				s.logger.Error("Failed to park conflict record", "record", rec.ID, "error", uErr)
			}
			return matResult{kind: outcomeConflict, err: err}
		}
		if uErr := s.finishFailed(doneCtx, rec, err); uErr != nil {
			s.logger.Error("Failed to mark record failed", "record", rec.ID, "error", uErr)
		}
		return matResult{kind: outcomeFailed, err: err}
	}

	if uErr := s.finishSynced(doneCtx, rec, docID); uErr != nil {
		return matResult{kind: outcomeFailed, err: uErr}
	}
	if finalized != nil {
		s.notifyFinalized(doneCtx, finalized)
	}
	if duplicate {
		return matResult{kind: outcomeDuplicate, serverID: docID}
	}
	return matResult{kind: outcomeSynced, serverID: docID}
}

// resolution carries the defaulting context for one invoice: operator
// overrides dominate the payload, the payload dominates the session, the
// session dominates the profile.
type resolution struct {
	profile  *Profile
	settings *OperatorSettings
	session  *Session
}

func pick(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func (r *resolution) settingsValue(f func(*OperatorSettings) *string) string {
	if r.settings == nil {
		return ""
	}
	return deref(f(r.settings))
}

func (r *resolution) sessionCompany() string {
	if r.session == nil {
		return ""
	}
	return r.session.Company
}

func (s *SyncService) materializeInvoice(ctx context.Context, tx pgx.Tx, rec *SyncRecord, force bool) (*SalesInvoice, bool, error) {
	payload, err := s.decodeInvoicePayload(rec.Payload)
	if err != nil {
		return nil, false, err
	}

	res, err := s.loadResolution(ctx, tx, payload.Profile, rec.SubmittedBy, rec.SessionRef)
	if err != nil {
		return nil, false, err
	}

	company := pick(
		res.settingsValue(func(o *OperatorSettings) *string { return o.Company }),
		payload.Company,
		res.sessionCompany(),
		res.profile.Company,
	)
	if err := s.companyExists(ctx, tx, company); err != nil {
		return nil, false, err
	}

	costCenter, err := s.resolveCostCenter(ctx, tx, company,
		res.settingsValue(func(o *OperatorSettings) *string { return o.CostCenter }))
	if err != nil {
		return nil, false, err
	}

	warehouse := pick(
		res.settingsValue(func(o *OperatorSettings) *string { return o.Warehouse }),
		payload.Warehouse,
		res.profile.Warehouse,
	)
	incomeAccount := pick(
		res.settingsValue(func(o *OperatorSettings) *string { return o.IncomeAccount }),
		payload.IncomeAccount,
		deref(res.profile.IncomeAccount),
	)

	customer := pick(
		payload.Customer,
		res.settingsValue(func(o *OperatorSettings) *string { return o.DefaultCustomer }),
		deref(res.profile.DefaultCustomer),
	)
	if customer == "" {
		return nil, false, fmt.Errorf("%w: no customer and no default customer configured", ErrMissingReference)
	}
	canonical, err := s.customerCanonicalName(ctx, tx, customer)
	if err != nil {
		return nil, false, err
	}
	customer = canonical

	if force {
		// Resolution re-drive: discard the superseded server document so the
		// offline version replaces it. Cascades clear the child lines.
		if _, err := tx.Exec(ctx,
			`DELETE FROM pos.sales_invoices WHERE offline_id = $1`, rec.OfflineID); err != nil {
			return nil, false, fmt.Errorf("discard superseded invoice: %w", err)
		}
	}

	inv := &SalesInvoice{
		ID:                uuid.New(),
		OfflineID:         rec.OfflineID,
		Company:           company,
		Customer:          customer,
		Profile:           res.profile.Name,
		CostCenter:        costCenter,
		PostingDate:       postingDate(payload.PostingDate, rec.CreatedOfflineAt),
		Status:            InvoiceDraft,
		IsReturn:          payload.IsReturn,
		Discount:          payload.Discount,
		DeviceID:          rec.DeviceID,
		SyncedFromOffline: true,
	}
	if res.session != nil {
		id := res.session.ID
		inv.SessionID = &id
	}

	for _, line := range payload.Items {
		if err := s.itemExists(ctx, tx, line.ItemCode); err != nil {
			return nil, false, err
		}
		amount := line.Amount
		if amount == 0 {
			amount = roundCents(line.Qty * line.Rate)
		}
		inv.Items = append(inv.Items, SalesInvoiceItem{
			ItemCode:      line.ItemCode,
			ItemName:      line.ItemName,
			Qty:           line.Qty,
			Rate:          line.Rate,
			Amount:        amount,
			Warehouse:     pick(line.Warehouse, warehouse),
			IncomeAccount: incomeAccount,
			CostCenter:    costCenter,
		})
		inv.NetTotal += amount
	}
	inv.NetTotal = roundCents(inv.NetTotal)

	for _, pay := range payload.Payments {
		account, pErr := s.resolvePaymentAccount(ctx, tx, pay.Method, company, pay.Account)
		if pErr != nil {
			return nil, false, pErr
		}
		inv.Payments = append(inv.Payments, SalesInvoicePayment{
			Method:  pay.Method,
			Amount:  pay.Amount,
			Account: account,
		})
	}

	taxable := inv.NetTotal - inv.Discount
	taxes, err := s.buildTaxLines(ctx, tx, payload.Taxes, res.profile.TaxTemplate, taxable)
	if err != nil {
		return nil, false, err
	}
	inv.Taxes = taxes
	for _, t := range inv.Taxes {
		inv.TaxTotal += t.TaxAmount
	}
	inv.TaxTotal = roundCents(inv.TaxTotal)
	inv.GrandTotal = roundCents(taxable + inv.TaxTotal)

	if payload.Submit == nil || *payload.Submit {
		inv.Status = InvoiceSubmitted
	}

	return s.insertInvoice(ctx, tx, inv)
}

// insertInvoice writes the document tree. The conditional insert on
// offline_id is the document-level backstop: if a row already exists the
// invoice was materialized by an earlier attempt and we reuse it.
func (s *SyncService) insertInvoice(ctx context.Context, tx pgx.Tx, inv *SalesInvoice) (*SalesInvoice, bool, error) {
	var inserted uuid.UUID
	err := tx.QueryRow(ctx, `
		INSERT INTO pos.sales_invoices
			(id, offline_id, company, customer, profile, session_id, cost_center,
			 posting_date, status, is_return, net_total, tax_total, discount,
			 grand_total, device_id, synced_from_offline)
		VALUES (@id, @offline_id, @company, @customer, @profile, @session_id, @cost_center,
			 @posting_date, @status, @is_return, @net_total, @tax_total, @discount,
			 @grand_total, @device_id, TRUE)
		ON CONFLICT (offline_id) DO NOTHING
		RETURNING id`,
		pgx.NamedArgs{
			"id": inv.ID, "offline_id": inv.OfflineID, "company": inv.Company,
			"customer": inv.Customer, "profile": inv.Profile, "session_id": inv.SessionID,
			"cost_center": inv.CostCenter, "posting_date": inv.PostingDate,
			"status": inv.Status, "is_return": inv.IsReturn, "net_total": inv.NetTotal,
			"tax_total": inv.TaxTotal, "discount": inv.Discount, "grand_total": inv.GrandTotal,
			"device_id": inv.DeviceID,
		}).Scan(&inserted)
	if errors.Is(err, pgx.ErrNoRows) {
		var existingID uuid.UUID
		if err := tx.QueryRow(ctx,
			`SELECT id FROM pos.sales_invoices WHERE offline_id = $1`, inv.OfflineID).Scan(&existingID); err != nil {
			return nil, false, fmt.Errorf("load existing invoice: %w", err)
		}
		inv.ID = existingID
		return inv, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("insert invoice: %w", err)
	}

	for i, it := range inv.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO pos.sales_invoice_items
				(invoice_id, idx, item_code, item_name, qty, rate, amount, warehouse, income_account, cost_center)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			inv.ID, i+1, it.ItemCode, it.ItemName, it.Qty, it.Rate, it.Amount,
			it.Warehouse, it.IncomeAccount, it.CostCenter); err != nil {
			return nil, false, fmt.Errorf("insert invoice line %d: %w", i+1, err)
		}
	}
	for i, p := range inv.Payments {
		if _, err := tx.Exec(ctx, `
			INSERT INTO pos.sales_invoice_payments (invoice_id, idx, method, amount, account)
			VALUES ($1,$2,$3,$4,$5)`,
			inv.ID, i+1, p.Method, p.Amount, p.Account); err != nil {
			return nil, false, fmt.Errorf("insert payment line %d: %w", i+1, err)
		}
	}
	for i, t := range inv.Taxes {
		if _, err := tx.Exec(ctx, `
			INSERT INTO pos.sales_invoice_taxes
				(invoice_id, idx, charge_type, account_head, rate, tax_amount, description)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			inv.ID, i+1, t.ChargeType, t.AccountHead, t.Rate, t.TaxAmount, t.Description); err != nil {
			return nil, false, fmt.Errorf("insert tax line %d: %w", i+1, err)
		}
	}
	return inv, false, nil
}

func (s *SyncService) materializeCustomer(ctx context.Context, tx pgx.Tx, rec *SyncRecord, force bool) (string, bool, error) {
	payload, err := s.decodeCustomerPayload(rec.Payload)
	if err != nil {
		return "", false, err
	}

	// Exact name match wins: the offline terminal created a customer the
	// server already knows about.
	var existingName string
	err = tx.QueryRow(ctx,
		`SELECT name FROM pos.customers WHERE lower(name) = lower($1)`, payload.Name).Scan(&existingName)
	if err == nil {
		return existingName, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", false, fmt.Errorf("customer name lookup: %w", err)
	}

	// A phone number already registered under a different name is ambiguous;
	// an operator has to decide whether it is the same person.
	if payload.Phone != "" && !force {
		var other string
		err = tx.QueryRow(ctx,
			`SELECT name FROM pos.customers WHERE phone = $1 LIMIT 1`, payload.Phone).Scan(&other)
		if err == nil {
			return "", false, fmt.Errorf("%w: phone %s already belongs to customer %q",
				ErrEntityConflict, payload.Phone, other)
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return "", false, fmt.Errorf("customer phone lookup: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO pos.customers (name, customer_group, customer_type, phone, email)
		VALUES ($1,$2,$3,$4,$5)`,
		payload.Name, payload.CustomerGroup, payload.CustomerType, payload.Phone, payload.Email)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost a race with a concurrent creation of the same name.
			return payload.Name, true, nil
		}
		return "", false, fmt.Errorf("insert customer: %w", err)
	}
	return payload.Name, false, nil
}

func (s *SyncService) loadResolution(ctx context.Context, tx pgx.Tx, profileName, operator, sessionRef string) (*resolution, error) {
	res := &resolution{}

	var p Profile
	err := tx.QueryRow(ctx, `
		SELECT name, company, warehouse, selling_price_list, tax_template,
		       income_account, default_customer, currency, disabled
		FROM pos.profiles WHERE name = $1`, profileName).Scan(
		&p.Name, &p.Company, &p.Warehouse, &p.PriceList, &p.TaxTemplate,
		&p.IncomeAccount, &p.DefaultCustomer, &p.Currency, &p.Disabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: pos profile %q not found", ErrMissingReference, profileName)
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if p.Disabled {
		return nil, fmt.Errorf("%w: pos profile %q is disabled", ErrMissingReference, profileName)
	}
	res.profile = &p

	if operator != "" {
		var o OperatorSettings
		err = tx.QueryRow(ctx, `
			SELECT operator, enabled, company, cost_center, warehouse, income_account, default_customer
			FROM pos.operator_settings WHERE operator = $1 AND enabled`, operator).Scan(
			&o.Operator, &o.Enabled, &o.Company, &o.CostCenter, &o.Warehouse,
			&o.IncomeAccount, &o.DefaultCustomer)
		if err == nil {
			res.settings = &o
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("load operator settings: %w", err)
		}
	}

	if sessionRef != "" {
		sessionID, parseErr := uuid.Parse(sessionRef)
		if parseErr != nil {
			return nil, fmt.Errorf("%w: session ref %q is not a valid id", ErrBadPayload, sessionRef)
		}
		var sess Session
		err = tx.QueryRow(ctx, `
			SELECT id, profile, company, operator, status FROM pos.sessions WHERE id = $1`,
			sessionID).Scan(&sess.ID, &sess.Profile, &sess.Company, &sess.Operator, &sess.Status)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: session %s not found", ErrMissingReference, sessionRef)
		}
		if err != nil {
			return nil, fmt.Errorf("load session: %w", err)
		}
		res.session = &sess
	}

	return res, nil
}

func (s *SyncService) companyExists(ctx context.Context, tx pgx.Tx, company string) error {
	if company == "" {
		return fmt.Errorf("%w: no company resolvable for invoice", ErrMissingReference)
	}
	var one int
	err := tx.QueryRow(ctx, `SELECT 1 FROM pos.companies WHERE name = $1`, company).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: company %q not found", ErrMissingReference, company)
	}
	if err != nil {
		return fmt.Errorf("company lookup: %w", err)
	}
	return nil
}

// resolveCostCenter picks, in order: the operator override (validated to
// belong to the company), the company default, then any leaf cost center of
// the company.
func (s *SyncService) resolveCostCenter(ctx context.Context, tx pgx.Tx, company, override string) (string, error) {
	if override != "" {
		var one int
		err := tx.QueryRow(ctx,
			`SELECT 1 FROM pos.cost_centers WHERE name = $1 AND company = $2 AND NOT is_group`,
			override, company).Scan(&one)
		if err == nil {
			return override, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("cost center lookup: %w", err)
		}
		// Override belongs to another company, fall through to defaults.
	}

	var cc *string
	err := tx.QueryRow(ctx,
		`SELECT default_cost_center FROM pos.companies WHERE name = $1`, company).Scan(&cc)
	if err != nil {
		return "", fmt.Errorf("company default cost center: %w", err)
	}
	if cc != nil && *cc != "" {
		return *cc, nil
	}

	var any string
	err = tx.QueryRow(ctx,
		`SELECT name FROM pos.cost_centers WHERE company = $1 AND NOT is_group ORDER BY name LIMIT 1`,
		company).Scan(&any)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: no cost center available for company %q", ErrMissingReference, company)
	}
	if err != nil {
		return "", fmt.Errorf("cost center fallback: %w", err)
	}
	return any, nil
}

func (s *SyncService) resolvePaymentAccount(ctx context.Context, tx pgx.Tx, method, company, fallback string) (string, error) {
	var one int
	err := tx.QueryRow(ctx, `SELECT 1 FROM pos.payment_methods WHERE name = $1`, method).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: payment method %q not found", ErrMissingReference, method)
	}
	if err != nil {
		return "", fmt.Errorf("payment method lookup: %w", err)
	}

	var account string
	err = tx.QueryRow(ctx,
		`SELECT account FROM pos.payment_method_accounts WHERE method = $1 AND company = $2`,
		method, company).Scan(&account)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("payment account lookup: %w", err)
	}
	return fallback, nil
}

func (s *SyncService) itemExists(ctx context.Context, tx pgx.Tx, itemCode string) error {
	var disabled bool
	err := tx.QueryRow(ctx, `SELECT disabled FROM pos.items WHERE item_code = $1`, itemCode).Scan(&disabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: item %q not found", ErrMissingReference, itemCode)
	}
	if err != nil {
		return fmt.Errorf("item lookup: %w", err)
	}
	if disabled {
		return fmt.Errorf("%w: item %q is disabled", ErrMissingReference, itemCode)
	}
	return nil
}

func (s *SyncService) customerCanonicalName(ctx context.Context, tx pgx.Tx, name string) (string, error) {
	var canonical string
	err := tx.QueryRow(ctx,
		`SELECT name FROM pos.customers WHERE lower(name) = lower($1)`, name).Scan(&canonical)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: customer %q not found", ErrMissingReference, name)
	}
	if err != nil {
		return "", fmt.Errorf("customer lookup: %w", err)
	}
	return canonical, nil
}

// buildTaxLines prefers the payload's own tax lines; without them the
// profile's tax template is expanded against the taxable amount.
func (s *SyncService) buildTaxLines(ctx context.Context, tx pgx.Tx, fromPayload []TaxLinePayload, template *string, taxable float64) ([]SalesInvoiceTax, error) {
	if len(fromPayload) > 0 {
		out := make([]SalesInvoiceTax, 0, len(fromPayload))
		for _, t := range fromPayload {
			amount := t.TaxAmount
			if amount == 0 && t.Rate != 0 {
				amount = roundCents(taxable * t.Rate / 100)
			}
			chargeType := t.ChargeType
			if chargeType == "" {
				chargeType = "On Net Total"
			}
			out = append(out, SalesInvoiceTax{
				ChargeType:  chargeType,
				AccountHead: t.AccountHead,
				Rate:        t.Rate,
				TaxAmount:   amount,
				Description: t.Description,
			})
		}
		return out, nil
	}

	if template == nil || *template == "" {
		return nil, nil
	}
	rows, err := tx.Query(ctx, `
		SELECT charge_type, account_head, rate, description
		FROM pos.tax_template_lines WHERE template = $1 ORDER BY idx`, *template)
	if err != nil {
		return nil, fmt.Errorf("load tax template: %w", err)
	}
	defer rows.Close()

	var out []SalesInvoiceTax
	for rows.Next() {
		var t SalesInvoiceTax
		if err := rows.Scan(&t.ChargeType, &t.AccountHead, &t.Rate, &t.Description); err != nil {
			return nil, fmt.Errorf("scan tax template line: %w", err)
		}
		t.TaxAmount = roundCents(taxable * t.Rate / 100)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read tax template: %w", err)
	}
	return out, nil
}

func postingDate(raw string, createdOffline *time.Time) time.Time {
	if raw != "" {
		if d, err := time.Parse("2006-01-02", raw); err == nil {
			return d
		}
	}
	if createdOffline != nil {
		return createdOffline.Truncate(24 * time.Hour)
	}
	return time.Now().Truncate(24 * time.Hour)
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
