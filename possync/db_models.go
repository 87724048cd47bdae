// Copyright 2026 Ahmad
// SPDX-License-Identifier: MIT

package possync

import (
	"time"

	"github.com/google/uuid"
)

// Database entity models for the pos schema.

// SalesInvoice is a committed server sales document.
type SalesInvoice struct {
	ID                uuid.UUID `db:"id"`
	OfflineID         string    `db:"offline_id"`
	Company           string    `db:"company"`
	Customer          string    `db:"customer"`
	Profile           string    `db:"profile"`
	SessionID         *uuid.UUID `db:"session_id"`
	CostCenter        string    `db:"cost_center"`
	PostingDate       time.Time `db:"posting_date"`
	Status            string    `db:"status"`
	IsReturn          bool      `db:"is_return"`
	NetTotal          float64   `db:"net_total"`
	TaxTotal          float64   `db:"tax_total"`
	Discount          float64   `db:"discount"`
	GrandTotal        float64   `db:"grand_total"`
	DeviceID          string    `db:"device_id"`
	SyncedFromOffline bool      `db:"synced_from_offline"`
	CreatedAt         time.Time `db:"created_at"`

	Items    []SalesInvoiceItem    `db:"-"`
	Payments []SalesInvoicePayment `db:"-"`
	Taxes    []SalesInvoiceTax     `db:"-"`
}

// SalesInvoiceItem is one invoice line; qty and rate are taken verbatim from
// the offline payload.
type SalesInvoiceItem struct {
	ItemCode      string  `db:"item_code"`
	ItemName      string  `db:"item_name"`
	Qty           float64 `db:"qty"`
	Rate          float64 `db:"rate"`
	Amount        float64 `db:"amount"`
	Warehouse     string  `db:"warehouse"`
	IncomeAccount string  `db:"income_account"`
	CostCenter    string  `db:"cost_center"`
}

// SalesInvoicePayment is one payment line, resolved to the ledger account of
// the invoice's company.
type SalesInvoicePayment struct {
	Method  string  `db:"method"`
	Amount  float64 `db:"amount"`
	Account string  `db:"account"`
}

// SalesInvoiceTax is one tax line, either payload-supplied or expanded from
// the profile's tax template.
type SalesInvoiceTax struct {
	ChargeType  string  `db:"charge_type"`
	AccountHead string  `db:"account_head"`
	Rate        float64 `db:"rate"`
	TaxAmount   float64 `db:"tax_amount"`
	Description string  `db:"description"`
}

// Customer is a server customer record, keyed by name like the rest of the
// master data.
type Customer struct {
	Name          string    `db:"name"`
	CustomerGroup string    `db:"customer_group"`
	CustomerType  string    `db:"customer_type"`
	Phone         string    `db:"phone"`
	Email         string    `db:"email"`
	LoyaltyPoints float64   `db:"loyalty_points"`
	Disabled      bool      `db:"disabled"`
	ModifiedAt    time.Time `db:"modified_at"`
}

// Profile is the POS profile scope a terminal operates under.
type Profile struct {
	Name            string  `db:"name"`
	Company         string  `db:"company"`
	Warehouse       string  `db:"warehouse"`
	PriceList       string  `db:"selling_price_list"`
	TaxTemplate     *string `db:"tax_template"`
	IncomeAccount   *string `db:"income_account"`
	DefaultCustomer *string `db:"default_customer"`
	Currency        string  `db:"currency"`
	Disabled        bool    `db:"disabled"`
}

// OperatorSettings are per-operator overrides that strictly dominate payload
// and session hints during resolution.
type OperatorSettings struct {
	Operator        string  `db:"operator"`
	Enabled         bool    `db:"enabled"`
	Company         *string `db:"company"`
	CostCenter      *string `db:"cost_center"`
	Warehouse       *string `db:"warehouse"`
	IncomeAccount   *string `db:"income_account"`
	DefaultCustomer *string `db:"default_customer"`
}

// Session is a cash session; totals are maintained by the finalized/voided
// hooks, not by the sync engine directly.
type Session struct {
	ID            uuid.UUID  `db:"id"`
	Profile       string     `db:"profile"`
	Company       string     `db:"company"`
	Operator      string     `db:"operator"`
	DeviceID      string     `db:"device_id"`
	Status        string     `db:"status"`
	OpenedAt      time.Time  `db:"opened_at"`
	ClosedAt      *time.Time `db:"closed_at"`
	OpeningCash   float64    `db:"opening_cash"`
	ActualCash    float64    `db:"actual_cash"`
	TotalSales    float64    `db:"total_sales"`
	TotalReturns  float64    `db:"total_returns"`
	TotalInvoices int        `db:"total_invoices"`
	TotalItems    float64    `db:"total_items"`
}
