// Copyright 2026 Ahmad
// SPDX-License-Identifier: MIT

package possync

import (
	"encoding/json"
	"time"
)

// REST/JSON models for HTTP API requests and responses.
// The submitting user is derived from the JWT sub claim, the device from the
// did claim; neither is trusted from the request body.

// OfflineDocument is one offline-created document inside a batch submission.
type OfflineDocument struct {
	OfflineID  string          `json:"offline_id"`            // Client-generated idempotency key
	DeviceID   string          `json:"device_id,omitempty"`   // Provenance (falls back to JWT did)
	SessionRef string          `json:"session_id,omitempty"`  // POS session the document belongs to
	CreatedAt  *time.Time      `json:"created_at,omitempty"`  // Client-side creation time
	Priority   int             `json:"priority,omitempty"`    // Higher is processed first on retry
	Payload    json.RawMessage `json:"payload"`               // Document body, validated per type
}

// SyncBatchRequest is a batch of offline payloads grouped by document type.
type SyncBatchRequest struct {
	Invoices  []OfflineDocument `json:"invoices,omitempty"`
	Customers []OfflineDocument `json:"customers,omitempty"`
}

// SyncBatchResponse reports three disjoint per-item outcome lists.
// A problem with one item never fails the batch as a whole.
type SyncBatchResponse struct {
	Success   []SyncSuccess  `json:"success"`
	Failed    []SyncFailure  `json:"failed"`
	Conflicts []SyncConflict `json:"conflicts"`
	Timestamp time.Time      `json:"timestamp"`
}

// SyncSuccess maps an offline id to the server document it resolved to.
// Duplicate is set when the document had already been materialized by an
// earlier submission and no new work was done.
type SyncSuccess struct {
	Type      string `json:"type"`
	OfflineID string `json:"offline_id"`
	ServerID  string `json:"server_id"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// SyncFailure maps an offline id to the error that stopped materialization.
type SyncFailure struct {
	Type         string `json:"type"`
	OfflineID    string `json:"offline_id"`
	Error        string `json:"error"`
	FailureClass string `json:"failure_class,omitempty"`
	WillRetry    bool   `json:"will_retry"`
}

// SyncConflict maps an offline id to a conflict awaiting operator resolution.
type SyncConflict struct {
	Type      string `json:"type"`
	OfflineID string `json:"offline_id"`
	RecordID  int64  `json:"record_id"`
	Message   string `json:"message"`
}

// ResolveConflictRequest is the operator-facing resolution payload.
type ResolveConflictRequest struct {
	RecordID      int64           `json:"record_id"`
	Resolution    string          `json:"resolution"` // keep_server, keep_offline, merge
	MergedPayload json.RawMessage `json:"merged_payload,omitempty"`
	Note          string          `json:"note,omitempty"`
}

// ResolveConflictResponse reports the record's state after resolution.
type ResolveConflictResponse struct {
	RecordID      int64   `json:"record_id"`
	Status        string  `json:"status"`
	ResolvedDocID *string `json:"resolved_document_id,omitempty"`
	Error         string  `json:"error,omitempty"`
}

// SyncStatusResponse holds counts by state plus the last successful sync time.
type SyncStatusResponse struct {
	Pending    int64      `json:"pending"`
	Processing int64      `json:"processing"`
	Synced     int64      `json:"synced"`
	Failed     int64      `json:"failed"`
	Exhausted  int64      `json:"exhausted"` // failed records past the retry ceiling
	Conflicts  int64      `json:"conflicts"`
	LastSync   *time.Time `json:"last_sync,omitempty"`
	IsSyncing  bool       `json:"is_syncing"`
}

// SnapshotResponse is the incremental master-data export for offline caches.
// Every row carries its own modified_at; Cursor seeds the next pull. HasMore
// is set when a row limit truncated a collection, in which case the cursor is
// held back so the unsent rows arrive on the next pull.
type SnapshotResponse struct {
	Items          []SnapshotItem          `json:"items"`
	Customers      []SnapshotCustomer      `json:"customers"`
	ItemGroups     []SnapshotItemGroup     `json:"item_groups"`
	PaymentMethods []SnapshotPaymentMethod `json:"payment_methods"`
	TaxRules       []SnapshotTaxRule       `json:"tax_rules"`
	Profile        SnapshotProfile         `json:"profile"`
	Cursor         time.Time               `json:"cursor"`
	HasMore        bool                    `json:"has_more,omitempty"`
}

// SnapshotItem is one catalog item scoped to a profile's price list and warehouse.
// Disabled items are emitted as modified rows, not omitted, so offline caches
// can detect removals.
type SnapshotItem struct {
	ItemCode    string    `json:"item_code"`
	ItemName    string    `json:"item_name"`
	ItemGroup   string    `json:"item_group"`
	StockUOM    string    `json:"stock_uom"`
	Brand       string    `json:"brand,omitempty"`
	Description string    `json:"description,omitempty"`
	Price       float64   `json:"price"`
	StockQty    float64   `json:"stock_qty"`
	Barcodes    []string  `json:"barcodes,omitempty"`
	Disabled    bool      `json:"disabled"`
	ModifiedAt  time.Time `json:"modified_at"`
}

type SnapshotCustomer struct {
	Name          string    `json:"name"`
	CustomerGroup string    `json:"customer_group,omitempty"`
	CustomerType  string    `json:"customer_type,omitempty"`
	Phone         string    `json:"mobile_no,omitempty"`
	Email         string    `json:"email_id,omitempty"`
	LoyaltyPoints float64   `json:"loyalty_points"`
	Disabled      bool      `json:"disabled"`
	ModifiedAt    time.Time `json:"modified_at"`
}

type SnapshotItemGroup struct {
	Name       string    `json:"name"`
	Parent     string    `json:"parent,omitempty"`
	ModifiedAt time.Time `json:"modified_at"`
}

type SnapshotPaymentMethod struct {
	Method     string    `json:"mode_of_payment"`
	Kind       string    `json:"type,omitempty"`
	Account    string    `json:"account,omitempty"`
	Default    bool      `json:"default"`
	ModifiedAt time.Time `json:"modified_at"`
}

type SnapshotTaxRule struct {
	ChargeType  string    `json:"charge_type"`
	AccountHead string    `json:"account_head"`
	Rate        float64   `json:"rate"`
	Description string    `json:"description,omitempty"`
	ModifiedAt  time.Time `json:"modified_at"`
}

// SnapshotProfile echoes the visibility scope the snapshot was computed for.
type SnapshotProfile struct {
	Name      string `json:"name"`
	Company   string `json:"company"`
	Warehouse string `json:"warehouse"`
	PriceList string `json:"selling_price_list"`
	Currency  string `json:"currency,omitempty"`
	Customer  string `json:"customer,omitempty"`
}

// ErrorResponse is the standardized HTTP error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
