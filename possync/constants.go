// Copyright 2026 Ahmad
// SPDX-License-Identifier: MIT

package possync

// Document type constants for offline-created documents
const (
	DocTypeSalesInvoice = "sales_invoice"
	DocTypeCustomer     = "customer"
)

// Sync record status constants (state machine, see record.go)
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusSynced     = "synced"
	StatusFailed     = "failed"
	StatusConflict   = "conflict"
)

// Failure class constants recorded alongside a failed attempt.
// Both classes retry identically up to the ceiling; the class is the
// extension point for future backoff policies.
const (
	FailureTransient = "transient"
	FailureSemantic  = "semantic"
)

// Conflict resolution constants
const (
	ResolutionKeepServer  = "keep_server"
	ResolutionKeepOffline = "keep_offline"
	ResolutionMerge       = "merge"
)

// Sales invoice document status constants
const (
	InvoiceDraft     = "draft"
	InvoiceSubmitted = "submitted"
	InvoiceVoided    = "voided"
)

// Capability constants checked per operation through PermissionChecker
const (
	CapSyncSubmit   = "sync.submit"
	CapSyncRead     = "sync.read"
	CapSyncResolve  = "sync.resolve"
	CapSnapshotRead = "snapshot.read"
)
