// Copyright 2026 Ahmad
// SPDX-License-Identifier: MIT

package possync

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ProcessSyncBatch accepts a batch of offline documents, reconciles each one
// independently, and reports three disjoint outcome lists. Documents are
// processed strictly in submission order: customers first so that invoices in
// the same batch can reference customers created offline.
func (s *SyncService) ProcessSyncBatch(ctx context.Context, user, device string, req *SyncBatchRequest) (*SyncBatchResponse, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	total := len(req.Invoices) + len(req.Customers)
	if total == 0 {
		return nil, fmt.Errorf("%w: batch is empty", ErrBadPayload)
	}
	if s.config.MaxBatchSize > 0 && total > s.config.MaxBatchSize {
		return nil, fmt.Errorf("%w: batch of %d exceeds limit of %d", ErrBadPayload, total, s.config.MaxBatchSize)
	}

	resp := &SyncBatchResponse{
		Success:   []SyncSuccess{},
		Failed:    []SyncFailure{},
		Conflicts: []SyncConflict{},
	}

	started := time.Now()
	for i := range req.Customers {
		s.processDocument(ctx, resp, &req.Customers[i], DocTypeCustomer, user, device)
	}
	for i := range req.Invoices {
		s.processDocument(ctx, resp, &req.Invoices[i], DocTypeSalesInvoice, user, device)
	}
	resp.Timestamp = time.Now()

	s.logger.Info("Processed sync batch",
		"user", user,
		"device", device,
		"total", total,
		"success", len(resp.Success),
		"failed", len(resp.Failed),
		"conflicts", len(resp.Conflicts),
		"elapsed", time.Since(started))
	return resp, nil
}

// processDocument reconciles one offline document and appends its outcome to
// exactly one of the response lists. It never returns an error: anything that
// goes wrong becomes a failure or conflict entry for that document.
func (s *SyncService) processDocument(ctx context.Context, resp *SyncBatchResponse, doc *OfflineDocument, docType, user, device string) {
	if err := s.validateDocument(doc); err != nil {
		// Nothing was persisted, so there is nothing to retry.
		resp.Failed = append(resp.Failed, failureOutcome(docType, doc.OfflineID, err, false))
		return
	}

	created, existing, err := s.gateRecord(ctx, doc, docType, user, device)
	if err != nil {
		resp.Failed = append(resp.Failed, failureOutcome(docType, doc.OfflineID, err, false))
		return
	}

	if existing != nil {
		s.reconcileResubmission(ctx, resp, doc, existing)
		return
	}

	s.appendResult(resp, created, s.materializeRecord(ctx, created, false))
}

// reconcileResubmission handles an offline id the ledger has already seen.
func (s *SyncService) reconcileResubmission(ctx context.Context, resp *SyncBatchResponse, doc *OfflineDocument, rec *SyncRecord) {
	switch rec.Status {
	case StatusSynced:
		if payloadEqual(doc.Payload, rec.Payload) {
			serverID := deref(rec.ResolvedDocID)
			resp.Success = append(resp.Success, duplicateOutcome(rec.DocumentType, rec.OfflineID, serverID))
			return
		}
		// Same idempotency key, different content. The synced document stands;
		// the divergence is surfaced for an operator instead of silently
		// dropping either version.
		resp.Conflicts = append(resp.Conflicts, conflictOutcome(rec.DocumentType, rec.OfflineID, rec.ID,
			"offline id already synced with a different payload"))
		return

	case StatusConflict:
		msg := "awaiting conflict resolution"
		if rec.ErrorMessage != nil {
			msg = *rec.ErrorMessage
		}
		resp.Conflicts = append(resp.Conflicts, conflictOutcome(rec.DocumentType, rec.OfflineID, rec.ID, msg))
		return

	case StatusProcessing:
		resp.Failed = append(resp.Failed, failureOutcome(rec.DocumentType, rec.OfflineID,
			errors.New("record is being processed"), true))
		return

	case StatusPending, StatusFailed:
		// The attempt ceiling binds resubmissions too, or a retrying client
		// could push attempt_count past it indefinitely.
		if !rec.Retryable(s.config.RetryCeiling) {
			resp.Failed = append(resp.Failed, failureOutcome(rec.DocumentType, rec.OfflineID,
				errors.New("retry attempts exhausted, needs manual resolution"), false))
			return
		}
		// The stored payload is authoritative for a re-drive; the resubmitted
		// bytes were already captured on first arrival.
		s.appendResult(resp, rec, s.materializeRecord(ctx, rec, false))
		return
	}

	resp.Failed = append(resp.Failed, failureOutcome(rec.DocumentType, rec.OfflineID,
		fmt.Errorf("record in unexpected status %q", rec.Status), false))
}

func (s *SyncService) appendResult(resp *SyncBatchResponse, rec *SyncRecord, result matResult) {
	switch result.kind {
	case outcomeSynced:
		resp.Success = append(resp.Success, successOutcome(rec.DocumentType, rec.OfflineID, result.serverID))
	case outcomeDuplicate:
		resp.Success = append(resp.Success, duplicateOutcome(rec.DocumentType, rec.OfflineID, result.serverID))
	case outcomeConflict:
		resp.Conflicts = append(resp.Conflicts, conflictOutcome(rec.DocumentType, rec.OfflineID, rec.ID, result.err.Error()))
	default:
		willRetry := rec.Retryable(s.config.RetryCeiling)
		resp.Failed = append(resp.Failed, failureOutcome(rec.DocumentType, rec.OfflineID, result.err, willRetry))
		s.logger.Warn("Document materialization failed",
			"record", rec.ID,
			"offline_id", rec.OfflineID,
			"type", rec.DocumentType,
			"attempt", rec.AttemptCount,
			"will_retry", willRetry,
			"error", result.err)
	}
}
