// Copyright 2026 Ahmad
// SPDX-License-Identifier: MIT

package possync

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Conflict resolution. A record parked in conflict status never advances on
// its own; an operator chooses one of three resolutions:
//
//	keep_server:  the server's version stands, the record is marked synced
//	keep_offline: the offline payload is materialized, overriding dedupe checks
//	merge:        an operator-edited payload replaces the original, then materializes
//
// Every resolution is a complete path out of the conflict state.

// ListConflicts returns all records awaiting resolution, oldest first.
func (s *SyncService) ListConflicts(ctx context.Context) ([]*SyncRecord, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+syncRecordColumns+`
		FROM possync.sync_records
		WHERE status = $1
		ORDER BY received_at ASC`, StatusConflict)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	defer rows.Close()

	var out []*SyncRecord
	for rows.Next() {
		rec, scanErr := scanSyncRecord(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read conflicts: %w", err)
	}
	return out, nil
}

// ResolveConflict applies an operator's resolution to a conflicted record.
func (s *SyncService) ResolveConflict(ctx context.Context, resolvedBy string, req *ResolveConflictRequest) (*ResolveConflictResponse, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	rec, err := s.GetRecord(ctx, req.RecordID)
	if err != nil {
		return nil, err
	}
	if rec.Status == StatusSynced && req.Resolution == ResolutionKeepServer {
		// A divergent resubmission of an already-synced record is reported as
		// a conflict outcome while the record stays synced; acknowledging the
		// server version is a no-op, not an error.
		return &ResolveConflictResponse{
			RecordID:      rec.ID,
			Status:        StatusSynced,
			ResolvedDocID: rec.ResolvedDocID,
		}, nil
	}
	if rec.Status != StatusConflict {
		return nil, fmt.Errorf("%w: record %d is %s, not %s", ErrBadPayload, rec.ID, rec.Status, StatusConflict)
	}

	switch req.Resolution {
	case ResolutionKeepServer:
		return s.resolveKeepServer(ctx, rec, resolvedBy, req.Note)

	case ResolutionKeepOffline:
		return s.resolveByMaterializing(ctx, rec, resolvedBy, req.Resolution)

	case ResolutionMerge:
		if len(req.MergedPayload) == 0 {
			return nil, fmt.Errorf("%w: merge resolution requires merged_payload", ErrBadPayload)
		}
		if err := s.replacePayload(ctx, rec, req.MergedPayload); err != nil {
			return nil, err
		}
		return s.resolveByMaterializing(ctx, rec, resolvedBy, req.Resolution)

	default:
		return nil, fmt.Errorf("%w: unknown resolution %q", ErrBadPayload, req.Resolution)
	}
}

// resolveKeepServer closes the record in favor of whatever the server already
// holds. If a server document matching the offline submission exists its id is
// recorded; for entity conflicts (a customer phone collision) the matched
// entity is the server version.
func (s *SyncService) resolveKeepServer(ctx context.Context, rec *SyncRecord, resolvedBy, note string) (*ResolveConflictResponse, error) {
	docID, err := s.serverDocumentFor(ctx, rec)
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return nil, err
	}

	msg := fmt.Sprintf("resolved keep_server by %s", resolvedBy)
	if note != "" {
		msg += ": " + note
	}
	if err := checkTransition(rec.Status, StatusSynced); err != nil {
		return nil, err
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE possync.sync_records
		SET status = @status, resolved_document_id = @doc_id, synced_at = now(), error_message = @msg
		WHERE id = @id AND status = @from`,
		pgx.NamedArgs{
			"status": StatusSynced, "doc_id": docID, "msg": msg,
			"id": rec.ID, "from": StatusConflict,
		})
	if err != nil {
		return nil, fmt.Errorf("resolve record %d: %w", rec.ID, err)
	}

	s.logger.Info("Conflict resolved",
		"record", rec.ID, "resolution", ResolutionKeepServer, "by", resolvedBy)
	return &ResolveConflictResponse{RecordID: rec.ID, Status: StatusSynced, ResolvedDocID: docID}, nil
}

// resolveByMaterializing re-drives the record with dedupe overrides enabled.
func (s *SyncService) resolveByMaterializing(ctx context.Context, rec *SyncRecord, resolvedBy, resolution string) (*ResolveConflictResponse, error) {
	result := s.materializeRecord(ctx, rec, true)
	resp := &ResolveConflictResponse{RecordID: rec.ID, Status: rec.Status}
	switch result.kind {
	case outcomeSynced, outcomeDuplicate:
		resp.ResolvedDocID = &result.serverID
		s.logger.Info("Conflict resolved",
			"record", rec.ID, "resolution", resolution, "by", resolvedBy, "server_id", result.serverID)
	default:
		resp.Error = result.err.Error()
		s.logger.Warn("Conflict resolution did not materialize",
			"record", rec.ID, "resolution", resolution, "by", resolvedBy, "error", result.err)
	}
	return resp, nil
}

// replacePayload swaps the record's payload for an operator-merged version
// after validating it the same way a fresh submission would be.
func (s *SyncService) replacePayload(ctx context.Context, rec *SyncRecord, merged []byte) error {
	switch rec.DocumentType {
	case DocTypeSalesInvoice:
		if _, err := s.decodeInvoicePayload(merged); err != nil {
			return err
		}
	case DocTypeCustomer:
		if _, err := s.decodeCustomerPayload(merged); err != nil {
			return err
		}
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE possync.sync_records SET payload = $1::json WHERE id = $2`, merged, rec.ID)
	if err != nil {
		return fmt.Errorf("replace payload for record %d: %w", rec.ID, err)
	}
	rec.Payload = merged
	return nil
}

// serverDocumentFor locates the server document a conflicted record collided
// with: the invoice holding the same offline id, or the customer matched by
// name or phone.
func (s *SyncService) serverDocumentFor(ctx context.Context, rec *SyncRecord) (*string, error) {
	switch rec.DocumentType {
	case DocTypeSalesInvoice:
		var id string
		err := s.pool.QueryRow(ctx,
			`SELECT id::text FROM pos.sales_invoices WHERE offline_id = $1`, rec.OfflineID).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("locate server invoice: %w", err)
		}
		return &id, nil

	case DocTypeCustomer:
		payload, err := s.decodeCustomerPayload(rec.Payload)
		if err != nil {
			return nil, err
		}
		var name string
		err = s.pool.QueryRow(ctx, `
			SELECT name FROM pos.customers
			WHERE lower(name) = lower($1) OR ($2 <> '' AND phone = $2)
			ORDER BY (lower(name) = lower($1)) DESC
			LIMIT 1`, payload.Name, payload.Phone).Scan(&name)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("locate server customer: %w", err)
		}
		return &name, nil
	}
	return nil, ErrRecordNotFound
}
