// Copyright 2026 Ahmad
// SPDX-License-Identifier: MIT

package possync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Idempotency ledger: maps a client-supplied offline id to the sync record
// (and ultimately the server document) it produced. Check-and-create is a
// single conditional insert on the offline_id unique constraint; there is
// deliberately no read-then-write path.

const syncRecordColumns = `
	id, offline_id, document_type, payload, device_id, submitted_by, session_ref,
	created_offline_at, received_at, status, failure_class, attempt_count,
	last_attempt_at, priority, resolved_document_id, synced_at, error_message`

// gateRecord atomically claims the offline id. It returns the freshly created
// pending record, or (nil, existing) when another submission got there first.
func (s *SyncService) gateRecord(ctx context.Context, doc *OfflineDocument, docType, user, device string) (created, existing *SyncRecord, err error) {
	deviceID := doc.DeviceID
	if deviceID == "" {
		deviceID = device
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO possync.sync_records
			(offline_id, document_type, payload, device_id, submitted_by, session_ref, created_offline_at, priority)
		VALUES (@offline_id, @document_type, @payload::json, @device_id, @submitted_by, @session_ref, @created_offline_at, @priority)
		ON CONFLICT (offline_id) DO NOTHING
		RETURNING id, received_at`,
		pgx.NamedArgs{
			"offline_id":         doc.OfflineID,
			"document_type":      docType,
			"payload":            []byte(doc.Payload),
			"device_id":          deviceID,
			"submitted_by":       user,
			"session_ref":        doc.SessionRef,
			"created_offline_at": doc.CreatedAt,
			"priority":           doc.Priority,
		})

	rec := &SyncRecord{
		OfflineID:        doc.OfflineID,
		DocumentType:     docType,
		Payload:          doc.Payload,
		DeviceID:         deviceID,
		SubmittedBy:      user,
		SessionRef:       doc.SessionRef,
		CreatedOfflineAt: doc.CreatedAt,
		Status:           StatusPending,
		Priority:         doc.Priority,
	}
	err = row.Scan(&rec.ID, &rec.ReceivedAt)
	if err == nil {
		return rec, nil, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, fmt.Errorf("ledger gate insert: %w", err)
	}

	// Gate lost: the offline id is already claimed. Load the winner.
	existing, err = s.GetRecordByOfflineID(ctx, doc.OfflineID)
	if err != nil {
		return nil, nil, fmt.Errorf("ledger gate lookup: %w", err)
	}
	return nil, existing, nil
}

// GetRecord loads a sync record by its server id.
func (s *SyncService) GetRecord(ctx context.Context, id int64) (*SyncRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+syncRecordColumns+` FROM possync.sync_records WHERE id = $1`, id)
	return scanSyncRecord(row)
}

// GetRecordByOfflineID loads a sync record by its idempotency key.
func (s *SyncService) GetRecordByOfflineID(ctx context.Context, offlineID string) (*SyncRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+syncRecordColumns+` FROM possync.sync_records WHERE offline_id = $1`, offlineID)
	return scanSyncRecord(row)
}

func scanSyncRecord(row pgx.Row) (*SyncRecord, error) {
	var rec SyncRecord
	err := row.Scan(
		&rec.ID, &rec.OfflineID, &rec.DocumentType, &rec.Payload, &rec.DeviceID,
		&rec.SubmittedBy, &rec.SessionRef, &rec.CreatedOfflineAt, &rec.ReceivedAt,
		&rec.Status, &rec.FailureClass, &rec.AttemptCount, &rec.LastAttemptAt,
		&rec.Priority, &rec.ResolvedDocID, &rec.SyncedAt, &rec.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("scan sync record: %w", err)
	}
	return &rec, nil
}

// beginAttempt moves a record into processing, bumping the attempt counter.
// The WHERE clause makes concurrent sweeps and submissions mutually exclusive:
// only one caller can claim a record per transition.
func (s *SyncService) beginAttempt(ctx context.Context, rec *SyncRecord) (bool, error) {
	if err := checkTransition(rec.Status, StatusProcessing); err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE possync.sync_records
		SET status = @to, attempt_count = attempt_count + 1, last_attempt_at = now()
		WHERE id = @id AND status = @from`,
		pgx.NamedArgs{"to": StatusProcessing, "id": rec.ID, "from": rec.Status})
	if err != nil {
		return false, fmt.Errorf("begin attempt for record %d: %w", rec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil // somebody else claimed it
	}
	rec.Status = StatusProcessing
	rec.AttemptCount++
	now := time.Now()
	rec.LastAttemptAt = &now
	return true, nil
}

// finishSynced records a successful materialization.
func (s *SyncService) finishSynced(ctx context.Context, rec *SyncRecord, docID string) error {
	if err := checkTransition(rec.Status, StatusSynced); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE possync.sync_records
		SET status = @status, resolved_document_id = @doc_id, synced_at = now(),
		    failure_class = '', error_message = NULL
		WHERE id = @id`,
		pgx.NamedArgs{"status": StatusSynced, "doc_id": docID, "id": rec.ID})
	if err != nil {
		return fmt.Errorf("finish record %d: %w", rec.ID, err)
	}
	rec.Status = StatusSynced
	rec.ResolvedDocID = &docID
	return nil
}

// finishFailed records a recoverable failure; the record stays eligible for
// the retry sweep while under the ceiling.
func (s *SyncService) finishFailed(ctx context.Context, rec *SyncRecord, cause error) error {
	if err := checkTransition(rec.Status, StatusFailed); err != nil {
		return err
	}
	msg := cause.Error()
	class := classifyFailure(cause)
	_, err := s.pool.Exec(ctx, `
		UPDATE possync.sync_records
		SET status = @status, failure_class = @class, error_message = @msg
		WHERE id = @id`,
		pgx.NamedArgs{"status": StatusFailed, "class": class, "msg": msg, "id": rec.ID})
	if err != nil {
		return fmt.Errorf("fail record %d: %w", rec.ID, err)
	}
	rec.Status = StatusFailed
	rec.FailureClass = class
	rec.ErrorMessage = &msg
	return nil
}

// finishConflict parks the record for operator resolution.
func (s *SyncService) finishConflict(ctx context.Context, rec *SyncRecord, cause error) error {
	if err := checkTransition(rec.Status, StatusConflict); err != nil {
		return err
	}
	msg := cause.Error()
	_, err := s.pool.Exec(ctx, `
		UPDATE possync.sync_records
		SET status = @status, error_message = @msg
		WHERE id = @id`,
		pgx.NamedArgs{"status": StatusConflict, "msg": msg, "id": rec.ID})
	if err != nil {
		return fmt.Errorf("park record %d as conflict: %w", rec.ID, err)
	}
	rec.Status = StatusConflict
	rec.ErrorMessage = &msg
	return nil
}

// payloadEqual compares two payloads structurally, ignoring key order and
// whitespace, so a byte-identical resubmission from a retrying client is
// recognized as a duplicate rather than a conflict.
func payloadEqual(a, b json.RawMessage) bool {
	na, errA := json.Marshal(normalizeJSON(a))
	nb, errB := json.Marshal(normalizeJSON(b))
	if errA != nil || errB != nil {
		return bytes.Equal(a, b)
	}
	return bytes.Equal(na, nb)
}

func normalizeJSON(raw json.RawMessage) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}
