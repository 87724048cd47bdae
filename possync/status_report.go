// Copyright 2026 Ahmad
// SPDX-License-Identifier: MIT

package possync

import (
	"context"
	"fmt"
)

// SyncStatus reports the ledger's counts by state plus the most recent
// successful sync. Exhausted counts failed records past the retry ceiling,
// the ones only an operator or a resubmission can revive.
func (s *SyncService) SyncStatus(ctx context.Context) (*SyncStatusResponse, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	resp := &SyncStatusResponse{}
	rows, err := s.pool.Query(ctx, `
		SELECT status, count(*), count(*) FILTER (WHERE attempt_count >= $1)
		FROM possync.sync_records
		GROUP BY status`, s.config.RetryCeiling)
	if err != nil {
		return nil, fmt.Errorf("sync status counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var total, exhausted int64
		if err := rows.Scan(&status, &total, &exhausted); err != nil {
			return nil, fmt.Errorf("scan sync status: %w", err)
		}
		switch status {
		case StatusPending:
			resp.Pending = total
		case StatusProcessing:
			resp.Processing = total
		case StatusSynced:
			resp.Synced = total
		case StatusFailed:
			resp.Failed = total
			resp.Exhausted = exhausted
		case StatusConflict:
			resp.Conflicts = total
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read sync status: %w", err)
	}
	resp.IsSyncing = resp.Processing > 0

	err = s.pool.QueryRow(ctx,
		`SELECT max(synced_at) FROM possync.sync_records WHERE status = $1`,
		StatusSynced).Scan(&resp.LastSync)
	if err != nil {
		return nil, fmt.Errorf("last sync time: %w", err)
	}
	return resp, nil
}

// ListHistory returns the most recently received records, newest first,
// optionally filtered by status.
func (s *SyncService) ListHistory(ctx context.Context, status string, limit int) ([]*SyncRecord, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	if status != "" {
		if _, ok := legalTransitions[status]; !ok && status != StatusSynced {
			return nil, fmt.Errorf("%w: unknown status %q", ErrBadPayload, status)
		}
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+syncRecordColumns+`
		FROM possync.sync_records
		WHERE ($1 = '' OR status = $1)
		ORDER BY received_at DESC
		LIMIT $2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
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
		return nil, fmt.Errorf("read history: %w", err)
	}
	return out, nil
}
