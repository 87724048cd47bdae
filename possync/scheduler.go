// Copyright 2026 Ahmad
// SPDX-License-Identifier: MIT

package possync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
)

// Scheduler runs the periodic background work: retrying failed records and
// pruning synced ones past the retention horizon. One instance per process;
// concurrent instances across processes are safe because beginAttempt claims
// records with a compare-and-set transition.
type Scheduler struct {
	service *SyncService
	logger  *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(service *SyncService, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{service: service, logger: logger}
}

// Start launches the sweep loops. Calling Start on a running scheduler is a no-op.
func (sc *Scheduler) Start(ctx context.Context) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	sc.cancel = cancel
	sc.done = make(chan struct{})

	cfg := sc.service.Config()
	go func() {
		defer close(sc.done)

		retryTicker := time.NewTicker(cfg.RetryInterval)
		defer retryTicker.Stop()
		retentionTicker := time.NewTicker(cfg.RetentionInterval)
		defer retentionTicker.Stop()

		sc.logger.Info("Sync scheduler started",
			"retry_interval", cfg.RetryInterval,
			"retention_interval", cfg.RetentionInterval)

		for {
			select {
			case <-runCtx.Done():
				sc.logger.Info("Sync scheduler stopped")
				return
			case <-retryTicker.C:
				if n, err := sc.service.RunRetrySweep(runCtx); err != nil {
					sc.logger.Error("Retry sweep failed", "error", err)
				} else if n > 0 {
					sc.logger.Info("Retry sweep completed", "attempted", n)
				}
			case <-retentionTicker.C:
				if n, err := sc.service.RunRetentionSweep(runCtx); err != nil {
					sc.logger.Error("Retention sweep failed", "error", err)
				} else if n > 0 {
					sc.logger.Info("Retention sweep completed", "removed", n)
				}
			}
		}
	}()
}

// Stop halts the loops and waits for the current sweep to wind down.
func (sc *Scheduler) Stop() {
	sc.mu.Lock()
	cancel, done := sc.cancel, sc.done
	sc.cancel, sc.done = nil, nil
	sc.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// RunRetrySweep re-attempts eligible pending and failed records, highest
// priority first, oldest first within a priority. It returns the number of
// records attempted. The whole sweep runs under the configured wall-clock
// budget so a slow database cannot stack overlapping sweeps.
func (s *SyncService) RunRetrySweep(ctx context.Context) (int, error) {
	if err := s.checkClosed(); err != nil {
		return 0, err
	}
	sweepCtx, cancel := context.WithTimeout(ctx, s.config.SweepBudget)
	defer cancel()

	reclaimed, err := s.reclaimStalledRecords(sweepCtx)
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 {
		s.logger.Warn("Reclaimed stalled processing records", "count", reclaimed)
	}

	rows, err := s.pool.Query(sweepCtx, `
		SELECT `+syncRecordColumns+`
		FROM possync.sync_records
		WHERE status IN (@pending, @failed) AND attempt_count < @ceiling
		ORDER BY priority DESC, COALESCE(created_offline_at, received_at) ASC
		LIMIT @batch`,
		pgx.NamedArgs{
			"pending": StatusPending,
			"failed":  StatusFailed,
			"ceiling": s.config.RetryCeiling,
			"batch":   s.config.RetryBatch,
		})
	if err != nil {
		return 0, fmt.Errorf("retry sweep query: %w", err)
	}
	records := make([]*SyncRecord, 0, s.config.RetryBatch)
	for rows.Next() {
		rec, scanErr := scanSyncRecord(rows)
		if scanErr != nil {
			rows.Close()
			return 0, scanErr
		}
		records = append(records, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("retry sweep read: %w", err)
	}

	attempted := 0
	for _, rec := range records {
		if sweepCtx.Err() != nil {
			s.logger.Warn("Retry sweep budget exhausted",
				"attempted", attempted, "remaining", len(records)-attempted)
			break
		}
		result := s.materializeRecord(sweepCtx, rec, false)
		attempted++
		switch result.kind {
		case outcomeSynced, outcomeDuplicate:
			s.logger.Info("Retried record synced",
				"record", rec.ID, "offline_id", rec.OfflineID, "server_id", result.serverID)
		case outcomeConflict:
			s.logger.Warn("Retried record parked as conflict",
				"record", rec.ID, "offline_id", rec.OfflineID, "error", result.err)
		default:
			s.logger.Warn("Retried record failed again",
				"record", rec.ID, "offline_id", rec.OfflineID,
				"attempt", rec.AttemptCount, "error", result.err)
		}
	}
	return attempted, nil
}

// reclaimStalledRecords fails processing claims whose last attempt started
// longer ago than the stalled-claim age. A claim is abandoned when the holder
// crashed mid-attempt; nothing else would ever move the record again. The
// compare-and-set on status keeps live claims untouched.
func (s *SyncService) reclaimStalledRecords(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-s.config.StalledClaimAge)
	tag, err := s.pool.Exec(ctx, `
		UPDATE possync.sync_records
		SET status = @failed, failure_class = @class, error_message = @msg
		WHERE status = @processing AND last_attempt_at < @cutoff`,
		pgx.NamedArgs{
			"failed":     StatusFailed,
			"class":      FailureTransient,
			"msg":        "attempt abandoned before completion",
			"processing": StatusProcessing,
			"cutoff":     cutoff,
		})
	if err != nil {
		return 0, fmt.Errorf("reclaim stalled records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RunRetentionSweep removes synced records older than the retention horizon.
// Only synced records are eligible: failures and conflicts stay visible until
// someone deals with them.
func (s *SyncService) RunRetentionSweep(ctx context.Context) (int64, error) {
	if err := s.checkClosed(); err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-s.config.RetentionHorizon)
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM possync.sync_records
		WHERE status = $1 AND synced_at < $2`,
		StatusSynced, cutoff)
	if err != nil {
		return 0, fmt.Errorf("retention sweep: %w", err)
	}
	return tag.RowsAffected(), nil
}
