// Copyright 2026 Ahmad
// SPDX-License-Identifier: MIT

package possync

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SyncService is the reconciliation engine: it accepts batches of
// offline-created documents, materializes them into server documents exactly
// once, and exposes the conflict, retry, snapshot and status surfaces.
// This is the main component applications embed.
type SyncService struct {
	pool      *pgxpool.Pool
	logger    *slog.Logger
	config    *ServiceConfig
	validate  *validatorv10.Validate
	perms     PermissionChecker
	observers []DocumentObserver

	mu     sync.RWMutex
	closed bool
}

// NewSyncService creates a sync service from an existing pool and runs the
// schema migrations. The caller owns the pool lifecycle.
func NewSyncService(pool *pgxpool.Pool, config *ServiceConfig, logger *slog.Logger) (*SyncService, error) {
	if logger == nil {
		logger = slog.Default()
	}

	service := &SyncService{
		pool:     pool,
		logger:   logger,
		config:   config.withDefaults(),
		validate: newPayloadValidator(),
		perms:    AllowAllPermissions{},
	}

	ctx := context.Background()
	if err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return service.initializeSchemaInTx(ctx, tx)
	}); err != nil {
		return nil, err
	}

	return service, nil
}

// SetPermissionChecker installs the capability gate consulted per operation.
func (s *SyncService) SetPermissionChecker(p PermissionChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p != nil {
		s.perms = p
	}
}

// AddObserver registers a hook for finalized/voided document notifications.
// Observers must tolerate redelivery of the same document.
func (s *SyncService) AddObserver(o DocumentObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o != nil {
		s.observers = append(s.observers, o)
	}
}

// Config returns the effective configuration (defaults applied).
func (s *SyncService) Config() ServiceConfig {
	return *s.config
}

// Pool returns the underlying connection pool for advanced callers.
func (s *SyncService) Pool() *pgxpool.Pool {
	return s.pool
}

// Close marks the service as shut down. It does not close the pool.
// Safe to call multiple times.
func (s *SyncService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.logger.Debug("Shutting down sync service")
	s.closed = true
	return nil
}

func (s *SyncService) checkClosed() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("sync service has been closed")
	}
	return nil
}

func (s *SyncService) notifyFinalized(ctx context.Context, inv *SalesInvoice) {
	s.mu.RLock()
	observers := s.observers
	s.mu.RUnlock()
	for _, o := range observers {
		if err := o.DocumentFinalized(ctx, inv); err != nil {
			s.logger.Warn("Document finalized hook failed", "error", err, "invoice", inv.ID, "offline_id", inv.OfflineID)
		}
	}
}

func (s *SyncService) notifyVoided(ctx context.Context, inv *SalesInvoice) {
	s.mu.RLock()
	observers := s.observers
	s.mu.RUnlock()
	for _, o := range observers {
		if err := o.DocumentVoided(ctx, inv); err != nil {
			s.logger.Warn("Document voided hook failed", "error", err, "invoice", inv.ID, "offline_id", inv.OfflineID)
		}
	}
}
