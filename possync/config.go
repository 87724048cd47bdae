// Copyright 2026 Ahmad
// SPDX-License-Identifier: MIT

package possync

import "time"

// ServiceConfig holds configuration for the sync service.
// All components receive this as an explicit value at construction;
// there is no ambient global settings document.
type ServiceConfig struct {
	AppName string // Application name for connection tracking

	RetryCeiling    int           // Max automatic attempts per sync record (0 = use default)
	RetryInterval   time.Duration // Period between retry sweeps
	RetryBatch      int           // Max records re-attempted per sweep
	SweepBudget     time.Duration // Wall-clock budget for one retry sweep
	ItemTimeout     time.Duration // Per-item timeout within a batch submission
	StalledClaimAge time.Duration // Processing claims older than this count as abandoned

	RetentionHorizon  time.Duration // Synced records older than this are removed
	RetentionInterval time.Duration // Period between retention sweeps

	MaxBatchSize    int // Maximum documents in a single batch submission (0 = unlimited)
	MaxPayloadBytes int // Maximum JSON payload size per document in bytes (0 = unlimited)

	SnapshotLimit int // Max rows per snapshot collection (0 = unlimited)
}

// Defaults applied by NewSyncService when the corresponding field is zero.
const (
	DefaultRetryCeiling      = 5
	DefaultRetryInterval     = 5 * time.Minute
	DefaultRetryBatch        = 50
	DefaultSweepBudget       = 2 * time.Minute
	DefaultItemTimeout       = 15 * time.Second
	DefaultStalledClaimAge   = 10 * time.Minute
	DefaultRetentionHorizon  = 30 * 24 * time.Hour
	DefaultRetentionInterval = 24 * time.Hour
)

// withDefaults returns a copy of the config with zero fields replaced by defaults.
func (c *ServiceConfig) withDefaults() *ServiceConfig {
	out := ServiceConfig{AppName: "pos-sync"}
	if c != nil {
		out = *c
	}
	if out.AppName == "" {
		out.AppName = "pos-sync"
	}
	if out.RetryCeiling <= 0 {
		out.RetryCeiling = DefaultRetryCeiling
	}
	if out.RetryInterval <= 0 {
		out.RetryInterval = DefaultRetryInterval
	}
	if out.RetryBatch <= 0 {
		out.RetryBatch = DefaultRetryBatch
	}
	if out.SweepBudget <= 0 {
		out.SweepBudget = DefaultSweepBudget
	}
	if out.ItemTimeout <= 0 {
		out.ItemTimeout = DefaultItemTimeout
	}
	if out.StalledClaimAge <= 0 {
		out.StalledClaimAge = DefaultStalledClaimAge
	}
	if out.RetentionHorizon <= 0 {
		out.RetentionHorizon = DefaultRetentionHorizon
	}
	if out.RetentionInterval <= 0 {
		out.RetentionInterval = DefaultRetentionInterval
	}
	return &out
}
