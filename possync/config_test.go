// Copyright 2026 Ahmad
// SPDX-License-Identifier: MIT

package possync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestServiceConfig_WithDefaults(t *testing.T) {
	t.Run("NilConfig", func(t *testing.T) {
		var cfg *ServiceConfig
		out := cfg.withDefaults()
		require.Equal(t, "pos-sync", out.AppName)
		require.Equal(t, DefaultRetryCeiling, out.RetryCeiling)
		require.Equal(t, DefaultRetryInterval, out.RetryInterval)
		require.Equal(t, DefaultRetryBatch, out.RetryBatch)
		require.Equal(t, DefaultSweepBudget, out.SweepBudget)
		require.Equal(t, DefaultItemTimeout, out.ItemTimeout)
		require.Equal(t, DefaultStalledClaimAge, out.StalledClaimAge)
		require.Equal(t, DefaultRetentionHorizon, out.RetentionHorizon)
		require.Equal(t, DefaultRetentionInterval, out.RetentionInterval)
	})

	t.Run("ExplicitValuesKept", func(t *testing.T) {
		cfg := &ServiceConfig{
			AppName:       "till-42",
			RetryCeiling:  3,
			RetryInterval: time.Minute,
			RetryBatch:    10,
		}
		out := cfg.withDefaults()
		require.Equal(t, "till-42", out.AppName)
		require.Equal(t, 3, out.RetryCeiling)
		require.Equal(t, time.Minute, out.RetryInterval)
		require.Equal(t, 10, out.RetryBatch)
		require.Equal(t, DefaultSweepBudget, out.SweepBudget)
	})

	t.Run("OriginalUntouched", func(t *testing.T) {
		cfg := &ServiceConfig{}
		_ = cfg.withDefaults()
		require.Zero(t, cfg.RetryCeiling)
	})
}
