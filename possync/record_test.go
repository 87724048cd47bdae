// Copyright 2026 Ahmad
// SPDX-License-Identifier: MIT

package possync

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSyncRecord_Transitions(t *testing.T) {
	allowed := []struct{ from, to string }{
		{StatusPending, StatusProcessing},
		{StatusProcessing, StatusSynced},
		{StatusProcessing, StatusFailed},
		{StatusProcessing, StatusConflict},
		{StatusFailed, StatusProcessing},
		{StatusConflict, StatusProcessing},
		{StatusConflict, StatusSynced},
	}
	for _, tc := range allowed {
		require.True(t, CanTransition(tc.from, tc.to), "%s -> %s should be legal", tc.from, tc.to)
		require.NoError(t, checkTransition(tc.from, tc.to))
	}

	forbidden := []struct{ from, to string }{
		{StatusPending, StatusSynced},
		{StatusPending, StatusFailed},
		{StatusPending, StatusConflict},
		{StatusSynced, StatusProcessing},
		{StatusSynced, StatusFailed},
		{StatusSynced, StatusConflict},
		{StatusFailed, StatusSynced},
		{StatusFailed, StatusConflict},
		{StatusConflict, StatusFailed},
		{StatusProcessing, StatusPending},
	}
	for _, tc := range forbidden {
		require.False(t, CanTransition(tc.from, tc.to), "%s -> %s should be illegal", tc.from, tc.to)
		require.Error(t, checkTransition(tc.from, tc.to))
	}
}

func TestSyncRecord_Retryable(t *testing.T) {
	t.Run("FailedUnderCeiling", func(t *testing.T) {
		rec := &SyncRecord{Status: StatusFailed, AttemptCount: 4}
		require.True(t, rec.Retryable(5))
	})

	t.Run("FailedAtCeiling", func(t *testing.T) {
		rec := &SyncRecord{Status: StatusFailed, AttemptCount: 5}
		require.False(t, rec.Retryable(5))
	})

	t.Run("PendingAlwaysEligible", func(t *testing.T) {
		rec := &SyncRecord{Status: StatusPending, AttemptCount: 0}
		require.True(t, rec.Retryable(5))
	})

	t.Run("ConflictNeverAutoRetried", func(t *testing.T) {
		rec := &SyncRecord{Status: StatusConflict, AttemptCount: 1}
		require.False(t, rec.Retryable(5))
	})

	t.Run("SyncedNeverRetried", func(t *testing.T) {
		rec := &SyncRecord{Status: StatusSynced, AttemptCount: 1}
		require.False(t, rec.Retryable(5))
	})
}

func TestSyncRecord_Terminal(t *testing.T) {
	require.True(t, (&SyncRecord{Status: StatusSynced}).Terminal(5))
	require.True(t, (&SyncRecord{Status: StatusFailed, AttemptCount: 5}).Terminal(5))
	require.False(t, (&SyncRecord{Status: StatusFailed, AttemptCount: 4}).Terminal(5))
	require.False(t, (&SyncRecord{Status: StatusPending}).Terminal(5))
	require.False(t, (&SyncRecord{Status: StatusProcessing}).Terminal(5))
	require.False(t, (&SyncRecord{Status: StatusConflict}).Terminal(5))
}

func TestPayloadEqual(t *testing.T) {
	t.Run("IgnoresKeyOrderAndWhitespace", func(t *testing.T) {
		a := []byte(`{"customer":"Walk-In","items":[{"item_code":"A","qty":1}]}`)
		b := []byte(`{ "items": [ { "qty": 1, "item_code": "A" } ], "customer": "Walk-In" }`)
		require.True(t, payloadEqual(a, b))
	})

	t.Run("DetectsValueDifference", func(t *testing.T) {
		a := []byte(`{"customer":"Walk-In","total":10}`)
		b := []byte(`{"customer":"Walk-In","total":11}`)
		require.False(t, payloadEqual(a, b))
	})

	t.Run("InvalidJSONFallsBackToBytes", func(t *testing.T) {
		require.True(t, payloadEqual([]byte(`not json`), []byte(`not json`)))
		require.False(t, payloadEqual([]byte(`not json`), []byte(`other`)))
	})
}
