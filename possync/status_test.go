// Copyright 2026 Ahmad
// SPDX-License-Identifier: MIT

package possync

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOutcomeConstructors(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		s := successOutcome(DocTypeSalesInvoice, "inv-1", "uuid-1")
		require.Equal(t, DocTypeSalesInvoice, s.Type)
		require.Equal(t, "inv-1", s.OfflineID)
		require.Equal(t, "uuid-1", s.ServerID)
		require.False(t, s.Duplicate)
	})

	t.Run("Duplicate", func(t *testing.T) {
		s := duplicateOutcome(DocTypeCustomer, "cust-1", "Jane Roe")
		require.True(t, s.Duplicate)
		require.Equal(t, "Jane Roe", s.ServerID)
	})

	t.Run("FailureCarriesClass", func(t *testing.T) {
		err := fmt.Errorf("%w: company missing", ErrMissingReference)
		f := failureOutcome(DocTypeSalesInvoice, "inv-2", err, true)
		require.Equal(t, FailureSemantic, f.FailureClass)
		require.True(t, f.WillRetry)
		require.Contains(t, f.Error, "company missing")
	})

	t.Run("Conflict", func(t *testing.T) {
		c := conflictOutcome(DocTypeCustomer, "cust-2", 99, "phone already registered")
		require.Equal(t, int64(99), c.RecordID)
		require.Equal(t, "phone already registered", c.Message)
	})
}

func TestRoundCents(t *testing.T) {
	require.Equal(t, 11.0, roundCents(2*5.50))
	require.Equal(t, 0.3, roundCents(0.1+0.2))
	require.Equal(t, -5.5, roundCents(-5.499999999))
	require.Equal(t, 1.67, roundCents(5.0/3.0))
}
