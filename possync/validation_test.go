// Copyright 2026 Ahmad
// SPDX-License-Identifier: MIT

package possync

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func testService(t *testing.T) *SyncService {
	t.Helper()
	var cfg *ServiceConfig
	return &SyncService{
		config:   cfg.withDefaults(),
		validate: newPayloadValidator(),
	}
}

func TestDecodeInvoicePayload(t *testing.T) {
	svc := testService(t)

	valid := `{
		"pos_profile": "Main Store",
		"customer": "Walk-In",
		"posting_date": "2026-08-27",
		"items": [{"item_code": "SKU-1", "qty": 2, "rate": 5.50, "amount": 11.00}],
		"payments": [{"mode_of_payment": "Cash", "amount": 11.00}]
	}`

	t.Run("Valid", func(t *testing.T) {
		p, err := svc.decodeInvoicePayload([]byte(valid))
		require.NoError(t, err)
		require.Equal(t, "Main Store", p.Profile)
		require.Len(t, p.Items, 1)
		require.Nil(t, p.Submit)
	})

	t.Run("UnknownFieldRejected", func(t *testing.T) {
		_, err := svc.decodeInvoicePayload([]byte(`{
			"pos_profile": "Main Store",
			"grand_total_override": 1,
			"items": [{"item_code": "SKU-1", "qty": 1, "rate": 1}],
			"payments": [{"mode_of_payment": "Cash", "amount": 1}]
		}`))
		require.Error(t, err)
		require.ErrorIs(t, err, ErrBadPayload)
	})

	t.Run("MissingProfile", func(t *testing.T) {
		_, err := svc.decodeInvoicePayload([]byte(`{
			"items": [{"item_code": "SKU-1", "qty": 1, "rate": 1}],
			"payments": [{"mode_of_payment": "Cash", "amount": 1}]
		}`))
		require.ErrorIs(t, err, ErrBadPayload)
	})

	t.Run("EmptyItems", func(t *testing.T) {
		_, err := svc.decodeInvoicePayload([]byte(`{
			"pos_profile": "Main Store",
			"items": [],
			"payments": [{"mode_of_payment": "Cash", "amount": 1}]
		}`))
		require.ErrorIs(t, err, ErrBadPayload)
	})

	t.Run("AmountDisagreesWithQtyTimesRate", func(t *testing.T) {
		_, err := svc.decodeInvoicePayload([]byte(`{
			"pos_profile": "Main Store",
			"items": [{"item_code": "SKU-1", "qty": 2, "rate": 5.50, "amount": 12.00}],
			"payments": [{"mode_of_payment": "Cash", "amount": 12.00}]
		}`))
		require.ErrorIs(t, err, ErrBadPayload)
	})

	t.Run("NegativeQtyForReturnAllowed", func(t *testing.T) {
		p, err := svc.decodeInvoicePayload([]byte(`{
			"pos_profile": "Main Store",
			"is_return": true,
			"items": [{"item_code": "SKU-1", "qty": -1, "rate": 5.50, "amount": -5.50}],
			"payments": [{"mode_of_payment": "Cash", "amount": -5.50}]
		}`))
		require.NoError(t, err)
		require.True(t, p.IsReturn)
	})

	t.Run("BadPostingDate", func(t *testing.T) {
		_, err := svc.decodeInvoicePayload([]byte(`{
			"pos_profile": "Main Store",
			"posting_date": "27/08/2026",
			"items": [{"item_code": "SKU-1", "qty": 1, "rate": 1}],
			"payments": [{"mode_of_payment": "Cash", "amount": 1}]
		}`))
		require.ErrorIs(t, err, ErrBadPayload)
	})
}

func TestDecodeCustomerPayload(t *testing.T) {
	svc := testService(t)

	t.Run("Valid", func(t *testing.T) {
		p, err := svc.decodeCustomerPayload([]byte(`{"customer_name": "Jane Roe", "mobile_no": "+15550100"}`))
		require.NoError(t, err)
		require.Equal(t, "Jane Roe", p.Name)
		require.Equal(t, "Individual", p.CustomerType)
	})

	t.Run("BlankNameRejected", func(t *testing.T) {
		_, err := svc.decodeCustomerPayload([]byte(`{"customer_name": "   "}`))
		require.ErrorIs(t, err, ErrBadPayload)
	})

	t.Run("BadEmailRejected", func(t *testing.T) {
		_, err := svc.decodeCustomerPayload([]byte(`{"customer_name": "Jane Roe", "email_id": "not-an-email"}`))
		require.ErrorIs(t, err, ErrBadPayload)
	})

	t.Run("ExplicitTypeKept", func(t *testing.T) {
		p, err := svc.decodeCustomerPayload([]byte(`{"customer_name": "Acme Corp", "customer_type": "Company"}`))
		require.NoError(t, err)
		require.Equal(t, "Company", p.CustomerType)
	})
}

func TestValidateDocument(t *testing.T) {
	svc := testService(t)

	t.Run("MissingOfflineID", func(t *testing.T) {
		err := svc.validateDocument(&OfflineDocument{Payload: json.RawMessage(`{}`)})
		require.ErrorIs(t, err, ErrBadPayload)
	})

	t.Run("MissingPayload", func(t *testing.T) {
		err := svc.validateDocument(&OfflineDocument{OfflineID: "inv-1"})
		require.ErrorIs(t, err, ErrBadPayload)
	})

	t.Run("PayloadNotAnObject", func(t *testing.T) {
		err := svc.validateDocument(&OfflineDocument{OfflineID: "inv-1", Payload: json.RawMessage(`[1,2]`)})
		require.ErrorIs(t, err, ErrBadPayload)
	})

	t.Run("PayloadTooLarge", func(t *testing.T) {
		limited := testService(t)
		limited.config.MaxPayloadBytes = 10
		err := limited.validateDocument(&OfflineDocument{
			OfflineID: "inv-1",
			Payload:   json.RawMessage(`{"customer": "Walk-In Customer"}`),
		})
		require.ErrorIs(t, err, ErrBadPayload)
	})

	t.Run("Valid", func(t *testing.T) {
		err := svc.validateDocument(&OfflineDocument{OfflineID: "inv-1", Payload: json.RawMessage(`{"a": 1}`)})
		require.NoError(t, err)
	})
}

func TestClassifyFailure(t *testing.T) {
	require.Equal(t, FailureSemantic, classifyFailure(ErrBadPayload))
	require.Equal(t, FailureSemantic, classifyFailure(ErrMissingReference))
	require.Equal(t, FailureTransient, classifyFailure(errors.New("connection reset")))
}
