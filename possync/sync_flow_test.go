// Copyright 2026 Ahmad
// SPDX-License-Identifier: MIT

package possync

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestSyncBatch_InvoiceFlow(t *testing.T) {
	svc, pool := newTestService(t, &ServiceConfig{AppName: "invoice-flow-test"})
	ctx := context.Background()

	t.Run("ValidInvoiceMaterializes", func(t *testing.T) {
		resp, err := svc.ProcessSyncBatch(ctx, "cashier-1", "till-7", &SyncBatchRequest{
			Invoices: []OfflineDocument{invoiceDoc("inv-flow-1")},
		})
		require.NoError(t, err)
		require.Len(t, resp.Success, 1)
		require.Empty(t, resp.Failed)
		require.Empty(t, resp.Conflicts)
		require.False(t, resp.Success[0].Duplicate)

		// Totals: 2 x 5.50 net, 10% VAT from the profile template.
		var net, tax, grand float64
		var status, costCenter string
		err = pool.QueryRow(ctx, `
			SELECT net_total, tax_total, grand_total, status, cost_center
			FROM pos.sales_invoices WHERE offline_id = 'inv-flow-1'`).
			Scan(&net, &tax, &grand, &status, &costCenter)
		require.NoError(t, err)
		require.Equal(t, 11.00, net)
		require.Equal(t, 1.10, tax)
		require.Equal(t, 12.10, grand)
		require.Equal(t, InvoiceSubmitted, status)
		require.Equal(t, "Main - AR", costCenter)

		// Payment line resolved to the company's cash account.
		var account string
		err = pool.QueryRow(ctx, `
			SELECT p.account FROM pos.sales_invoice_payments p
			JOIN pos.sales_invoices i ON i.id = p.invoice_id
			WHERE i.offline_id = 'inv-flow-1'`).Scan(&account)
		require.NoError(t, err)
		require.Equal(t, "Cash - AR", account)
	})

	t.Run("ResubmissionIsDuplicateNotDouble", func(t *testing.T) {
		first, err := svc.ProcessSyncBatch(ctx, "cashier-1", "till-7", &SyncBatchRequest{
			Invoices: []OfflineDocument{invoiceDoc("inv-flow-2")},
		})
		require.NoError(t, err)
		require.Len(t, first.Success, 1)

		second, err := svc.ProcessSyncBatch(ctx, "cashier-1", "till-7", &SyncBatchRequest{
			Invoices: []OfflineDocument{invoiceDoc("inv-flow-2")},
		})
		require.NoError(t, err)
		require.Len(t, second.Success, 1)
		require.True(t, second.Success[0].Duplicate)
		require.Equal(t, first.Success[0].ServerID, second.Success[0].ServerID)

		var count int
		err = pool.QueryRow(ctx,
			`SELECT count(*) FROM pos.sales_invoices WHERE offline_id = 'inv-flow-2'`).Scan(&count)
		require.NoError(t, err)
		require.Equal(t, 1, count)
	})

	t.Run("SameIDDifferentPayloadIsConflict", func(t *testing.T) {
		_, err := svc.ProcessSyncBatch(ctx, "cashier-1", "till-7", &SyncBatchRequest{
			Invoices: []OfflineDocument{invoiceDoc("inv-flow-3")},
		})
		require.NoError(t, err)

		altered := invoiceDoc("inv-flow-3")
		altered.Payload = []byte(`{
			"pos_profile": "Main Store",
			"customer": "Walk-In",
			"items": [{"item_code": "SKU-1", "qty": 5, "rate": 5.50, "amount": 27.50}],
			"payments": [{"mode_of_payment": "Cash", "amount": 30.25}]
		}`)
		resp, err := svc.ProcessSyncBatch(ctx, "cashier-1", "till-7", &SyncBatchRequest{
			Invoices: []OfflineDocument{altered},
		})
		require.NoError(t, err)
		require.Empty(t, resp.Success)
		require.Len(t, resp.Conflicts, 1)
		require.Contains(t, resp.Conflicts[0].Message, "different payload")
	})

	t.Run("DivergentResubmissionAcknowledgedWithKeepServer", func(t *testing.T) {
		// The conflict outcome from the prior subtest references a record that
		// stays synced; keep_server acknowledges the server version without
		// error, while re-materializing resolutions are refused.
		rec, err := svc.GetRecordByOfflineID(ctx, "inv-flow-3")
		require.NoError(t, err)
		require.Equal(t, StatusSynced, rec.Status)

		resp, err := svc.ResolveConflict(ctx, "manager-1", &ResolveConflictRequest{
			RecordID:   rec.ID,
			Resolution: ResolutionKeepServer,
		})
		require.NoError(t, err)
		require.Equal(t, StatusSynced, resp.Status)
		require.NotNil(t, resp.ResolvedDocID)

		_, err = svc.ResolveConflict(ctx, "manager-1", &ResolveConflictRequest{
			RecordID:   rec.ID,
			Resolution: ResolutionKeepOffline,
		})
		require.ErrorIs(t, err, ErrBadPayload)
	})

	t.Run("OneBadDocumentDoesNotPoisonTheBatch", func(t *testing.T) {
		bad := invoiceDoc("inv-flow-4-bad")
		bad.Payload = []byte(`{
			"pos_profile": "Main Store",
			"items": [{"item_code": "NO-SUCH-SKU", "qty": 1, "rate": 1, "amount": 1}],
			"payments": [{"mode_of_payment": "Cash", "amount": 1}]
		}`)
		resp, err := svc.ProcessSyncBatch(ctx, "cashier-1", "till-7", &SyncBatchRequest{
			Invoices: []OfflineDocument{bad, invoiceDoc("inv-flow-4-good")},
		})
		require.NoError(t, err)
		require.Len(t, resp.Success, 1)
		require.Equal(t, "inv-flow-4-good", resp.Success[0].OfflineID)
		require.Len(t, resp.Failed, 1)
		require.Equal(t, "inv-flow-4-bad", resp.Failed[0].OfflineID)
		require.Equal(t, FailureSemantic, resp.Failed[0].FailureClass)
		require.True(t, resp.Failed[0].WillRetry)
	})

	t.Run("MalformedEnvelopeIsRejectedWithoutRecord", func(t *testing.T) {
		resp, err := svc.ProcessSyncBatch(ctx, "cashier-1", "till-7", &SyncBatchRequest{
			Invoices: []OfflineDocument{{OfflineID: "", Payload: []byte(`{}`)}},
		})
		require.NoError(t, err)
		require.Len(t, resp.Failed, 1)
		require.False(t, resp.Failed[0].WillRetry)
	})
}

func TestRetrySweep(t *testing.T) {
	svc, pool := newTestService(t, &ServiceConfig{AppName: "retry-test", RetryCeiling: 3})
	ctx := context.Background()

	missing := OfflineDocument{
		OfflineID: "inv-retry-1",
		Payload: []byte(`{
			"pos_profile": "Main Store",
			"items": [{"item_code": "SKU-LATER", "qty": 1, "rate": 3.00, "amount": 3.00}],
			"payments": [{"mode_of_payment": "Cash", "amount": 3.30}]
		}`),
	}
	resp, err := svc.ProcessSyncBatch(ctx, "cashier-1", "till-7", &SyncBatchRequest{
		Invoices: []OfflineDocument{missing},
	})
	require.NoError(t, err)
	require.Len(t, resp.Failed, 1)

	t.Run("SucceedsOnceReferenceExists", func(t *testing.T) {
		_, err := pool.Exec(ctx,
			`INSERT INTO pos.items (item_code, item_name, item_group) VALUES ('SKU-LATER', 'Late Widget', 'All Products')`)
		require.NoError(t, err)

		attempted, err := svc.RunRetrySweep(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, attempted)

		rec, err := svc.GetRecordByOfflineID(ctx, "inv-retry-1")
		require.NoError(t, err)
		require.Equal(t, StatusSynced, rec.Status)
		require.NotNil(t, rec.ResolvedDocID)
	})

	t.Run("CeilingStopsAutomaticRetries", func(t *testing.T) {
		hopeless := OfflineDocument{
			OfflineID: "inv-retry-2",
			Payload: []byte(`{
				"pos_profile": "Main Store",
				"items": [{"item_code": "NEVER-EXISTS", "qty": 1, "rate": 1, "amount": 1}],
				"payments": [{"mode_of_payment": "Cash", "amount": 1.1}]
			}`),
		}
		_, err := svc.ProcessSyncBatch(ctx, "cashier-1", "till-7", &SyncBatchRequest{
			Invoices: []OfflineDocument{hopeless},
		})
		require.NoError(t, err)

		// Submission was attempt 1; two sweeps exhaust the ceiling of 3.
		for i := 0; i < 2; i++ {
			_, err = svc.RunRetrySweep(ctx)
			require.NoError(t, err)
		}
		attempted, err := svc.RunRetrySweep(ctx)
		require.NoError(t, err)
		require.Zero(t, attempted)

		rec, err := svc.GetRecordByOfflineID(ctx, "inv-retry-2")
		require.NoError(t, err)
		require.Equal(t, StatusFailed, rec.Status)
		require.Equal(t, 3, rec.AttemptCount)
		require.True(t, rec.Terminal(3))
	})

	t.Run("ExhaustedResubmissionDoesNotBumpAttempts", func(t *testing.T) {
		before, err := svc.GetRecordByOfflineID(ctx, "inv-retry-2")
		require.NoError(t, err)
		require.Equal(t, StatusFailed, before.Status)
		require.Equal(t, 3, before.AttemptCount)

		resp, err := svc.ProcessSyncBatch(ctx, "cashier-1", "till-7", &SyncBatchRequest{
			Invoices: []OfflineDocument{{
				OfflineID: "inv-retry-2",
				Payload: []byte(`{
					"pos_profile": "Main Store",
					"items": [{"item_code": "NEVER-EXISTS", "qty": 1, "rate": 1, "amount": 1}],
					"payments": [{"mode_of_payment": "Cash", "amount": 1.1}]
				}`),
			}},
		})
		require.NoError(t, err)
		require.Len(t, resp.Failed, 1)
		require.False(t, resp.Failed[0].WillRetry)
		require.Contains(t, resp.Failed[0].Error, "exhausted")

		after, err := svc.GetRecordByOfflineID(ctx, "inv-retry-2")
		require.NoError(t, err)
		require.Equal(t, StatusFailed, after.Status)
		require.Equal(t, 3, after.AttemptCount)
	})

	t.Run("HighPriorityGoesFirst", func(t *testing.T) {
		low := invoiceDoc("inv-retry-low")
		low.Priority = 0
		high := invoiceDoc("inv-retry-high")
		high.Priority = 9
		for _, doc := range []OfflineDocument{low, high} {
			_, err := pool.Exec(ctx, `
				INSERT INTO possync.sync_records (offline_id, document_type, payload, priority, status)
				VALUES ($1, $2, $3::json, $4, 'pending')`,
				doc.OfflineID, DocTypeSalesInvoice, []byte(doc.Payload), doc.Priority)
			require.NoError(t, err)
		}

		_, err := svc.RunRetrySweep(ctx)
		require.NoError(t, err)

		highRec, err := svc.GetRecordByOfflineID(ctx, "inv-retry-high")
		require.NoError(t, err)
		lowRec, err := svc.GetRecordByOfflineID(ctx, "inv-retry-low")
		require.NoError(t, err)
		require.Equal(t, StatusSynced, highRec.Status)
		require.Equal(t, StatusSynced, lowRec.Status)
		require.True(t, highRec.LastAttemptAt.Before(*lowRec.LastAttemptAt) ||
			highRec.LastAttemptAt.Equal(*lowRec.LastAttemptAt))
	})
}

func TestStalledClaimReclaim(t *testing.T) {
	svc, pool := newTestService(t, &ServiceConfig{AppName: "stall-test", StalledClaimAge: time.Minute})
	ctx := context.Background()

	// A processing claim abandoned by a crashed worker: old last_attempt_at,
	// nothing will ever finish it.
	stale := invoiceDoc("inv-stall-1")
	_, err := pool.Exec(ctx, `
		INSERT INTO possync.sync_records
			(offline_id, document_type, payload, status, attempt_count, last_attempt_at)
		VALUES ($1, $2, $3::json, 'processing', 1, now() - interval '30 minutes')`,
		stale.OfflineID, DocTypeSalesInvoice, []byte(stale.Payload))
	require.NoError(t, err)

	// A live claim, recently started, must not be touched.
	fresh := invoiceDoc("inv-stall-2")
	_, err = pool.Exec(ctx, `
		INSERT INTO possync.sync_records
			(offline_id, document_type, payload, status, attempt_count, last_attempt_at)
		VALUES ($1, $2, $3::json, 'processing', 1, now())`,
		fresh.OfflineID, DocTypeSalesInvoice, []byte(fresh.Payload))
	require.NoError(t, err)

	attempted, err := svc.RunRetrySweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, attempted)

	// The stale claim was reclaimed and re-driven to completion in the same sweep.
	rec, err := svc.GetRecordByOfflineID(ctx, "inv-stall-1")
	require.NoError(t, err)
	require.Equal(t, StatusSynced, rec.Status)
	require.NotNil(t, rec.ResolvedDocID)

	live, err := svc.GetRecordByOfflineID(ctx, "inv-stall-2")
	require.NoError(t, err)
	require.Equal(t, StatusProcessing, live.Status)
}

func TestCustomerDedupeAndConflicts(t *testing.T) {
	svc, _ := newTestService(t, &ServiceConfig{AppName: "customer-test"})
	ctx := context.Background()

	t.Run("NewCustomerCreated", func(t *testing.T) {
		resp, err := svc.ProcessSyncBatch(ctx, "cashier-1", "till-7", &SyncBatchRequest{
			Customers: []OfflineDocument{customerDoc("cust-1", "Jane Roe", "+15550100")},
		})
		require.NoError(t, err)
		require.Len(t, resp.Success, 1)
		require.Equal(t, "Jane Roe", resp.Success[0].ServerID)
	})

	t.Run("SameNameReusesExisting", func(t *testing.T) {
		resp, err := svc.ProcessSyncBatch(ctx, "cashier-2", "till-8", &SyncBatchRequest{
			Customers: []OfflineDocument{customerDoc("cust-2", "jane roe", "")},
		})
		require.NoError(t, err)
		require.Len(t, resp.Success, 1)
		require.True(t, resp.Success[0].Duplicate)
		require.Equal(t, "Jane Roe", resp.Success[0].ServerID)
	})

	t.Run("SamePhoneDifferentNameIsConflict", func(t *testing.T) {
		resp, err := svc.ProcessSyncBatch(ctx, "cashier-1", "till-7", &SyncBatchRequest{
			Customers: []OfflineDocument{customerDoc("cust-3", "J. Roe", "+15550100")},
		})
		require.NoError(t, err)
		require.Empty(t, resp.Success)
		require.Len(t, resp.Conflicts, 1)

		conflicts, err := svc.ListConflicts(ctx)
		require.NoError(t, err)
		require.Len(t, conflicts, 1)
		require.Equal(t, "cust-3", conflicts[0].OfflineID)
	})

	t.Run("KeepServerResolution", func(t *testing.T) {
		conflicts, err := svc.ListConflicts(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, conflicts)

		resp, err := svc.ResolveConflict(ctx, "manager-1", &ResolveConflictRequest{
			RecordID:   conflicts[0].ID,
			Resolution: ResolutionKeepServer,
			Note:       "same person, keep existing",
		})
		require.NoError(t, err)
		require.Equal(t, StatusSynced, resp.Status)
		require.NotNil(t, resp.ResolvedDocID)
		require.Equal(t, "Jane Roe", *resp.ResolvedDocID)

		remaining, err := svc.ListConflicts(ctx)
		require.NoError(t, err)
		require.Empty(t, remaining)
	})

	t.Run("KeepOfflineResolutionCreatesCustomer", func(t *testing.T) {
		resp, err := svc.ProcessSyncBatch(ctx, "cashier-1", "till-7", &SyncBatchRequest{
			Customers: []OfflineDocument{customerDoc("cust-4", "John Roe", "+15550100")},
		})
		require.NoError(t, err)
		require.Len(t, resp.Conflicts, 1)

		resolved, err := svc.ResolveConflict(ctx, "manager-1", &ResolveConflictRequest{
			RecordID:   resp.Conflicts[0].RecordID,
			Resolution: ResolutionKeepOffline,
		})
		require.NoError(t, err)
		require.Equal(t, StatusSynced, resolved.Status)
		require.NotNil(t, resolved.ResolvedDocID)
		require.Equal(t, "John Roe", *resolved.ResolvedDocID)
	})

	t.Run("MergeResolutionUsesEditedPayload", func(t *testing.T) {
		resp, err := svc.ProcessSyncBatch(ctx, "cashier-1", "till-7", &SyncBatchRequest{
			Customers: []OfflineDocument{customerDoc("cust-5", "Jayne Roe", "+15550100")},
		})
		require.NoError(t, err)
		require.Len(t, resp.Conflicts, 1)

		merged := json.RawMessage(`{"customer_name": "Jayne Roe-Smith", "mobile_no": "+15550199"}`)
		resolved, err := svc.ResolveConflict(ctx, "manager-1", &ResolveConflictRequest{
			RecordID:      resp.Conflicts[0].RecordID,
			Resolution:    ResolutionMerge,
			MergedPayload: merged,
		})
		require.NoError(t, err)
		require.Equal(t, StatusSynced, resolved.Status)
		require.NotNil(t, resolved.ResolvedDocID)
		require.Equal(t, "Jayne Roe-Smith", *resolved.ResolvedDocID)
	})

	t.Run("UnknownResolutionRejected", func(t *testing.T) {
		_, err := svc.ResolveConflict(ctx, "manager-1", &ResolveConflictRequest{
			RecordID:   12345,
			Resolution: "split_the_difference",
		})
		require.Error(t, err)
	})
}

func TestSnapshot(t *testing.T) {
	svc, pool := newTestService(t, &ServiceConfig{AppName: "snapshot-test"})
	ctx := context.Background()

	t.Run("ZeroCursorReturnsEverything", func(t *testing.T) {
		snap, err := svc.BuildSnapshot(ctx, "Main Store", time.Time{})
		require.NoError(t, err)
		require.Len(t, snap.Items, 1)
		require.Equal(t, "SKU-1", snap.Items[0].ItemCode)
		require.Equal(t, 5.50, snap.Items[0].Price)
		require.Equal(t, 100.0, snap.Items[0].StockQty)
		require.Contains(t, snap.Items[0].Barcodes, "111222333")
		require.Len(t, snap.Customers, 1)
		require.Len(t, snap.PaymentMethods, 1)
		require.Equal(t, "Cash - AR", snap.PaymentMethods[0].Account)
		require.Len(t, snap.TaxRules, 1)
		require.Equal(t, 10.0, snap.TaxRules[0].Rate)
		require.False(t, snap.Cursor.IsZero())
	})

	t.Run("CursorIsMonotonic", func(t *testing.T) {
		first, err := svc.BuildSnapshot(ctx, "Main Store", time.Time{})
		require.NoError(t, err)

		again, err := svc.BuildSnapshot(ctx, "Main Store", first.Cursor)
		require.NoError(t, err)
		require.Empty(t, again.Items)
		require.Empty(t, again.Customers)
		require.Equal(t, first.Cursor, again.Cursor)
	})

	t.Run("ModifiedRowsReappear", func(t *testing.T) {
		base, err := svc.BuildSnapshot(ctx, "Main Store", time.Time{})
		require.NoError(t, err)

		_, err = pool.Exec(ctx,
			`UPDATE pos.items SET item_name = 'Widget v2', modified_at = now() WHERE item_code = 'SKU-1'`)
		require.NoError(t, err)

		delta, err := svc.BuildSnapshot(ctx, "Main Store", base.Cursor)
		require.NoError(t, err)
		require.Len(t, delta.Items, 1)
		require.Equal(t, "Widget v2", delta.Items[0].ItemName)
		require.True(t, delta.Cursor.After(base.Cursor))
	})

	t.Run("DisabledItemsEmittedNotOmitted", func(t *testing.T) {
		base, err := svc.BuildSnapshot(ctx, "Main Store", time.Time{})
		require.NoError(t, err)

		_, err = pool.Exec(ctx,
			`UPDATE pos.items SET disabled = TRUE, modified_at = now() WHERE item_code = 'SKU-1'`)
		require.NoError(t, err)

		delta, err := svc.BuildSnapshot(ctx, "Main Store", base.Cursor)
		require.NoError(t, err)
		require.Len(t, delta.Items, 1)
		require.True(t, delta.Items[0].Disabled)
	})

	t.Run("UnknownProfileRejected", func(t *testing.T) {
		_, err := svc.BuildSnapshot(ctx, "No Such Store", time.Time{})
		require.ErrorIs(t, err, ErrMissingReference)
	})
}

func TestSnapshotPagination(t *testing.T) {
	svc, pool := newTestService(t, &ServiceConfig{AppName: "page-test", SnapshotLimit: 1})
	ctx := context.Background()

	// Two more items with strictly later modification times, plus a customer
	// change newer than all of them.
	_, err := pool.Exec(ctx, `
		INSERT INTO pos.items (item_code, item_name, item_group, modified_at) VALUES
			('SKU-2', 'Widget 2', 'All Products', now() + interval '1 second'),
			('SKU-3', 'Widget 3', 'All Products', now() + interval '2 seconds')`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx,
		`UPDATE pos.customers SET modified_at = now() + interval '1 hour' WHERE name = 'Walk-In'`)
	require.NoError(t, err)

	t.Run("TruncationHoldsCursorBack", func(t *testing.T) {
		first, err := svc.BuildSnapshot(ctx, "Main Store", time.Time{})
		require.NoError(t, err)
		require.True(t, first.HasMore)
		require.Len(t, first.Items, 1)
		require.Len(t, first.Customers, 1)
		// The customer's newer timestamp must not drag the cursor past the
		// unsent items.
		require.True(t, first.Cursor.Before(first.Customers[0].ModifiedAt))
	})

	t.Run("RepeatedPullsDeliverEverything", func(t *testing.T) {
		seen := map[string]bool{}
		cursor := time.Time{}
		for i := 0; i < 10; i++ {
			snap, err := svc.BuildSnapshot(ctx, "Main Store", cursor)
			require.NoError(t, err)
			for _, it := range snap.Items {
				seen[it.ItemCode] = true
			}
			require.False(t, snap.Cursor.Before(cursor))
			cursor = snap.Cursor
			if !snap.HasMore {
				break
			}
		}
		require.Len(t, seen, 3)
	})
}

func TestSessionsAndTotals(t *testing.T) {
	svc, pool := newTestService(t, &ServiceConfig{AppName: "session-test"})
	svc.AddObserver(NewSessionTotalsObserver(pool, nil))
	ctx := context.Background()

	sess, err := svc.OpenSession(ctx, "cashier-1", &OpenSessionRequest{
		Profile:     "Main Store",
		DeviceID:    "till-7",
		OpeningCash: 50,
	})
	require.NoError(t, err)

	t.Run("DuplicateOpenRejected", func(t *testing.T) {
		_, err := svc.OpenSession(ctx, "cashier-1", &OpenSessionRequest{Profile: "Main Store"})
		require.ErrorIs(t, err, ErrEntityConflict)
	})

	t.Run("SubmittedInvoiceUpdatesTotals", func(t *testing.T) {
		doc := invoiceDoc("inv-sess-1")
		doc.SessionRef = sess.ID.String()
		resp, err := svc.ProcessSyncBatch(ctx, "cashier-1", "till-7", &SyncBatchRequest{
			Invoices: []OfflineDocument{doc},
		})
		require.NoError(t, err)
		require.Len(t, resp.Success, 1)

		got, err := svc.GetSession(ctx, sess.ID)
		require.NoError(t, err)
		require.Equal(t, 12.10, got.TotalSales)
		require.Equal(t, 1, got.TotalInvoices)
		require.Equal(t, 2.0, got.TotalItems)
	})

	t.Run("RedeliveryDoesNotDoubleCount", func(t *testing.T) {
		doc := invoiceDoc("inv-sess-1")
		doc.SessionRef = sess.ID.String()
		_, err := svc.ProcessSyncBatch(ctx, "cashier-1", "till-7", &SyncBatchRequest{
			Invoices: []OfflineDocument{doc},
		})
		require.NoError(t, err)

		got, err := svc.GetSession(ctx, sess.ID)
		require.NoError(t, err)
		require.Equal(t, 12.10, got.TotalSales)
		require.Equal(t, 1, got.TotalInvoices)
	})

	t.Run("VoidDropsFromTotals", func(t *testing.T) {
		rec, err := svc.GetRecordByOfflineID(ctx, "inv-sess-1")
		require.NoError(t, err)
		require.NotNil(t, rec.ResolvedDocID)
		invoiceID, err := uuid.Parse(*rec.ResolvedDocID)
		require.NoError(t, err)

		_, err = svc.VoidInvoice(ctx, invoiceID)
		require.NoError(t, err)

		got, err := svc.GetSession(ctx, sess.ID)
		require.NoError(t, err)
		require.Equal(t, 0.0, got.TotalSales)
		require.Equal(t, 0, got.TotalInvoices)
	})

	t.Run("CloseReportsTotals", func(t *testing.T) {
		closed, err := svc.CloseSession(ctx, "cashier-1", &CloseSessionRequest{
			SessionID:  sess.ID.String(),
			ActualCash: 50,
		})
		require.NoError(t, err)
		require.Equal(t, "closed", closed.Status)
		require.NotNil(t, closed.ClosedAt)

		_, err = svc.CloseSession(ctx, "cashier-1", &CloseSessionRequest{
			SessionID:  sess.ID.String(),
			ActualCash: 50,
		})
		require.ErrorIs(t, err, ErrRecordNotFound)
	})
}

func TestStatusAndRetention(t *testing.T) {
	svc, pool := newTestService(t, &ServiceConfig{AppName: "status-test"})
	ctx := context.Background()

	_, err := svc.ProcessSyncBatch(ctx, "cashier-1", "till-7", &SyncBatchRequest{
		Invoices: []OfflineDocument{invoiceDoc("inv-status-1")},
	})
	require.NoError(t, err)

	bad := invoiceDoc("inv-status-2")
	bad.Payload = []byte(`{
		"pos_profile": "Main Store",
		"items": [{"item_code": "NOPE", "qty": 1, "rate": 1, "amount": 1}],
		"payments": [{"mode_of_payment": "Cash", "amount": 1.1}]
	}`)
	_, err = svc.ProcessSyncBatch(ctx, "cashier-1", "till-7", &SyncBatchRequest{
		Invoices: []OfflineDocument{bad},
	})
	require.NoError(t, err)

	t.Run("CountsByState", func(t *testing.T) {
		status, err := svc.SyncStatus(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(1), status.Synced)
		require.Equal(t, int64(1), status.Failed)
		require.NotNil(t, status.LastSync)
		require.False(t, status.IsSyncing)
	})

	t.Run("HistoryNewestFirst", func(t *testing.T) {
		records, err := svc.ListHistory(ctx, "", 10)
		require.NoError(t, err)
		require.Len(t, records, 2)
		require.Equal(t, "inv-status-2", records[0].OfflineID)

		failed, err := svc.ListHistory(ctx, StatusFailed, 10)
		require.NoError(t, err)
		require.Len(t, failed, 1)
	})

	t.Run("RetentionRemovesOnlyOldSynced", func(t *testing.T) {
		_, err := pool.Exec(ctx, `
			UPDATE possync.sync_records
			SET synced_at = now() - interval '60 days'
			WHERE offline_id = 'inv-status-1'`)
		require.NoError(t, err)

		removed, err := svc.RunRetentionSweep(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(1), removed)

		_, err = svc.GetRecordByOfflineID(ctx, "inv-status-1")
		require.ErrorIs(t, err, ErrRecordNotFound)

		// The failed record is untouched regardless of age.
		_, err = svc.GetRecordByOfflineID(ctx, "inv-status-2")
		require.NoError(t, err)
	})
}

func TestOperatorOverridesResolution(t *testing.T) {
	svc, pool := newTestService(t, &ServiceConfig{AppName: "override-test"})
	ctx := context.Background()

	// A second cost center plus operator settings pointing at it.
	_, err := pool.Exec(ctx,
		`INSERT INTO pos.cost_centers (name, company, is_group) VALUES ('Kiosk - AR', 'Acme Retail', FALSE)`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `
		INSERT INTO pos.operator_settings (operator, enabled, cost_center, income_account)
		VALUES ('cashier-9', TRUE, 'Kiosk - AR', 'VAT - AR')`)
	require.NoError(t, err)

	t.Run("OperatorSettingsDominate", func(t *testing.T) {
		resp, err := svc.ProcessSyncBatch(ctx, "cashier-9", "till-9", &SyncBatchRequest{
			Invoices: []OfflineDocument{invoiceDoc(fmt.Sprintf("inv-ovr-%s", uuid.NewString()[:8]))},
		})
		require.NoError(t, err)
		require.Len(t, resp.Success, 1)

		var costCenter, incomeAccount string
		err = pool.QueryRow(ctx, `
			SELECT i.cost_center, li.income_account
			FROM pos.sales_invoices i
			JOIN pos.sales_invoice_items li ON li.invoice_id = i.id
			WHERE i.id = $1::uuid`, resp.Success[0].ServerID).Scan(&costCenter, &incomeAccount)
		require.NoError(t, err)
		require.Equal(t, "Kiosk - AR", costCenter)
		require.Equal(t, "VAT - AR", incomeAccount)
	})

	t.Run("DisabledSettingsIgnored", func(t *testing.T) {
		_, err := pool.Exec(ctx,
			`UPDATE pos.operator_settings SET enabled = FALSE WHERE operator = 'cashier-9'`)
		require.NoError(t, err)

		resp, err := svc.ProcessSyncBatch(ctx, "cashier-9", "till-9", &SyncBatchRequest{
			Invoices: []OfflineDocument{invoiceDoc(fmt.Sprintf("inv-ovr-%s", uuid.NewString()[:8]))},
		})
		require.NoError(t, err)
		require.Len(t, resp.Success, 1)

		var costCenter string
		err = pool.QueryRow(ctx,
			`SELECT cost_center FROM pos.sales_invoices WHERE id = $1::uuid`,
			resp.Success[0].ServerID).Scan(&costCenter)
		require.NoError(t, err)
		require.Equal(t, "Main - AR", costCenter)
	})
}
