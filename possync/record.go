// Copyright 2026 Ahmad
// SPDX-License-Identifier: MIT

package possync

import (
	"encoding/json"
	"fmt"
	"time"
)

// SyncRecord is the durable unit of work: one attempted reconciliation of one
// offline-created document. It is created by the orchestrator, mutated only by
// the materializer (outcome), the retry scheduler and the conflict resolver
// (re-attempts), and deleted only by the retention sweep once terminally synced.
type SyncRecord struct {
	ID               int64           `json:"id"`
	OfflineID        string          `json:"offline_id"`
	DocumentType     string          `json:"document_type"`
	Payload          json.RawMessage `json:"payload"`
	DeviceID         string          `json:"device_id,omitempty"`
	SubmittedBy      string          `json:"submitted_by,omitempty"`
	SessionRef       string          `json:"session_ref,omitempty"`
	CreatedOfflineAt *time.Time      `json:"created_offline_at,omitempty"`
	ReceivedAt       time.Time       `json:"received_at"`
	Status           string          `json:"status"`
	FailureClass     string          `json:"failure_class,omitempty"`
	AttemptCount     int             `json:"attempt_count"`
	LastAttemptAt    *time.Time      `json:"last_attempt_at,omitempty"`
	Priority         int             `json:"priority"`
	ResolvedDocID    *string         `json:"resolved_document_id,omitempty"`
	SyncedAt         *time.Time      `json:"synced_at,omitempty"`
	ErrorMessage     *string         `json:"error_message,omitempty"`
}

// legalTransitions enumerates the allowed status transitions.
// Conflict leaves only through explicit resolution (resolver.go), which moves
// the record back through processing; it is never advanced automatically.
var legalTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusProcessing: true,
	},
	StatusProcessing: {
		StatusSynced:   true,
		StatusFailed:   true,
		StatusConflict: true,
	},
	StatusFailed: {
		StatusProcessing: true,
	},
	StatusConflict: {
		StatusProcessing: true, // resolver-driven re-attempt only
		StatusSynced:     true, // keep_server resolution
	},
}

// CanTransition reports whether moving a record from one status to another is legal.
func CanTransition(from, to string) bool {
	return legalTransitions[from][to]
}

// checkTransition returns an error describing an illegal transition.
func checkTransition(from, to string) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("illegal sync record transition %s -> %s", from, to)
	}
	return nil
}

// Retryable reports whether the record is still eligible for automatic
// re-attempts under the given ceiling. Synced records and conflicts are never
// retried automatically; a ceiling-exhausted failure needs manual attention.
func (r *SyncRecord) Retryable(ceiling int) bool {
	if r.Status != StatusPending && r.Status != StatusFailed {
		return false
	}
	return r.AttemptCount < ceiling
}

// Terminal reports whether automatic processing is finished with this record.
func (r *SyncRecord) Terminal(ceiling int) bool {
	switch r.Status {
	case StatusSynced:
		return true
	case StatusFailed:
		return r.AttemptCount >= ceiling
	default:
		return false
	}
}
