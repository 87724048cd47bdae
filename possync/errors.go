// Copyright 2026 Ahmad
// SPDX-License-Identifier: MIT

package possync

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinel errors for classifying materialization outcomes.
var (
	// ErrBadPayload marks a payload that failed schema validation.
	ErrBadPayload = errors.New("bad_payload")

	// ErrMissingReference marks a payload referencing master data the server
	// does not know (company, item, payment method, profile).
	ErrMissingReference = errors.New("missing_reference")

	// ErrEntityConflict marks an ambiguous match against an existing
	// real-world entity; it routes the record to Conflict and is never
	// resolved automatically.
	ErrEntityConflict = errors.New("entity_conflict")

	// ErrRecordNotFound is returned by lookups for absent sync records.
	ErrRecordNotFound = errors.New("sync record not found")
)

// classifyFailure buckets a materialization error into a failure class.
// Both classes retry identically up to the ceiling; the class is stored so a
// future policy (or an operator) can tell "infrastructure hiccup" from
// "payload needs fixing".
func classifyFailure(err error) string {
	if errors.Is(err, ErrBadPayload) || errors.Is(err, ErrMissingReference) {
		return FailureSemantic
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return FailureTransient
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.SQLState() {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"55P03", // lock_not_available (incl. lock_timeout)
			"57P01", // admin_shutdown
			"08000", "08003", "08006": // connection failures
			return FailureTransient
		}
		return FailureSemantic
	}
	// Unknown errors are assumed transient so the sweep keeps trying them
	// until the ceiling surfaces them to an operator.
	return FailureTransient
}

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation, the backstop against races on offline_id.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.SQLState() == "23505"
}
