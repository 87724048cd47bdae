// Copyright 2026 Ahmad
// SPDX-License-Identifier: MIT

package possync

// Outcome constructors for batch processing. Each submitted document lands in
// exactly one of the three response lists; these helpers keep the shapes
// consistent between the orchestrator and the retry sweep.

func successOutcome(docType, offlineID, serverID string) SyncSuccess {
	return SyncSuccess{
		Type:      docType,
		OfflineID: offlineID,
		ServerID:  serverID,
	}
}

func duplicateOutcome(docType, offlineID, serverID string) SyncSuccess {
	return SyncSuccess{
		Type:      docType,
		OfflineID: offlineID,
		ServerID:  serverID,
		Duplicate: true,
	}
}

func failureOutcome(docType, offlineID string, cause error, willRetry bool) SyncFailure {
	return SyncFailure{
		Type:         docType,
		OfflineID:    offlineID,
		Error:        cause.Error(),
		FailureClass: classifyFailure(cause),
		WillRetry:    willRetry,
	}
}

func conflictOutcome(docType, offlineID string, recordID int64, message string) SyncConflict {
	return SyncConflict{
		Type:      docType,
		OfflineID: offlineID,
		RecordID:  recordID,
		Message:   message,
	}
}
