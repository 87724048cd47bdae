// Copyright 2026 Ahmad
// SPDX-License-Identifier: MIT

package possync

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ClientAuthenticator extracts both operator and device identity from HTTP
// requests. Implementations should validate auth (e.g., JWT) and provide both
// identifiers.
type ClientAuthenticator interface {
	GetUserID(r *http.Request) (string, error)
	GetDeviceID(r *http.Request) (string, error)
}

// HTTPSyncHandlers provides HTTP handlers for the POS sync API
type HTTPSyncHandlers struct {
	service       *SyncService
	authenticator ClientAuthenticator
	logger        *slog.Logger
}

// NewHTTPSyncHandlers creates a new instance of sync handlers
func NewHTTPSyncHandlers(service *SyncService, authenticator ClientAuthenticator, logger *slog.Logger) *HTTPSyncHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPSyncHandlers{
		service:       service,
		authenticator: authenticator,
		logger:        logger,
	}
}

// RegisterRoutes attaches all sync endpoints to the mux.
func (h *HTTPSyncHandlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/sync/batch", h.HandleSyncBatch)
	mux.HandleFunc("/sync/snapshot", h.HandleSnapshot)
	mux.HandleFunc("/sync/conflicts", h.HandleListConflicts)
	mux.HandleFunc("/sync/conflicts/resolve", h.HandleResolveConflict)
	mux.HandleFunc("/sync/status", h.HandleSyncStatus)
	mux.HandleFunc("/sync/history", h.HandleHistory)
	mux.HandleFunc("/sessions/open", h.HandleOpenSession)
	mux.HandleFunc("/sessions/close", h.HandleCloseSession)
	mux.HandleFunc("/invoices/void", h.HandleVoidInvoice)
	mux.HandleFunc("/health", h.HandleHealth)
}

// authorize authenticates the request and checks one capability.
func (h *HTTPSyncHandlers) authorize(w http.ResponseWriter, r *http.Request, capability string) (user, device string, ok bool) {
	user, err := h.authenticator.GetUserID(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return "", "", false
	}
	device, err = h.authenticator.GetDeviceID(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return "", "", false
	}
	if !h.service.Allowed(r.Context(), user, capability) {
		h.writeError(w, http.StatusForbidden, "permission_denied", "Missing capability "+capability)
		return "", "", false
	}
	return user, device, true
}

// HandleSyncBatch processes a batch of offline documents
func (h *HTTPSyncHandlers) HandleSyncBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST method is allowed")
		return
	}
	user, device, ok := h.authorize(w, r, CapSyncSubmit)
	if !ok {
		return
	}

	var req SyncBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse sync batch")
		return
	}

	response, err := h.service.ProcessSyncBatch(r.Context(), user, device, &req)
	if err != nil {
		if errors.Is(err, ErrBadPayload) {
			h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		h.logger.Error("Failed to process sync batch", "error", err, "user", user, "device", device)
		h.writeError(w, http.StatusInternalServerError, "sync_failed", "Failed to process sync batch")
		return
	}

	h.writeJSON(w, response)
}

// HandleSnapshot returns the master-data delta for a profile
func (h *HTTPSyncHandlers) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET method is allowed")
		return
	}
	user, _, ok := h.authorize(w, r, CapSnapshotRead)
	if !ok {
		return
	}

	profile := r.URL.Query().Get("profile")
	if profile == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "profile is required")
		return
	}

	var cursor time.Time
	if cs := r.URL.Query().Get("cursor"); cs != "" {
		parsed, err := time.Parse(time.RFC3339Nano, cs)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "cursor must be RFC3339")
			return
		}
		cursor = parsed
	}

	response, err := h.service.BuildSnapshot(r.Context(), profile, cursor)
	if err != nil {
		if errors.Is(err, ErrMissingReference) {
			h.writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		h.logger.Error("Failed to build snapshot", "error", err, "user", user, "profile", profile)
		h.writeError(w, http.StatusInternalServerError, "snapshot_failed", "Failed to build snapshot")
		return
	}

	h.writeJSON(w, response)
}

// HandleListConflicts lists records awaiting resolution
func (h *HTTPSyncHandlers) HandleListConflicts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET method is allowed")
		return
	}
	_, _, ok := h.authorize(w, r, CapSyncRead)
	if !ok {
		return
	}

	records, err := h.service.ListConflicts(r.Context())
	if err != nil {
		h.logger.Error("Failed to list conflicts", "error", err)
		h.writeError(w, http.StatusInternalServerError, "list_conflicts_failed", "Failed to list conflicts")
		return
	}
	if records == nil {
		records = []*SyncRecord{}
	}
	h.writeJSON(w, records)
}

// HandleResolveConflict applies an operator's resolution to a conflict
func (h *HTTPSyncHandlers) HandleResolveConflict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST method is allowed")
		return
	}
	user, _, ok := h.authorize(w, r, CapSyncResolve)
	if !ok {
		return
	}

	var req ResolveConflictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse resolution request")
		return
	}

	response, err := h.service.ResolveConflict(r.Context(), user, &req)
	if err != nil {
		switch {
		case errors.Is(err, ErrRecordNotFound):
			h.writeError(w, http.StatusNotFound, "not_found", err.Error())
		case errors.Is(err, ErrBadPayload):
			h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		default:
			h.logger.Error("Failed to resolve conflict", "error", err, "record", req.RecordID, "by", user)
			h.writeError(w, http.StatusInternalServerError, "resolve_failed", "Failed to resolve conflict")
		}
		return
	}

	h.writeJSON(w, response)
}

// HandleSyncStatus reports ledger counts by state
func (h *HTTPSyncHandlers) HandleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET method is allowed")
		return
	}
	_, _, ok := h.authorize(w, r, CapSyncRead)
	if !ok {
		return
	}

	response, err := h.service.SyncStatus(r.Context())
	if err != nil {
		h.logger.Error("Failed to read sync status", "error", err)
		h.writeError(w, http.StatusInternalServerError, "status_failed", "Failed to read sync status")
		return
	}
	h.writeJSON(w, response)
}

// HandleHistory lists recently received sync records
func (h *HTTPSyncHandlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET method is allowed")
		return
	}
	_, _, ok := h.authorize(w, r, CapSyncRead)
	if !ok {
		return
	}

	limit := 100
	if ls := r.URL.Query().Get("limit"); ls != "" {
		if v, e := strconv.Atoi(ls); e == nil && v > 0 {
			limit = v
		}
	}
	status := r.URL.Query().Get("status")

	records, err := h.service.ListHistory(r.Context(), status, limit)
	if err != nil {
		if errors.Is(err, ErrBadPayload) {
			h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		h.logger.Error("Failed to list history", "error", err)
		h.writeError(w, http.StatusInternalServerError, "history_failed", "Failed to list history")
		return
	}
	if records == nil {
		records = []*SyncRecord{}
	}
	h.writeJSON(w, records)
}

// HandleOpenSession opens a cash session for the authenticated operator
func (h *HTTPSyncHandlers) HandleOpenSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST method is allowed")
		return
	}
	user, device, ok := h.authorize(w, r, CapSyncSubmit)
	if !ok {
		return
	}

	var req OpenSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse session request")
		return
	}
	if req.DeviceID == "" {
		req.DeviceID = device
	}

	sess, err := h.service.OpenSession(r.Context(), user, &req)
	if err != nil {
		switch {
		case errors.Is(err, ErrBadPayload), errors.Is(err, ErrMissingReference):
			h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		case errors.Is(err, ErrEntityConflict):
			h.writeError(w, http.StatusConflict, "session_exists", err.Error())
		default:
			h.logger.Error("Failed to open session", "error", err, "operator", user)
			h.writeError(w, http.StatusInternalServerError, "session_failed", "Failed to open session")
		}
		return
	}
	h.writeJSON(w, sess)
}

// HandleCloseSession closes an open session
func (h *HTTPSyncHandlers) HandleCloseSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST method is allowed")
		return
	}
	user, _, ok := h.authorize(w, r, CapSyncSubmit)
	if !ok {
		return
	}

	var req CloseSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse session request")
		return
	}

	sess, err := h.service.CloseSession(r.Context(), user, &req)
	if err != nil {
		switch {
		case errors.Is(err, ErrBadPayload):
			h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		case errors.Is(err, ErrRecordNotFound):
			h.writeError(w, http.StatusNotFound, "not_found", err.Error())
		default:
			h.logger.Error("Failed to close session", "error", err, "operator", user)
			h.writeError(w, http.StatusInternalServerError, "session_failed", "Failed to close session")
		}
		return
	}
	h.writeJSON(w, sess)
}

// HandleVoidInvoice voids a submitted invoice
func (h *HTTPSyncHandlers) HandleVoidInvoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST method is allowed")
		return
	}
	user, _, ok := h.authorize(w, r, CapSyncResolve)
	if !ok {
		return
	}

	var body struct {
		InvoiceID string `json:"invoice_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.InvoiceID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "invoice_id is required")
		return
	}
	invoiceID, err := uuid.Parse(body.InvoiceID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "invoice_id is not a valid id")
		return
	}

	inv, err := h.service.VoidInvoice(r.Context(), invoiceID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		h.logger.Error("Failed to void invoice", "error", err, "invoice", invoiceID, "by", user)
		h.writeError(w, http.StatusInternalServerError, "void_failed", "Failed to void invoice")
		return
	}
	h.writeJSON(w, inv)
}

// HandleHealth reports service liveness including database reachability
func (h *HTTPSyncHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Pool().Ping(r.Context()); err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "unhealthy", "Database unreachable")
		return
	}
	h.writeJSON(w, map[string]string{"status": "ok"})
}

func (h *HTTPSyncHandlers) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func (h *HTTPSyncHandlers) writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: errorCode, Message: message}); err != nil {
		h.logger.Error("Failed to encode error response", "error", err)
	}
}
