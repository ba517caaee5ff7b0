// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package billsync

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mobiletoly/go-billsync/internal/auth"
)

// PrincipalResolver is the authentication collaborator: it maps a request to
// its owning principal or fails.
type PrincipalResolver interface {
	ResolvePrincipal(r *http.Request) (Principal, error)
}

// HTTPSyncHandlers provides HTTP handlers for the submission and read API
type HTTPSyncHandlers struct {
	service  *SyncService
	resolver PrincipalResolver
	logger   *slog.Logger
}

// NewHTTPSyncHandlers creates a new instance of sync handlers
func NewHTTPSyncHandlers(service *SyncService, resolver PrincipalResolver, logger *slog.Logger) *HTTPSyncHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPSyncHandlers{
		service:  service,
		resolver: resolver,
		logger:   logger,
	}
}

// HandleSubmit accepts a queue snapshot and answers with the acknowledged ids
func (h *HTTPSyncHandlers) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeFailure(w, http.StatusMethodNotAllowed, ReasonMethodNotAllowed, "Only POST method is allowed")
		return
	}

	// Authentication happens before the body is read.
	principal, err := h.principal(r)
	if err != nil {
		h.writeFailure(w, http.StatusUnauthorized, ReasonUnauthenticated, "authentication required")
		return
	}

	if limit := h.service.Limits().MaxBodyBytes; limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeFailure(w, http.StatusRequestEntityTooLarge, ReasonBatchTooLarge, "request body too large")
			return
		}
		h.writeFailure(w, http.StatusBadRequest, ReasonInvalidRequest, "failed to parse submit request")
		return
	}

	ctx := auth.WithPrincipal(r.Context(), principal)
	resp, err := h.service.ProcessSubmit(ctx, &req)
	if err != nil {
		c := classifySubmitError(err)
		if c.status >= http.StatusInternalServerError {
			h.logger.Error("Failed to process submit", "error", err, "user_id", principal.UserID)
		}
		h.writeFailure(w, c.status, c.reason, c.message)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// HandleListBills returns the caller's stored bills
func (h *HTTPSyncHandlers) HandleListBills(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeFailure(w, http.StatusMethodNotAllowed, ReasonMethodNotAllowed, "Only GET method is allowed")
		return
	}

	principal, err := h.principal(r)
	if err != nil {
		h.writeFailure(w, http.StatusUnauthorized, ReasonUnauthenticated, "authentication required")
		return
	}

	bills, err := h.service.ListBills(auth.WithPrincipal(r.Context(), principal))
	if err != nil {
		h.logger.Error("Failed to list bills", "error", err, "user_id", principal.UserID)
		h.writeFailure(w, http.StatusInternalServerError, ReasonInternal, "failed to list bills")
		return
	}
	h.writeJSON(w, http.StatusOK, ListBillsResponse{Bills: bills})
}

// principal prefers a principal already placed in the context by middleware.
func (h *HTTPSyncHandlers) principal(r *http.Request) (Principal, error) {
	if p, ok := auth.PrincipalFrom(r.Context()); ok {
		return p, nil
	}
	if h.resolver == nil {
		return Principal{}, ErrUnauthenticated
	}
	p, err := h.resolver.ResolvePrincipal(r)
	if err != nil {
		return Principal{}, err
	}
	if p.UserID == "" {
		return Principal{}, ErrUnauthenticated
	}
	return p, nil
}

type submitErrorClass struct {
	status  int
	reason  string
	message string
}

func classifySubmitError(err error) submitErrorClass {
	var (
		unknown  *UnknownActionTypeError
		payload  *PayloadError
		tooLarge *BatchTooLargeError
		apply    *ApplyError
	)
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return submitErrorClass{http.StatusUnauthorized, ReasonUnauthenticated, "authentication required"}
	case errors.Is(err, ErrServiceClosed):
		return submitErrorClass{http.StatusServiceUnavailable, ReasonUnavailable, "sync service unavailable"}
	case errors.As(err, &unknown):
		return submitErrorClass{http.StatusBadRequest, ReasonUnknownActionType, unknown.Error()}
	case errors.As(err, &payload):
		return submitErrorClass{http.StatusBadRequest, ReasonInvalidAction, payload.Error()}
	case errors.As(err, &tooLarge):
		return submitErrorClass{http.StatusRequestEntityTooLarge, ReasonBatchTooLarge, tooLarge.Error()}
	case errors.As(err, &apply):
		msg := "failed to apply action " + apply.ActionID
		switch {
		case errors.Is(err, ErrConflict):
			msg += ": conflicting bill"
		case errors.Is(err, ErrConstraint):
			msg += ": constraint violation"
		}
		return submitErrorClass{http.StatusInternalServerError, ReasonApplyFailed, msg}
	default:
		return submitErrorClass{http.StatusInternalServerError, ReasonApplyFailed, "failed to apply batch"}
	}
}

func (h *HTTPSyncHandlers) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

// writeFailure writes the failure shape of SubmitResponse
func (h *HTTPSyncHandlers) writeFailure(w http.ResponseWriter, status int, reason, message string) {
	h.writeJSON(w, status, FailureResponse(reason, message))
}
