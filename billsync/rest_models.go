// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package billsync

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// REST/JSON models for the submission and read endpoints

// SubmitRequest is the client's full queue snapshot, in queue order
type SubmitRequest struct {
	Actions []ActionEnvelope `json:"actions"`
}

// ActionEnvelope is one queued action as it travels on the wire
type ActionEnvelope struct {
	ID      string          `json:"id"`      // Client-generated action id, the acknowledgement key
	Type    string          `json:"type"`    // Create, Update, UpdateStatus, Delete
	Payload json.RawMessage `json:"payload"` // BillPayload
}

// SubmitResponse acknowledges a batch. On success ProcessedIDs holds every
// submitted id; on failure it is absent and Message explains why.
type SubmitResponse struct {
	Success      bool     `json:"success"`
	ProcessedIDs []string `json:"processed_ids,omitempty"`
	UnmatchedIDs []string `json:"unmatched_ids,omitempty"` // Update/UpdateStatus ids that matched no bill
	Message      string   `json:"message,omitempty"`
	Reason       string   `json:"reason,omitempty"`
}

// MarshalJSON always emits processed_ids on success (even when empty) and
// never on failure.
func (r SubmitResponse) MarshalJSON() ([]byte, error) {
	if r.Success {
		ids := r.ProcessedIDs
		if ids == nil {
			ids = []string{}
		}
		return json.Marshal(struct {
			Success      bool     `json:"success"`
			ProcessedIDs []string `json:"processed_ids"`
			UnmatchedIDs []string `json:"unmatched_ids,omitempty"`
		}{true, ids, r.UnmatchedIDs})
	}
	return json.Marshal(struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		Reason  string `json:"reason,omitempty"`
	}{false, r.Message, r.Reason})
}

// FailureResponse builds the failure body for a reason code
func FailureResponse(reason, message string) *SubmitResponse {
	return &SubmitResponse{Success: false, Reason: reason, Message: message}
}

// Bill is a stored bill as returned by the read endpoint
type Bill struct {
	ServerID       int64           `json:"serverId"    db:"id"`
	CorrelationKey string          `json:"id"          db:"client_id"`
	Description    string          `json:"description" db:"description"`
	Amount         decimal.Decimal `json:"amount"      db:"amount"`
	DueDate        string          `json:"dueDate"     db:"due_date"`
	Category       string          `json:"category"    db:"category"`
	IsPaid         bool            `json:"isPaid"      db:"is_paid"`
	UpdatedAt      time.Time       `json:"updatedAt"   db:"updated_at"`
}

// ListBillsResponse is the body of GET /bills
type ListBillsResponse struct {
	Bills []Bill `json:"bills"`
}
