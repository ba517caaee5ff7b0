// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package billsync

import "time"

// Action type constants (wire names)
const (
	ActionCreate       ActionType = "Create"
	ActionUpdate       ActionType = "Update"
	ActionUpdateStatus ActionType = "UpdateStatus"
	ActionDelete       ActionType = "Delete"
)

// Legacy wire names still emitted by older web clients
const (
	legacyAddBill          = "ADD_BILL"
	legacyUpdateBill       = "UPDATE_BILL"
	legacyUpdateBillStatus = "UPDATE_BILL_STATUS"
	legacyDeleteBill       = "DELETE_BILL"
)

// Failure reason constants reported in SubmitResponse.Reason
const (
	ReasonUnauthenticated   = "unauthenticated"
	ReasonInvalidRequest    = "invalid_request"
	ReasonUnknownActionType = "unknown_action_type"
	ReasonInvalidAction     = "invalid_action"
	ReasonBatchTooLarge     = "batch_too_large"
	ReasonApplyFailed       = "apply_failed"
	ReasonUnavailable       = "unavailable"
	ReasonMethodNotAllowed  = "method_not_allowed"
	ReasonInternal          = "internal_error"
)

const (
	DefaultMaxBatchSize   = 500
	DefaultMaxBodyBytes   = 4 << 20
	DefaultLockTimeout    = 3 * time.Second
	DefaultTxMaxAttempts  = 3
	DefaultTxRetryBackoff = 50 * time.Millisecond

	// MaxCorrelationKeyLen bounds the client-generated correlation key.
	MaxCorrelationKeyLen = 128

	// AmountScale is the number of fractional digits an amount may carry.
	AmountScale = 2
	// AmountIntegerDigits bounds the integer part of an amount.
	AmountIntegerDigits = 12

	dueDateLayout = "2006-01-02"
	billsTable    = "bills"
)
