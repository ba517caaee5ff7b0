// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package billqueue

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mobiletoly/go-billsync/billsync"
)

// NewCorrelationKey returns a fresh key for a bill that does not exist yet.
// The key is stable for the bill's whole life, on the client and the server.
func NewCorrelationKey() string {
	return uuid.NewString()
}

func NewCreateBill(key, description string, amount decimal.Decimal, dueDate, category string, isPaid bool) *billsync.CreateBill {
	return &billsync.CreateBill{
		ID:  uuid.NewString(),
		Key: key,
		Fields: billsync.BillFields{
			Description: description,
			Amount:      amount,
			DueDate:     dueDate,
			Category:    category,
		},
		IsPaid: isPaid,
	}
}

func NewUpdateBill(key, description string, amount decimal.Decimal, dueDate, category string) *billsync.UpdateBill {
	return &billsync.UpdateBill{
		ID:  uuid.NewString(),
		Key: key,
		Fields: billsync.BillFields{
			Description: description,
			Amount:      amount,
			DueDate:     dueDate,
			Category:    category,
		},
	}
}

func NewUpdateBillStatus(key string, isPaid bool) *billsync.UpdateBillStatus {
	return &billsync.UpdateBillStatus{ID: uuid.NewString(), Key: key, IsPaid: isPaid}
}

func NewDeleteBill(key string) *billsync.DeleteBill {
	return &billsync.DeleteBill{ID: uuid.NewString(), Key: key}
}
