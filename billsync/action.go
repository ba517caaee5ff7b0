// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package billsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ActionType names one of the four bill mutations.
type ActionType string

// ParseActionType maps a wire type (including legacy aliases) onto the closed set.
func ParseActionType(s string) (ActionType, bool) {
	switch s {
	case string(ActionCreate), legacyAddBill:
		return ActionCreate, true
	case string(ActionUpdate), legacyUpdateBill:
		return ActionUpdate, true
	case string(ActionUpdateStatus), legacyUpdateBillStatus:
		return ActionUpdateStatus, true
	case string(ActionDelete), legacyDeleteBill:
		return ActionDelete, true
	default:
		return "", false
	}
}

// Action is a queued bill mutation. The set of implementations is closed:
// CreateBill, UpdateBill, UpdateBillStatus and DeleteBill.
type Action interface {
	ActionID() string
	Type() ActionType
	CorrelationKey() string
	// Accept dispatches the action to the matching visitor method.
	Accept(ctx context.Context, v ActionVisitor) error

	sealed()
}

// ActionVisitor handles every action kind. Adding a kind adds a method here,
// which breaks every dispatcher until it handles the new kind.
type ActionVisitor interface {
	VisitCreate(ctx context.Context, a *CreateBill) error
	VisitUpdate(ctx context.Context, a *UpdateBill) error
	VisitUpdateStatus(ctx context.Context, a *UpdateBillStatus) error
	VisitDelete(ctx context.Context, a *DeleteBill) error
}

// BillFields are the mutable business fields of a bill.
type BillFields struct {
	Description string
	Amount      decimal.Decimal
	DueDate     string // YYYY-MM-DD
	Category    string
}

// CreateBill creates (or replaces) the bill identified by Key.
type CreateBill struct {
	ID     string
	Key    string
	Fields BillFields
	IsPaid bool
}

// UpdateBill overwrites the business fields of an existing bill.
type UpdateBill struct {
	ID     string
	Key    string
	Fields BillFields
}

// UpdateBillStatus flips the paid flag of an existing bill.
type UpdateBillStatus struct {
	ID     string
	Key    string
	IsPaid bool
}

// DeleteBill removes a bill.
type DeleteBill struct {
	ID  string
	Key string
}

func (a *CreateBill) ActionID() string       { return a.ID }
func (a *CreateBill) Type() ActionType       { return ActionCreate }
func (a *CreateBill) CorrelationKey() string { return a.Key }
func (a *CreateBill) Accept(ctx context.Context, v ActionVisitor) error {
	return v.VisitCreate(ctx, a)
}
func (*CreateBill) sealed() {}

func (a *UpdateBill) ActionID() string       { return a.ID }
func (a *UpdateBill) Type() ActionType       { return ActionUpdate }
func (a *UpdateBill) CorrelationKey() string { return a.Key }
func (a *UpdateBill) Accept(ctx context.Context, v ActionVisitor) error {
	return v.VisitUpdate(ctx, a)
}
func (*UpdateBill) sealed() {}

func (a *UpdateBillStatus) ActionID() string       { return a.ID }
func (a *UpdateBillStatus) Type() ActionType       { return ActionUpdateStatus }
func (a *UpdateBillStatus) CorrelationKey() string { return a.Key }
func (a *UpdateBillStatus) Accept(ctx context.Context, v ActionVisitor) error {
	return v.VisitUpdateStatus(ctx, a)
}
func (*UpdateBillStatus) sealed() {}

func (a *DeleteBill) ActionID() string       { return a.ID }
func (a *DeleteBill) Type() ActionType       { return ActionDelete }
func (a *DeleteBill) CorrelationKey() string { return a.Key }
func (a *DeleteBill) Accept(ctx context.Context, v ActionVisitor) error {
	return v.VisitDelete(ctx, a)
}
func (*DeleteBill) sealed() {}

// BillPayload is the wire form of an action payload. Pointer fields let the
// decoder tell a missing field from a zero value.
type BillPayload struct {
	ID          string           `json:"id"`
	Description *string          `json:"description,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	DueDate     *string          `json:"dueDate,omitempty"`
	Category    *string          `json:"category,omitempty"`
	IsPaid      *bool            `json:"isPaid,omitempty"`
}

// DecodeAction validates one envelope and turns it into a typed Action.
func DecodeAction(env ActionEnvelope) (Action, error) {
	if strings.TrimSpace(env.ID) == "" {
		return nil, &PayloadError{ActionID: env.ID, Field: "id", Msg: "action id is required"}
	}
	typ, ok := ParseActionType(env.Type)
	if !ok {
		return nil, &UnknownActionTypeError{ActionID: env.ID, Type: env.Type}
	}

	raw := bytes.TrimSpace(env.Payload)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, &PayloadError{ActionID: env.ID, Field: "payload", Msg: "payload is required"}
	}
	var p BillPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &PayloadError{ActionID: env.ID, Field: "payload", Msg: "malformed payload", Err: err}
	}
	if err := validateCorrelationKey(env.ID, p.ID); err != nil {
		return nil, err
	}

	switch typ {
	case ActionCreate:
		fields, err := p.billFields(env.ID)
		if err != nil {
			return nil, err
		}
		paid := p.IsPaid != nil && *p.IsPaid
		return &CreateBill{ID: env.ID, Key: p.ID, Fields: fields, IsPaid: paid}, nil
	case ActionUpdate:
		fields, err := p.billFields(env.ID)
		if err != nil {
			return nil, err
		}
		return &UpdateBill{ID: env.ID, Key: p.ID, Fields: fields}, nil
	case ActionUpdateStatus:
		if p.IsPaid == nil {
			return nil, &PayloadError{ActionID: env.ID, Field: "isPaid", Msg: "isPaid is required"}
		}
		return &UpdateBillStatus{ID: env.ID, Key: p.ID, IsPaid: *p.IsPaid}, nil
	case ActionDelete:
		return &DeleteBill{ID: env.ID, Key: p.ID}, nil
	}
	return nil, &UnknownActionTypeError{ActionID: env.ID, Type: env.Type}
}

// DecodeBatch decodes every envelope in submission order. The first invalid
// envelope fails the whole batch.
func DecodeBatch(envs []ActionEnvelope) ([]Action, error) {
	actions := make([]Action, 0, len(envs))
	seen := make(map[string]struct{}, len(envs))
	for _, env := range envs {
		if _, dup := seen[env.ID]; dup {
			return nil, &PayloadError{ActionID: env.ID, Field: "id", Msg: "duplicate action id in batch"}
		}
		a, err := DecodeAction(env)
		if err != nil {
			return nil, err
		}
		seen[env.ID] = struct{}{}
		actions = append(actions, a)
	}
	return actions, nil
}

// EncodeAction produces the wire envelope for a typed action.
func EncodeAction(a Action) (ActionEnvelope, error) {
	var enc payloadEncoder
	if err := a.Accept(context.Background(), &enc); err != nil {
		return ActionEnvelope{}, err
	}
	raw, err := json.Marshal(enc.payload)
	if err != nil {
		return ActionEnvelope{}, fmt.Errorf("failed to marshal payload for action %s: %w", a.ActionID(), err)
	}
	return ActionEnvelope{ID: a.ActionID(), Type: string(a.Type()), Payload: raw}, nil
}

type payloadEncoder struct {
	payload BillPayload
}

func fieldsPayload(key string, f BillFields) BillPayload {
	amount := f.Amount
	return BillPayload{
		ID:          key,
		Description: &f.Description,
		Amount:      &amount,
		DueDate:     &f.DueDate,
		Category:    &f.Category,
	}
}

func (e *payloadEncoder) VisitCreate(_ context.Context, a *CreateBill) error {
	e.payload = fieldsPayload(a.Key, a.Fields)
	paid := a.IsPaid
	e.payload.IsPaid = &paid
	return nil
}

func (e *payloadEncoder) VisitUpdate(_ context.Context, a *UpdateBill) error {
	e.payload = fieldsPayload(a.Key, a.Fields)
	return nil
}

func (e *payloadEncoder) VisitUpdateStatus(_ context.Context, a *UpdateBillStatus) error {
	paid := a.IsPaid
	e.payload = BillPayload{ID: a.Key, IsPaid: &paid}
	return nil
}

func (e *payloadEncoder) VisitDelete(_ context.Context, a *DeleteBill) error {
	e.payload = BillPayload{ID: a.Key}
	return nil
}

func validateCorrelationKey(actionID, key string) error {
	if strings.TrimSpace(key) == "" {
		return &PayloadError{ActionID: actionID, Field: "payload.id", Msg: "correlation key is required"}
	}
	if len(key) > MaxCorrelationKeyLen {
		return &PayloadError{ActionID: actionID, Field: "payload.id",
			Msg: fmt.Sprintf("correlation key longer than %d characters", MaxCorrelationKeyLen)}
	}
	return nil
}

var maxAmountExclusive = decimal.New(1, AmountIntegerDigits)

func (p *BillPayload) billFields(actionID string) (BillFields, error) {
	if p.Description == nil || strings.TrimSpace(*p.Description) == "" {
		return BillFields{}, &PayloadError{ActionID: actionID, Field: "description", Msg: "description is required"}
	}
	if p.Amount == nil {
		return BillFields{}, &PayloadError{ActionID: actionID, Field: "amount", Msg: "amount is required"}
	}
	if p.Amount.IsNegative() {
		return BillFields{}, &PayloadError{ActionID: actionID, Field: "amount", Msg: "amount must not be negative"}
	}
	if !p.Amount.Equal(p.Amount.Truncate(AmountScale)) {
		return BillFields{}, &PayloadError{ActionID: actionID, Field: "amount",
			Msg: fmt.Sprintf("amount must have at most %d decimal places", AmountScale)}
	}
	if p.Amount.Cmp(maxAmountExclusive) >= 0 {
		return BillFields{}, &PayloadError{ActionID: actionID, Field: "amount",
			Msg: fmt.Sprintf("amount must have at most %d integer digits", AmountIntegerDigits)}
	}
	if p.DueDate == nil {
		return BillFields{}, &PayloadError{ActionID: actionID, Field: "dueDate", Msg: "dueDate is required"}
	}
	due, err := time.Parse(dueDateLayout, *p.DueDate)
	if err != nil {
		return BillFields{}, &PayloadError{ActionID: actionID, Field: "dueDate", Msg: "dueDate must be YYYY-MM-DD", Err: err}
	}
	// Postgres has no year zero.
	if due.Year() < 1 {
		return BillFields{}, &PayloadError{ActionID: actionID, Field: "dueDate", Msg: "dueDate year must be between 0001 and 9999"}
	}
	f := BillFields{
		Description: *p.Description,
		Amount:      *p.Amount,
		DueDate:     *p.DueDate,
	}
	if p.Category != nil {
		f.Category = *p.Category
	}
	return f, nil
}
