package billsync

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func envelope(id, typ, payload string) ActionEnvelope {
	return ActionEnvelope{ID: id, Type: typ, Payload: json.RawMessage(payload)}
}

func TestDecodeAction_Kinds(t *testing.T) {
	a, err := DecodeAction(envelope("a1", "Create",
		`{"id":"k1","description":"Rent","amount":1200.5,"dueDate":"2025-03-01","category":"home","isPaid":true}`))
	require.NoError(t, err)
	create, ok := a.(*CreateBill)
	require.True(t, ok)
	require.Equal(t, "k1", create.CorrelationKey())
	require.True(t, create.Fields.Amount.Equal(decimal.RequireFromString("1200.5")))
	require.True(t, create.IsPaid)
	require.Equal(t, "home", create.Fields.Category)

	a, err = DecodeAction(envelope("a2", "Update",
		`{"id":"k1","description":"Rent","amount":"1250","dueDate":"2025-03-01"}`))
	require.NoError(t, err)
	update := a.(*UpdateBill)
	require.Equal(t, "", update.Fields.Category)
	require.Equal(t, "1250", update.Fields.Amount.String())

	a, err = DecodeAction(envelope("a3", "UpdateStatus", `{"id":"k1","isPaid":false}`))
	require.NoError(t, err)
	require.Equal(t, ActionUpdateStatus, a.Type())
	require.False(t, a.(*UpdateBillStatus).IsPaid)

	a, err = DecodeAction(envelope("a4", "Delete", `{"id":"k1"}`))
	require.NoError(t, err)
	require.Equal(t, &DeleteBill{ID: "a4", Key: "k1"}, a)
}

func TestDecodeAction_LegacyAliases(t *testing.T) {
	cases := map[string]ActionType{
		"ADD_BILL":           ActionCreate,
		"UPDATE_BILL":        ActionUpdate,
		"UPDATE_BILL_STATUS": ActionUpdateStatus,
		"DELETE_BILL":        ActionDelete,
	}
	for wire, want := range cases {
		got, ok := ParseActionType(wire)
		require.True(t, ok, wire)
		require.Equal(t, want, got)
	}
}

func TestDecodeAction_UnknownTypeIsRejected(t *testing.T) {
	_, err := DecodeAction(envelope("a9", "ARCHIVE_BILL", `{"id":"k1"}`))
	var unknown *UnknownActionTypeError
	require.True(t, errors.As(err, &unknown))
	require.Equal(t, "a9", unknown.ActionID)
	require.Equal(t, "ARCHIVE_BILL", unknown.Type)

	// Type names are case sensitive.
	_, err = DecodeAction(envelope("a10", "create", `{"id":"k1"}`))
	require.True(t, errors.As(err, &unknown))
}

func TestDecodeAction_AmountAndDateBounds(t *testing.T) {
	for _, payload := range []string{
		`{"id":"k","description":"x","amount":"999999999999.99","dueDate":"9999-12-31"}`,
		`{"id":"k","description":"x","amount":"10.500","dueDate":"0001-01-01"}`,
		`{"id":"k","description":"x","amount":0,"dueDate":"2025-01-01"}`,
	} {
		_, err := DecodeAction(envelope("a1", "Create", payload))
		require.NoError(t, err, payload)
	}
}

func TestDecodeAction_InvalidPayloads(t *testing.T) {
	cases := []struct {
		name  string
		env   ActionEnvelope
		field string
	}{
		{"missing action id", envelope("", "Delete", `{"id":"k1"}`), "id"},
		{"missing payload", envelope("a1", "Delete", ``), "payload"},
		{"null payload", envelope("a1", "Delete", `null`), "payload"},
		{"malformed payload", envelope("a1", "Delete", `{"id":`), "payload"},
		{"missing correlation key", envelope("a1", "Delete", `{}`), "payload.id"},
		{"missing description", envelope("a1", "Create", `{"id":"k","amount":1,"dueDate":"2025-01-01"}`), "description"},
		{"missing amount", envelope("a1", "Create", `{"id":"k","description":"x","dueDate":"2025-01-01"}`), "amount"},
		{"negative amount", envelope("a1", "Update", `{"id":"k","description":"x","amount":-3,"dueDate":"2025-01-01"}`), "amount"},
		{"bad due date", envelope("a1", "Create", `{"id":"k","description":"x","amount":1,"dueDate":"01/02/2025"}`), "dueDate"},
		{"amount with three decimals", envelope("a1", "Create", `{"id":"k","description":"x","amount":10.555,"dueDate":"2025-01-01"}`), "amount"},
		{"amount too large", envelope("a1", "Create", `{"id":"k","description":"x","amount":1000000000000,"dueDate":"2025-01-01"}`), "amount"},
		{"five digit year", envelope("a1", "Create", `{"id":"k","description":"x","amount":1,"dueDate":"10000-01-01"}`), "dueDate"},
		{"year zero", envelope("a1", "Update", `{"id":"k","description":"x","amount":1,"dueDate":"0000-06-01"}`), "dueDate"},
		{"status without flag", envelope("a1", "UpdateStatus", `{"id":"k"}`), "isPaid"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeAction(tc.env)
			var perr *PayloadError
			require.True(t, errors.As(err, &perr), "got %v", err)
			require.Equal(t, tc.field, perr.Field)
		})
	}
}

func TestDecodeBatch_PreservesOrderAndRejectsDuplicates(t *testing.T) {
	actions, err := DecodeBatch([]ActionEnvelope{
		envelope("a1", "Create", `{"id":"k1","description":"Gas","amount":30,"dueDate":"2025-01-10"}`),
		envelope("a2", "UpdateStatus", `{"id":"k1","isPaid":true}`),
		envelope("a3", "Delete", `{"id":"k1"}`),
	})
	require.NoError(t, err)
	require.Len(t, actions, 3)
	require.Equal(t, []string{"a1", "a2", "a3"},
		[]string{actions[0].ActionID(), actions[1].ActionID(), actions[2].ActionID()})

	_, err = DecodeBatch([]ActionEnvelope{
		envelope("a1", "Delete", `{"id":"k1"}`),
		envelope("a1", "Delete", `{"id":"k2"}`),
	})
	var perr *PayloadError
	require.True(t, errors.As(err, &perr))
	require.Contains(t, perr.Msg, "duplicate")
}

func TestEncodeAction_DecodesBack(t *testing.T) {
	in := &CreateBill{
		ID:  "a1",
		Key: "k1",
		Fields: BillFields{
			Description: "Internet",
			Amount:      decimal.RequireFromString("59.9"),
			DueDate:     "2025-04-15",
			Category:    "utilities",
		},
	}
	env, err := EncodeAction(in)
	require.NoError(t, err)
	require.Equal(t, "Create", env.Type)

	out, err := DecodeAction(env)
	require.NoError(t, err)
	got := out.(*CreateBill)
	require.Equal(t, in.Key, got.Key)
	require.Equal(t, in.Fields.Description, got.Fields.Description)
	require.True(t, in.Fields.Amount.Equal(got.Fields.Amount))
	require.False(t, got.IsPaid)
}
