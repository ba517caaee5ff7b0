// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/mobiletoly/go-billsync/billqueue"
	"github.com/mobiletoly/go-billsync/billsync"
)

// BillOptions holds the bill field flags shared by queue add and queue update.
type BillOptions struct {
	*RootOptions
	Key         string
	Description string
	Amount      string
	DueDate     string
	Category    string
	Paid        bool
}

func (o *BillOptions) fields() (billsync.BillFields, error) {
	amount, err := decimal.NewFromString(o.Amount)
	if err != nil {
		return billsync.BillFields{}, WrapExitError(ExitCommandError, fmt.Sprintf("invalid --amount %q", o.Amount), err)
	}
	return billsync.BillFields{
		Description: o.Description,
		Amount:      amount,
		DueDate:     o.DueDate,
		Category:    o.Category,
	}, nil
}

func (o *BillOptions) bindFields(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Description, "description", "", "bill description")
	cmd.Flags().StringVar(&o.Amount, "amount", "", "amount, e.g. 42.50")
	cmd.Flags().StringVar(&o.DueDate, "due", "", "due date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&o.Category, "category", "", "category")
	_ = cmd.MarkFlagRequired("description")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("due")
}

// NewQueueCommand creates the queue command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Record bill changes in the local queue",
		Long: `Record bill changes in the local queue.

Changes are saved locally and sent to the server by "billsync sync" or
"billsync watch". Every change targets a bill by its key, which is assigned
when the bill is added and never changes.`,
	}

	cmd.AddCommand(newQueueAddCommand(rootOpts))
	cmd.AddCommand(newQueueUpdateCommand(rootOpts))
	cmd.AddCommand(newQueueStatusCommand(rootOpts))
	cmd.AddCommand(newQueueDeleteCommand(rootOpts))
	cmd.AddCommand(newQueueListCommand(rootOpts))

	return cmd
}

func newQueueAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BillOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:     "add",
		Short:   "Queue a new bill",
		Example: "  billsync queue add --description Rent --amount 1200 --due 2025-03-01 --category home",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := opts.fields()
			if err != nil {
				return err
			}
			key := opts.Key
			if key == "" {
				key = billqueue.NewCorrelationKey()
			}
			return enqueue(cmd, rootOpts, billqueue.NewCreateBill(key, fields.Description, fields.Amount, fields.DueDate, fields.Category, opts.Paid))
		},
	}

	opts.bindFields(cmd)
	cmd.Flags().StringVar(&opts.Key, "key", "", "bill key (generated when empty)")
	cmd.Flags().BoolVar(&opts.Paid, "paid", false, "mark the bill as already paid")

	return cmd
}

func newQueueUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BillOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "update <key>",
		Short: "Queue new field values for a bill",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := opts.fields()
			if err != nil {
				return err
			}
			return enqueue(cmd, rootOpts, billqueue.NewUpdateBill(args[0], fields.Description, fields.Amount, fields.DueDate, fields.Category))
		},
	}

	opts.bindFields(cmd)

	return cmd
}

func newQueueStatusCommand(rootOpts *RootOptions) *cobra.Command {
	var paid bool

	cmd := &cobra.Command{
		Use:     "status <key>",
		Short:   "Queue a paid/unpaid change for a bill",
		Example: "  billsync queue status 3f2a... --paid=false",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return enqueue(cmd, rootOpts, billqueue.NewUpdateBillStatus(args[0], paid))
		},
	}

	cmd.Flags().BoolVar(&paid, "paid", true, "paid state to set")

	return cmd
}

func newQueueDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Queue the removal of a bill",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return enqueue(cmd, rootOpts, billqueue.NewDeleteBill(args[0]))
		},
	}
}

func newQueueListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending actions in queue order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			queue, err := openQueue(cfg)
			if err != nil {
				return err
			}
			defer queue.Close()

			entries, err := queue.Snapshot(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to read queue: %w", err)
			}
			views := make([]entryView, len(entries))
			for i, e := range entries {
				views[i] = newEntryView(e)
			}
			return rootOpts.formatter(cmd).Print(views, func(w io.Writer) error {
				return printEntries(w, views)
			})
		},
	}
}

func enqueue(cmd *cobra.Command, rootOpts *RootOptions, action billsync.Action) error {
	cfg, err := rootOpts.loadConfig()
	if err != nil {
		return err
	}
	queue, err := openQueue(cfg)
	if err != nil {
		return err
	}
	defer queue.Close()

	entry, err := queue.Enqueue(cmd.Context(), action)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to queue action", err)
	}
	view := newEntryView(entry)
	return rootOpts.formatter(cmd).Print(view, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "Queued %s %s for bill %s (saved locally)\n", view.Type, view.ID, view.CorrelationKey)
		return err
	})
}
