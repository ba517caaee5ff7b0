// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mobiletoly/go-billsync/billqueue"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Once bool
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Submit the local queue to the server",
		Long: `Submit the local queue to the server.

Transport failures are retried with capped exponential backoff (client.max_retries,
client.base_delay, client.max_delay) unless --once is given. Actions stay queued
until the server acknowledges them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Once, "once", false, "make a single attempt without retries")

	return cmd
}

func runSync(cmd *cobra.Command, opts *SyncOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	client, err := openClient(cfg, opts.logger(cmd, cfg))
	if err != nil {
		return err
	}
	defer client.Queue.Close()

	ctx := cmd.Context()
	var res billqueue.SyncResult
	var syncErr error
	if opts.Once {
		res, syncErr = client.SyncOnce(ctx)
	} else {
		res, syncErr = client.SyncWithRetry(ctx)
	}

	pending, err := client.Queue.Pending(ctx)
	if err != nil {
		return fmt.Errorf("failed to read queue: %w", err)
	}
	view := newSyncView(res, pending, syncErr)
	if err := opts.formatter(cmd).Print(view, view.print); err != nil {
		return err
	}
	if syncErr != nil {
		var authErr *billqueue.AuthenticationError
		if errors.As(syncErr, &authErr) {
			return WrapExitError(ExitCommandError, "authentication failed", syncErr)
		}
		return WrapExitError(ExitFailure, "sync did not complete", syncErr)
	}
	return nil
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show how many local changes are not yet synced",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			client, err := openClient(cfg, rootOpts.logger(cmd, cfg))
			if err != nil {
				return err
			}
			defer client.Queue.Close()

			st, err := client.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to read status: %w", err)
			}
			return rootOpts.formatter(cmd).Print(st, func(w io.Writer) error {
				if st.Synced() {
					_, err := fmt.Fprintln(w, "All changes synced")
					return err
				}
				_, err := fmt.Fprintf(w, "%d changes saved locally, not yet synced\n", st.Pending)
				return err
			})
		},
	}
}

// NewBillsCommand creates the bills command.
func NewBillsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "bills",
		Short: "List the bills stored on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			client, err := openClient(cfg, rootOpts.logger(cmd, cfg))
			if err != nil {
				return err
			}
			defer client.Queue.Close()

			bills, err := client.FetchBills(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "failed to fetch bills", err)
			}
			return rootOpts.formatter(cmd).Print(bills, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "KEY\tDESCRIPTION\tAMOUNT\tDUE\tCATEGORY\tPAID")
				for _, b := range bills {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\n",
						b.CorrelationKey, b.Description, b.Amount.StringFixed(2), b.DueDate, b.Category, b.IsPaid)
				}
				return tw.Flush()
			})
		},
	}
}
