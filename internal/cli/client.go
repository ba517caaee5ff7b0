// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/mobiletoly/go-billsync/billqueue"
	"github.com/mobiletoly/go-billsync/internal/config"
)

var errNoToken = errors.New("client.token is not set (issue one with `billsync token` and set CLIENT_TOKEN)")

// openClient opens the local queue and builds a sync client over it. The
// caller closes client.Queue.
func openClient(cfg *config.Config, logger *slog.Logger) (*billqueue.Client, error) {
	queue, err := billqueue.Open(cfg.Client.QueuePath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open queue", err)
	}
	token := cfg.Client.Token
	client, err := billqueue.NewClient(queue, cfg.Client.ServerURL, func(context.Context) (string, error) {
		if token == "" {
			return "", errNoToken
		}
		return token, nil
	}, cfg.Client.QueueConfig(), logger)
	if err != nil {
		_ = queue.Close()
		return nil, WrapExitError(ExitCommandError, "failed to create sync client", err)
	}
	return client, nil
}

// openQueue opens only the local queue, for commands that never reach the server.
func openQueue(cfg *config.Config) (*billqueue.Queue, error) {
	queue, err := billqueue.Open(cfg.Client.QueuePath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open queue", err)
	}
	return queue, nil
}

type entryView struct {
	Seq            int64      `json:"seq" yaml:"seq"`
	ID             string     `json:"id" yaml:"id"`
	Type           string     `json:"type" yaml:"type"`
	CorrelationKey string     `json:"key" yaml:"key"`
	Payload        string     `json:"payload" yaml:"payload"`
	Attempts       int        `json:"attempts" yaml:"attempts"`
	QueuedAt       time.Time  `json:"queued_at" yaml:"queued_at"`
	LastAttemptAt  *time.Time `json:"last_attempt_at,omitempty" yaml:"last_attempt_at,omitempty"`
}

func newEntryView(e billqueue.Entry) entryView {
	return entryView{
		Seq:            e.Seq,
		ID:             e.ID,
		Type:           string(e.Type),
		CorrelationKey: e.CorrelationKey,
		Payload:        string(e.Payload),
		Attempts:       e.Attempts,
		QueuedAt:       e.QueuedAt,
		LastAttemptAt:  e.LastAttemptAt,
	}
}

func printEntries(w io.Writer, entries []entryView) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "Queue is empty")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tID\tTYPE\tKEY\tATTEMPTS\tQUEUED")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n",
			e.Seq, e.ID, e.Type, e.CorrelationKey, e.Attempts, e.QueuedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

type syncView struct {
	Submitted int      `json:"submitted" yaml:"submitted"`
	Pruned    int64    `json:"pruned" yaml:"pruned"`
	Requests  int      `json:"requests" yaml:"requests"`
	Unmatched []string `json:"unmatched,omitempty" yaml:"unmatched,omitempty"`
	Pending   int      `json:"pending" yaml:"pending"`
	Error     string   `json:"error,omitempty" yaml:"error,omitempty"`
}

func newSyncView(res billqueue.SyncResult, pending int, err error) syncView {
	v := syncView{
		Submitted: res.Submitted,
		Pruned:    res.Pruned,
		Requests:  res.Requests,
		Unmatched: res.Unmatched,
		Pending:   pending,
	}
	if err != nil {
		v.Error = err.Error()
	}
	return v
}

func (v syncView) print(w io.Writer) error {
	if v.Error != "" {
		_, err := fmt.Fprintf(w, "Sync failed: %s (%d changes saved locally)\n", v.Error, v.Pending)
		return err
	}
	if _, err := fmt.Fprintf(w, "Synced %d actions in %d requests, %d pending\n", v.Pruned, v.Requests, v.Pending); err != nil {
		return err
	}
	if len(v.Unmatched) > 0 {
		_, err := fmt.Fprintf(w, "Matched no bill: %v\n", v.Unmatched)
		return err
	}
	return nil
}
