// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mobiletoly/go-billsync/billqueue"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Interval      time.Duration
	ProbeInterval time.Duration
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the local queue in sync in the background",
		Long: `Keep the local queue in sync in the background.

Syncs once on start, every --interval, and whenever the server becomes
reachable again after an outage. Stops on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts)
		},
	}

	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "periodic sync interval (default client.sync_interval)")
	cmd.Flags().DurationVar(&opts.ProbeInterval, "probe-interval", 15*time.Second, "how often to check that the server is reachable")

	return cmd
}

func runWatch(cmd *cobra.Command, opts *WatchOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger := opts.logger(cmd, cfg)
	client, err := openClient(cfg, logger)
	if err != nil {
		return err
	}
	defer client.Queue.Close()

	interval := opts.Interval
	if interval <= 0 {
		interval = cfg.Client.SyncInterval
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := opts.formatter(cmd)
	trigger := billqueue.NewTrigger(client, interval, func(res billqueue.SyncResult, err error) {
		if errors.Is(err, billqueue.ErrSyncInProgress) {
			return
		}
		pending, _ := client.Queue.Pending(ctx)
		view := newSyncView(res, pending, err)
		_ = out.Print(view, view.print)
	})
	trigger.RequestSync()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return trigger.Run(gctx)
	})
	g.Go(func() error {
		return probeConnectivity(gctx, client, trigger, opts.ProbeInterval, logger)
	})

	logger.Info("Watching queue", "interval", interval, "server", client.BaseURL)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// probeConnectivity pings the server and notifies the trigger when it comes
// back after being unreachable.
func probeConnectivity(ctx context.Context, client *billqueue.Client, trigger *billqueue.Trigger, every time.Duration, logger *slog.Logger) error {
	if every <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	online := true
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		err := client.Ping(ctx)
		switch {
		case err != nil && online:
			online = false
			logger.Warn("Server unreachable; changes are saved locally", "error", err)
		case err == nil && !online:
			online = true
			trigger.NotifyOnline()
		}
	}
}
