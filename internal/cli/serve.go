// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mobiletoly/go-billsync/internal/config"
	"github.com/mobiletoly/go-billsync/internal/server"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Port      int
	DevSignin bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync server",
		Long: `Run the sync server.

Applies the embedded migrations, then serves POST /sync/queue, GET /bills,
GET /health and GET /metrics until SIGINT or SIGTERM. Batch limits in the
sync section are reloaded when the config file changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Port, "port", "p", 0, "listen port (overrides server.port)")
	cmd.Flags().BoolVar(&opts.DevSignin, "dev-signin", false, "enable POST /dummy-signin (development only)")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.Port > 0 {
		cfg.Server.Port = opts.Port
	}
	if opts.DevSignin {
		cfg.Server.DevSignin = true
	}
	if err := cfg.ValidateServer(); err != nil {
		return WrapExitError(ExitCommandError, "invalid server config", err)
	}
	logger := opts.logger(cmd, cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := server.SetupServer(ctx, &server.ServerConfig{
		Database:  cfg.Database,
		JWTSecret: cfg.Auth.JWTSecret,
		TokenTTL:  cfg.Auth.TokenTTL,
		Sync:      cfg.Sync.ServiceConfig(),
		DevSignin: cfg.Server.DevSignin,
		LogBodies: opts.Verbose,
		Logger:    logger,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start server", err)
	}
	defer components.Close()

	path, _ := config.ResolvePath(opts.ConfigPath)
	if _, err := os.Stat(path); err == nil {
		watcher := config.NewWatcher(path, cfg, logger)
		watcher.OnChange(func(c *config.Config) {
			components.SyncService.UpdateLimits(c.Sync.Limits())
		})
		stopWatch, err := watcher.Watch()
		if err != nil {
			logger.Warn("Config hot reload disabled", "path", path, "error", err)
		} else {
			defer stopWatch()
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		logger.Warn("Config hot reload disabled", "path", path, "error", err)
	}

	return components.ListenAndServe(ctx, cfg.Server)
}
