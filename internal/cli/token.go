// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/mobiletoly/go-billsync/billsync"
)

// TokenOptions holds flags for the token command.
type TokenOptions struct {
	*RootOptions
	User   string
	Device string
	TTL    time.Duration
}

type tokenView struct {
	Token     string    `json:"token" yaml:"token"`
	User      string    `json:"user" yaml:"user"`
	Device    string    `json:"device" yaml:"device"`
	ExpiresAt time.Time `json:"expires_at" yaml:"expires_at"`
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:     "token",
		Short:   "Issue a JWT for a user, signed with auth.jwt_secret",
		Example: "  export CLIENT_TOKEN=$(billsync token --user alice)",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidateAuth(); err != nil {
				return WrapExitError(ExitCommandError, "invalid auth config", err)
			}
			ttl := opts.TTL
			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL
			}

			tok, err := billsync.NewJWTAuth(cfg.Auth.JWTSecret).GenerateToken(opts.User, opts.Device, ttl)
			if err != nil {
				return fmt.Errorf("failed to sign token: %w", err)
			}
			view := tokenView{Token: tok, User: opts.User, Device: opts.Device, ExpiresAt: time.Now().Add(ttl).UTC().Truncate(time.Second)}
			return opts.formatter(cmd).Print(view, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, tok)
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&opts.User, "user", "u", "", "user id (token subject)")
	cmd.Flags().StringVar(&opts.Device, "device", "cli", "device/session id")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", 0, "token lifetime (default auth.token_ttl)")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
