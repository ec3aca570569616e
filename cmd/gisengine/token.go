package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"gisengine/internal/auth"
)

func newTokenCommand(c *cli) *cobra.Command {
	var (
		subject string
		perms   []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API bearer token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := auth.NewService(c.cfg.Auth)
			if err != nil {
				return err
			}
			if !svc.Enabled() {
				return errors.New("auth.mode must be jwt to mint tokens")
			}
			if len(perms) == 0 {
				perms = auth.AllPermissions()
			}
			token, expires, err := svc.Issue(subject, perms, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expires.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject")
	cmd.Flags().StringSliceVar(&perms, "perm", nil, "granted permission, repeatable (default: all)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "lifetime (default: auth.token_ttl)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
