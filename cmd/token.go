package main

import (
	"fmt"
	"time"

	"github.com/imyashkale/fleetd/internal/config"
	"github.com/imyashkale/fleetd/internal/registry"
	"github.com/spf13/cobra"
)

var tokenFlags struct {
	subject string
	ttl     time.Duration
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the control-plane API",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath(config.New().ConfigPath)
		snap, _, err := registry.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}

		ttl := tokenFlags.ttl
		if ttl <= 0 {
			ttl = snap.Settings.TokenTTL
		}
		token, err := snap.Auth.Issue(tokenFlags.subject, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVarP(&tokenFlags.subject, "subject", "s", "cli", "Token subject")
	tokenCmd.Flags().DurationVar(&tokenFlags.ttl, "ttl", 0, "Token lifetime (defaults to auth.token_ttl)")
}
