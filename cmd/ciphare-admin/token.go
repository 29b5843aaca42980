package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/abduss/ciphare/internal/admin"
	"github.com/abduss/ciphare/internal/config"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
)

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "operator identity recorded in the token (required)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (defaults to CIPHARE_ADMIN_TOKEN_TTL)")
	_ = tokenCmd.MarkFlagRequired("subject")
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an operator token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if !cfg.Admin.Enabled() {
			return admin.ErrSecretMissing
		}

		token, expiresAt, err := admin.NewService(cfg.Admin).IssueToken(tokenSubject, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.UTC().Format(time.RFC3339))
		return nil
	},
}
