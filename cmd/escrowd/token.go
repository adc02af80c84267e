package main

import (
	"fmt"

	"github.com/kevin07696/escrow-scheduler/internal/domain"
	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	var caller string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a caller JWT signed with the configured secret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			ctx := cmd.Context()

			sm, err := newSecretManager(ctx, cfg, logger)
			if err != nil {
				return err
			}
			jwt, err := newJWTManager(ctx, cfg, sm)
			if err != nil {
				return err
			}
			if jwt == nil {
				return fmt.Errorf("AUTH_JWT_SECRET_PATH is not configured")
			}

			token, err := jwt.GenerateToken(domain.AccountID(caller))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&caller, "caller", "", "account id the token identifies")
	_ = cmd.MarkFlagRequired("caller")
	return cmd
}
