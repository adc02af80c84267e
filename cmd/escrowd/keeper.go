package main

import (
	"context"
	"fmt"
	"time"

	keeperapi "github.com/kevin07696/escrow-scheduler/internal/api/grpc/keeper"
	"github.com/kevin07696/escrow-scheduler/internal/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

func newKeeperCmd() *cobra.Command {
	var (
		addr    string
		limit   int
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "keeper",
		Short: "Trigger one due-payment sweep on a running server over gRPC",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			sm, err := newSecretManager(ctx, cfg, logger)
			if err != nil {
				return err
			}
			secret, err := loadSecret(ctx, sm, cfg.Auth.CronSecretPath)
			if err != nil {
				return err
			}
			if secret == "" {
				return fmt.Errorf("CRON_SECRET_PATH must name the keeper secret")
			}

			conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return fmt.Errorf("dial %s: %w", addr, err)
			}
			defer conn.Close()

			req, err := structpb.NewStruct(map[string]interface{}{"limit": limit})
			if err != nil {
				return err
			}
			ctx = metadata.AppendToOutgoingContext(ctx, middleware.KeeperSecretMetadata, secret)
			resp, err := keeperapi.NewClient(conn).ProcessDue(ctx, req)
			if err != nil {
				return fmt.Errorf("process due: %w", err)
			}

			out, err := protojson.MarshalOptions{Multiline: true}.Marshal(resp)
			if err != nil {
				return err
			}
			logger.Info("Sweep finished",
				zap.Float64("requested", resp.GetFields()["requested"].GetNumberValue()),
			)
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "localhost:50051", "keeper gRPC address")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum subscriptions to pay, 0 for the server maximum")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "sweep deadline")
	return cmd
}
