package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yungbote/shifu-backend/internal/app"
	"github.com/yungbote/shifu-backend/internal/platform/envutil"
	"github.com/yungbote/shifu-backend/internal/platform/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	envFiles []string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	serve := newServeCmd(opts)
	root := &cobra.Command{
		Use:           "shifu",
		Short:         "Lesson script runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	root.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", nil, "dotenv file(s) to load (default .env)")
	root.AddCommand(serve, newMigrateCmd(opts))
	return root
}

func setup(opts *rootOptions) (*logger.Logger, app.Config, error) {
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		return nil, app.Config{}, fmt.Errorf("init logger: %w", err)
	}
	if err := app.LoadEnvFiles(log, opts.envFiles...); err != nil {
		log.Sync()
		return nil, app.Config{}, fmt.Errorf("load env: %w", err)
	}
	log.Info("Loading environment variables...")
	return log, app.LoadConfig(log), nil
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, cfg, err := setup(opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, log, cfg)
			if err != nil {
				log.Error("startup failed", "error", err)
				log.Sync()
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))
			return a.Run(ctx)
		},
	}
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the schema and seed system profile keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, cfg, err := setup(opts)
			if err != nil {
				return err
			}
			defer log.Sync()
			return app.Migrate(log, cfg)
		},
	}
}
