package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"homeassist/internal/config"
	"homeassist/internal/utils"
	"homeassist/internal/web/middleware"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type app struct {
	configDir string
	cfg       *config.Config
	logger    *zap.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "engine",
		Short:         "Home automation engine: scheduled and state-driven automations with a conversational builder",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(a.configDir)
			if err != nil {
				return err
			}
			logger, err := utils.NewLogger(cfg.App.LogLevel)
			if err != nil {
				return err
			}
			a.cfg, a.logger = cfg, logger
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configDir, "config-dir", ".", "directory containing config.yaml")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the scheduler, device bridge, task workers and HTTP API",
			RunE: func(cmd *cobra.Command, _ []string) error {
				ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				return serve(ctx, a.cfg, a.logger)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply database migrations and exit",
			RunE: func(cmd *cobra.Command, _ []string) error {
				_, closeRepo, err := openRepository(cmd.Context(), a.cfg, a.logger)
				if err != nil {
					return err
				}
				a.logger.Info("migrations applied", zap.String("driver", a.cfg.Store.Driver))
				return closeRepo()
			},
		},
		newTokenCmd(a),
	)
	return root
}

func newTokenCmd(a *app) *cobra.Command {
	var subject string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token signed with JWT_SECRET",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.JWT.Secret == "" {
				return fmt.Errorf("JWT_SECRET is not set; the API runs without authentication")
			}
			token, err := middleware.IssueToken([]byte(a.cfg.JWT.Secret), subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "homeassist-client", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime")
	return cmd
}
