package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/supportline/internal/app"
	"github.com/vovakirdan/supportline/internal/config"
	"github.com/vovakirdan/supportline/internal/log"
	"github.com/vovakirdan/supportline/internal/proto"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath string
	overrides  config.Config
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "supportd",
		Short:         "supportline server: REST API and real-time support sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "path to config.yaml (default ./config.yaml)")
	pf.StringVar(&flags.overrides.LogLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	pf.StringVar(&flags.overrides.DatabasePath, "db", "", "sqlite database path")

	cmd.AddCommand(newServeCmd(flags), newUserCmd(flags))
	return cmd
}

// loadConfig resolves configuration and applies flag overrides on top.
func loadConfig(flags *rootFlags) (config.Config, error) {
	bootstrap := log.New(flags.overrides.LogLevel)
	cfg, path, err := config.Load(bootstrap, flags.configPath)
	if err != nil {
		return cfg, err
	}
	cfg.UpdateFrom(flags.overrides)
	bootstrap.Debug().Str("config", path).Msg("configuration loaded")
	return cfg, nil
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			logger := log.New(cfg.LogLevel)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(&cfg, logger)
			if err != nil {
				return err
			}

			logger.Info().Str("addr", cfg.Addr).Msg("starting supportline server")
			if err := application.Run(ctx); err != nil {
				return fmt.Errorf("server exited with error: %w", err)
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.overrides.Addr, "addr", "", "HTTP listen address")
	f.DurationVar(&flags.overrides.ReadHeaderTimeout, "read-header-timeout", 0, "HTTP read header timeout")
	f.DurationVar(&flags.overrides.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")
	f.DurationVar(&flags.overrides.MetricsInterval, "metrics-interval", 0, "admin metrics push interval")
	f.IntVar(&flags.overrides.RateLimit, "rate-limit", 0, "websocket commands per minute per connection")
	return cmd
}

func newUserCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}

	var (
		password string
		role     string
	)
	create := &cobra.Command{
		Use:   "create <username>",
		Short: "Create an account of any role, including admins",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			r := proto.Role(role)
			if !r.Valid() {
				return fmt.Errorf("unknown role %q", role)
			}

			application, err := app.New(&cfg, log.New(cfg.LogLevel))
			if err != nil {
				return err
			}
			defer application.Close()

			user, err := application.Auth().CreateUser(cmd.Context(), args[0], password, r)
			if err != nil {
				return fmt.Errorf("create user: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s %s (%s)\n", user.Role, user.Username, user.ID)
			return nil
		},
	}
	create.Flags().StringVar(&password, "password", "", "account password")
	create.Flags().StringVar(&role, "role", string(proto.RoleAdmin), "student, supporter or admin")
	_ = create.MarkFlagRequired("password")

	cmd.AddCommand(create)
	return cmd
}
