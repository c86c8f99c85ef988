package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/supportline/internal/client/api"
	"github.com/vovakirdan/supportline/internal/client/connection"
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

type globalFlags struct {
	configPath string
	serverURL  string
	credential string
	logLevel   string
}

// env is everything a subcommand needs once configuration is resolved.
type env struct {
	cfg    config.ClientConfig
	api    *api.Client
	logger *zerolog.Logger
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:           "supportctl",
		Short:         "Terminal client for supportline support sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "path to client.yaml (default ./client.yaml)")
	pf.StringVar(&flags.serverURL, "server", "", "server base URL, e.g. http://localhost:8080")
	pf.StringVar(&flags.credential, "token", "", "credential (also SUPPORTLINE_CREDENTIAL)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level for diagnostics on stderr")

	cmd.AddCommand(
		newRegisterCmd(flags),
		newLoginCmd(flags),
		newRoomsCmd(flags),
		newOpenCmd(flags),
		newChatCmd(flags),
		newQueueCmd(flags),
		newDashboardCmd(flags),
	)
	return cmd
}

func loadEnv(flags *globalFlags) (*env, error) {
	bootstrap := log.NewWriter(os.Stderr, flags.logLevel)
	cfg, _, err := config.LoadClient(bootstrap, flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.serverURL != "" {
		cfg.ServerURL = flags.serverURL
	}
	if flags.credential != "" {
		cfg.Credential = flags.credential
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}

	client, err := api.New(cfg.ServerURL, nil)
	if err != nil {
		return nil, err
	}
	client.SetToken(cfg.Credential)

	return &env{
		cfg:    cfg,
		api:    client,
		logger: log.NewWriter(os.Stderr, cfg.LogLevel),
	}, nil
}

// wsEndpoint derives the websocket URL from the REST base URL.
func wsEndpoint(serverURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path += "/ws"
	return u.String(), nil
}

// connect resolves the caller's identity and opens the real-time channel.
func (e *env) connect(ctx context.Context) (*connection.Manager, proto.Sender, error) {
	if e.cfg.Credential == "" {
		return nil, proto.Sender{}, connection.ErrMissingCredential
	}
	me, err := e.api.Me(ctx)
	if err != nil {
		return nil, proto.Sender{}, err
	}
	endpoint, err := wsEndpoint(e.cfg.ServerURL)
	if err != nil {
		return nil, proto.Sender{}, err
	}

	mgr := connection.New(connection.Options{
		Endpoint:         endpoint,
		MaxAttempts:      e.cfg.MaxAttempts,
		BaseDelay:        e.cfg.BaseDelay,
		MaxDelay:         e.cfg.MaxDelay,
		HandshakeTimeout: e.cfg.HandshakeTimeout,
		Logger:           e.logger,
	})
	mgr.Watch(func(s connection.State) {
		e.logger.Info().Str("state", s.String()).Msg("connection state")
	})
	if err := mgr.Connect(ctx, e.cfg.Credential); err != nil {
		return nil, proto.Sender{}, err
	}
	return mgr, me, nil
}

// interactive runs fn with a context cancelled on SIGINT/SIGTERM.
func interactive(cmd *cobra.Command, fn func(ctx context.Context) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx)
}
