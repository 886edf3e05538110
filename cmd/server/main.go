package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Tyrowin/roomchat/internal/logging"
	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type options struct {
	configPath string
	host       string
	port       int
	password   string
	hash       string
	origins    []string
	maxLength  int
	authWait   time.Duration
	refresh    bool
	logLevel   string
	logFormat  string
}

func newRootCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roomchat",
		Short: "Password-gated single-room WebSocket chat relay",
		Long: `roomchat serves one chat room over WebSocket at /ws.

Clients authenticate with a username and the shared room password, then
exchange chat lines. Supported commands: /users, /msg <user> <message>, /quit.

The user list is broadcast when someone joins or leaves. Pass
--refresh-users-after-command to also broadcast it after every command.

Settings are read from defaults, then --config (YAML), then ROOMCHAT_*
environment variables, then flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to a YAML configuration file")
	flags.StringVar(&opts.host, "host", "", "listen host")
	flags.IntVarP(&opts.port, "port", "p", 0, "listen port")
	flags.StringVar(&opts.password, "password", "", "shared room password")
	flags.StringVar(&opts.hash, "password-hash", "", "bcrypt hash of the room password")
	flags.StringSliceVar(&opts.origins, "allowed-origins", nil, "browser origins allowed to connect (* for any)")
	flags.IntVar(&opts.maxLength, "max-message-length", 0, "maximum chat text length in characters")
	flags.DurationVar(&opts.authWait, "auth-timeout", 0, "time allowed for the auth message")
	flags.BoolVar(&opts.refresh, "refresh-users-after-command", false,
		"broadcast the user list to everyone after every command; off by default, so the list is only sent on join and leave")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", "", "log format (json, console)")

	cmd.AddCommand(newHashPasswordCmd())
	return cmd
}

func newHashPasswordCmd() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for use as password_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := server.HashPassword(args[0], cost)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
	cmd.Flags().IntVar(&cost, "cost", 0, "bcrypt cost (0 for default)")
	return cmd
}

// loadConfig layers defaults, the config file, the environment, and any
// flags the user set explicitly.
func loadConfig(cmd *cobra.Command, opts *options) (server.Config, error) {
	cfg := server.NewConfig()
	if opts.configPath != "" {
		if err := cfg.LoadFile(opts.configPath); err != nil {
			return server.Config{}, err
		}
	}
	cfg.ApplyEnv()

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Host = opts.host
	}
	if flags.Changed("port") {
		cfg.Port = opts.port
	}
	if flags.Changed("password") {
		cfg.Password = opts.password
	}
	if flags.Changed("password-hash") {
		cfg.PasswordHash = opts.hash
	}
	if flags.Changed("allowed-origins") {
		cfg.AllowedOrigins = opts.origins
	}
	if flags.Changed("max-message-length") {
		cfg.MaxMessageLength = opts.maxLength
	}
	if flags.Changed("auth-timeout") {
		cfg.AuthTimeout = opts.authWait
	}
	if flags.Changed("refresh-users-after-command") {
		cfg.RefreshUsersAfterCommand = opts.refresh
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = opts.logFormat
	}

	return cfg.Sanitize(), nil
}

func serve(ctx context.Context, cfg server.Config) error {
	logger, err := logging.New(cfg.LogLevel, logging.Format(cfg.LogFormat))
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	chat, err := server.New(cfg, logger)
	if err != nil {
		return err
	}

	httpServer := server.CreateServer(cfg.Addr(), chat.Routes())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.StartServer(httpServer, logger); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on %s: %w", cfg.Addr(), err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		httpErr := server.ShutdownServer(httpServer, cfg.ShutdownTimeout, logger)
		hubErr := chat.Shutdown(shutdownCtx)
		return errors.Join(httpErr, hubErr)
	})

	return g.Wait()
}

func main() {
	if err := newRootCmd(&options{}).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
