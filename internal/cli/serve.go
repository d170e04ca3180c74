package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tally/internal/config"
	"github.com/roach88/tally/internal/counter"
	"github.com/roach88/tally/internal/dispatch"
	"github.com/roach88/tally/internal/eventlog"
	"github.com/roach88/tally/internal/leaderboard"
	"github.com/roach88/tally/internal/session"
	"github.com/roach88/tally/internal/transport"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	ConfigFile string
	EnvFile    string
	Addr       string
	LogPath    string
	Backend    string
	Interval   time.Duration

	// Listener overrides the listening socket (for testing).
	// If nil, the configured addr is used.
	Listener net.Listener

	// IDs overrides the connection id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDs transport.IDGenerator
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return newServeCommand(&ServeOptions{RootOptions: rootOpts})
}

func newServeCommand(opts *ServeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the WebSocket server",
		Long: `Start the tally server.

The event log is replayed into the counter store before the server accepts
connections. A missing log is a fresh install. A corrupt log stops startup.

Settings come from defaults, then --config, then --env-file, then TALLY_*
environment variables, then flags.

Exit codes:
  0 - Stopped by SIGINT or SIGTERM
  1 - Server error
  2 - Bad configuration, or the event log cannot be opened or replayed

Examples:
  tally serve
  tally serve --config ./tally.yaml
  tally serve --addr :9000 --log ./events.db --backend sqlite`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigFile, "config", "c", "", "path to YAML config file")
	cmd.Flags().StringVar(&opts.EnvFile, "env-file", "", "path to .env file")
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&opts.LogPath, "log", "", "event log path (overrides config)")
	cmd.Flags().StringVar(&opts.Backend, "backend", "", "event log backend, file or sqlite (overrides config)")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "leaderboard broadcast interval (overrides config)")

	return cmd
}

// loadServeConfig layers flag overrides on top of the loaded config.
func loadServeConfig(opts *ServeOptions, cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigFile, opts.EnvFile)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Addr = opts.Addr
	}
	if flags.Changed("log") {
		cfg.Log.Path = opts.LogPath
	}
	if flags.Changed("backend") {
		cfg.Log.Backend = opts.Backend
	}
	if flags.Changed("interval") {
		cfg.Leaderboard.Interval = opts.Interval
	}
	if opts.Verbose {
		cfg.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := loadServeConfig(opts, cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	logger.Info("opening event log", "backend", cfg.Log.Backend, "path", cfg.Log.Path)
	l, err := eventlog.Open(cfg.Backend(), cfg.Log.Path,
		eventlog.WithSync(cfg.Log.Sync),
		eventlog.WithLogger(logger),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open event log", err)
	}
	defer func() {
		if closeErr := l.Close(); closeErr != nil {
			logger.Error("error closing event log", "error", closeErr)
		}
	}()

	store := counter.New(cfg.CountedKinds()...)
	stats, err := counter.Rebuild(ctx, l, store)
	if err != nil {
		return rebuildError(err)
	}
	logger.Info("counter store rebuilt",
		"records", stats.Records,
		"users", stats.Users,
		"counted", stats.Counted,
		"skipped", stats.Skipped,
	)

	disp := dispatch.New(l, store, session.NewRegistry(),
		dispatch.WithLogger(logger),
		dispatch.WithRetries(cfg.Append.Retries, cfg.Append.RetryDelay),
	)
	hub := transport.NewHub(transport.DefaultSendBuffer, logger)
	board := leaderboard.NewBroadcaster(store, hub, cfg.Leaderboard.Interval, logger)

	serverOpts := []transport.Option{
		transport.WithAllowedOrigins(cfg.AllowedOrigins...),
		transport.WithLogger(logger),
		transport.WithPusher(board),
	}
	if opts.IDs != nil {
		serverOpts = append(serverOpts, transport.WithIDGenerator(opts.IDs))
	}
	srv := transport.NewServer(disp, store, hub, serverOpts...)

	ln := opts.Listener
	if ln == nil {
		ln, err = net.Listen("tcp", cfg.Addr)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to listen", err)
		}
	}
	httpSrv := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	boardDone := make(chan struct{})
	go func() {
		defer close(boardDone)
		_ = board.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpSrv.Serve(ln)
	}()

	logger.Info("server started", "addr", ln.Addr().String(), "interval", board.Interval())
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s\n", ln.Addr())

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = WrapExitError(ExitFailure, "server error", err)
		}
		cancel()
	}

	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer stop()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}
	// Hijacked WebSocket connections are not tracked by http.Server.
	hub.CloseAll()
	if err := srv.Wait(shutdownCtx); err != nil {
		logger.Warn("connections still open at shutdown", "error", err)
	}
	<-boardDone

	logger.Info("server stopped gracefully")
	return runErr
}
