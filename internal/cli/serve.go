package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/snapguard/internal/access"
	"github.com/roach88/snapguard/internal/config"
	"github.com/roach88/snapguard/internal/ipresolve"
	"github.com/roach88/snapguard/internal/server"
	"github.com/roach88/snapguard/internal/session"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the upload, dashboard and viewer API",
		Long: `Start the SnapGuard HTTP server.

The server accepts uploads, lists shared images with their access logs and
runs one view session per /view/{id} websocket connection. Dashboard clients
receive live change notifications on /api/events.

Example:
  snapguard serve --db ./snapguard.db
  snapguard serve --config ./snapguard.yaml --listen :9000 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides config)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.Listen != "" {
		cfg.Listen = opts.Listen
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore(st)

	logger := access.NewLogger(st, ipresolve.NewHTTPResolver(cfg.IPLookupURL, cfg.IPLookupTimeout))
	srv := server.New(st, logger,
		server.WithPublicURL(cfg.PublicURL),
		server.WithAllowedOrigins(cfg.AllowedOrigins...),
		server.WithSessionOptions(sessionOptions(cfg)...),
	)

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "SnapGuard listening on %s (public URL %s)\n", cfg.Listen, cfg.PublicURL)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := srv.ListenAndServe(ctx, cfg.Listen); err != nil {
		return WrapExitError(ExitCommandError, "server error", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// sessionOptions maps configuration onto session engine options.
func sessionOptions(cfg config.Config) []session.Option {
	return []session.Option{
		session.WithCountdown(cfg.Countdown),
		session.WithTickInterval(cfg.TickInterval),
		session.WithViewOnce(cfg.ViewOnce),
	}
}
