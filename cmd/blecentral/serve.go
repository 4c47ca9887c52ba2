package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blecentral/internal/eventbus"
	"github.com/srg/blecentral/internal/groutine"
	"github.com/srg/blecentral/internal/wsapi"
	"github.com/srg/blecentral/pkg/config"
)

const shutdownTimeout = 5 * time.Second

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the session over a WebSocket",
	Long: `Start a session and expose it over HTTP until Ctrl+C:

  /ws       streams every session event as JSON and accepts commands
            (state, scan, stop, connect, disconnect, disconnect_all)
  /devices  returns the adapter state and the device registry`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveListen  string
	serveVerbose bool
)

func init() {
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "", "Listen address (defaults to listen from the config)")
	serveCmd.Flags().BoolVar(&serveVerbose, "verbose", false, "Enable debug logging")
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd, func(cfg *config.Config) {
		if serveListen != "" {
			cfg.Listen = serveListen
		}
	})
	if err != nil {
		return err
	}
	defer a.close()

	ln, err := net.Listen("tcp", a.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.Listen, err)
	}

	cmd.SilenceUsage = true

	bus := eventbus.New(a.cfg.EventBuffer, a.logger)
	defer bus.Close()

	if err := a.start(bus); err != nil {
		_ = ln.Close()
		return err
	}

	srv := &http.Server{
		Handler:           wsapi.New(a.manager, bus, a.logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	serveErr := make(chan error, 1)
	groutine.Go(ctx, "http-serve", func(context.Context) {
		serveErr <- srv.Serve(ln)
	})
	fmt.Fprintf(cmd.OutOrStdout(), "Session API listening on ws://%s/ws\n", ln.Addr())

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.WithError(err).Warn("HTTP server shutdown incomplete")
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Session API stopped")
	return nil
}
