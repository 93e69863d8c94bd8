package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/askelva/herbarium-batch/internal/relay"
)

func newRelayCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Serve the CORS relay",
		Long:  "Forwards requests whose path embeds a full target URL, scrubbing origin-identifying headers, for clients that cannot reach the LLM vendors directly.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = a.cfg.Relay.Addr
			}
			handler := relay.NewHandler(nil, a.cfg.Relay.AllowedOrigins, a.log)
			return serveRelay(cmd.Context(), addr, handler, a)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from RELAY_ADDR)")
	return cmd
}

func serveRelay(ctx context.Context, addr string, handler http.Handler, a *app) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("relay.listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	a.log.Info("relay.stopped")
	return nil
}
