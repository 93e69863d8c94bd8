// relayd is the standalone CORS relay server, for deployments that run
// the relay separately from the batch CLI.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/askelva/herbarium-batch/internal/relay"
)

func main() {
	var (
		addr    = flag.String("addr", ":8080", "listen address")
		origins = flag.String("origins", "", "comma-separated origin allow-list (empty allows any)")
		debug   = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           relay.NewHandler(nil, *origins, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("relay.listening", "addr", *addr, "origins", *origins)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("relay.serve_failed", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("relay.shutdown_failed", "error", err)
			os.Exit(1)
		}
		logger.Info("relay.stopped")
	}
}
