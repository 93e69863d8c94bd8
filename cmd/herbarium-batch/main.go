package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/askelva/herbarium-batch/internal/barcode"
	"github.com/askelva/herbarium-batch/internal/batch"
	"github.com/askelva/herbarium-batch/internal/common"
	"github.com/askelva/herbarium-batch/internal/gbif"
	"github.com/askelva/herbarium-batch/internal/image"
	"github.com/askelva/herbarium-batch/internal/llm"
	"github.com/askelva/herbarium-batch/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}
}

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

// app carries the shared state every subcommand needs.
type app struct {
	cfgFile  string
	logLevel string

	cfg *common.Config
	log *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "herbarium-batch",
		Short:         "Batch LLM pipeline for herbarium specimen labels",
		Long:          "Runs herbarium specimen images through a two-step LLM pipeline (label transcription, then Darwin Core standardization) with bounded concurrency, retries, and durable session state.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
	}
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "YAML config file merged over environment variables")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "info", "log level (debug|info|warn|error)")

	root.AddCommand(
		newRunCmd(a),
		newExportCmd(a),
		newHistoryCmd(a),
		newModelsCmd(a),
		newSettingsCmd(a),
		newRelayCmd(a),
	)
	return root
}

func (a *app) init() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(a.logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", a.logLevel, err)
	}
	a.log = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(a.log)

	cfg := common.LoadConfig()
	if a.cfgFile != "" {
		if err := cfg.ApplyFile(a.cfgFile); err != nil {
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// openSession wires the production collaborators into a batch session.
// The returned store is owned by the caller and must be closed after the
// session.
func (a *app) openSession(ctx context.Context) (*batch.Session, store.Store, error) {
	st, err := store.Open(ctx, a.cfg.Store.Path, a.log)
	if err != nil {
		return nil, nil, err
	}
	if err := applyStoredSettings(ctx, st, a.cfg); err != nil {
		_ = st.Close()
		return nil, nil, err
	}

	pricing := llm.NewPricing(nil, st, a.log)
	if err := pricing.Initialize(ctx); err != nil {
		// Costs degrade to "unknown"; the pipeline itself is unaffected.
		a.log.Warn("pricing.init_failed", "error", err)
	}

	deps := batch.SessionDeps{
		Providers:   llm.NewRegistry(nil, a.log),
		Occurrences: gbif.NewService(nil, a.log),
		Images:      image.NewFetcher(nil, a.log),
		Scanner:     barcode.Disabled(),
		Pricing:     pricing,
	}
	return batch.NewSession(a.cfg, st, deps, a.log), st, nil
}
