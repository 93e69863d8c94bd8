package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/askelva/herbarium-batch/internal/batch"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		inputPath   string
		resume      bool
		concurrency int
		outPath     string
		noExport    bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the batch pipeline over a list of inputs",
		Long:  "Reads one input per line (image URL or GBIF occurrence reference) from --input or stdin, runs every pending item through the pipeline, and writes a CSV of the results. Interrupt once to stop accepting new items; in-flight calls finish.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			sess, st, err := a.openSession(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			defer sess.Close()

			if resume {
				if err := sess.Load(ctx); err != nil {
					return err
				}
				if sess.Items().Len() == 0 {
					return fmt.Errorf("no saved session to resume")
				}
			} else {
				raw, err := readInput(inputPath)
				if err != nil {
					return err
				}
				if len(sess.Parse(raw)) == 0 {
					return fmt.Errorf("no inputs: every line was empty")
				}
			}
			if concurrency > 0 {
				if err := sess.SetConcurrency(concurrency); err != nil {
					return err
				}
			}

			// Interrupt translates to a cooperative stop: queued items
			// stay pending for a later --resume.
			go func() {
				<-ctx.Done()
				sess.Stop()
			}()

			if err := sess.Run(context.WithoutCancel(ctx)); err != nil {
				return err
			}

			stats := sess.Items().Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "total %d  completed %d  failed %d  pending %d\n",
				stats.Total, stats.Completed, stats.Failed, stats.Pending)

			if noExport {
				return nil
			}
			if outPath == "" {
				outPath = batch.CSVFilename(time.Now())
			}
			if err := writeCSVFile(sess, outPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", outPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "file with one input per line (default stdin)")
	cmd.Flags().BoolVar(&resume, "resume", false, "resume the saved session instead of reading new input")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 0, "override the concurrency limit (1-10)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "CSV output path (default timestamped filename)")
	cmd.Flags().BoolVar(&noExport, "no-export", false, "skip the CSV export after the run")
	return cmd
}

func readInput(path string) (string, error) {
	if path == "" || path == "-" {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(raw), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read input file: %w", err)
	}
	return string(raw), nil
}

func writeCSVFile(sess *batch.Session, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := sess.ExportCSV(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
