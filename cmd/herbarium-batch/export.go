package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/askelva/herbarium-batch/internal/batch"
	"github.com/askelva/herbarium-batch/internal/export"
)

func newExportCmd(a *app) *cobra.Command {
	var (
		format  string
		outPath string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the saved session as CSV or XLSX",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			sess, st, err := a.openSession(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			defer sess.Close()

			if err := sess.Load(ctx); err != nil {
				return err
			}
			if sess.Items().Len() == 0 {
				return fmt.Errorf("no saved session to export")
			}

			switch format {
			case "csv":
				if outPath == "" {
					outPath = batch.CSVFilename(time.Now())
				}
				if err := writeCSVFile(sess, outPath); err != nil {
					return err
				}
			case "xlsx":
				if outPath == "" {
					outPath = export.Filename(time.Now())
				}
				raw, err := export.NewService(a.log).ExportXLSX(sess.Items().Snapshot())
				if err != nil {
					return err
				}
				if err := os.WriteFile(outPath, raw, 0o644); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown format %q (want csv or xlsx)", format)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d items)\n", outPath, sess.Items().Len())
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "csv", "export format: csv or xlsx")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output path (default timestamped filename)")
	return cmd
}
