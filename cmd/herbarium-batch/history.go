package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/askelva/herbarium-batch/internal/store"
)

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent batch runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, err := store.Open(ctx, a.cfg.Store.Path, a.log)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			entries, err := st.ListHistory(ctx)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded")
				return nil
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[:limit]
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-20s  %5s  %9s  %6s  %10s\n", "FINISHED", "TOTAL", "COMPLETED", "FAILED", "COST (USD)")
			for _, e := range entries {
				cost := "unknown"
				if e.TotalCost != nil {
					cost = fmt.Sprintf("%.4f", *e.TotalCost)
				}
				fmt.Fprintf(out, "%-20s  %5d  %9d  %6d  %10s\n",
					e.FinishedAt.Local().Format(time.DateTime), e.Total, e.Completed, e.Failed, cost)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show at most this many runs (default all retained)")
	return cmd
}
