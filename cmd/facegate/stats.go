package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/facegate/pkg/models"
)

func newStatsCmd(configPath *string) *cobra.Command {
	var (
		history bool
		summary bool
		limit   int
		since   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show search performance and run history",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, *configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			ctx := cmd.Context()

			// Per-state aggregates
			if summary {
				rows, err := a.history.Summary(ctx)
				if err != nil {
					return err
				}
				if len(rows) == 0 {
					fmt.Println("No search runs recorded.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "STATE\tRUNS\tAVG MS\tMAX MS\tAVG CACHED")
				for _, r := range rows {
					fmt.Fprintf(w, "%s\t%d\t%.1f\t%d\t%.0f%%\n",
						r.State, r.Runs, r.AvgProcessingMs, r.MaxProcessingMs, r.AvgCacheHitRate*100)
				}
				return w.Flush()
			}

			// Run list
			if history || since > 0 {
				var (
					runs []models.RunRecord
					err  error
				)
				if since > 0 {
					runs, err = a.history.Since(ctx, time.Now().Add(-since))
				} else {
					runs, err = a.history.Recent(ctx, limit)
				}
				if err != nil {
					return err
				}
				if len(runs) == 0 {
					fmt.Println("No search runs recorded.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "TIME\tSTATE\tBEST\tSCORE\tDURATION\tGALLERY\tCACHED")
				for _, r := range runs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%.3f\t%s\t%d\t%.0f%%\n",
						r.Timestamp.Format("2006-01-02T15:04:05"), r.State, r.BestID, r.BestScore,
						r.ProcessingTime.Round(time.Millisecond), r.GallerySize, r.CacheHitRate*100)
				}
				return w.Flush()
			}

			// Default: performance stats for this process plus history totals.
			perf := a.status.PerformanceStats()
			rows, err := a.history.Summary(ctx)
			if err != nil {
				return err
			}
			var total int
			for _, r := range rows {
				total += r.Runs
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Recorded runs:\t%d\n", total)
			fmt.Fprintf(w, "Runs this process:\t%d\n", perf.TotalRuns)
			fmt.Fprintf(w, "Average search:\t%s\n", perf.AverageProcessingTime.Round(time.Millisecond))
			fmt.Fprintf(w, "Recent average:\t%s\n", perf.RecentAverageTime.Round(time.Millisecond))
			fmt.Fprintf(w, "Success rate:\t%.0f%%\n", perf.SuccessRate*100)
			fmt.Fprintf(w, "Within target:\t%t\n", perf.WithinTarget)
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&history, "history", false, "list recent search runs")
	cmd.Flags().BoolVar(&summary, "summary", false, "aggregate recorded runs by state")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	cmd.Flags().DurationVar(&since, "since", 0, "list runs from this long ago (e.g. 24h)")
	return cmd
}
