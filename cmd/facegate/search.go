package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/pario-ai/facegate/pkg/models"
)

func newSearchCmd(configPath *string) *cobra.Command {
	var (
		asJSON bool
		mark   bool
	)

	cmd := &cobra.Command{
		Use:   "search <sample-file>",
		Short: "Search the gallery for the identity in a probe sample",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, *configPath)
			if err != nil {
				return err
			}
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read sample: %w", err)
			}

			ctx := context.Background()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			// A one-shot search waits for the preload so the deadline covers only the search.
			<-a.matcher.Start(ctx)
			sample := base64.StdEncoding.EncodeToString(raw)
			outcome := a.matcher.Search(ctx, sample, a.matcher.Gallery(), func(processed, total int) {
				if !asJSON {
					fmt.Fprintf(os.Stderr, "searched %d/%d\n", processed, total)
				}
			})

			var rec *models.AttendanceRecord
			if mark && outcome.Matched {
				r, err := a.attendance.Mark(ctx, outcome.BestID, outcome.BestScore)
				if err != nil {
					return err
				}
				rec = &r
			}

			if asJSON {
				return json.NewEncoder(os.Stdout).Encode(struct {
					models.MatchOutcome
					Attendance *models.AttendanceRecord `json:"attendance,omitempty"`
				}{outcome, rec})
			}

			switch {
			case outcome.TimedOut:
				fmt.Printf("Timed out after %s\n", outcome.ProcessingTime.Round(time.Millisecond))
			case outcome.Matched:
				fmt.Printf("Matched:    %s\nSimilarity: %.3f\nTime:       %s\n",
					outcome.BestID, outcome.BestScore, outcome.ProcessingTime.Round(time.Millisecond))
			default:
				fmt.Printf("No match (best %s at %.3f)\nTime:       %s\n",
					outcome.BestID, outcome.BestScore, outcome.ProcessingTime.Round(time.Millisecond))
			}
			if rec != nil {
				fmt.Printf("Attendance: %s (synced: %t)\n", rec.ID, rec.Synced)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the outcome as JSON")
	cmd.Flags().BoolVar(&mark, "mark", false, "mark attendance when the search matches")
	return cmd
}
