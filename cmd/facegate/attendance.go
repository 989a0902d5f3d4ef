package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/facegate/pkg/models"
)

func newAttendanceCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attendance",
		Short: "Mark and list attendance",
	}

	markCmd := &cobra.Command{
		Use:   "mark <user-id> <similarity>",
		Short: "Record attendance for a verified user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			similarity, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid similarity %q: %w", args[1], err)
			}
			a, err := openApp(cmd, *configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			rec, err := a.attendance.Mark(cmd.Context(), args[0], similarity)
			if err != nil {
				return err
			}
			fmt.Printf("Marked %s (%s, synced: %t)\n", rec.UserID, rec.ID, rec.Synced)
			return nil
		},
	}

	var (
		userID string
		limit  int
		since  string
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List attendance records, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := models.AttendanceQueryOpts{UserID: userID, Limit: limit}
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				opts.Since = t
			}

			a, err := openApp(cmd, *configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			records, err := a.attendance.List(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No attendance records found.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tUSER\tSIMILARITY\tSYNCED\tID")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%.3f\t%t\t%s\n",
					r.Timestamp.Local().Format("2006-01-02T15:04:05"), r.UserID, r.Similarity, r.Synced, r.ID)
			}
			return w.Flush()
		},
	}
	listCmd.Flags().StringVar(&userID, "user", "", "filter by user ID")
	listCmd.Flags().IntVar(&limit, "limit", 100, "maximum records to show")
	listCmd.Flags().StringVar(&since, "since", "", "start date in YYYY-MM-DD format")

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Resend records the attendance service has not acknowledged",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, *configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			n, err := a.attendance.Sync(cmd.Context())
			fmt.Printf("Synced %d records.\n", n)
			return err
		},
	}

	cmd.AddCommand(markCmd, listCmd, syncCmd)
	return cmd
}
