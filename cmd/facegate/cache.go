package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/facegate/pkg/models"
)

func newCacheCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the reference payload cache",
	}

	var entries bool
	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show cache tiers, gallery coverage and performance",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, *configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			info := a.status.CacheInfo()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Volatile entries:\t%d\n", info.Cache.VolatileCount)
			fmt.Fprintf(w, "Persistent entries:\t%d\n", info.Cache.PersistentCount)
			fmt.Fprintf(w, "Gallery size:\t%d\n", info.Coverage.TotalEntries)
			fmt.Fprintf(w, "Average search:\t%s\n", info.Performance.AverageProcessingTime.Round(time.Millisecond))
			if err := w.Flush(); err != nil {
				return err
			}
			if !entries {
				return nil
			}

			w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "\nSOURCE\tCACHED AT\tSIZE")
			for _, e := range a.payloads.Entries() {
				fmt.Fprintf(w, "%s\t%s\t%d\n", e.Key, e.CachedAt.Format("2006-01-02T15:04:05"), len(e.Payload))
			}
			return w.Flush()
		},
	}
	infoCmd.Flags().BoolVar(&entries, "entries", false, "list persistent entries")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear every cached payload",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, *configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if err := a.payloads.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("All cached payloads cleared.")
			return nil
		},
	}

	preloadCmd := &cobra.Command{
		Use:   "preload [source...]",
		Short: "Fetch and cache payloads, defaulting to the whole gallery",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, *configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			refs := args
			if len(refs) == 0 {
				refs = models.GallerySourceRefs(a.matcher.Gallery())
			}
			result := a.status.Preload(cmd.Context(), refs)
			fmt.Printf("Preloaded: %d\nFailed:    %d\n", result.Successful, result.Failed)
			return nil
		},
	}

	cmd.AddCommand(infoCmd, clearCmd, preloadCmd)
	return cmd
}

// openApp loads config and wires services for short-lived commands.
func openApp(cmd *cobra.Command, configPath string) (*app, error) {
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return nil, err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return newApp(ctx, cfg)
}
