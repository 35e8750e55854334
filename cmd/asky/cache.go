package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// buildCacheCmd creates the "cache" command group for the research
// document cache.
func buildCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and clean the research document cache",
	}
	cmd.AddCommand(buildCacheStatsCmd(), buildCacheCleanupCmd())
	return cmd
}

func buildCacheStatsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache totals and the most recently fetched documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			verbose, _ := cmd.Flags().GetBool("verbose")
			_, st, err := openStore(configPath, verbose)
			if err != nil {
				return err
			}
			defer st.Close()

			total, expired, contentBytes, err := st.CacheStats(cmd.Context())
			if err != nil {
				return err
			}
			if total == 0 {
				fmt.Println("cache is empty")
				return nil
			}
			fmt.Printf("%d entries (%d fresh, %d expired), %.1f MB content\n\n",
				total, total-expired, expired, float64(contentBytes)/(1<<20))

			entries, err := st.ListCache(cmd.Context(), limit)
			if err != nil {
				return err
			}

			now := time.Now()
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FETCHED\tSTATE\tSIZE\tURL")
			for _, e := range entries {
				state := "fresh"
				if e.ExpiresAt.Before(now) {
					state = "expired"
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
					e.FetchedAt.Local().Format("2006-01-02 15:04"),
					state, len(e.Content), truncate(e.URL, 80))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Recent entries to list")
	return cmd
}

func buildCacheCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Purge expired cache entries and their chunks",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			verbose, _ := cmd.Flags().GetBool("verbose")
			_, st, err := openStore(configPath, verbose)
			if err != nil {
				return err
			}
			defer st.Close()

			purged, err := st.CleanupExpired(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("purged %d expired entr%s\n", purged, pluralY(purged))
			return nil
		},
	}
}

func pluralY(n int64) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
