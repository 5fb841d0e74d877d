package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/memini-ai/memini/pkg/history"
	"github.com/memini-ai/memini/pkg/models"
)

func newHistoryCmd() *cobra.Command {
	var (
		configPath string
		limit      int
		cacheType  string
		since      string
		stats      bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently answered queries",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openHistory(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := context.Background()

			if stats {
				rows, err := l.Stats(ctx)
				if err != nil {
					return err
				}
				if len(rows) == 0 {
					fmt.Println("No history recorded.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "DAY\tQUERIES\tCACHE HITS")
				for _, s := range rows {
					fmt.Fprintf(w, "%s\t%d\t%d\n", s.Day, s.Queries, s.Hits)
				}
				return w.Flush()
			}

			opts := models.HistoryQueryOpts{CacheType: cacheType, Limit: limit}
			if since != "" {
				ts, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				opts.Since = ts
			}

			entries, err := l.Recent(ctx, opts)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No history entries found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tQUERY\tCACHE\tMODEL\tLATENCY")
			for _, e := range entries {
				cache := e.CacheType
				if cache == "" {
					cache = "-"
				}
				model := e.Model
				if model == "" {
					model = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%dms\n",
					e.CreatedAt.Format("2006-01-02 15:04:05"), truncate(e.Query, 48), cache, model, e.LatencyMs)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries to return")
	cmd.Flags().StringVar(&cacheType, "type", "", `filter by cache type ("exact" or "semantic")`)
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&stats, "stats", false, "show per-day aggregates instead")
	return cmd
}

func openHistory(configPath string) (*history.Logger, func(), error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	l, err := history.New(cfg.History)
	if err != nil {
		return nil, nil, fmt.Errorf("open history db: %w", err)
	}
	return l, func() { _ = l.Close() }, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
