package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/memini-ai/memini/pkg/models"
)

// The caches live inside the server process, so these commands go through
// its API rather than opening anything locally.
func newCacheCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the running server's caches",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				QueryCache  *models.CacheStats      `json:"query_cache"`
				ChunkCache  *models.ChunkCacheStats `json:"chunk_cache"`
				IndexChunks int64                   `json:"index_chunks"`
			}
			if err := getJSON(context.Background(), serverURL, "/api/stats", &resp); err != nil {
				return err
			}

			if resp.QueryCache == nil {
				fmt.Println("Query cache is disabled.")
			} else {
				qc := resp.QueryCache
				fmt.Println("Query cache:")
				fmt.Printf("  Entries:     %d (%d exact, %d semantic)\n", qc.TotalSize, qc.ExactSize, qc.SemanticSize)
				fmt.Printf("  Hits:        %d (%d exact, %d semantic)\n", qc.TotalHits, qc.ExactHits, qc.SemanticHits)
				fmt.Printf("  Misses:      %d\n", qc.Misses)
				fmt.Printf("  Hit rate:    %.2f%%\n", qc.HitRatePercent)
				fmt.Printf("  Evictions:   %d\n", qc.Evictions)
				fmt.Printf("  Expirations: %d\n", qc.TTLExpirations)
			}
			if resp.ChunkCache != nil {
				cc := resp.ChunkCache
				fmt.Println("Chunk cache:")
				fmt.Printf("  Entries:     %d\n", cc.Size)
				fmt.Printf("  Hits:        %d\n", cc.Hits)
				fmt.Printf("  Misses:      %d\n", cc.Misses)
				fmt.Printf("  Hit rate:    %.2f%%\n", cc.HitRatePercent)
			}
			fmt.Printf("Index chunks:  %d\n", resp.IndexChunks)
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop every cached answer and chunk list",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := postJSON(context.Background(), serverURL, "/api/cache/clear", nil, nil); err != nil {
				return err
			}
			fmt.Println("All cache entries cleared.")
			return nil
		},
	}

	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove expired cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Removed int `json:"removed"`
			}
			if err := postJSON(context.Background(), serverURL, "/api/cache/cleanup", nil, &resp); err != nil {
				return err
			}
			fmt.Printf("Removed %d expired entries.\n", resp.Removed)
			return nil
		},
	}

	resetCmd := &cobra.Command{
		Use:   "reset-stats",
		Short: "Zero the cache counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := postJSON(context.Background(), serverURL, "/api/cache/reset-stats", nil, nil); err != nil {
				return err
			}
			fmt.Println("Cache statistics reset.")
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "base URL of the memini server")
	cmd.AddCommand(statsCmd, clearCmd, cleanupCmd, resetCmd)
	return cmd
}
