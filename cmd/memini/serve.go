package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/memini-ai/memini/pkg/cache/memory"
	"github.com/memini-ai/memini/pkg/history"
	"github.com/memini-ai/memini/pkg/index"
	"github.com/memini-ai/memini/pkg/models"
	"github.com/memini-ai/memini/pkg/ollama"
	"github.com/memini-ai/memini/pkg/rag"
	"github.com/memini-ai/memini/pkg/ratelimit"
	"github.com/memini-ai/memini/pkg/server"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the memini API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			idx, err := index.New(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open index: %w", err)
			}
			defer func() { _ = idx.Close() }()

			client := ollama.New(cfg.Ollama.URL, cfg.Ollama.Timeout)

			var qcache *memory.QueryCache[models.Answer]
			var ccache *memory.ChunkCache
			if cfg.Cache.Enabled {
				qcache, err = memory.NewQueryCache[models.Answer](memory.Options{
					MaxSize:             cfg.Cache.MaxSize,
					SimilarityThreshold: cfg.Cache.SimilarityThreshold,
					TTL:                 cfg.Cache.TTL,
					EnableSemantic:      cfg.Cache.Semantic,
				})
				if err != nil {
					return fmt.Errorf("init query cache: %w", err)
				}
				ccache, err = memory.NewChunkCache(memory.ChunkOptions{
					MaxSize: cfg.ChunkCache.MaxSize,
					TTL:     cfg.ChunkCache.TTL,
				})
				if err != nil {
					return fmt.Errorf("init chunk cache: %w", err)
				}
			}

			var limiter *ratelimit.Limiter
			if cfg.RateLimit.Enabled {
				limiter = ratelimit.New(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window)
			}

			var hist *history.Logger
			if cfg.History.Enabled {
				hist, err = history.New(cfg.History)
				if err != nil {
					return fmt.Errorf("init history: %w", err)
				}
				defer func() { _ = hist.Close() }()
			}

			engine := rag.New(cfg, client, idx, qcache, ccache)
			srv := server.New(cfg, engine, qcache, ccache, idx, limiter, hist, client)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	return cmd
}
