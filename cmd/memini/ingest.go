package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/memini-ai/memini/pkg/index"
	"github.com/memini-ai/memini/pkg/ingest"
	"github.com/memini-ai/memini/pkg/ollama"
)

func newIngestCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "ingest <path>",
		Short: "Ingest a document or directory into the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			idx, err := index.New(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open index: %w", err)
			}
			defer func() { _ = idx.Close() }()

			client := ollama.New(cfg.Ollama.URL, cfg.Ollama.Timeout)
			ing := ingest.New(idx, client, cfg.Ollama.EmbedModel, ingest.Splitter{
				ChunkSize: cfg.Ingest.ChunkSize,
				Overlap:   cfg.Ingest.ChunkOverlap,
			})

			info, err := os.Stat(args[0])
			if err != nil {
				return err
			}

			ctx := context.Background()
			var n int
			if info.IsDir() {
				n, err = ing.IngestDir(ctx, args[0])
			} else {
				n, err = ing.IngestFile(ctx, args[0])
			}
			if err != nil {
				return err
			}
			fmt.Printf("Ingested %d chunks from %s\n", n, args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	return cmd
}
