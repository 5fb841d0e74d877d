package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/memini-ai/memini/pkg/eval"
	"github.com/memini-ai/memini/pkg/index"
	"github.com/memini-ai/memini/pkg/ollama"
)

func newEvalCmd() *cobra.Command {
	var (
		configPath string
		k          int
		out        string
	)

	cmd := &cobra.Command{
		Use:   "eval <cases.json>",
		Short: "Measure retrieval quality against labeled cases",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			cases, err := eval.LoadCases(args[0])
			if err != nil {
				return err
			}

			idx, err := index.New(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open index: %w", err)
			}
			defer func() { _ = idx.Close() }()

			client := ollama.New(cfg.Ollama.URL, cfg.Ollama.Timeout)
			ev := eval.New(client, cfg.Ollama.EmbedModel, idx)

			if k <= 0 {
				k = cfg.Retrieval.TopK
			}
			report, err := ev.Run(context.Background(), cases, k)
			if err != nil {
				return err
			}

			if err := report.WriteSummary(os.Stdout); err != nil {
				return err
			}
			if out != "" {
				if err := report.Save(out); err != nil {
					return err
				}
				fmt.Printf("Report written to %s\n", out)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().IntVar(&k, "k", 0, "retrieval depth (0 = configured top_k)")
	cmd.Flags().StringVar(&out, "out", "", "write the JSON report to this file")
	return cmd
}
