package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/memini-ai/memini/pkg/index"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Inspect and manage the chunk index",
	}
	cmd.AddCommand(newIndexLsCmd(), newIndexRmCmd())
	return cmd
}

func newIndexLsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List ingested sources",
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

			sources, err := idx.Sources(context.Background())
			if err != nil {
				return err
			}
			if len(sources) == 0 {
				fmt.Println("No sources ingested.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SOURCE\tCHUNKS\tADDED")
			for _, s := range sources {
				fmt.Fprintf(w, "%s\t%d\t%s\n", s.Source, s.Chunks, s.AddedAt)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	return cmd
}

func newIndexRmCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "rm <source>",
		Short: "Remove a source and its chunks from the index",
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

			if err := idx.DeleteSource(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Removed %s from the index.\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	return cmd
}
