package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/memini-ai/memini/pkg/config"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:     "memini",
		Short:   "Local RAG service with a two-tier semantic answer cache",
		Version: version,
	}

	root.AddCommand(
		newServeCmd(),
		newQueryCmd(),
		newIngestCmd(),
		newIndexCmd(),
		newCacheCmd(),
		newHistoryCmd(),
		newEvalCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads the named config file, or the built-in defaults when no
// path is given.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}
