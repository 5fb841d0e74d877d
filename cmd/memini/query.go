package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/memini-ai/memini/pkg/models"
)

func newQueryCmd() *cobra.Command {
	var (
		serverURL   string
		k           int
		interactive bool
	)

	cmd := &cobra.Command{
		Use:   "query [question]",
		Short: "Ask a question against a running memini server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if interactive {
				return runInteractive(serverURL, k)
			}
			if len(args) == 0 {
				return fmt.Errorf("a question is required unless --interactive is set")
			}
			return runQuery(serverURL, strings.Join(args, " "), k)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "base URL of the memini server")
	cmd.Flags().IntVar(&k, "k", 0, "number of chunks to retrieve (0 = server default)")
	cmd.Flags().BoolVar(&interactive, "interactive", false, "read questions from stdin in a loop")
	return cmd
}

func runQuery(serverURL, question string, k int) error {
	var a models.Answer
	req := map[string]any{"query": question, "k": k}
	if err := postJSON(context.Background(), serverURL, "/api/query", req, &a); err != nil {
		return err
	}
	printAnswer(a)
	return nil
}

func runInteractive(serverURL string, k int) error {
	fmt.Println(`Interactive mode. Type a question, or "exit" to quit.`)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		if err := runQuery(serverURL, line, k); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
		fmt.Println()
	}
	return scanner.Err()
}

func printAnswer(a models.Answer) {
	fmt.Println(a.Response)
	if len(a.Sources) > 0 {
		fmt.Printf("\nSources: %s\n", strings.Join(a.Sources, ", "))
	}
	for _, img := range a.Images {
		fmt.Printf("Image:   %s (from %s)\n", img.Path, img.Source)
	}
	switch {
	case a.CacheHit && a.CacheType == "semantic":
		fmt.Printf("semantic cache hit (similarity %.3f) in %dms\n", a.CacheSimilarity, a.TookMs)
	case a.CacheHit:
		fmt.Printf("%s cache hit in %dms\n", a.CacheType, a.TookMs)
	case a.Model != "":
		fmt.Printf("generated by %s in %dms\n", a.Model, a.TookMs)
	default:
		fmt.Printf("answered in %dms\n", a.TookMs)
	}
}
