package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var searchTopK int

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Recall memory items for a query",
	Long:  `Recall memory items whose keywords match the query, ranked by relevance.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().IntVar(&searchTopK, "top-k", 0, "maximum results (0 uses the configured default)")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	store, _, lg, err := openStore()
	if err != nil {
		return err
	}
	defer lg.Close()
	defer store.Close()

	// Query embeddings come from an external embedding service; the CLI
	// searches the keyword leg only.
	results, err := store.HybridSearch(context.Background(), args[0], nil, searchTopK)
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Println("No matches.")
		return nil
	}

	for i, res := range results {
		fmt.Printf("%2d. [%.4f] (%s, %s) %s\n", i+1, res.Score, res.Source, res.Matched, res.Text)
		fmt.Printf("    id=%s created=%s\n", res.ID, res.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}
