package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/recall-labs/mnemo/pkg/memory"
	"github.com/spf13/cobra"
)

var (
	ingestSource   string
	ingestMetadata []string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [text]",
	Short: "Store a memory item",
	Long:  `Store one memory item in the durable store and both indexes.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestSource, "source", string(memory.SourceJournal), "source kind (conversation, journal, todo, activity, decision)")
	ingestCmd.Flags().StringArrayVar(&ingestMetadata, "meta", nil, "metadata entry as key=value (repeatable)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	store, _, lg, err := openStore()
	if err != nil {
		return err
	}
	defer lg.Close()
	defer store.Close()

	metadata, err := parseMetadata(ingestMetadata)
	if err != nil {
		return err
	}

	// Embeddings come from an external embedding service; the CLI ingests
	// keyword-only items.
	id, err := store.Ingest(context.Background(), args[0], memory.SourceKind(ingestSource), metadata, nil)
	if err != nil {
		return err
	}

	fmt.Println(id)
	return nil
}

func parseMetadata(entries []string) (map[string]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	metadata := make(map[string]string, len(entries))
	for _, entry := range entries {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid metadata entry %q (want key=value)", entry)
		}
		metadata[key] = value
	}
	return metadata, nil
}
