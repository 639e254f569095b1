package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show memory store status",
	Long:  `Show initialization state, item count, and index sizes.`,
	RunE:  runStatus,
}

var deleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a memory item",
	Long:  `Remove a memory item from both indexes and the durable store.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(deleteCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	store, cfg, lg, err := openStore()
	if err != nil {
		return err
	}
	defer lg.Close()
	defer store.Close()

	// Count forces initialization so the status reflects a live store.
	count, err := store.Count(context.Background())
	if err != nil {
		return err
	}

	st := store.Status()
	fmt.Printf("State:         %s\n", st.State)
	fmt.Printf("Items:         %d\n", count)
	fmt.Printf("Lexical docs:  %d\n", st.LexicalDocs)
	fmt.Printf("Vectors:       %d\n", st.Vectors)
	fmt.Printf("Init attempts: %d\n", st.Attempts)
	fmt.Printf("Database:      %s\n", cfg.Storage.DBPath)
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	store, _, lg, err := openStore()
	if err != nil {
		return err
	}
	defer lg.Close()
	defer store.Close()

	if err := store.Delete(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted %s\n", args[0])
	return nil
}
