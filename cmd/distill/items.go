package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/hyperengineering/distill/internal/config"
	"github.com/hyperengineering/distill/internal/store"
	"github.com/hyperengineering/distill/internal/types"
	"github.com/spf13/cobra"
)

var (
	itemsDBPath     string
	itemsKB         string
	itemsSource     string
	itemsLimit      int
	itemsJSONOutput bool
)

var itemsCmd = &cobra.Command{
	Use:   "items",
	Short: "List stored facts",
	Long:  "List facts in the local knowledge store without running the server.",
	Args:  cobra.NoArgs,
	RunE:  runItems,
}

func init() {
	itemsCmd.Flags().StringVar(&itemsDBPath, "db", "",
		"Database path (overrides config and DISTILL_DB_PATH)")
	itemsCmd.Flags().StringVar(&itemsKB, "kb", "", "Only list facts in this knowledge base")
	itemsCmd.Flags().StringVar(&itemsSource, "source", "", "Only list facts from this source name")
	itemsCmd.Flags().IntVar(&itemsLimit, "limit", 50, "Maximum number of facts to list (0 for all)")
	itemsCmd.Flags().BoolVar(&itemsJSONOutput, "json", false, "Output in JSON format")
}

func runItems(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	dbPath := itemsDBPath
	if dbPath == "" {
		dbCfg, err := config.LoadDatabaseConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		dbPath = dbCfg.Path
	}

	db, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	items, err := db.ListItems(ctx, types.ItemFilter{
		KnowledgeBaseID: itemsKB,
		SourceName:      itemsSource,
		Limit:           itemsLimit,
	})
	if err != nil {
		return fmt.Errorf("list items: %w", err)
	}

	total, err := db.CountItems(ctx, itemsKB)
	if err != nil {
		return fmt.Errorf("count items: %w", err)
	}

	if itemsJSONOutput {
		out := make([]map[string]any, len(items))
		for i, it := range items {
			out[i] = map[string]any{
				"id":                it.ID,
				"knowledge_base_id": it.KnowledgeBaseID,
				"owner_id":          it.OwnerID,
				"content":           it.Content,
				"source_name":       it.SourceName,
				"source_type":       it.SourceType,
				"embedding_model":   it.EmbeddingModel,
				"created_at":        it.CreatedAt,
			}
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"items": out,
			"total": total,
		})
	}

	if len(items) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No facts found.")
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "ID\tKNOWLEDGE BASE\tSOURCE\tCREATED\tCONTENT")
	for _, it := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			it.ID,
			it.KnowledgeBaseID,
			it.SourceName,
			it.CreatedAt.Format("2006-01-02 15:04"),
			truncate(it.Content, 60),
		)
	}
	w.Flush()

	if int64(len(items)) < total {
		fmt.Fprintf(cmd.OutOrStdout(), "\nShowing %d of %d facts.\n", len(items), total)
	}
	return nil
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}
