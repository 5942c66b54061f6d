package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"ragchat/internal/domain"
	"ragchat/internal/usecase"
)

var reindexAll bool

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Repair or regenerate the vector index",
	Long: `Without flags, rebuild the in-memory index and the document to chunk
mapping from the stored chunk records, and re-ingest documents whose vectors
are missing or unreadable.

With --all, drop every vector and re-ingest every document with the current
chunking and embedding settings. Required after changing the embedding model
or dimension, or the chunk size or overlap.

Examples:
  ragchat reindex
  ragchat reindex --all`,
	Args: cobra.NoArgs,
	RunE: runReindex,
}

func init() {
	rootCmd.AddCommand(reindexCmd)
	reindexCmd.Flags().BoolVar(&reindexAll, "all", false, "re-ingest every document from its stored source")
}

func runReindex(cmd *cobra.Command, args []string) error {
	a, err := openApp(GetConfig(), log)
	if err != nil {
		return err
	}
	defer a.Close()

	check, err := a.reindex.Check()
	if err != nil {
		return err
	}

	var failures []string
	progress := func(doc domain.Document, err error) {
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s (%s): [%s] %v", doc.Name, doc.ID, domain.Kind(err), err))
		}
	}

	var result usecase.ReindexResult
	if reindexAll {
		docs, err := a.docs.List("")
		if err != nil {
			return err
		}
		fmt.Printf("Re-ingesting %d documents...\n", len(docs))
		bar := newProgressBar(len(docs), "[cyan]Reindexing[reset]")
		result, err = a.reindex.ReindexAll(cmd.Context(), func(doc domain.Document, err error) {
			bar.Add(1)
			progress(doc, err)
		})
		if err != nil {
			return fmt.Errorf("reindex failed: %w", err)
		}
	} else {
		if check.NeedsReindex {
			fmt.Printf("Note: %s; run `ragchat reindex --all` to re-embed.\n", check.Reason)
		}
		result, err = a.reindex.Rebuild(cmd.Context(), progress)
		if err != nil {
			return fmt.Errorf("rebuild failed: %w", err)
		}
	}

	fmt.Printf("\nReindex complete:\n")
	fmt.Printf("  Documents:  %d\n", result.Documents)
	fmt.Printf("  Reingested: %d\n", result.Reingested)
	fmt.Printf("  Chunks:     %d\n", result.Chunks)
	if len(failures) > 0 {
		fmt.Printf("\nFailures:\n")
		for _, f := range failures {
			fmt.Printf("  - %s\n", f)
		}
		return fmt.Errorf("%d documents failed to ingest", len(result.Failed))
	}
	return nil
}
