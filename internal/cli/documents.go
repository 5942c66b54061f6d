package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"ragchat/internal/domain"
)

var listJSON bool

var statusCmd = &cobra.Command{
	Use:   "status [id]",
	Short: "Show index health or one document's ingestion status",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List documents",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var rmCmd = &cobra.Command{
	Use:   "rm <id>...",
	Short: "Delete documents and their chunks",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRemove,
}

func init() {
	rootCmd.AddCommand(statusCmd, lsCmd, rmCmd)
	lsCmd.Flags().BoolVar(&listJSON, "json", false, "output as JSON")
	statusCmd.Flags().BoolVar(&listJSON, "json", false, "output as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp(GetConfig(), log)
	if err != nil {
		return err
	}
	defer a.Close()

	if len(args) == 1 {
		doc, err := a.docs.Get(args[0])
		if err != nil {
			return err
		}
		if listJSON {
			return printJSON(doc)
		}
		fmt.Printf("Document:  %s\n", doc.ID)
		fmt.Printf("  Name:     %s\n", doc.Name)
		fmt.Printf("  Format:   %s (%d bytes)\n", doc.Format, doc.Size)
		fmt.Printf("  Status:   %s\n", doc.Status)
		fmt.Printf("  Chunks:   %d\n", doc.ChunkCount)
		fmt.Printf("  Attempts: %d\n", doc.Attempts)
		if doc.Status == domain.StatusFailed {
			fmt.Printf("  Error:    [%s] %s\n", doc.ErrorKind, doc.ErrorMessage)
		}
		return nil
	}

	docs, err := a.docs.List(owner)
	if err != nil {
		return err
	}
	counts := make(map[domain.Status]int)
	for _, doc := range docs {
		counts[doc.Status]++
	}
	check, err := a.reindex.Check()
	if err != nil {
		return err
	}

	if listJSON {
		return printJSON(map[string]any{
			"documents":     len(docs),
			"by_status":     counts,
			"chunks":        a.vectors.Count(),
			"dimension":     a.vectors.Dimension(),
			"needs_reindex": check.NeedsReindex,
		})
	}
	fmt.Printf("Database:   %s\n", a.cfg.Storage.Path)
	fmt.Printf("Documents:  %d (ready %d, pending %d, processing %d, failed %d)\n", len(docs),
		counts[domain.StatusReady], counts[domain.StatusPending], counts[domain.StatusProcessing], counts[domain.StatusFailed])
	fmt.Printf("Chunks:     %d\n", a.vectors.Count())
	fmt.Printf("Dimension:  %d\n", a.vectors.Dimension())
	fmt.Printf("Embedding:  %s/%s\n", a.cfg.Embedding.Provider, a.cfg.Embedding.Model)
	switch {
	case check.NeedsReindex:
		fmt.Printf("\nReindex required: %s. Run `ragchat reindex --all`.\n", check.Reason)
	case check.NeedsMigration:
		fmt.Printf("\nSchema migration pending: %s\n", check.Reason)
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := openApp(GetConfig(), log)
	if err != nil {
		return err
	}
	defer a.Close()

	docs, err := a.docs.List(owner)
	if err != nil {
		return err
	}
	if listJSON {
		if docs == nil {
			docs = []domain.Document{}
		}
		return printJSON(docs)
	}
	if len(docs) == 0 {
		fmt.Println("No documents.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tCHUNKS\tUPDATED")
	for _, doc := range docs {
		status := string(doc.Status)
		if doc.Status == domain.StatusFailed {
			status += " (" + doc.ErrorKind + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", doc.ID, doc.Name, status, doc.ChunkCount, doc.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runRemove(cmd *cobra.Command, args []string) error {
	a, err := openApp(GetConfig(), log)
	if err != nil {
		return err
	}
	defer a.Close()

	for _, id := range args {
		if err := a.docs.Delete(id); err != nil {
			return fmt.Errorf("delete %s: %w", id, err)
		}
		fmt.Printf("Deleted %s\n", id)
	}
	return nil
}

func printJSON(v any) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(output))
	return nil
}
