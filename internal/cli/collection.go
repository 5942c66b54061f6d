package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"ragchat/internal/domain"
)

var collectionDocs []string

var collectionCmd = &cobra.Command{
	Use:     "collection",
	Aliases: []string{"col"},
	Short:   "Manage named groups of documents used to scope questions",
}

var collectionCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a collection",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(a *app, args []string) error {
		coll, err := a.collections.Create(args[0], owner, collectionDocs)
		if err != nil {
			return err
		}
		fmt.Printf("Created collection %s (%s)\n", coll.Name, coll.ID)
		return nil
	}),
}

var collectionListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List collections",
	Args:  cobra.NoArgs,
	RunE: withApp(func(a *app, args []string) error {
		colls, err := a.collections.List(owner)
		if err != nil {
			return err
		}
		if listJSON {
			if colls == nil {
				colls = []domain.Collection{}
			}
			return printJSON(colls)
		}
		if len(colls) == 0 {
			fmt.Println("No collections.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tDOCUMENTS")
		for _, c := range colls {
			fmt.Fprintf(w, "%s\t%s\t%d\n", c.ID, c.Name, len(c.DocumentIDs))
		}
		return w.Flush()
	}),
}

var collectionRenameCmd = &cobra.Command{
	Use:   "rename <id> <name>",
	Short: "Rename a collection",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(a *app, args []string) error {
		coll, err := a.collections.Rename(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Renamed %s to %s\n", coll.ID, coll.Name)
		return nil
	}),
}

var collectionRemoveCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a collection; its documents are kept",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(a *app, args []string) error {
		if err := a.collections.Delete(args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted collection %s\n", args[0])
		return nil
	}),
}

var collectionAddCmd = &cobra.Command{
	Use:   "add <id> <doc-id>...",
	Short: "Add documents to a collection",
	Args:  cobra.MinimumNArgs(2),
	RunE: withApp(func(a *app, args []string) error {
		coll, err := a.collections.AddDocuments(args[0], args[1:]...)
		if err != nil {
			return err
		}
		fmt.Printf("Collection %s now has %d documents\n", coll.Name, len(coll.DocumentIDs))
		return nil
	}),
}

var collectionDropCmd = &cobra.Command{
	Use:   "remove <id> <doc-id>...",
	Short: "Remove documents from a collection",
	Args:  cobra.MinimumNArgs(2),
	RunE: withApp(func(a *app, args []string) error {
		coll, err := a.collections.RemoveDocuments(args[0], args[1:]...)
		if err != nil {
			return err
		}
		fmt.Printf("Collection %s now has %d documents\n", coll.Name, len(coll.DocumentIDs))
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(collectionCmd)
	collectionCmd.AddCommand(collectionCreateCmd, collectionListCmd, collectionRenameCmd,
		collectionRemoveCmd, collectionAddCmd, collectionDropCmd)
	collectionCreateCmd.Flags().StringSliceVar(&collectionDocs, "doc", nil, "initial member document ids")
	collectionListCmd.Flags().BoolVar(&listJSON, "json", false, "output as JSON")
}

// withApp opens the gateway for the duration of one command.
func withApp(fn func(a *app, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp(GetConfig(), log)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(a, args)
	}
}
