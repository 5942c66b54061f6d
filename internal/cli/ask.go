package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"ragchat/internal/domain"
	"ragchat/internal/usecase"
)

var (
	askStream     bool
	askDocs       []string
	askCollection string
	askTopK       int
	askThreshold  float64
	askModel      string
	askJSON       bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question from the ingested documents",
	Long: `Retrieve the passages most similar to the question, send them to the
completion API and print the answer with its citations.

Examples:
  ragchat ask "what is the refund policy?"
  ragchat ask "summarize the contract" --doc 3f1c... --stream
  ragchat ask "deadlines?" --collection papers -k 8 --threshold 0.3`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().BoolVar(&askStream, "stream", false, "print the answer as it is generated")
	askCmd.Flags().StringSliceVar(&askDocs, "doc", nil, "restrict retrieval to these document ids")
	askCmd.Flags().StringVar(&askCollection, "collection", "", "restrict retrieval to a collection")
	askCmd.Flags().IntVarP(&askTopK, "top-k", "k", 0, "number of passages to retrieve (default from config)")
	askCmd.Flags().Float64Var(&askThreshold, "threshold", 0, "minimum similarity score (default from config)")
	askCmd.Flags().StringVar(&askModel, "model", "", "completion model or alias (default from config)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output as JSON")
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	a, err := openApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	req := usecase.ChatRequest{
		Query: domain.QueryRequest{
			Text:  strings.Join(args, " "),
			Scope: domain.Scope{DocumentIDs: askDocs, CollectionID: askCollection},
			TopK:  askTopK,
		},
		Model: cfg.Completion.ResolveModel(askModel),
	}
	if cmd.Flags().Changed("threshold") {
		req.Query.Threshold = &askThreshold
	}

	if !askStream || askJSON {
		answer, err := a.chat.Answer(cmd.Context(), req)
		if err != nil {
			return err
		}
		if askJSON {
			return printJSON(answer)
		}
		fmt.Println(answer.Text)
		printCitations(answer.Citations)
		return nil
	}

	stream, err := a.chat.AnswerStream(cmd.Context(), req)
	if err != nil {
		return err
	}
	defer stream.Close()
	for {
		part, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fmt.Println()
			return err
		}
		fmt.Print(part)
	}
	fmt.Println()
	printCitations(stream.Citations)
	return nil
}

func printCitations(citations []domain.Citation) {
	if len(citations) == 0 {
		return
	}
	fmt.Printf("\nSources:\n")
	for i, c := range citations {
		fmt.Printf("  [%d] %s", i+1, c.DocumentName)
		if c.Page > 0 {
			fmt.Printf(", page %d", c.Page)
		}
		fmt.Printf(" (score: %.2f)\n", c.Score)
	}
}
