package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driving"
)

var (
	askDocuments []string
	askTopK      int
	askSources   bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question about documents",
	Long: `Answers a question using only the content of the given documents.
The answer cites the chunks it was drawn from with their page ranges.
Documents must have completed indexing.`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringArrayVarP(&askDocuments, "doc", "d", nil, "document to ask about (repeatable)")
	askCmd.Flags().IntVarP(&askTopK, "top-k", "k", 0, "number of chunks to retrieve (0 = configured default)")
	askCmd.Flags().BoolVar(&askSources, "sources", false, "print the retrieved chunks")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	if askService == nil {
		return errors.New("ask service not configured")
	}
	if len(askDocuments) == 0 {
		return errors.New("at least one --doc is required")
	}

	question := args[0]
	opts := driving.AskOptions{TopK: askTopK}

	var (
		result *driving.AskResult
		err    error
	)
	if len(askDocuments) == 1 {
		result, err = askService.Ask(cmd.Context(), askDocuments[0], question, opts)
	} else {
		result, err = askService.AskAcross(cmd.Context(), askDocuments, question, opts)
	}
	if err != nil {
		return fmt.Errorf("ask failed: %w", err)
	}

	printAnswer(cmd, result.Answer)

	if askSources && len(result.Sources) > 0 {
		cmd.Println("Sources:")
		for i := range result.Sources {
			s := result.Sources[i]
			cmd.Printf("  [%s] %s (%.2f)\n", s.Chunk.ID, pageLabel(s.Chunk.Pages), s.Score)
			cmd.Printf("      %s\n", truncate(s.Chunk.Content, 160))
		}
	}
	return nil
}

func printAnswer(cmd *cobra.Command, answer *domain.Answer) {
	cmd.Println(answer.Text)
	cmd.Println()
	if answer.Insufficient || len(answer.Citations) == 0 {
		return
	}

	cmd.Println("Citations:")
	for i, c := range answer.Citations {
		cmd.Printf("  [%d] %s, chunk %s\n", i+1, pageLabel(c.Pages), c.ChunkID)
		if c.Start >= 0 && c.End <= len(answer.Text) && c.Start < c.End {
			cmd.Printf("      %q\n", answer.Text[c.Start:c.End])
		}
	}
	cmd.Println()
}

// pageLabel renders a 0-based page range with 1-based page numbers.
func pageLabel(r domain.PageRange) string {
	if r.First == r.Last {
		return fmt.Sprintf("page %d", r.First+1)
	}
	return fmt.Sprintf("pages %d-%d", r.First+1, r.Last+1)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
