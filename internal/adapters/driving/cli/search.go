package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/docintel/internal/core/domain"
)

var (
	searchFuzzy    bool
	searchDistance int
	searchJSON     bool
)

var searchCmd = &cobra.Command{
	Use:   "search [doc-id] [keyword]",
	Short: "Search a document by keyword",
	Long: `Finds a keyword or phrase in the recognised text of a document.
Matching is case-insensitive. With --fuzzy, words within an edit distance
of the keyword also match, which tolerates OCR misspellings.`,
	Args: cobra.ExactArgs(2),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().BoolVarP(&searchFuzzy, "fuzzy", "f", false, "tolerate misspellings")
	searchCmd.Flags().IntVarP(&searchDistance, "distance", "d", 0, "fuzzy edit distance (default: configured search.fuzzy_distance)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	if searchService == nil {
		return errors.New("search service not configured")
	}

	opts := domain.SearchOptions{Fuzzy: searchFuzzy}
	if cmd.Flags().Changed("distance") {
		opts.MaxDistance = domain.Distance(searchDistance)
	}

	matches, err := searchService.Search(cmd.Context(), args[0], args[1], opts)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		return outputSearchJSON(cmd, matches)
	}

	return outputSearchTable(cmd, matches)
}

func outputSearchJSON(cmd *cobra.Command, matches []domain.Match) error {
	data, err := json.MarshalIndent(matches, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func outputSearchTable(cmd *cobra.Command, matches []domain.Match) error {
	if len(matches) == 0 {
		cmd.Println("No matches found.")
		return nil
	}

	cmd.Println("Matches:")
	cmd.Println()
	for i := range matches {
		m := matches[i]
		// Format: [N] Page P, offset S-E (distance D)
		cmd.Printf("  [%d] Page %d, offset %d-%d", i+1, m.PageIndex+1, m.Span.Start, m.Span.End)
		if m.Distance > 0 {
			cmd.Printf(" (distance %d)", m.Distance)
		}
		cmd.Println()
		if m.Snippet != "" {
			cmd.Printf("      %s\n", m.Snippet)
		}
		cmd.Println()
	}

	cmd.Printf("Total: %d matches\n", len(matches))
	return nil
}
