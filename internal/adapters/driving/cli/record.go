package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/docintel/internal/core/domain"
)

var (
	recordJSON bool
	recordOut  string
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "View and export extracted records",
	Long:  `Show the structured fields extracted from a document, or export them as a spreadsheet.`,
}

var recordShowCmd = &cobra.Command{
	Use:   "show [doc-id]",
	Short: "Show the extracted record",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecordShow,
}

var recordExportCmd = &cobra.Command{
	Use:   "export [doc-id]",
	Short: "Export the record as an XLSX workbook",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecordExport,
}

func init() {
	recordShowCmd.Flags().BoolVar(&recordJSON, "json", false, "output the record as JSON")
	recordExportCmd.Flags().StringVarP(&recordOut, "out", "o", "", "output file (default: <doc-id>.xlsx)")
	recordCmd.AddCommand(recordShowCmd)
	recordCmd.AddCommand(recordExportCmd)
	rootCmd.AddCommand(recordCmd)
}

func runRecordShow(cmd *cobra.Command, args []string) error {
	if recordService == nil {
		return errors.New("record service not configured")
	}

	rec, err := recordService.Get(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get record: %w", err)
	}

	if recordJSON {
		data, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Printf("Record: %s\n", rec.DocumentID)
	cmd.Printf("  Run:     %s (%s)\n", rec.RunID, rec.Backend)
	cmd.Printf("  Schema:  %s\n", rec.Schema)
	cmd.Printf("  Created: %s\n", rec.CreatedAt.Format(timeLayout))

	cmd.Println("\n  Fields:")
	names := make([]string, 0, len(rec.Fields))
	for name := range rec.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cmd.Printf("    %-24s %s\n", name, formatField(rec.Fields[name]))
	}

	if len(rec.Rows) > 0 {
		cmd.Printf("\n  Rows (%d):\n", len(rec.Rows))
		for i, row := range rec.Rows {
			cmd.Printf("    [%d] %s\n", i+1, formatRow(row))
		}
	}
	if len(rec.People) > 0 {
		cmd.Printf("\n  Other people (%d):\n", len(rec.People))
		for i, person := range rec.People {
			cmd.Printf("    [%d] %s\n", i+1, formatRow(person))
		}
	}
	return nil
}

func runRecordExport(cmd *cobra.Command, args []string) error {
	if recordService == nil {
		return errors.New("record service not configured")
	}

	docID := args[0]
	out := recordOut
	if out == "" {
		out = docID + ".xlsx"
	}

	f, err := os.Create(filepath.Clean(out))
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", out, err)
	}

	if err := recordService.Export(cmd.Context(), docID, f); err != nil {
		_ = f.Close()
		_ = os.Remove(out)
		return fmt.Errorf("export failed: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}

	cmd.Printf("Exported record of %s to %s\n", docID, out)
	return nil
}

func formatField(v domain.FieldValue) string {
	s := fmt.Sprintf("%v", v.Value)
	if v.Value == nil {
		s = "-"
	}
	if v.Confidence != "" {
		s += fmt.Sprintf(" [%s]", v.Confidence)
	}
	if !v.Valid && v.Issue != "" {
		s += " (invalid: " + v.Issue + ")"
	}
	return s
}

func formatRow(row domain.Row) string {
	cols := make([]string, 0, len(row.Values))
	for name := range row.Values {
		cols = append(cols, name)
	}
	sort.Strings(cols)

	parts := make([]string, 0, len(cols))
	for _, name := range cols {
		parts = append(parts, fmt.Sprintf("%s=%v", name, row.Values[name].Value))
	}
	return strings.Join(parts, ", ")
}
