package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/docintel/internal/core/ports/driving"
)

var (
	ingestTitle string
	ingestStart bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]...",
	Short: "Upload a document",
	Long: `Uploads PDF or image files as one document, in page order.

A multi-page PDF is split into one page per PDF page. Use --start to run
the pipeline immediately and wait for it to finish.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestTitle, "title", "t", "", "document title (default: first file name)")
	ingestCmd.Flags().BoolVar(&ingestStart, "start", false, "run the pipeline after upload")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	if documentService == nil {
		return errors.New("document service not configured")
	}

	files := make([]driving.IngestFile, 0, len(args))
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		files = append(files, driving.IngestFile{Name: filepath.Base(path), Data: data})
	}

	doc, err := documentService.Ingest(cmd.Context(), driving.IngestRequest{
		Title: ingestTitle,
		Files: files,
	})
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	cmd.Printf("Uploaded %s (%d pages)\n", doc.ID, len(doc.Pages))
	cmd.Printf("  Title: %s\n", doc.Title)

	if !ingestStart {
		cmd.Printf("\nRun 'docintel pipeline start %s' to process it.\n", doc.ID)
		return nil
	}

	if pipelineService == nil {
		return errors.New("pipeline service not configured")
	}
	cmd.Println()
	return runWithProgress(cmd, pipelineService, doc.ID, func(ctx context.Context) error {
		return pipelineService.Start(ctx, doc.ID)
	})
}
