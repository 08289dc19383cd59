package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driving"
)

// progressInterval is how often a running pipeline is polled for progress.
const progressInterval = 500 * time.Millisecond

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run and inspect document pipelines",
	Long: `Drive documents through OCR, indexing and extraction.

A document starts in the uploaded state. Start runs every stage; if a stage
fails, retry resumes the failed stages without redoing completed work.
Rerun repeats a completed indexing or extraction stage, for example after
changing the embedding model or extraction strategy.

Press Ctrl+C to cancel a running pipeline. In-flight work finishes and the
affected stage is marked failed so it can be retried.`,
}

var pipelineStartCmd = &cobra.Command{
	Use:   "start [doc-id]",
	Short: "Run the pipeline for an uploaded document",
	Args:  cobra.ExactArgs(1),
	RunE:  runPipelineStart,
}

var pipelineRetryCmd = &cobra.Command{
	Use:   "retry [doc-id]",
	Short: "Resume the failed stages of a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runPipelineRetry,
}

var pipelineRerunCmd = &cobra.Command{
	Use:   "rerun [doc-id] [stage]",
	Short: "Repeat a completed indexing or extraction stage",
	Args:  cobra.ExactArgs(2),
	RunE:  runPipelineRerun,
}

var pipelineStatusCmd = &cobra.Command{
	Use:   "status [doc-id]",
	Short: "Show pipeline progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runPipelineStatus,
}

var pipelineListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents by pipeline state",
	Args:  cobra.NoArgs,
	RunE:  runPipelineList,
}

func init() {
	pipelineCmd.AddCommand(pipelineStartCmd)
	pipelineCmd.AddCommand(pipelineRetryCmd)
	pipelineCmd.AddCommand(pipelineRerunCmd)
	pipelineCmd.AddCommand(pipelineStatusCmd)
	pipelineCmd.AddCommand(pipelineListCmd)
	rootCmd.AddCommand(pipelineCmd)
}

func runPipelineStart(cmd *cobra.Command, args []string) error {
	if pipelineService == nil {
		return errors.New("pipeline service not configured")
	}

	docID := args[0]
	cmd.Printf("Starting pipeline for %s...\n", docID)
	return runWithProgress(cmd, pipelineService, docID, func(ctx context.Context) error {
		return pipelineService.Start(ctx, docID)
	})
}

func runPipelineRetry(cmd *cobra.Command, args []string) error {
	if pipelineService == nil {
		return errors.New("pipeline service not configured")
	}

	docID := args[0]
	cmd.Printf("Retrying failed stages of %s...\n", docID)
	return runWithProgress(cmd, pipelineService, docID, func(ctx context.Context) error {
		return pipelineService.Retry(ctx, docID)
	})
}

func runPipelineRerun(cmd *cobra.Command, args []string) error {
	if pipelineService == nil {
		return errors.New("pipeline service not configured")
	}

	docID := args[0]
	stage := domain.Stage(args[1])
	if stage != domain.StageIndexing && stage != domain.StageExtraction {
		return fmt.Errorf("invalid stage %q: use %s or %s", args[1], domain.StageIndexing, domain.StageExtraction)
	}

	cmd.Printf("Rerunning %s for %s...\n", stage, docID)
	return runWithProgress(cmd, pipelineService, docID, func(ctx context.Context) error {
		return pipelineService.Rerun(ctx, docID, stage)
	})
}

func runPipelineStatus(cmd *cobra.Command, args []string) error {
	if pipelineService == nil {
		return errors.New("pipeline service not configured")
	}

	status, err := pipelineService.Status(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	printStatus(cmd, status)
	return nil
}

func runPipelineList(cmd *cobra.Command, _ []string) error {
	if documentService == nil {
		return errors.New("document service not configured")
	}

	docs, err := documentService.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}

	if len(docs) == 0 {
		cmd.Println("No documents found.")
		return nil
	}

	cmd.Printf("  %-36s  %-24s  %s\n", "ID", "STATE", "PAGES")
	for i := range docs {
		done, total := docs[i].OCRCoverage()
		cmd.Printf("  %-36s  %-24s  %d/%d\n", docs[i].ID, docs[i].Status.Label(), done, total)
	}
	return nil
}

// runWithProgress runs the pipeline while displaying OCR progress.
// Cancelling the command context cancels the run.
func runWithProgress(
	cmd *cobra.Command,
	pipeline driving.PipelineService,
	docID string,
	run func(ctx context.Context) error,
) error {
	ctx := cmd.Context()
	runCtx := context.WithoutCancel(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(runCtx)
	}()

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	interrupted := ctx.Done()
	lastDone := -1
	for {
		select {
		case err := <-errCh:
			// Print final status (ignore status error - best effort)
			status, statusErr := pipeline.Status(runCtx, docID)
			if lastDone >= 0 {
				cmd.Println()
			}
			if statusErr == nil && status != nil {
				printStatus(cmd, status)
			}
			if err != nil {
				return fmt.Errorf("pipeline failed: %w", err)
			}
			return nil
		case <-interrupted:
			interrupted = nil
			cmd.Println("\nCancelling, waiting for in-flight work...")
			if err := pipeline.Cancel(docID); err != nil && !errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("cancel failed: %w", err)
			}
		case <-ticker.C:
			// Check progress (ignore status error - best effort)
			status, statusErr := pipeline.Status(runCtx, docID)
			if statusErr == nil && status != nil && status.PagesDone != lastDone {
				cmd.Printf("\rOCR %d/%d pages (%s)", status.PagesDone, status.PagesTotal, status.Label)
				lastDone = status.PagesDone
			}
		}
	}
}

func printStatus(cmd *cobra.Command, status *driving.PipelineStatus) {
	cmd.Printf("Document: %s\n", status.DocumentID)
	cmd.Printf("  State:   %s\n", status.Label)
	cmd.Printf("  Pages:   %d/%d recognised\n", status.PagesDone, status.PagesTotal)
	if status.Running {
		cmd.Println("  Running: yes")
	}

	cmd.Println("  Stages:")
	for _, stage := range domain.AllStages() {
		st, ok := status.Stages[stage]
		state := domain.StagePending
		if ok && st.State != "" {
			state = st.State
		}
		cmd.Printf("    %-10s %s\n", stage, state)
	}

	if len(status.Errors) > 0 {
		cmd.Println("  Errors:")
		for _, e := range status.Errors {
			cmd.Printf("    %s: %s\n", e.Stage, e.Message)
		}
	}
}
