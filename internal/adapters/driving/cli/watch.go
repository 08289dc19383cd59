package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/docintel/internal/adapters/driving/watcher"
	"github.com/custodia-labs/docintel/internal/core/domain"
)

var (
	watchExisting bool
	watchDebounce time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Ingest documents dropped into a directory",
	Long: `Watches a directory and uploads every new PDF or image file as a
document, then runs its pipeline in the background.

Runs until interrupted with Ctrl+C.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchExisting, "existing", false, "also ingest files already in the directory")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", watcher.DefaultDebounce, "quiet period before a file is read")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if documentService == nil || pipelineService == nil {
		return errors.New("document and pipeline services not configured")
	}

	opts := []watcher.Option{
		watcher.WithDebounce(watchDebounce),
		watcher.WithIngestHook(func(doc *domain.Document) {
			cmd.Printf("Ingested %s as %s\n", doc.Title, doc.ID)
		}),
	}
	if watchExisting {
		opts = append(opts, watcher.WithInitialScan())
	}

	cmd.Printf("Watching %s (Ctrl+C to stop)\n", args[0])
	w := watcher.New(args[0], documentService, pipelineService, opts...)
	return w.Run(cmd.Context())
}
