// Package cli provides the docintel command line interface.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/docintel/internal/core/ports/driving"
	"github.com/custodia-labs/docintel/internal/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

var verbose bool

// Services configured by the composition root.
var (
	documentService driving.DocumentService
	pipelineService driving.PipelineService
	searchService   driving.KeywordSearchService
	askService      driving.AskService
	recordService   driving.RecordService
	settingsService driving.SettingsService
)

// Services holds the driving ports used by the commands.
type Services struct {
	Document driving.DocumentService
	Pipeline driving.PipelineService
	Search   driving.KeywordSearchService
	Ask      driving.AskService
	Record   driving.RecordService
	Settings driving.SettingsService
}

var rootCmd = &cobra.Command{
	Use:   "docintel",
	Short: "Document intelligence pipeline",
	Long: `docintel turns scanned documents into searchable, queryable records.

Uploaded PDFs and page images go through OCR, chunk indexing and structured
extraction. Documents can then be searched by keyword, asked questions with
cited answers, and exported as spreadsheets.`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		if verbose {
			logger.SetVerbose(true)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// SetServices wires the driving ports into the commands.
func SetServices(s Services) {
	documentService = s.Document
	pipelineService = s.Pipeline
	searchService = s.Search
	askService = s.Ask
	recordService = s.Record
	settingsService = s.Settings
}

// SetVersion sets the version reported by the version command.
func SetVersion(v string) {
	if v != "" {
		version = v
	}
}

// Execute runs the root command. Cancelling ctx stops long running commands.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
