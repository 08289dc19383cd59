package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/docintel/internal/core/domain"
)

// stdin is the source of interactive answers.
var stdin io.Reader = os.Stdin

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage application settings",
	Long: `View and configure AI providers, OCR, extraction and other options.

Pipeline tuning such as chunk size, top_k and retry policy is read from
config.toml in the data directory.`,
	RunE: runSettingsShow,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings",
	RunE:  runSettingsShow,
}

var settingsEmbeddingCmd = &cobra.Command{
	Use:   "embedding",
	Short: "Configure embedding provider",
	Long:  `Configure the embedding provider used to index document chunks.`,
	RunE:  runSettingsEmbedding,
}

var settingsLLMCmd = &cobra.Command{
	Use:   "llm",
	Short: "Configure LLM provider",
	Long:  `Configure the LLM provider used for answers and structured extraction.`,
	RunE:  runSettingsLLM,
}

var settingsVertexCmd = &cobra.Command{
	Use:   "vertex",
	Short: "Configure Google Vertex AI",
	Long: `Configure the Google Cloud project and region used by the Vertex OCR
backend and the Vertex LLM provider. Credentials come from Application
Default Credentials (gcloud auth application-default login).`,
	RunE: runSettingsVertex,
}

var settingsOCRCmd = &cobra.Command{
	Use:   "ocr",
	Short: "Select OCR backend",
	Long: `Select the text extraction backend.

Available backends:
  tesseract - Local tesseract engine (requires the tesseract binary)
  vertex    - Gemini vision model on Vertex AI (requires vertex settings)`,
	RunE: runSettingsOCR,
}

var settingsExtractionCmd = &cobra.Command{
	Use:   "extraction",
	Short: "Select extraction strategy",
	Long: `Select how structured records are extracted.

Available strategies:
  agent       - Extraction pass followed by a confidence review pass
  single_pass - One prompt for the whole record`,
	RunE: runSettingsExtraction,
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsEmbeddingCmd)
	settingsCmd.AddCommand(settingsLLMCmd)
	settingsCmd.AddCommand(settingsVertexCmd)
	settingsCmd.AddCommand(settingsOCRCmd)
	settingsCmd.AddCommand(settingsExtractionCmd)
	rootCmd.AddCommand(settingsCmd)
}

func runSettingsShow(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	settings, err := settingsService.Get()
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}
	p := settings.Pipeline

	cmd.Println("Current Settings")
	cmd.Println("================")
	cmd.Println()

	cmd.Println("[Pipeline]")
	cmd.Printf("  Chunk window: %d tokens (overlap %d)\n", p.Chunk.WindowSize, p.Chunk.Overlap)
	cmd.Printf("  Retrieval: top %d, %s, threshold %.2f\n",
		p.Retrieval.TopK, p.Retrieval.Metric, p.Retrieval.SimilarityThreshold)
	cmd.Printf("  OCR: %s, concurrency %d, failure budget %.0f%%\n",
		p.OCR.Backend, p.OCR.Concurrency, p.OCR.FailureBudget*100)
	cmd.Printf("  Retry: %d attempts, backoff %s, timeout %s\n",
		p.Retry.Attempts, p.Retry.Backoff, p.Retry.CallTimeout)
	cmd.Printf("  Keyword search: fuzzy distance %d\n", p.Keyword.FuzzyDistance)
	cmd.Printf("  Extraction: %s\n", p.Extraction.Strategy)
	cmd.Println()

	cmd.Println("[Embedding]")
	cmd.Printf("  Provider: %s\n", settings.Embedding.Provider.Description())
	cmd.Printf("  Model: %s\n", settings.Embedding.Model)
	if settings.Embedding.Provider.IsLocal() {
		cmd.Printf("  Base URL: %s\n", settings.Embedding.BaseURL)
	}
	if settings.Embedding.Provider.RequiresAPIKey() {
		cmd.Printf("  API Key: %s\n", displayKey(settings.Embedding.APIKey))
	}
	cmd.Printf("  Status: %s\n", configuredLabel(settings.Embedding.IsConfigured()))
	cmd.Println()

	cmd.Println("[LLM]")
	cmd.Printf("  Provider: %s\n", settings.LLM.Provider.Description())
	cmd.Printf("  Model: %s\n", settings.LLM.Model)
	if settings.LLM.Provider.IsLocal() {
		cmd.Printf("  Base URL: %s\n", settings.LLM.BaseURL)
	}
	if settings.LLM.Provider.RequiresAPIKey() {
		cmd.Printf("  API Key: %s\n", displayKey(settings.LLM.APIKey))
	}
	cmd.Printf("  Status: %s\n", configuredLabel(settings.LLM.IsConfigured()))
	cmd.Println()

	cmd.Println("[Vertex]")
	project := settings.Vertex.Project
	if project == "" {
		project = "(not set)"
	}
	cmd.Printf("  Project: %s\n", project)
	cmd.Printf("  Region: %s\n", settings.Vertex.Region)
	cmd.Printf("  OCR model: %s\n", settings.Vertex.OCRModel)
	if settings.Vertex.CredentialsFile != "" {
		cmd.Printf("  Credentials: %s\n", settings.Vertex.CredentialsFile)
	}
	cmd.Println()

	if err := settingsService.Validate(settings); err != nil {
		cmd.Printf("Warning: %v\n", err)
		cmd.Println("Run 'docintel settings' subcommands to fix configuration issues.")
	} else {
		cmd.Println("Configuration is valid.")
	}

	return nil
}

func runSettingsEmbedding(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	return configureProvider(cmd, bufio.NewReader(stdin), providerPrompt{
		kind:      "Embedding",
		providers: domain.AllEmbeddingProviders(),
		defaults:  domain.DefaultEmbeddingModels(),
		set:       settingsService.SetEmbeddingProvider,
	})
}

func runSettingsLLM(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	return configureProvider(cmd, bufio.NewReader(stdin), providerPrompt{
		kind:      "LLM",
		providers: domain.AllLLMProviders(),
		defaults:  domain.DefaultLLMModels(),
		set:       settingsService.SetLLMProvider,
	})
}

func runSettingsVertex(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	settings, err := settingsService.Get()
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}

	reader := bufio.NewReader(stdin)
	cmd.Printf("Enter GCP project [%s]: ", settings.Vertex.Project)
	if v := readLine(reader); v != "" {
		settings.Vertex.Project = v
	}
	cmd.Printf("Enter region [%s]: ", settings.Vertex.Region)
	if v := readLine(reader); v != "" {
		settings.Vertex.Region = v
	}
	cmd.Printf("Enter OCR model [%s]: ", settings.Vertex.OCRModel)
	if v := readLine(reader); v != "" {
		settings.Vertex.OCRModel = v
	}
	cmd.Printf("Enter credentials file (empty for application default) [%s]: ", settings.Vertex.CredentialsFile)
	if v := readLine(reader); v != "" {
		settings.Vertex.CredentialsFile = v
	}

	if settings.Vertex.Project == "" {
		return errors.New("project is required")
	}
	if err := settingsService.Save(settings); err != nil {
		return fmt.Errorf("failed to save vertex settings: %w", err)
	}

	cmd.Printf("Vertex configured: %s (%s)\n", settings.Vertex.Project, settings.Vertex.Region)
	return nil
}

func runSettingsOCR(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	backends := []domain.OCRBackend{domain.OCRBackendTesseract, domain.OCRBackendVertex}
	names := make([]string, len(backends))
	for i, b := range backends {
		names[i] = string(b)
	}

	idx, err := promptChoice(cmd, bufio.NewReader(stdin), "Select OCR Backend", names)
	if err != nil {
		return err
	}

	return updateSettings(func(s *domain.AppSettings) {
		s.Pipeline.OCR.Backend = backends[idx]
	}, cmd, "OCR backend set to: "+names[idx])
}

func runSettingsExtraction(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	strategies := []domain.ExtractionStrategy{domain.ExtractionAgent, domain.ExtractionSinglePass}
	names := make([]string, len(strategies))
	for i, s := range strategies {
		names[i] = string(s)
	}

	idx, err := promptChoice(cmd, bufio.NewReader(stdin), "Select Extraction Strategy", names)
	if err != nil {
		return err
	}

	return updateSettings(func(s *domain.AppSettings) {
		s.Pipeline.Extraction.Strategy = strategies[idx]
	}, cmd, "Extraction strategy set to: "+names[idx])
}

// providerPrompt describes an interactive provider configuration.
type providerPrompt struct {
	kind      string
	providers []domain.AIProvider
	defaults  map[domain.AIProvider]string
	set       func(provider domain.AIProvider, model, apiKey string) error
}

func configureProvider(cmd *cobra.Command, reader *bufio.Reader, p providerPrompt) error {
	cmd.Printf("Select %s Provider\n", p.kind)
	for i, provider := range p.providers {
		cmd.Printf("  %d. %s\n", i+1, provider.Description())
	}
	cmd.Print("\nEnter choice [1]: ")
	input := readLine(reader)
	idx := parseChoice(input, len(p.providers), 1)
	selectedProvider := p.providers[idx-1]

	// Get model
	defaultModel := p.defaults[selectedProvider]
	cmd.Printf("Enter model name [%s]: ", defaultModel)
	model := readLine(reader)
	if model == "" {
		model = defaultModel
	}

	// Get API key if needed
	var apiKey string
	if selectedProvider.RequiresAPIKey() {
		cmd.Print("Enter API key: ")
		apiKey = readPassword(reader)
		cmd.Println()
		if apiKey == "" {
			return errors.New("API key is required for this provider")
		}
	}

	if err := p.set(selectedProvider, model, apiKey); err != nil {
		return fmt.Errorf("failed to configure %s provider: %w", strings.ToLower(p.kind), err)
	}

	// Validate the configuration by pinging the service
	cmd.Print("Validating configuration... ")
	if err := settingsService.ValidateProviders(); err != nil {
		cmd.Printf("FAILED: %v\n", err)
		return fmt.Errorf("%s configuration validation failed: %w", strings.ToLower(p.kind), err)
	}
	cmd.Println("OK")

	cmd.Printf("%s provider configured: %s (%s)\n\n", p.kind, selectedProvider.Description(), model)
	return nil
}

func promptChoice(cmd *cobra.Command, reader *bufio.Reader, title string, options []string) (int, error) {
	cmd.Println(title)
	cmd.Println(strings.Repeat("-", len(title)))
	for i, o := range options {
		cmd.Printf("  %d. %s\n", i+1, o)
	}
	cmd.Print("\nEnter choice: ")
	idx := parseChoice(readLine(reader), len(options), 0)
	if idx == 0 {
		return 0, errors.New("invalid selection")
	}
	return idx - 1, nil
}

func updateSettings(apply func(*domain.AppSettings), cmd *cobra.Command, done string) error {
	settings, err := settingsService.Get()
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}
	apply(settings)
	if err := settingsService.Validate(settings); err != nil {
		return err
	}
	if err := settingsService.Save(settings); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	cmd.Println(done)
	return nil
}

// Helper functions.

//nolint:errcheck // CLI helper, error ignored for UX
func readLine(reader *bufio.Reader) string {
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func parseChoice(input string, maxVal, defaultVal int) int {
	if input == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(input)
	if err != nil || val < 1 || val > maxVal {
		return defaultVal
	}
	return val
}

func readPassword(reader *bufio.Reader) string {
	// Try to read password without echo
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		password, err := term.ReadPassword(int(f.Fd()))
		if err == nil {
			return strings.TrimSpace(string(password))
		}
	}
	// Fallback to regular input
	return readLine(reader)
}

func displayKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	return maskAPIKey(key)
}

func configuredLabel(ok bool) string {
	if ok {
		return "configured"
	}
	return "not configured"
}

func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
