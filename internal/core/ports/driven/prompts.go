package driven

// PromptStore provides access to LLM prompt templates.
// Implementations may load prompts from files or fall back to defaults
// embedded in the binary.
type PromptStore interface {
	// Load returns the prompt template for the given name.
	Load(name string) (string, error)

	// Reload clears any cached prompts, forcing fresh loads on next access.
	Reload()
}

// Well-known prompt names used throughout the application.
const (
	// PromptAnswer grounds an answer in numbered sources.
	// Placeholders: %s (numbered sources), %s (question).
	PromptAnswer = "answer"

	// PromptExtractionAgent asks for demographics and lab rows as JSON.
	// Placeholders: %s (schema description), %s (document text).
	PromptExtractionAgent = "extraction_agent"

	// PromptObservationAgent annotates lab rows with an observation.
	// Placeholder: %s (rows as JSON).
	PromptObservationAgent = "observation_agent"

	// PromptSinglePass asks for the whole record in one response.
	// Placeholders: %s (schema description), %s (document text).
	PromptSinglePass = "single_pass"

	// PromptVisionOCR instructs a vision model to transcribe a page.
	// This prompt has no format placeholders.
	PromptVisionOCR = "vision_ocr"
)

// PromptStoreAware is an optional interface for services that can use custom prompts.
type PromptStoreAware interface {
	// SetPromptStore sets the prompt store for loading customisable prompts.
	// If not set, the service should use hardcoded default prompts.
	SetPromptStore(store PromptStore)
}

// DefaultPrompts are the built-in templates used when no PromptStore is
// configured or a prompt file is missing.
//
//nolint:lll // Prompt content is intentionally long and should not be wrapped.
var DefaultPrompts = map[string]string{
	PromptAnswer: `You answer questions about a scanned medical document using only the numbered sources below.
Cite every statement with the number of the source it comes from, in square brackets, for example [1] or [2, 3].
If the sources do not contain the answer, reply with exactly INSUFFICIENT_CONTEXT and nothing else.

Sources:
%s

Question: %s
Answer:`,

	PromptExtractionAgent: `You are an extraction agent for medical laboratory reports.
Extract the patient demographics and every lab test result from the document.
Pages are marked with "## Page N" headings; report the page number each value came from.

Fields and columns:
%s

Respond with a single JSON object of this shape and nothing else:
{"fields": {"<field>": {"value": <value or null>, "page": <page number>}},
 "rows": [{"<column>": {"value": <value>, "page": <page number>}}],
 "people": [{"<field>": {"value": <value or null>, "page": <page number>}}]}
Leave "people" empty unless the report names more than one patient.
Use numbers for numeric results, dates as YYYY-MM-DD, and null for missing values.

Document:
%s`,

	PromptObservationAgent: `You are an observation agent. For each lab test row below, compare the result with its reference interval
and set "observation" to one of "low", "normal", "high" or "unknown" when there is no interval.

Rows:
%s

Respond with a JSON object {"observations": ["<observation for row 0>", "<observation for row 1>", ...]} with one entry per row and nothing else.`,

	PromptSinglePass: `Extract the following fields and table columns from the medical document in one pass.
Pages are marked with "## Page N" headings.

Fields and columns:
%s

Respond with a single JSON object and nothing else:
{"fields": {"<field>": {"value": <value or null>, "page": <page number>, "confidence": "high|medium|low"}},
 "rows": [{"<column>": {"value": <value>, "page": <page number>}}],
 "people": [{"<field>": {"value": <value or null>, "page": <page number>}}]}
List further patients in "people" only when the document names more than one.
For each row, set "observation" to "low", "normal", "high" or "unknown" by comparing the result with the interval.

Document:
%s`,

	PromptVisionOCR: `Transcribe all text on this scanned page exactly as printed, in reading order.
Respond with a JSON object {"words": [{"text": "...", "line": 0, "x": 0, "y": 0, "width": 0, "height": 0}]}
listing every word with its 0-based line number and its bounding box in pixels from the top left corner of the image, and nothing else.`,
}
