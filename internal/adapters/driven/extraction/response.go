// Package extraction holds the prompt and response handling shared by the
// LLM extraction strategies.
package extraction

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
)

var pageMarker = regexp.MustCompile(`(?m)^## Page (\d+)\s*$`)

// Response is the JSON object the extraction prompts ask for.
type Response struct {
	Fields map[string]json.RawMessage   `json:"fields"`
	Rows   []map[string]json.RawMessage `json:"rows"`
	People []map[string]json.RawMessage `json:"people,omitempty"`
}

type cell struct {
	Value      any    `json:"value"`
	Page       *int   `json:"page"`
	Confidence string `json:"confidence"`
}

// DescribeSchema renders the fields and row columns of schema for a prompt.
func DescribeSchema(schema domain.Schema) string {
	var b strings.Builder
	b.WriteString("Fields:\n")
	for _, f := range schema.Fields {
		describeField(&b, f)
	}
	if len(schema.PersonKey) > 0 {
		b.WriteString("When the document names more than one patient, give the first in fields and each further one in people, an array of objects keyed by the same field names.\n")
	}
	if len(schema.RowFields) > 0 {
		b.WriteString("Row columns (one row per table entry):\n")
		for _, f := range schema.RowFields {
			describeField(&b, f)
		}
	}
	return b.String()
}

func describeField(b *strings.Builder, f domain.FieldSpec) {
	fmt.Fprintf(b, "- %s (%s): %s", f.Name, f.Type, f.Description)
	if len(f.Enum) > 0 {
		fmt.Fprintf(b, "; one of %s", strings.Join(f.Enum, ", "))
	}
	if f.Required {
		b.WriteString("; required")
	}
	b.WriteByte('\n')
}

// Decode parses a model reply into resp, tolerating a markdown code fence
// and prose around the outermost JSON object.
func Decode(reply string, resp any) error {
	text := strings.TrimSpace(reply)
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return errors.New("no JSON object in reply")
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(text[start : end+1])))
	if err := dec.Decode(resp); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	return nil
}

// Record converts a decoded response into an unvalidated record. Pages in
// the reply are 1-based as in the "## Page N" markers of text; they are
// stored 0-based, and -1 when missing or not present in text.
func Record(resp Response, text string) *domain.StructuredRecord {
	maxPage := MaxPage(text)
	rec := &domain.StructuredRecord{Fields: make(map[string]domain.FieldValue, len(resp.Fields))}
	for name, raw := range resp.Fields {
		rec.Fields[name] = fieldValue(raw, maxPage)
	}
	for _, r := range resp.Rows {
		rec.Rows = append(rec.Rows, group(r, maxPage))
	}
	for _, p := range resp.People {
		rec.People = append(rec.People, group(p, maxPage))
	}
	return rec
}

func group(values map[string]json.RawMessage, maxPage int) domain.Row {
	row := domain.Row{Values: make(map[string]domain.FieldValue, len(values))}
	for name, raw := range values {
		row.Values[name] = fieldValue(raw, maxPage)
	}
	return row
}

// MaxPage returns the highest 1-based page marker in text, 0 if none.
func MaxPage(text string) int {
	highest := 0
	for _, m := range pageMarker.FindAllStringSubmatch(text, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n > highest {
			highest = n
		}
	}
	return highest
}

func fieldValue(raw json.RawMessage, maxPage int) domain.FieldValue {
	fv := domain.FieldValue{Provenance: domain.Provenance{Page: -1}}

	var c cell
	if err := json.Unmarshal(raw, &c); err == nil && isObject(raw) {
		fv.Value = c.Value
		fv.Confidence = confidence(c.Confidence)
		if c.Page != nil && *c.Page >= 1 && *c.Page <= maxPage {
			fv.Provenance.Page = *c.Page - 1
		}
		return fv
	}

	var scalar any
	if err := json.Unmarshal(raw, &scalar); err == nil {
		fv.Value = scalar
	}
	return fv
}

func isObject(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && t[0] == '{'
}

func confidence(s string) domain.Confidence {
	switch c := domain.Confidence(strings.ToLower(strings.TrimSpace(s))); c {
	case domain.ConfidenceHigh, domain.ConfidenceMedium, domain.ConfidenceLow:
		return c
	}
	return ""
}

// LoadPrompt returns the named prompt from store, or the built-in default.
func LoadPrompt(store driven.PromptStore, name string) string {
	if store != nil {
		if p, err := store.Load(name); err == nil && p != "" {
			return p
		}
	}
	return driven.DefaultPrompts[name]
}

// Failed wraps a backend failure. Provider errors pass through untouched
// so their retry classification survives.
func Failed(backend, message string, err error) error {
	var perr *domain.ProviderError
	if errors.As(err, &perr) {
		return err
	}
	return &domain.ExtractionError{Backend: backend, Message: message, Err: err}
}
