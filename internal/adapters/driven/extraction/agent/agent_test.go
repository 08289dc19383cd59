package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
)

// scriptedLLM returns replies in order and records prompts.
type scriptedLLM struct {
	replies []string
	err     error
	prompts []string
	opts    []driven.GenerateOptions
}

func (s *scriptedLLM) Generate(_ context.Context, prompt string, opts driven.GenerateOptions) (string, error) {
	s.prompts = append(s.prompts, prompt)
	s.opts = append(s.opts, opts)
	if s.err != nil {
		return "", s.err
	}
	if len(s.replies) == 0 {
		return "", errors.New("no scripted reply")
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r, nil
}

func (s *scriptedLLM) Chat(context.Context, []driven.ChatMessage, driven.ChatOptions) (string, error) {
	return "", errors.New("unused")
}
func (s *scriptedLLM) ModelName() string          { return "scripted" }
func (s *scriptedLLM) Ping(context.Context) error { return nil }
func (s *scriptedLLM) Close() error               { return nil }

const docText = "## Page 1\n\nPatient: Jane Doe\n\n## Page 2\n\nGlucose 7.9 mmol/L (3.9 - 5.5)\nSodium 140 mmol/L (135 - 145)"

const extractionReply = `{"fields": {"patient_first_name": {"value": "Jane", "page": 1}},
 "rows": [
  {"test": {"value": "Glucose", "page": 2}, "result": {"value": 7.9, "page": 2}, "interval": {"value": "3.9 - 5.5", "page": 2}},
  {"test": {"value": "Sodium", "page": 2}, "result": {"value": 140, "page": 2}, "interval": {"value": "135 - 145", "page": 2}}
 ]}`

func request() driven.ExtractionRequest {
	return driven.ExtractionRequest{DocumentID: "doc-1", Text: docText, Schema: domain.MedicalReportSchema()}
}

func TestBackend_TwoSteps(t *testing.T) {
	llm := &scriptedLLM{replies: []string{extractionReply, `{"observations": ["high", "normal"]}`}}
	b := New(llm)

	rec, err := b.Extract(context.Background(), request())
	require.NoError(t, err)

	require.Len(t, llm.prompts, 2)
	assert.Contains(t, llm.prompts[0], "Glucose 7.9")
	assert.Contains(t, llm.prompts[0], "patient_first_name")
	assert.Contains(t, llm.prompts[1], `"test": "Glucose"`)
	assert.True(t, llm.opts[0].JSON)

	assert.Equal(t, "Jane", rec.Fields["patient_first_name"].Value)
	require.Len(t, rec.Rows, 2)
	assert.Equal(t, "high", rec.Rows[0].Values[ObservationColumn].Value)
	assert.Equal(t, 1, rec.Rows[0].Values[ObservationColumn].Provenance.Page)
	assert.Equal(t, "normal", rec.Rows[1].Values[ObservationColumn].Value)
	assert.Equal(t, "agent", b.Name())
}

func TestBackend_SkipsObservationWithoutRows(t *testing.T) {
	llm := &scriptedLLM{replies: []string{`{"fields": {"patient_first_name": {"value": "Jane", "page": 1}}, "rows": []}`}}

	rec, err := New(llm).Extract(context.Background(), request())
	require.NoError(t, err)
	assert.Len(t, llm.prompts, 1)
	assert.Empty(t, rec.Rows)
}

func TestBackend_ObservationCountMismatch(t *testing.T) {
	llm := &scriptedLLM{replies: []string{extractionReply, `{"observations": ["high"]}`}}

	rec, err := New(llm).Extract(context.Background(), request())
	require.NoError(t, err)
	for _, row := range rec.Rows {
		_, ok := row.Values[ObservationColumn]
		assert.False(t, ok)
	}
}

func TestBackend_Errors(t *testing.T) {
	t.Run("malformed extraction", func(t *testing.T) {
		_, err := New(&scriptedLLM{replies: []string{"sorry"}}).Extract(context.Background(), request())
		var ee *domain.ExtractionError
		require.ErrorAs(t, err, &ee)
		assert.True(t, strings.Contains(ee.Message, "malformed"))
	})

	t.Run("provider failure keeps classification", func(t *testing.T) {
		perr := &domain.ProviderError{Provider: "openai", Op: "generate", Err: errors.New("bad key"), Permanent: true}
		_, err := New(&scriptedLLM{err: perr}).Extract(context.Background(), request())
		assert.False(t, domain.IsRetryable(err))
	})

	t.Run("malformed observation", func(t *testing.T) {
		_, err := New(&scriptedLLM{replies: []string{extractionReply, "nope"}}).Extract(context.Background(), request())
		var ee *domain.ExtractionError
		require.ErrorAs(t, err, &ee)
	})
}

type stubPrompts map[string]string

func (s stubPrompts) Load(name string) (string, error) { return s[name], nil }
func (s stubPrompts) Reload()                          {}

func TestBackend_PromptStore(t *testing.T) {
	llm := &scriptedLLM{replies: []string{`{"fields": {}}`}}
	b := New(llm)
	b.SetPromptStore(stubPrompts{driven.PromptExtractionAgent: "CUSTOM %s | %s"})

	_, err := b.Extract(context.Background(), request())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(llm.prompts[0], "CUSTOM Fields:"))
}
