package vertex

import (
	"context"
	"testing"

	"cloud.google.com/go/vertexai/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	gemini "github.com/custodia-labs/docintel/internal/adapters/driven/vertex"
	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
)

type fakeGenerator struct {
	requests []gemini.Request
	reply    string
	err      error
}

func (f *fakeGenerator) Generate(_ context.Context, _ string, req gemini.Request) (*genai.GenerateContentResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []genai.Part{genai.Text(f.reply)}}}},
	}, nil
}

type stubPrompts struct{ prompt string }

func (s stubPrompts) Load(string) (string, error) { return s.prompt, nil }
func (s stubPrompts) Reload()                     {}

const wordsJSON = `{"words":[
 {"text":"Haemoglobin","line":0,"x":10,"y":20,"width":120,"height":18},
 {"text":"135","line":0,"x":140,"y":20,"width":40,"height":18},
 {"text":"g/L","line":1,"x":10,"y":50,"width":30,"height":18}]}`

func TestBackend_Extract(t *testing.T) {
	gen := &fakeGenerator{reply: wordsJSON}
	b := New(gen, "")

	rt, err := b.Extract(context.Background(), domain.PageImage{Index: 0, MIMEType: "image/png", Data: []byte("png")})
	require.NoError(t, err)

	assert.Equal(t, "Haemoglobin 135\ng/L", rt.Text)
	assert.Equal(t, "vertex", rt.Backend)
	require.Len(t, rt.Tokens, 3)
	assert.Equal(t, 140, rt.Tokens[1].Box.X)

	require.Len(t, gen.requests, 1)
	req := gen.requests[0]
	assert.Equal(t, "application/json", req.Config.ResponseMIMEType)
	require.Len(t, req.Parts, 2)
	assert.Equal(t, genai.Blob{MIMEType: "image/png", Data: []byte("png")}, req.Parts[0])
	assert.Equal(t, genai.Text(driven.DefaultPrompts[driven.PromptVisionOCR]), req.Parts[1])
}

func TestBackend_UsesPromptStore(t *testing.T) {
	gen := &fakeGenerator{reply: "```json\n" + wordsJSON + "\n```"}
	b := New(gen, "gemini-1.5-flash")
	b.SetPromptStore(stubPrompts{prompt: "custom"})

	rt, err := b.Extract(context.Background(), domain.PageImage{MIMEType: "application/pdf", Data: []byte("%PDF")})
	require.NoError(t, err)
	assert.Len(t, rt.Tokens, 3)
	assert.Equal(t, genai.Text("custom"), gen.requests[0].Parts[1])
}

func TestBackend_Errors(t *testing.T) {
	t.Run("unsupported", func(t *testing.T) {
		_, err := New(&fakeGenerator{}, "").Extract(context.Background(), domain.PageImage{MIMEType: "text/csv"})
		assert.ErrorIs(t, err, domain.ErrUnsupportedType)
	})

	t.Run("bad json", func(t *testing.T) {
		_, err := New(&fakeGenerator{reply: "I cannot read this"}, "").
			Extract(context.Background(), domain.PageImage{Index: 3, MIMEType: "image/jpeg"})

		var ocrErr *domain.OCRError
		require.ErrorAs(t, err, &ocrErr)
		assert.Equal(t, "output", ocrErr.Code)
		assert.Equal(t, 3, ocrErr.Page)
	})

	t.Run("provider failure", func(t *testing.T) {
		_, err := New(&fakeGenerator{err: status.Error(codes.Unavailable, "down")}, "").
			Extract(context.Background(), domain.PageImage{MIMEType: "image/png"})

		var perr *domain.ProviderError
		require.ErrorAs(t, err, &perr)
		assert.True(t, domain.IsRetryable(err))
	})
}
