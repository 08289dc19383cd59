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
	model    string
	requests []gemini.Request
	reply    string
	err      error
}

func (f *fakeGenerator) Generate(_ context.Context, model string, req gemini.Request) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []genai.Part{genai.Text(f.reply)}}}},
	}, nil
}

func TestLLMService_Generate(t *testing.T) {
	gen := &fakeGenerator{reply: `{"ok":true}`}
	svc := NewLLMService(gen, "")

	out, err := svc.Generate(context.Background(), "extract", driven.GenerateOptions{JSON: true, StopWords: []string{"END"}})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)

	assert.Equal(t, gemini.DefaultModel, gen.model)
	require.Len(t, gen.requests, 1)
	req := gen.requests[0]
	assert.Equal(t, "application/json", req.Config.ResponseMIMEType)
	assert.Equal(t, []string{"END"}, req.Config.StopSequences)
	assert.Equal(t, []genai.Part{genai.Text("extract")}, req.Parts)
	assert.Empty(t, req.History)
}

func TestLLMService_ChatBuildsHistory(t *testing.T) {
	gen := &fakeGenerator{reply: "fine"}
	svc := NewLLMService(gen, "gemini-1.5-flash")

	out, err := svc.Chat(context.Background(), []driven.ChatMessage{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi"},
		{Role: "user", Content: "how are you"},
	}, driven.ChatOptions{})
	require.NoError(t, err)
	assert.Equal(t, "fine", out)
	assert.Equal(t, "gemini-1.5-flash", svc.ModelName())

	req := gen.requests[0]
	assert.Equal(t, "be brief", req.System)
	require.Len(t, req.History, 2)
	assert.Equal(t, "user", req.History[0].Role)
	assert.Equal(t, "model", req.History[1].Role)
	assert.Equal(t, []genai.Part{genai.Text("how are you")}, req.Parts)
}

func TestLLMService_ChatRequiresTurn(t *testing.T) {
	svc := NewLLMService(&fakeGenerator{}, "")
	_, err := svc.Chat(context.Background(), []driven.ChatMessage{{Role: "system", Content: "x"}}, driven.ChatOptions{})
	require.Error(t, err)
}

func TestLLMService_Errors(t *testing.T) {
	svc := NewLLMService(&fakeGenerator{err: status.Error(codes.ResourceExhausted, "quota")}, "")

	_, err := svc.Generate(context.Background(), "x", driven.GenerateOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.True(t, domain.IsRetryable(err))

	err = svc.Ping(context.Background())
	require.Error(t, err)
	assert.NoError(t, svc.Close())
}
