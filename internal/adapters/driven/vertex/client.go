// Package vertex wraps the Vertex AI Gemini client shared by the vertex
// LLM and OCR adapters.
package vertex

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/custodia-labs/docintel/internal/core/domain"
)

// Default configuration values.
const (
	DefaultRegion = "us-central1"
	DefaultModel  = "gemini-1.5-pro"
)

// Request is one generation call.
type Request struct {
	// System is the system instruction, empty for none.
	System string

	// History holds earlier turns of a conversation.
	History []*genai.Content

	// Parts is the new user turn.
	Parts []genai.Part

	// Config controls sampling and the response MIME type.
	Config genai.GenerationConfig
}

// Generator runs a generation request against a named model.
type Generator interface {
	Generate(ctx context.Context, model string, req Request) (*genai.GenerateContentResponse, error)
}

// Ensure Client implements Generator.
var _ Generator = (*Client)(nil)

// Client is a Vertex AI client. A fresh GenerativeModel is configured per
// request so concurrent calls never share mutable model settings.
type Client struct {
	client *genai.Client
}

// NewClient creates a client for a project and region. Without options it
// uses application default credentials.
func NewClient(ctx context.Context, projectID, region string, opts ...option.ClientOption) (*Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("vertex: project id is required")
	}
	if region == "" {
		region = DefaultRegion
	}
	client, err := genai.NewClient(ctx, projectID, region, opts...)
	if err != nil {
		return nil, fmt.Errorf("create vertex client: %w", err)
	}
	return &Client{client: client}, nil
}

// Generate runs req. Requests with history go through a chat session.
func (c *Client) Generate(ctx context.Context, model string, req Request) (*genai.GenerateContentResponse, error) {
	m := c.client.GenerativeModel(model)
	m.GenerationConfig = req.Config
	if req.System != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	if len(req.History) > 0 {
		cs := m.StartChat()
		cs.History = req.History
		return cs.SendMessage(ctx, req.Parts...)
	}
	return m.GenerateContent(ctx, req.Parts...)
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// ResponseText concatenates the text parts of the first candidate.
func ResponseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("no candidates in response")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String(), nil
}

// ProviderError classifies a Vertex AI failure by its gRPC status code.
func ProviderError(op string, err error) *domain.ProviderError {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return &domain.ProviderError{Provider: "vertex", Op: op, Err: err, Permanent: true}
	}

	switch status.Code(err) {
	case codes.InvalidArgument, codes.PermissionDenied, codes.Unauthenticated,
		codes.NotFound, codes.FailedPrecondition, codes.Unimplemented:
		return &domain.ProviderError{Provider: "vertex", Op: op, Err: err, Permanent: true}
	case codes.ResourceExhausted:
		return &domain.ProviderError{Provider: "vertex", Op: op, Err: fmt.Errorf("%w: %w", domain.ErrRateLimited, err)}
	case codes.DeadlineExceeded:
		return &domain.ProviderError{Provider: "vertex", Op: op, Err: fmt.Errorf("%w: %w", domain.ErrTimeout, err)}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.ProviderError{Provider: "vertex", Op: op, Err: fmt.Errorf("%w: %w", domain.ErrTimeout, err)}
	}
	return &domain.ProviderError{Provider: "vertex", Op: op, Err: err}
}

// Config returns a generation config with the given temperature and token
// limit; maxTokens 0 leaves the model default.
func Config(temperature float64, maxTokens int, jsonResponse bool) genai.GenerationConfig {
	cfg := genai.GenerationConfig{Temperature: genai.Ptr(float32(temperature))}
	if maxTokens > 0 {
		cfg.MaxOutputTokens = genai.Ptr(int32(maxTokens))
	}
	if jsonResponse {
		cfg.ResponseMIMEType = "application/json"
	}
	return cfg
}
