package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

// DefaultModel is used when no model is configured
const DefaultModel = "gemini-1.5-flash"

// ErrNotConfigured is returned when no Google Cloud project is set
var ErrNotConfigured = errors.New("vertex ai project not configured")

// Generator produces a text completion for a prompt
type Generator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
}

// Options selects the Vertex AI project and model
type Options struct {
	ProjectID string
	Location  string
	Model     string
}

// VertexAIClient wraps the Vertex AI Gemini API
type VertexAIClient struct {
	client *genai.Client
	model  *genai.GenerativeModel
	opts   Options
}

var _ Generator = &VertexAIClient{}

// NewVertexAIClient creates a new Vertex AI client
func NewVertexAIClient(ctx context.Context, opts Options) (*VertexAIClient, error) {
	if opts.ProjectID == "" {
		return nil, ErrNotConfigured
	}
	if opts.Location == "" {
		opts.Location = "us-central1"
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}

	client, err := genai.NewClient(ctx, opts.ProjectID, opts.Location)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vertex AI client: %w", err)
	}

	model := client.GenerativeModel(opts.Model)

	// extraction wants deterministic JSON
	model.SetTemperature(0.1)
	model.SetTopK(40)
	model.SetTopP(0.95)
	model.SetMaxOutputTokens(2048)
	model.ResponseMIMEType = "application/json"

	return &VertexAIClient{
		client: client,
		model:  model,
		opts:   opts,
	}, nil
}

// GenerateContent sends a prompt to the model and returns the response
func (v *VertexAIClient) GenerateContent(ctx context.Context, prompt string) (string, error) {
	resp, err := v.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no response candidates returned")
	}

	var result strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			result.WriteString(string(text))
		}
	}

	return result.String(), nil
}

// Model is the configured model name
func (v *VertexAIClient) Model() string {
	return v.opts.Model
}

// Close closes the Vertex AI client
func (v *VertexAIClient) Close() error {
	return v.client.Close()
}
