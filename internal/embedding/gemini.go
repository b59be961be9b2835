package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiEncoder implements Encoder using the Gemini embedding API.
type GeminiEncoder struct {
	client     *genai.Client
	model      string
	dimensions int
}

// NewGeminiEncoder creates an encoder for the given embedding model
// (e.g. "text-embedding-004") with the given output dimensionality.
func NewGeminiEncoder(ctx context.Context, apiKey, model string, dimensions int) (*GeminiEncoder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini encoder: API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini encoder: create client: %w", err)
	}
	return &GeminiEncoder{client: client, model: model, dimensions: dimensions}, nil
}

// Encode embeds a batch of texts in one API call. The returned slice is
// parallel to the input slice.
func (e *GeminiEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}
	dim := int32(e.dimensions)
	resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: &dim,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini encoder: embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini encoder: expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
	}
	vectors := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		vectors[i] = emb.Values
	}
	return vectors, nil
}

// Dimensions returns the embedding dimension.
func (e *GeminiEncoder) Dimensions() int {
	return e.dimensions
}

// GeminiChat generates chat completions for answer synthesis.
type GeminiChat struct {
	client *genai.Client
	model  string
}

// NewGeminiChat creates a chat model client (e.g. "gemini-2.0-flash").
func NewGeminiChat(ctx context.Context, apiKey, model string) (*GeminiChat, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini chat: API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini chat: create client: %w", err)
	}
	return &GeminiChat{client: client, model: model}, nil
}

// Generate returns the model's response to prompt.
func (c *GeminiChat) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("gemini chat: generate: %w", err)
	}
	return resp.Text(), nil
}
