package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/hyperjump/kbcopilot/internal/apperr"
	"github.com/hyperjump/kbcopilot/internal/config"
)

// GeminiGenerator generates answers with a Gemini model.
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

// NewGeminiGenerator creates a Gemini generator. Extra client options (e.g. an
// endpoint override) are applied after the API key.
func NewGeminiGenerator(ctx context.Context, apiKey, model string, opts ...option.ClientOption) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key not configured")
	}
	if model == "" {
		model = config.DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiGenerator{client: client, model: model}, nil
}

// Generate returns the text of the first candidate.
func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.GenerativeModel(g.model).GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", apperr.Upstream("gemini.generate", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", apperr.Upstream("gemini.generate", errors.New("empty response from model"))
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String(), nil
}

// Close releases the client.
func (g *GeminiGenerator) Close() error {
	return g.client.Close()
}

// GeminiEmbedder embeds text with a Gemini embedding model.
type GeminiEmbedder struct {
	client     *genai.Client
	model      string
	dimensions int
}

// NewGeminiEmbedder creates a Gemini embedder producing vectors of the given length.
func NewGeminiEmbedder(ctx context.Context, apiKey, model string, dimensions int, opts ...option.ClientOption) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key not configured")
	}
	if model == "" {
		model = config.DefaultGeminiEmbeddingModel
	}
	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiEmbedder{client: client, model: model, dimensions: dimensions}, nil
}

// Embed returns the embedding for text.
func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	res, err := e.client.EmbeddingModel(e.model).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, apperr.Upstream("gemini.embed", err)
	}
	if res.Embedding == nil {
		return nil, apperr.Upstream("gemini.embed", errors.New("empty embedding received"))
	}
	if err := checkDimensions("gemini.embed", res.Embedding.Values, e.dimensions); err != nil {
		return nil, apperr.Upstream("gemini.embed", err)
	}
	return res.Embedding.Values, nil
}

// EmbedBatch embeds texts in a single request.
func (e *GeminiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	em := e.client.EmbeddingModel(e.model)
	batch := em.NewBatch()
	for _, text := range texts {
		batch.AddContent(genai.Text(text))
	}
	res, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, apperr.Upstream("gemini.embed_batch", err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, apperr.Upstream("gemini.embed_batch",
			fmt.Errorf("got %d embeddings for %d texts", len(res.Embeddings), len(texts)))
	}
	out := make([][]float32, len(texts))
	for i, emb := range res.Embeddings {
		if emb == nil {
			return nil, apperr.Upstream("gemini.embed_batch", fmt.Errorf("missing embedding %d", i))
		}
		if err := checkDimensions("gemini.embed_batch", emb.Values, e.dimensions); err != nil {
			return nil, apperr.Upstream("gemini.embed_batch", err)
		}
		out[i] = emb.Values
	}
	return out, nil
}

// Dimensions returns the embedding length.
func (e *GeminiEmbedder) Dimensions() int {
	return e.dimensions
}

// Close releases the client.
func (e *GeminiEmbedder) Close() error {
	return e.client.Close()
}
