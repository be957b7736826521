package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hyperjump/kbcopilot/internal/apperr"
	"github.com/hyperjump/kbcopilot/internal/config"
)

func openAIOptions(apiKey, baseURL string, extra []option.RequestOption) []option.RequestOption {
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return append(opts, extra...)
}

// OpenAIGenerator generates answers with any OpenAI-compatible chat completion API.
type OpenAIGenerator struct {
	client openai.Client
	model  string
}

// NewOpenAIGenerator creates a generator. An empty baseURL uses the OpenAI API.
func NewOpenAIGenerator(apiKey, baseURL, model string, opts ...option.RequestOption) *OpenAIGenerator {
	if model == "" {
		model = config.DefaultOpenAIModel
	}
	return &OpenAIGenerator{
		client: openai.NewClient(openAIOptions(apiKey, baseURL, opts)...),
		model:  model,
	}
}

// Generate sends prompt as a single user message and returns the first choice.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
		Model:    g.model,
	})
	if err != nil {
		return "", apperr.Upstream("openai.generate", err)
	}
	if len(resp.Choices) == 0 {
		return "", apperr.Upstream("openai.generate", errors.New("empty response from model"))
	}
	return resp.Choices[0].Message.Content, nil
}

// Close is a no-op; the client holds no resources.
func (g *OpenAIGenerator) Close() error {
	return nil
}

// OpenAIEmbedder embeds text with an OpenAI-compatible embeddings API.
type OpenAIEmbedder struct {
	client     openai.Client
	model      string
	dimensions int
}

// NewOpenAIEmbedder creates an embedder producing vectors of the given length.
func NewOpenAIEmbedder(apiKey, baseURL, model string, dimensions int, opts ...option.RequestOption) *OpenAIEmbedder {
	if model == "" {
		model = config.DefaultOpenAIEmbeddingModel
	}
	return &OpenAIEmbedder{
		client:     openai.NewClient(openAIOptions(apiKey, baseURL, opts)...),
		model:      model,
		dimensions: dimensions,
	}
}

// Embed returns the embedding for text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds texts in a single request.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: e.model,
	}
	// Only the text-embedding-3 family accepts a target dimension.
	if strings.HasPrefix(e.model, "text-embedding-3") && e.dimensions > 0 {
		params.Dimensions = openai.Int(int64(e.dimensions))
	}
	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, apperr.Upstream("openai.embed", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, apperr.Upstream("openai.embed",
			fmt.Errorf("got %d embeddings for %d texts", len(resp.Data), len(texts)))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, apperr.Upstream("openai.embed", fmt.Errorf("embedding index %d out of range", d.Index))
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		if err := checkDimensions("openai.embed", vec, e.dimensions); err != nil {
			return nil, apperr.Upstream("openai.embed", err)
		}
		out[d.Index] = vec
	}
	for i, vec := range out {
		if vec == nil {
			return nil, apperr.Upstream("openai.embed", fmt.Errorf("missing embedding %d", i))
		}
	}
	return out, nil
}

// Dimensions returns the embedding length.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op; the client holds no resources.
func (e *OpenAIEmbedder) Close() error {
	return nil
}
