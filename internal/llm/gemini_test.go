package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/hyperjump/kbcopilot/internal/apperr"
)

func newGeminiServer(t *testing.T, handler http.HandlerFunc) option.ClientOption {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return option.WithEndpoint(ts.URL)
}

func TestGeminiGenerator_Generate(t *testing.T) {
	endpoint := newGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "models/gemini-2.5-flash:generateContent"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []map[string]interface{}{{
				"index":        0,
				"finishReason": "STOP",
				"content": map[string]interface{}{
					"role":  "model",
					"parts": []map[string]string{{"text": "Employees may work remotely "}, {"text": "[Source 1]."}},
				},
			}},
		})
	})

	ctx := context.Background()
	gen, err := NewGeminiGenerator(ctx, "test-key", "", endpoint)
	require.NoError(t, err)
	defer gen.Close()

	out, err := gen.Generate(ctx, "prompt")
	require.NoError(t, err)
	assert.Equal(t, "Employees may work remotely [Source 1].", out)
}

func TestGeminiGenerator_Errors(t *testing.T) {
	_, err := NewGeminiGenerator(context.Background(), "", "")
	assert.ErrorContains(t, err, "gemini api key not configured")

	endpoint := newGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`))
	})
	ctx := context.Background()
	gen, err := NewGeminiGenerator(ctx, "test-key", "gemini-2.5-flash", endpoint)
	require.NoError(t, err)
	defer gen.Close()

	_, err = gen.Generate(ctx, "prompt")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUpstream))
}

func TestGeminiEmbedder_Embed(t *testing.T) {
	endpoint := newGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"embedding": map[string]interface{}{"values": []float32{0.1, 0.2, 0.3}},
		})
	})

	ctx := context.Background()
	emb, err := NewGeminiEmbedder(ctx, "test-key", "", 3, endpoint)
	require.NoError(t, err)
	defer emb.Close()

	vec, err := emb.Embed(ctx, "hello world")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, 3, emb.Dimensions())

	wrong, err := NewGeminiEmbedder(ctx, "test-key", "", 768, endpoint)
	require.NoError(t, err)
	defer wrong.Close()
	_, err = wrong.Embed(ctx, "hello world")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUpstream))
}

func TestGeminiEmbedder_EmbedBatch(t *testing.T) {
	endpoint := newGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, ":batchEmbedContents"), r.URL.Path)
		var req struct {
			Requests []json.RawMessage `json:"requests"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		embeddings := make([]map[string]interface{}, len(req.Requests))
		for i := range req.Requests {
			embeddings[i] = map[string]interface{}{"values": []float32{float32(i), 1}}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"embeddings": embeddings})
	})

	ctx := context.Background()
	emb, err := NewGeminiEmbedder(ctx, "test-key", "text-embedding-004", 2, endpoint)
	require.NoError(t, err)
	defer emb.Close()

	out, err := emb.EmbedBatch(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, []float32{2, 1}, out[2])
}
