package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kbcopilot/internal/assistant"
	"github.com/hyperjump/kbcopilot/internal/config"
	"github.com/hyperjump/kbcopilot/internal/embedding"
	"github.com/hyperjump/kbcopilot/internal/indexer"
	"github.com/hyperjump/kbcopilot/internal/keyword"
	"github.com/hyperjump/kbcopilot/internal/models"
	"github.com/hyperjump/kbcopilot/internal/search"
	"github.com/hyperjump/kbcopilot/internal/storage"
)

type stubGenerator struct {
	response string
	err      error
	prompts  []string
}

func (g *stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	return g.response, g.err
}

func (g *stubGenerator) Close() error { return nil }

type testServer struct {
	handler http.Handler
	idx     *indexer.Indexer
	store   *storage.MemoryStorage
	gen     *stubGenerator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := storage.NewMemoryStorage()
	embedder := embedding.NewMockEmbedder(32)
	kw, err := keyword.NewBleveIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = kw.Close() })

	idx, err := indexer.NewIndexer(store, embedder, kw,
		&config.IndexingConfig{ChunkSize: 200, ChunkOverlap: 40}, indexer.WithLimiter(nil))
	require.NoError(t, err)
	searchCfg := &config.SearchConfig{DefaultTopK: 5, MaxTopK: 50}
	engine := search.NewEngine(store, embedder, searchCfg)
	gen := &stubGenerator{response: "Employees may work remotely three days per week [Source 1]."}
	asst := assistant.New(engine, gen, store, searchCfg)
	srv := NewServer(asst, idx, store, &config.ServerConfig{Port: 3001}, nil)
	return &testServer{handler: srv.Handler(), idx: idx, store: store, gen: gen}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	r := httptest.NewRequest(method, path, &buf)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(w.Body).Decode(v))
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var out map[string]string
	decode(t, w, &out)
	return out["error"]
}

func (ts *testServer) seed(t *testing.T) *models.Document {
	t.Helper()
	doc, err := ts.idx.CreateDocument(context.Background(), &models.DocumentInput{
		Title:     "Company Policies & Guidelines",
		Content:   "Remote work policy: employees may work remotely up to three days per week with manager approval.",
		Source:    "company-policies.md",
		Category:  "policy",
		AutoIndex: true,
	})
	require.NoError(t, err)
	return doc
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	var out healthResponse
	decode(t, w, &out)
	assert.Equal(t, "ok", out.Status)
	assert.Equal(t, ServiceName, out.Service)
	assert.Equal(t, "Memory", out.Database)
	assert.True(t, strings.HasSuffix(out.Timestamp, "Z"))
}

func TestNotFoundAndPreflight(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Endpoint not found", errorBody(t, w))
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = ts.do(t, http.MethodOptions, "/api/chat", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestCreateDocument(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/documents", map[string]interface{}{
		"title": "Onboarding", "content": "Day one: pick up your laptop.", "autoIndex": true,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var doc models.Document
	decode(t, w, &doc)
	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, "Onboarding", doc.Source)
	assert.Equal(t, models.DefaultCategory, doc.Category)
	assert.True(t, doc.IsIndexed)

	w = ts.do(t, http.MethodPost, "/api/documents", map[string]string{"title": "No content"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Title and content are required", errorBody(t, w))

	w = ts.do(t, http.MethodPost, "/api/documents", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetListDeleteDocument(t *testing.T) {
	ts := newTestServer(t)
	doc := ts.seed(t)

	w := ts.do(t, http.MethodGet, "/api/documents/"+doc.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got models.DocumentWithChunkCount
	decode(t, w, &got)
	assert.Equal(t, doc.Title, got.Title)
	assert.Positive(t, got.ChunkCount)

	w = ts.do(t, http.MethodGet, "/api/documents", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []models.DocumentWithChunkCount
	decode(t, w, &list)
	require.Len(t, list, 1)

	w = ts.do(t, http.MethodGet, "/api/documents?q=remote", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &list)
	assert.Len(t, list, 1)

	w = ts.do(t, http.MethodGet, "/api/documents?q=kubernetes", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	w = ts.do(t, http.MethodGet, "/api/documents?q=remotte", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	w = ts.do(t, http.MethodGet, "/api/documents?q=remotte&fuzziness=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &list)
	assert.Len(t, list, 1)

	w = ts.do(t, http.MethodGet, "/api/documents?q=remote&fuzziness=3", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = ts.do(t, http.MethodGet, "/api/documents?q=remote&fuzziness=lots", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodDelete, "/api/documents/"+doc.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var msg map[string]string
	decode(t, w, &msg)
	assert.Equal(t, "Document deleted successfully", msg["message"])

	w = ts.do(t, http.MethodDelete, "/api/documents/"+doc.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = ts.do(t, http.MethodGet, "/api/documents/"+doc.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestIndexEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	doc, err := ts.idx.CreateDocument(ctx, &models.DocumentInput{Title: "FAQ", Content: "TechFlow has a free trial."})
	require.NoError(t, err)

	w := ts.do(t, http.MethodPost, "/api/documents/"+doc.ID+"/index", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out map[string]int
	decode(t, w, &out)
	assert.Equal(t, 1, out["chunksCreated"])

	w = ts.do(t, http.MethodPost, "/api/documents/missing/index", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Document not found", errorBody(t, w))

	_, err = ts.idx.CreateDocument(ctx, &models.DocumentInput{Title: "Security", Content: "Rotate passwords."})
	require.NoError(t, err)
	w = ts.do(t, http.MethodPost, "/api/documents/index-all", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var all struct {
		Results []models.IndexResult `json:"results"`
	}
	decode(t, w, &all)
	require.Len(t, all.Results, 1)
	assert.Equal(t, "Security", all.Results[0].Title)
	assert.False(t, all.Results[0].Failed())
}

func TestChat(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/chat", map[string]string{"query": "remote work"})
	require.Equal(t, http.StatusOK, w.Code)
	var empty chatResponse
	decode(t, w, &empty)
	assert.Equal(t, assistant.EmptyKnowledgeBaseResponse, empty.Response)
	assert.Empty(t, ts.gen.prompts)

	ts.seed(t)
	w = ts.do(t, http.MethodPost, "/api/chat", map[string]interface{}{"query": "  What is the remote work policy?  ", "topK": 3})
	require.Equal(t, http.StatusOK, w.Code)
	var out chatResponse
	decode(t, w, &out)
	assert.Equal(t, "What is the remote work policy?", out.Query)
	assert.Equal(t, ts.gen.response, out.Response)
	require.Len(t, out.Citations, 1)
	assert.Equal(t, "Company Policies & Guidelines", out.Citations[0].DocumentTitle)
	require.NotEmpty(t, out.Sources)
	assert.Equal(t, "company-policies.md", out.Sources[0].DocumentSource)
	assert.NotEmpty(t, out.Timestamp)

	w = ts.do(t, http.MethodPost, "/api/chat", map[string]string{"query": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Query is required", errorBody(t, w))
}

func TestChat_GeneratorFailureIsServiceUnavailable(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t)
	ts.gen.err = errors.New("status 500")

	w := ts.do(t, http.MethodPost, "/api/chat", map[string]string{"query": "remote work"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "AI service temporarily unavailable: status 500", errorBody(t, w))
}

func TestStats(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t)
	_, err := ts.idx.CreateDocument(context.Background(), &models.DocumentInput{Title: "Draft", Content: "Not indexed yet."})
	require.NoError(t, err)

	w := ts.do(t, http.MethodGet, "/api/chat/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats models.Stats
	decode(t, w, &stats)
	assert.Equal(t, int64(2), stats.TotalDocuments)
	assert.Equal(t, int64(1), stats.IndexedDocuments)
	assert.Equal(t, float64(stats.TotalChunks), stats.AverageChunksPerDocument)
}
