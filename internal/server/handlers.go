package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kbcopilot/internal/apperr"
	"github.com/hyperjump/kbcopilot/internal/models"
)

// timestampLayout matches JavaScript's Date.toISOString.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Service   string `json:"service"`
	Database  string `json:"database"`
}

type chatResponse struct {
	Query     string            `json:"query"`
	Response  string            `json:"response"`
	Citations []models.Citation `json:"citations"`
	Sources   []models.Source   `json:"sources"`
	Timestamp string            `json:"timestamp"`
}

func now() string {
	return time.Now().UTC().Format(timestampLayout)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: now(),
		Service:   ServiceName,
		Database:  s.storage.Name(),
	})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	var (
		docs []*models.DocumentWithChunkCount
		err  error
	)
	query := r.URL.Query()
	if q := query.Get("q"); q != "" {
		limit, _ := strconv.Atoi(query.Get("limit"))
		if raw := query.Get("fuzziness"); raw != "" {
			fuzziness, convErr := strconv.Atoi(raw)
			if convErr != nil {
				s.fail(w, "list documents failed", apperr.Validation("server.list_documents", "fuzziness must be an integer"))
				return
			}
			docs, err = s.indexer.SearchDocumentsFuzzy(r.Context(), q, limit, fuzziness)
		} else {
			docs, err = s.indexer.SearchDocuments(r.Context(), q, limit)
		}
	} else {
		docs, err = s.indexer.ListDocuments(r.Context())
	}
	if err != nil {
		s.fail(w, "list documents failed", err)
		return
	}
	if docs == nil {
		docs = []*models.DocumentWithChunkCount{}
	}
	s.respondJSON(w, http.StatusOK, docs)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.indexer.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "get document failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var input models.DocumentInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	// Clients never choose IDs.
	input.ID = ""
	s.logger.Debug("create document request", zap.String("title", input.Title), zap.Bool("auto_index", input.AutoIndex))
	doc, err := s.indexer.CreateDocument(r.Context(), &input)
	if err != nil {
		s.fail(w, "create document failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleIndexDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := s.indexer.IndexDocument(r.Context(), id)
	if err != nil {
		s.fail(w, "index document failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"chunksCreated": n})
}

func (s *Server) handleIndexAll(w http.ResponseWriter, r *http.Request) {
	results, err := s.indexer.IndexAllDocuments(r.Context())
	if err != nil {
		s.fail(w, "index all failed", err)
		return
	}
	if results == nil {
		results = []models.IndexResult{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete document request", zap.String("id", id))
	if err := s.indexer.DeleteDocument(r.Context(), id); err != nil {
		s.fail(w, "delete document failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"message": "Document deleted successfully"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("chat request", zap.String("query", req.Query), zap.Int("top_k", req.TopK))
	result, err := s.assistant.Query(r.Context(), req.Query, req.TopK)
	if err != nil {
		s.fail(w, "chat failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, chatResponse{
		Query:     strings.TrimSpace(req.Query),
		Response:  result.Response,
		Citations: result.Citations,
		Sources:   result.Sources,
		Timestamp: now(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.assistant.Stats(r.Context())
	if err != nil {
		s.fail(w, "stats failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

// fail maps err's kind to a status code and writes the error body.
func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		s.respondError(w, http.StatusNotFound, apperr.Message(err))
	case apperr.KindValidation:
		s.respondError(w, http.StatusBadRequest, apperr.Message(err))
	case apperr.KindUpstream:
		s.logger.Error(msg, zap.Error(err))
		s.respondError(w, http.StatusServiceUnavailable, "AI service temporarily unavailable: "+apperr.Message(err))
	default:
		s.logger.Error(msg, zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
