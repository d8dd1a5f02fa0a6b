// Package api exposes the document Q&A pipeline over HTTP and MCP.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/docqa/internal/chunker"
	"github.com/kalambet/docqa/internal/loader"
	"github.com/kalambet/docqa/internal/qa"
	"github.com/kalambet/docqa/internal/store"
)

const maxUploadBodySize = 48 << 20

// UploadRequest is the POST /documents body. Content is the document text,
// base64-encoded when encoding is "base64" (required for PDF uploads).
type UploadRequest struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	Encoding string `json:"encoding,omitempty"`
}

// QuestionRequest is the POST /documents/{id}/questions body.
type QuestionRequest struct {
	Question string `json:"question"`
}

// Ingestor runs document intake; satisfied by ingest.Pipeline.
type Ingestor interface {
	Run(ctx context.Context, docID string, pages []chunker.Page) error
}

// Answerer answers questions; satisfied by qa.Engine.
type Answerer interface {
	Ask(ctx context.Context, docID, question string) (qa.Answer, error)
}

// Deps holds everything the HTTP layer needs.
type Deps struct {
	Store    *store.Store
	Pipeline Ingestor
	Engine   Answerer
	Metrics  *Metrics
	Token    string
	// BaseCtx outlives individual requests; ingestion runs on it so an
	// upload is not cancelled when the client disconnects. Defaults to
	// context.Background.
	BaseCtx context.Context
	Logger  *slog.Logger
}

// NewHandler builds the HTTP API. The metrics and health endpoints stay
// outside auth so probes and scrapers need no token.
func NewHandler(deps Deps) http.Handler {
	if deps.BaseCtx == nil {
		deps.BaseCtx = context.Background()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth())
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/documents", handleUpload(deps))
		r.Get("/documents", handleListDocuments(deps))
		r.Get("/documents/{id}", handleGetDocument(deps))
		r.Delete("/documents/{id}", handleDeleteDocument(deps))
		r.Post("/documents/{id}/questions", handleAsk(deps))
		r.Get("/documents/{id}/history", handleHistory(deps))
	})

	return r
}

func handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func handleUpload(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
		defer r.Body.Close()

		var req UploadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}

		data := []byte(req.Content)
		if req.Encoding == "base64" {
			decoded, err := base64.StdEncoding.DecodeString(req.Content)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 content")
				return
			}
			data = decoded
		}

		pages, err := loader.Load(req.Title, data)
		if err != nil {
			httpError(w, http.StatusUnprocessableEntity, "invalid_request_error", "could not extract text: %v", err)
			return
		}

		doc := deps.Store.Create(req.Title)
		go func() {
			if err := deps.Pipeline.Run(deps.BaseCtx, doc.ID, pages); err != nil {
				deps.Logger.Warn("ingestion failed", "doc_id", doc.ID, "error", err)
			}
		}()

		writeJSON(w, http.StatusAccepted, documentView(doc, 0))
	}
}

func handleListDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs := deps.Store.List()
		views := make([]map[string]any, len(docs))
		for i, d := range docs {
			views[i] = documentView(d, len(d.Chunks))
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func handleGetDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := deps.Store.Get(chi.URLParam(r, "id"))
		if errors.Is(err, store.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}

		view := documentView(doc, len(doc.Chunks))
		if doc.Status == store.StatusReady {
			view["suggested_questions"] = qa.SuggestQuestions(doc, 3)
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func handleDeleteDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Store.Remove(chi.URLParam(r, "id"))
		if errors.Is(err, store.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleAsk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		var req QuestionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Question == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}

		ans, err := deps.Engine.Ask(r.Context(), chi.URLParam(r, "id"), req.Question)
		switch {
		case errors.Is(err, store.ErrNotFound):
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		case errors.Is(err, qa.ErrNotReady):
			httpError(w, http.StatusConflict, "document_not_ready", "%v", err)
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "failed to answer: %v", err)
			return
		}

		if deps.Metrics != nil {
			deps.Metrics.Questions.WithLabelValues(string(ans.Mode)).Inc()
		}
		writeJSON(w, http.StatusOK, ans)
	}
}

func handleHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		turns, err := deps.Store.History(chi.URLParam(r, "id"))
		if errors.Is(err, store.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if turns == nil {
			turns = []store.ConversationTurn{}
		}
		writeJSON(w, http.StatusOK, turns)
	}
}

func documentView(doc store.Document, chunkCount int) map[string]any {
	view := map[string]any{
		"id":         doc.ID,
		"title":      doc.Title,
		"status":     doc.Status,
		"created_at": doc.CreatedAt,
		"expires_at": doc.ExpiresAt,
	}
	if doc.Error != "" {
		view["error"] = doc.Error
	}
	if chunkCount > 0 {
		view["chunk_count"] = chunkCount
		fallback := 0
		for _, c := range doc.Chunks {
			if c.FallbackEmbedded {
				fallback++
			}
		}
		view["fallback_embedded_count"] = fallback
	}
	return view
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
