package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/searcher/fusion"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/searcher/ranker"
	apperrors "github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/logger"
)

const maxBodyBytes = 8 << 20

type SearchExecutor interface {
	Execute(ctx context.Context, req executor.Request) (*executor.Response, error)
	DefaultFusion() fusion.Config
}

// IndexService is the engine surface behind the rank, boolean, document and
// stats routes.
type IndexService interface {
	Rank(queryTokens []string, topN int) ([]ranker.RankedResult, error)
	Postings(token string) index.PostingList
	Documents(ids []string) []index.Document
	Index(ctx context.Context, doc index.Document, tokens []string) error
	Delete(ctx context.Context, ids []string) error
	Stats() index.Stats
	State() indexer.State
}

type Handler struct {
	executor    SearchExecutor
	index       IndexService
	cache       *cache.QueryCache
	prep        indexer.Preprocessor
	defaultTopK int
	maxTopK     int
	onWrite     []func()
	logger      *slog.Logger
}

// New builds the handler. queryCache may be nil when Redis is disabled.
func New(exec SearchExecutor, idx IndexService, queryCache *cache.QueryCache, prep indexer.Preprocessor, defaultTopK, maxTopK int) *Handler {
	return &Handler{
		executor:    exec,
		index:       idx,
		cache:       queryCache,
		prep:        prep,
		defaultTopK: defaultTopK,
		maxTopK:     maxTopK,
		logger:      slog.Default().With("component", "search-handler"),
	}
}

// OnWrite registers fn to run after every successful index or delete, next
// to the query cache invalidation.
func (h *Handler) OnWrite(fn func()) {
	h.onWrite = append(h.onWrite, fn)
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/rank", h.Rank)
	mux.HandleFunc("GET /api/v1/boolean", h.Boolean)
	mux.HandleFunc("POST /api/v1/documents", h.IndexDocument)
	mux.HandleFunc("DELETE /api/v1/documents/{id}", h.DeleteDocument)
	mux.HandleFunc("GET /api/v1/stats", h.Stats)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

// Search serves GET /api/v1/search?q=&tokens=&k=&mode=&alpha=&rrf_k=.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)
	params := r.URL.Query()

	query := params.Get("q")
	tokens := splitTokens(params.Get("tokens"))
	if strings.TrimSpace(query) == "" && tokens == nil {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}

	topK, err := h.parseTopK(params.Get("k"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	fcfg, err := h.parseFusion(params.Get("mode"), params.Get("alpha"), params.Get("rrf_k"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := executor.Request{Query: query, Tokens: tokens, TopK: topK, Fusion: fcfg}
	var resp *executor.Response
	cacheHit := false
	if h.cache != nil {
		resp, cacheHit, err = h.cache.GetOrCompute(ctx, req, func() (*executor.Response, error) {
			return h.executor.Execute(ctx, req)
		})
	} else {
		resp, err = h.executor.Execute(ctx, req)
	}
	if err != nil {
		log.Error("search execution failed", "query", query, "error", err)
		h.writeAppError(w, err)
		return
	}

	log.Info("search completed",
		"query", query,
		"returned", len(resp.Results),
		"dense_degraded", resp.DenseDegraded,
		"cache_hit", cacheHit,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	if cacheHit {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Rank serves GET /api/v1/rank?tokens=a,b&n=10 (or q= to preprocess text),
// exposing the BM25 ranking on its own.
func (h *Handler) Rank(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	tokens := splitTokens(params.Get("tokens"))
	if tokens == nil && h.prep != nil {
		tokens = h.prep.Preprocess(params.Get("q"))
	}
	n, err := h.parseTopK(params.Get("n"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if n == 0 {
		n = h.defaultTopK
	}
	results, err := h.index.Rank(tokens, n)
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	if results == nil {
		results = []ranker.RankedResult{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"tokens":  tokens,
		"results": results,
	})
}

type booleanResult struct {
	DocumentID   string `json:"document_id"`
	Book         string `json:"book"`
	ChapterTitle string `json:"chapter_title"`
	Snippet      string `json:"snippet"`
}

// Boolean serves GET /api/v1/boolean?q=&limit=. The query is a term list
// joined by AND or OR, with NOT excluding the following term; matches come
// back in ascending id order.
func (h *Handler) Boolean(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q := params.Get("q")
	if strings.TrimSpace(q) == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	limit, err := h.parseTopK(params.Get("limit"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	if h.index.State() != indexer.StateReady {
		h.writeAppError(w, apperrors.ErrIndexNotReady)
		return
	}

	plan := parser.Parse(q, h.prep)
	ids := parser.Evaluate(plan, h.index)
	total := len(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	docs := h.index.Documents(ids)
	results := make([]booleanResult, 0, len(docs))
	for _, d := range docs {
		results = append(results, booleanResult{
			DocumentID:   d.ID,
			Book:         d.Book,
			ChapterTitle: d.Title,
			Snippet:      executor.Snippet(d.Text),
		})
	}
	logger.FromContext(r.Context()).Debug("boolean query", "query", q, "operator", plan.Type.String(), "matches", total)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"query":    q,
		"operator": plan.Type.String(),
		"terms":    plan.Terms,
		"exclude":  plan.ExcludeTerms,
		"total":    total,
		"results":  results,
	})
}

type documentRequest struct {
	index.Document
	Tokens []string `json:"tokens,omitempty"`
}

// IndexDocument serves POST /api/v1/documents. Tokens are derived from the
// text when the body carries none.
func (h *Handler) IndexDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body documentRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	tokens := body.Tokens
	if tokens == nil && h.prep != nil {
		tokens = h.prep.Preprocess(body.Text)
	}
	if err := h.index.Index(ctx, body.Document, tokens); err != nil {
		logger.FromContext(ctx).Error("indexing document failed", "doc_id", body.ID, "error", err)
		h.writeAppError(w, err)
		return
	}
	h.invalidate(ctx)
	h.writeJSON(w, http.StatusCreated, map[string]any{
		"doc_id": body.ID,
		"tokens": len(tokens),
		"status": "indexed",
	})
}

// DeleteDocument serves DELETE /api/v1/documents/{id}.
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	if strings.TrimSpace(id) == "" {
		h.writeError(w, http.StatusBadRequest, "document id is required")
		return
	}
	if err := h.index.Delete(ctx, []string{id}); err != nil {
		h.writeAppError(w, err)
		return
	}
	h.invalidate(ctx)
	h.writeJSON(w, http.StatusOK, map[string]string{"doc_id": id, "status": "deleted"})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats := h.index.Stats()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"state":          h.index.State().String(),
		"documents":      stats.N,
		"avg_doc_length": stats.AvgDL,
		"total_length":   stats.TotalLength,
		"vocabulary":     stats.Vocabulary,
		"fusion":         h.executor.DefaultFusion().String(),
	})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}

	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

func (h *Handler) invalidate(ctx context.Context) {
	for _, fn := range h.onWrite {
		fn()
	}
	if h.cache == nil {
		return
	}
	if _, err := h.cache.Invalidate(ctx); err != nil {
		h.logger.Warn("cache invalidation after write failed", "error", err)
	}
}

func (h *Handler) parseTopK(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	k, err := strconv.Atoi(raw)
	if err != nil || k < 1 {
		return 0, errors.New("k must be a positive integer")
	}
	if k > h.maxTopK {
		k = h.maxTopK
	}
	return k, nil
}

// parseFusion overlays any fusion query parameters on the default strategy.
// With none present it returns nil so the executor default applies.
func (h *Handler) parseFusion(mode, alpha, rrfK string) (*fusion.Config, error) {
	if mode == "" && alpha == "" && rrfK == "" {
		return nil, nil
	}
	cfg := h.executor.DefaultFusion()
	if mode != "" {
		m, err := fusion.ParseMode(mode)
		if err != nil {
			return nil, err
		}
		cfg.Mode = m
	}
	if alpha != "" {
		a, err := strconv.ParseFloat(alpha, 64)
		if err != nil {
			return nil, errors.New("alpha must be a number in [0,1]")
		}
		cfg.Alpha = a
	}
	if rrfK != "" {
		k, err := strconv.Atoi(rrfK)
		if err != nil {
			return nil, errors.New("rrf_k must be a positive integer")
		}
		cfg.K = k
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func splitTokens(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) writeAppError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	h.writeError(w, status, message)
}
