// Package executor is the query orchestrator. It runs the BM25 ranking and
// the dense lookup side by side, fuses the two rankings and enriches the
// surviving documents with their stored metadata and snippets.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/searcher/dense"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/searcher/fusion"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/tracing"
)

// SnippetLength is the maximum snippet size in runes.
const SnippetLength = 300

// Index is the read surface of the indexer engine used at query time.
type Index interface {
	Rank(queryTokens []string, topN int) ([]ranker.RankedResult, error)
	Documents(ids []string) []index.Document
}

type Config struct {
	DefaultTopK     int
	MaxTopK         int
	OverfetchFactor int
	DenseTimeout    time.Duration
	DenseFatal      bool
	Fusion          fusion.Config
}

// ConfigFrom maps the search and dense sections of the application config.
func ConfigFrom(search config.SearchConfig, d config.DenseConfig) (Config, error) {
	mode, err := fusion.ParseMode(search.Fusion.Mode)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		DefaultTopK:     search.DefaultTopK,
		MaxTopK:         search.MaxTopK,
		OverfetchFactor: search.OverfetchFactor,
		DenseTimeout:    d.Timeout,
		DenseFatal:      search.DenseFatal,
		Fusion:          fusion.Config{Mode: mode, Alpha: search.Fusion.Alpha, K: search.Fusion.RRFK},
	}
	return cfg, cfg.Fusion.Validate()
}

// Request is one search. Tokens may be nil, in which case Query is run
// through the preprocessor. A nil Fusion uses the engine default.
type Request struct {
	Query  string
	Tokens []string
	TopK   int
	Fusion *fusion.Config
}

// EnrichedResult is one fused document with the evidence from both sides.
// A side's rank is 0 and its snippet empty when the document did not appear
// in that side's results.
type EnrichedResult struct {
	DocumentID    string  `json:"document_id"`
	Book          string  `json:"book,omitempty"`
	Title         string  `json:"chapter_title,omitempty"`
	CombinedScore float64 `json:"combined_score"`
	BM25Score     float64 `json:"bm25_score"`
	DenseScore    float64 `json:"dense_score"`
	BM25Rank      int     `json:"bm25_rank,omitempty"`
	DenseRank     int     `json:"dense_rank,omitempty"`
	BM25Snippet   string  `json:"bm25_snippet,omitempty"`
	DenseSnippet  string  `json:"dense_snippet,omitempty"`
}

type Response struct {
	Query   string           `json:"query"`
	Tokens  []string         `json:"tokens"`
	TopK    int              `json:"top_k"`
	Fusion  fusion.Config    `json:"fusion"`
	Results []EnrichedResult `json:"results"`
	// DenseDegraded is set when the dense side failed and the ranking is
	// BM25 only.
	DenseDegraded bool  `json:"dense_degraded,omitempty"`
	TookMs        int64 `json:"took_ms"`
}

type Executor struct {
	index   Index
	dense   dense.Searcher
	prep    indexer.Preprocessor
	cfg     Config
	metrics *metrics.Metrics
}

type Option func(*Executor)

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// New wires the orchestrator. denseSearcher may be nil for a BM25-only
// deployment.
func New(idx Index, denseSearcher dense.Searcher, prep indexer.Preprocessor, cfg Config, opts ...Option) *Executor {
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 5
	}
	if cfg.MaxTopK < cfg.DefaultTopK {
		cfg.MaxTopK = cfg.DefaultTopK
	}
	if cfg.OverfetchFactor < 1 {
		cfg.OverfetchFactor = 2
	}
	if cfg.Fusion.Mode == "" {
		cfg.Fusion = fusion.DefaultConfig()
	}
	e := &Executor{
		index: idx,
		dense: denseSearcher,
		prep:  prep,
		cfg:   cfg,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DefaultFusion returns the strategy used when a request names none.
func (e *Executor) DefaultFusion() fusion.Config {
	return e.cfg.Fusion
}

// Search is the plain library form of Execute.
func (e *Executor) Search(ctx context.Context, queryText string, queryTokens []string, topK int, cfg fusion.Config) ([]EnrichedResult, error) {
	resp, err := e.Execute(ctx, Request{Query: queryText, Tokens: queryTokens, TopK: topK, Fusion: &cfg})
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Execute answers one request. Only an index that is not ready, an invalid
// request, or a dense failure with DenseFatal set fail the query; any other
// dense failure degrades the answer to BM25 only.
func (e *Executor) Execute(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	log := logger.FromContext(ctx).With("component", "query-executor")
	ctx, span := tracing.Start(ctx, "search")
	defer func() {
		e.observe("total", span.End())
		span.Log(ctx, log, slog.LevelDebug)
	}()

	topK, err := e.topK(req.TopK)
	if err != nil {
		e.countQuery("error")
		return nil, err
	}
	fcfg := e.cfg.Fusion
	if req.Fusion != nil {
		fcfg = *req.Fusion
	}
	if err := fcfg.Validate(); err != nil {
		e.countQuery("error")
		return nil, err
	}

	tokens := req.Tokens
	if tokens == nil && e.prep != nil {
		tokens = e.prep.Preprocess(req.Query)
	}
	resp := &Response{Query: req.Query, Tokens: tokens, TopK: topK, Fusion: fcfg, Results: []EnrichedResult{}}
	// No tokens after preprocessing is an empty query on both sides.
	if len(tokens) == 0 {
		resp.TookMs = time.Since(start).Milliseconds()
		e.countQuery("empty")
		return resp, nil
	}

	overfetch := topK * e.cfg.OverfetchFactor
	var (
		sparse   []ranker.RankedResult
		hits     []dense.Hit
		denseErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, stage := tracing.Start(gctx, "bm25")
		var err error
		sparse, err = e.index.Rank(tokens, overfetch)
		stage.SetAttr("candidates", len(sparse))
		e.observe("bm25", stage.End())
		return err
	})
	if e.dense != nil && strings.TrimSpace(req.Query) != "" {
		g.Go(func() error {
			dctx, stage := tracing.Start(gctx, "dense")
			hits, denseErr = resilience.Call(dctx, e.cfg.DenseTimeout, "dense search", func(ctx context.Context) ([]dense.Hit, error) {
				return e.dense.Search(ctx, req.Query, overfetch)
			})
			if denseErr != nil {
				stage.SetAttr("error", denseErr.Error())
			}
			e.observe("dense", stage.End())
			if denseErr != nil && e.cfg.DenseFatal {
				return fmt.Errorf("%w: %w", apperrors.ErrDenseUnavailable, denseErr)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.countQuery(outcome(err))
		return nil, err
	}
	denseHits := hits
	if denseErr != nil {
		denseHits = nil
		resp.DenseDegraded = true
		reason := fallbackReason(denseErr)
		if e.metrics != nil {
			e.metrics.DenseFallbacksTotal.WithLabelValues(reason).Inc()
		}
		log.Warn("dense search failed, answering with bm25 only", "reason", reason, "error", denseErr)
	}

	_, stage := tracing.Start(ctx, "fusion")
	stage.SetAttr("strategy", fcfg.String())
	fused, err := fusion.Fuse(sparseList(sparse), denseList(denseHits), topK, fcfg)
	if err != nil {
		e.countQuery("error")
		return nil, err
	}
	resp.Results = e.enrich(fused, sparse, denseHits)
	e.observe("fusion", stage.End())

	resp.TookMs = time.Since(start).Milliseconds()
	if e.metrics != nil {
		e.metrics.SearchResultsCount.Observe(float64(len(resp.Results)))
	}
	e.countQuery("ok")
	log.Info("query executed",
		"query", req.Query,
		"tokens", len(tokens),
		"fusion", fcfg.String(),
		"bm25_candidates", len(sparse),
		"dense_hits", len(denseHits),
		"results", len(resp.Results),
		"dense_degraded", resp.DenseDegraded,
		"took_ms", resp.TookMs,
	)
	return resp, nil
}

func (e *Executor) topK(k int) (int, error) {
	switch {
	case k < 0:
		return 0, fmt.Errorf("%w: topK must not be negative, got %d", apperrors.ErrInvalidInput, k)
	case k == 0:
		return e.cfg.DefaultTopK, nil
	case k > e.cfg.MaxTopK:
		return e.cfg.MaxTopK, nil
	default:
		return k, nil
	}
}

// enrich attaches stored metadata and per-side evidence to fused results.
func (e *Executor) enrich(fused []fusion.Result, sparse []ranker.RankedResult, hits []dense.Hit) []EnrichedResult {
	ids := make([]string, len(fused))
	for i, r := range fused {
		ids[i] = r.DocID
	}
	docs := make(map[string]index.Document, len(ids))
	for _, d := range e.index.Documents(ids) {
		docs[d.ID] = d
	}
	bm25Scores := make(map[string]float64, len(sparse))
	for _, r := range sparse {
		bm25Scores[r.DocID] = r.Score
	}
	// First hit per document is its best passage.
	bestHit := make(map[string]dense.Hit, len(hits))
	for _, h := range hits {
		if _, ok := bestHit[h.DocumentID]; !ok {
			bestHit[h.DocumentID] = h
		}
	}

	out := make([]EnrichedResult, len(fused))
	for i, r := range fused {
		doc := docs[r.DocID]
		er := EnrichedResult{
			DocumentID:    r.DocID,
			Book:          doc.Book,
			Title:         doc.Title,
			CombinedScore: r.Score,
			BM25Rank:      r.BM25Rank,
			DenseRank:     r.DenseRank,
		}
		if r.BM25Rank > 0 {
			er.BM25Score = bm25Scores[r.DocID]
			er.BM25Snippet = Snippet(doc.Text)
		}
		if r.DenseRank > 0 {
			h := bestHit[r.DocID]
			er.DenseScore = h.Score
			er.DenseSnippet = Snippet(h.Snippet)
		}
		out[i] = er
	}
	return out
}

// Snippet flattens line breaks to spaces and truncates to SnippetLength
// runes.
func Snippet(text string) string {
	text = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(text)
	if utf8.RuneCountInString(text) <= SnippetLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:SnippetLength])
}

func sparseList(results []ranker.RankedResult) []fusion.Scored {
	out := make([]fusion.Scored, len(results))
	for i, r := range results {
		out[i] = fusion.Scored{DocID: r.DocID, Score: r.Score}
	}
	return out
}

func denseList(hits []dense.Hit) []fusion.Scored {
	out := make([]fusion.Scored, len(hits))
	for i, h := range hits {
		out[i] = fusion.Scored{DocID: h.DocumentID, Score: h.Score}
	}
	return out
}

func fallbackReason(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	default:
		return "error"
	}
}

func outcome(err error) string {
	if errors.Is(err, apperrors.ErrIndexNotReady) {
		return "not_ready"
	}
	return "error"
}

func (e *Executor) countQuery(outcome string) {
	if e.metrics != nil {
		e.metrics.SearchQueriesTotal.WithLabelValues(outcome).Inc()
	}
}

func (e *Executor) observe(stage string, d time.Duration) {
	if e.metrics != nil {
		e.metrics.SearchLatency.WithLabelValues(stage).Observe(d.Seconds())
	}
}
