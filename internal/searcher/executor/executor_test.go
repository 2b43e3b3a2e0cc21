package executor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/searcher/dense"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/searcher/fusion"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/tracing"
)

func testConfig() Config {
	return Config{
		DefaultTopK:     5,
		MaxTopK:         20,
		OverfetchFactor: 2,
		DenseTimeout:    200 * time.Millisecond,
		Fusion:          fusion.DefaultConfig(),
	}
}

func newEngine(t *testing.T) *indexer.Engine {
	t.Helper()
	e := indexer.NewEngine(config.IndexerConfig{K1: 1.5, B: 0.75, Workers: 2}, nil)
	require.NoError(t, e.IndexBatch(context.Background(), []indexer.Source{
		{Document: index.Document{ID: "d1", Book: "Moby Dick", Title: "Loomings", Text: "Call me Ishmael.\nSome years ago"}, Tokens: []string{"whale", "whale", "sea"}},
		{Document: index.Document{ID: "d2", Book: "Moby Dick", Title: "The Carpet-Bag", Text: "I stuffed a shirt or two"}, Tokens: []string{"sea", "ship"}},
		{Document: index.Document{ID: "d3", Book: "Moby Dick", Title: "The Ship", Text: "In bed we concocted our plans"}, Tokens: []string{"captain", "ship"}},
	}))
	return e
}

func prep() indexer.Preprocessor {
	return tokenizer.New(tokenizer.DefaultOptions())
}

func ids(results []EnrichedResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.DocumentID
	}
	return out
}

func TestExecuteHybridEnrichment(t *testing.T) {
	denseSvc := &dense.StaticSearcher{Results: map[string][]dense.Hit{
		"whale": {
			{Score: 0.9, DocumentID: "d3", Snippet: "captain passage"},
			{Score: 0.8, DocumentID: "d3", Snippet: "second passage"},
			{Score: 0.5, DocumentID: "d1", Snippet: "whale\npassage"},
		},
	}}
	ex := New(newEngine(t), denseSvc, prep(), testConfig())

	resp, err := ex.Execute(context.Background(), Request{Query: "whale", Tokens: []string{"whale"}, TopK: 2})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.False(t, resp.DenseDegraded)

	// d1 is bm25 best and dense worst, d3 dense best only: both 0.5, id order.
	assert.Equal(t, []string{"d1", "d3"}, ids(resp.Results))

	d1 := resp.Results[0]
	assert.InDelta(t, 0.5, d1.CombinedScore, 1e-9)
	assert.Equal(t, "Loomings", d1.Title)
	assert.Equal(t, "Moby Dick", d1.Book)
	assert.Equal(t, 1, d1.BM25Rank)
	assert.Equal(t, 2, d1.DenseRank)
	assert.Greater(t, d1.BM25Score, 0.0)
	assert.Equal(t, 0.5, d1.DenseScore)
	assert.Equal(t, "Call me Ishmael. Some years ago", d1.BM25Snippet)
	assert.Equal(t, "whale passage", d1.DenseSnippet)

	d3 := resp.Results[1]
	assert.Equal(t, "The Ship", d3.Title)
	assert.Equal(t, 0, d3.BM25Rank)
	assert.Empty(t, d3.BM25Snippet)
	assert.Zero(t, d3.BM25Score)
	assert.Equal(t, 1, d3.DenseRank)
	assert.Equal(t, 0.9, d3.DenseScore)
	assert.Equal(t, "captain passage", d3.DenseSnippet)
}

func TestExecuteOverfetches(t *testing.T) {
	var requested int
	denseSvc := dense.SearcherFunc(func(_ context.Context, _ string, topK int) ([]dense.Hit, error) {
		requested = topK
		return nil, nil
	})
	ex := New(newEngine(t), denseSvc, prep(), testConfig())

	_, err := ex.Execute(context.Background(), Request{Query: "sea", Tokens: []string{"sea"}, TopK: 3})
	require.NoError(t, err)
	assert.Equal(t, 6, requested)
}

func TestExecuteAlphaZeroKeepsBM25Order(t *testing.T) {
	engine := newEngine(t)
	denseSvc := &dense.StaticSearcher{Default: []dense.Hit{
		{Score: 0.99, DocumentID: "d3"},
		{Score: 0.10, DocumentID: "d2"},
	}}
	ex := New(engine, denseSvc, prep(), testConfig())

	bm25, err := engine.Rank([]string{"sea", "ship"}, 10)
	require.NoError(t, err)
	resp, err := ex.Execute(context.Background(), Request{
		Query:  "sea ship",
		Tokens: []string{"sea", "ship"},
		TopK:   3,
		Fusion: &fusion.Config{Mode: fusion.Weighted, Alpha: 0},
	})
	require.NoError(t, err)

	want := make([]string, 0, len(bm25))
	for _, r := range bm25 {
		want = append(want, r.DocID)
	}
	assert.Equal(t, want, ids(resp.Results)[:len(want)])
}

func TestExecuteRRFOverride(t *testing.T) {
	denseSvc := &dense.StaticSearcher{Default: []dense.Hit{{Score: 0.7, DocumentID: "d1"}}}
	ex := New(newEngine(t), denseSvc, prep(), testConfig())

	resp, err := ex.Execute(context.Background(), Request{
		Query:  "whale",
		Tokens: []string{"whale"},
		Fusion: &fusion.Config{Mode: fusion.RRF, K: 60},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.InDelta(t, 2.0/61.0, resp.Results[0].CombinedScore, 1e-12)
	assert.Equal(t, fusion.RRF, resp.Fusion.Mode)
}

func TestExecuteDenseTimeoutFallsBack(t *testing.T) {
	engine := newEngine(t)
	denseSvc := &dense.StaticSearcher{Delay: time.Second, Default: []dense.Hit{{Score: 1, DocumentID: "d3"}}}
	cfg := testConfig()
	cfg.DenseTimeout = 20 * time.Millisecond
	reg := prometheus.NewRegistry()
	ex := New(engine, denseSvc, prep(), cfg, WithMetrics(metrics.NewWithRegistry(reg)))

	start := time.Now()
	resp, err := ex.Execute(context.Background(), Request{Query: "sea ship", Tokens: []string{"sea", "ship"}, TopK: 5})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.True(t, resp.DenseDegraded)

	bm25, err := engine.Rank([]string{"sea", "ship"}, 10)
	require.NoError(t, err)
	require.Len(t, resp.Results, len(bm25))
	for i, r := range resp.Results {
		assert.Equal(t, bm25[i].DocID, r.DocumentID)
		assert.Zero(t, r.DenseRank)
		assert.Empty(t, r.DenseSnippet)
	}

	families, err := reg.Gather()
	require.NoError(t, err)
	var fallbacks float64
	for _, f := range families {
		if f.GetName() == "dense_fallbacks_total" {
			for _, m := range f.GetMetric() {
				fallbacks += m.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, 1.0, fallbacks)
}

func TestExecuteRecordsStages(t *testing.T) {
	denseSvc := &dense.StaticSearcher{Default: []dense.Hit{{Score: 1, DocumentID: "d3"}}}
	reg := prometheus.NewRegistry()
	ex := New(newEngine(t), denseSvc, prep(), testConfig(), WithMetrics(metrics.NewWithRegistry(reg)))

	ctx, parent := tracing.Start(context.Background(), "request")
	_, err := ex.Execute(ctx, Request{Query: "whale", Tokens: []string{"whale"}, TopK: 3})
	require.NoError(t, err)
	parent.End()
	assert.Contains(t, parent.Stages(), "search")

	families, err := reg.Gather()
	require.NoError(t, err)
	samples := map[string]uint64{}
	for _, f := range families {
		if f.GetName() != "search_stage_latency_seconds" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "stage" {
					samples[l.GetValue()] = m.GetHistogram().GetSampleCount()
				}
			}
		}
	}
	assert.Equal(t, map[string]uint64{"bm25": 1, "dense": 1, "fusion": 1, "total": 1}, samples)
}

func TestExecuteDenseErrorFallsBack(t *testing.T) {
	denseSvc := &dense.StaticSearcher{Err: apperrors.ErrDenseUnavailable}
	ex := New(newEngine(t), denseSvc, prep(), testConfig())

	resp, err := ex.Execute(context.Background(), Request{Query: "whale", Tokens: []string{"whale"}})
	require.NoError(t, err)
	assert.True(t, resp.DenseDegraded)
	assert.Equal(t, []string{"d1"}, ids(resp.Results))
}

func TestExecuteDenseFatal(t *testing.T) {
	denseSvc := &dense.StaticSearcher{Err: errors.New("connection refused")}
	cfg := testConfig()
	cfg.DenseFatal = true
	ex := New(newEngine(t), denseSvc, prep(), cfg)

	_, err := ex.Execute(context.Background(), Request{Query: "whale", Tokens: []string{"whale"}})
	assert.ErrorIs(t, err, apperrors.ErrDenseUnavailable)
}

func TestExecuteIndexNotReady(t *testing.T) {
	empty := indexer.NewEngine(config.IndexerConfig{}, nil)
	ex := New(empty, &dense.StaticSearcher{}, prep(), testConfig())

	_, err := ex.Execute(context.Background(), Request{Query: "whale"})
	assert.ErrorIs(t, err, apperrors.ErrIndexNotReady)
}

func TestExecuteEmptyQuery(t *testing.T) {
	denseSvc := &dense.StaticSearcher{}
	ex := New(newEngine(t), denseSvc, prep(), testConfig())

	resp, err := ex.Execute(context.Background(), Request{Query: "   "})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.NotNil(t, resp.Results)
	assert.Zero(t, denseSvc.Calls())
}

func TestExecuteStopWordQuerySkipsDense(t *testing.T) {
	denseSvc := &dense.StaticSearcher{Default: []dense.Hit{{Score: 0.9, DocumentID: "d1", Snippet: "x"}}}
	ex := New(newEngine(t), denseSvc, prep(), testConfig())

	for _, req := range []Request{
		{Query: "the and of"},
		{Query: "whale", Tokens: []string{}},
	} {
		resp, err := ex.Execute(context.Background(), req)
		require.NoError(t, err)
		assert.Empty(t, resp.Tokens)
		assert.Empty(t, resp.Results)
		assert.False(t, resp.DenseDegraded)
	}
	assert.Zero(t, denseSvc.Calls())
}

func TestExecutePreprocessesQuery(t *testing.T) {
	engine := indexer.NewEngine(config.IndexerConfig{K1: 1.5, B: 0.75}, nil)
	p := prep()
	text := "The whales were hunting near the ship."
	require.NoError(t, engine.Index(context.Background(), index.Document{ID: "c1", Text: text}, p.Preprocess(text)))
	ex := New(engine, nil, p, testConfig())

	resp, err := ex.Execute(context.Background(), Request{Query: "Whales"})
	require.NoError(t, err)
	assert.Equal(t, []string{"whal"}, resp.Tokens)
	assert.Equal(t, []string{"c1"}, ids(resp.Results))
}

func TestExecuteTopKBounds(t *testing.T) {
	ex := New(newEngine(t), nil, prep(), testConfig())
	ctx := context.Background()

	resp, err := ex.Execute(ctx, Request{Query: "sea", Tokens: []string{"sea"}})
	require.NoError(t, err)
	assert.Equal(t, 5, resp.TopK)

	resp, err = ex.Execute(ctx, Request{Query: "sea", Tokens: []string{"sea"}, TopK: 1000})
	require.NoError(t, err)
	assert.Equal(t, 20, resp.TopK)

	_, err = ex.Execute(ctx, Request{Query: "sea", Tokens: []string{"sea"}, TopK: -1})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = ex.Execute(ctx, Request{Query: "sea", Tokens: []string{"sea"}, Fusion: &fusion.Config{Mode: fusion.Weighted, Alpha: 2}})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestSearchLibraryForm(t *testing.T) {
	ex := New(newEngine(t), nil, prep(), testConfig())
	results, err := ex.Search(context.Background(), "ship", []string{"ship"}, 1, fusion.DefaultConfig())
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestConfigFrom(t *testing.T) {
	def := config.Default()
	cfg, err := ConfigFrom(def.Search, def.Dense)
	require.NoError(t, err)
	assert.Equal(t, fusion.Weighted, cfg.Fusion.Mode)
	assert.Equal(t, 60, cfg.Fusion.K)
	assert.Equal(t, 2*time.Second, cfg.DenseTimeout)

	def.Search.Fusion.Mode = "borda"
	_, err = ConfigFrom(def.Search, def.Dense)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "a b c", Snippet("a\nb\r\nc"))

	long := strings.Repeat("é", 400)
	s := Snippet(long)
	assert.Equal(t, SnippetLength, len([]rune(s)))
	assert.Equal(t, "short", Snippet("short"))
}
