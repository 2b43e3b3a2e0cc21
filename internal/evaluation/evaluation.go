// Package evaluation measures ranking quality against judged queries and
// sweeps the weighted-fusion alpha to find the best dense/sparse balance.
package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/searcher/fusion"
	apperrors "github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/errors"
)

// Passage is a judged relevant text span.
type Passage struct {
	Text string `json:"text"`
}

// Query is one judged query. A result is relevant when its document id is in
// RelevantIDs, or when one of its snippets contains a PositiveContexts text
// (case-insensitive).
type Query struct {
	Query            string    `json:"query"`
	RelevantIDs      []string  `json:"relevant_ids,omitempty"`
	PositiveContexts []Passage `json:"positive_ctxs,omitempty"`
}

// LoadQueries reads a JSON array of judged queries.
func LoadQueries(path string) ([]Query, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading queries %s: %w", path, err)
	}
	var queries []Query
	if err := json.Unmarshal(data, &queries); err != nil {
		return nil, fmt.Errorf("parsing queries %s: %w", path, err)
	}
	return queries, nil
}

// Judge marks each result relevant or not.
func (q Query) Judge(results []executor.EnrichedResult) []bool {
	ids := make(map[string]struct{}, len(q.RelevantIDs))
	for _, id := range q.RelevantIDs {
		ids[id] = struct{}{}
	}
	texts := make([]string, 0, len(q.PositiveContexts))
	for _, p := range q.PositiveContexts {
		if t := strings.ToLower(strings.TrimSpace(p.Text)); t != "" {
			texts = append(texts, t)
		}
	}

	rel := make([]bool, len(results))
	for i, r := range results {
		if _, ok := ids[r.DocumentID]; ok {
			rel[i] = true
			continue
		}
		bm25 := strings.ToLower(r.BM25Snippet)
		dense := strings.ToLower(r.DenseSnippet)
		for _, t := range texts {
			if strings.Contains(bm25, t) || strings.Contains(dense, t) {
				rel[i] = true
				break
			}
		}
	}
	return rel
}

// AveragePrecision is the mean of precision@i over the relevant positions of
// a ranked list. A list with no relevant entry scores 0.
func AveragePrecision(relevant []bool) float64 {
	var hits, sum float64
	for i, rel := range relevant {
		if rel {
			hits++
			sum += hits / float64(i+1)
		}
	}
	if hits == 0 {
		return 0
	}
	return sum / hits
}

// NDCG is the normalized discounted cumulative gain of a ranked list with
// binary gains, truncated at k (k <= 0 uses the whole list). A list with no
// relevant entry scores 0.
func NDCG(relevant []bool, k int) float64 {
	if k <= 0 || k > len(relevant) {
		k = len(relevant)
	}
	var dcg float64
	total := 0
	for i, rel := range relevant {
		if !rel {
			continue
		}
		total++
		if i < k {
			dcg += 1 / math.Log2(float64(i+2))
		}
	}
	if total == 0 {
		return 0
	}
	var ideal float64
	for i := 0; i < total && i < k; i++ {
		ideal += 1 / math.Log2(float64(i+2))
	}
	return dcg / ideal
}

// Searcher runs one query. *executor.Executor implements it.
type Searcher interface {
	Execute(ctx context.Context, req executor.Request) (*executor.Response, error)
}

// AlphaResult is the mean quality at one alpha.
type AlphaResult struct {
	Alpha    float64 `json:"alpha"`
	MAP      float64 `json:"map"`
	NDCG     float64 `json:"ndcg"`
	Degraded int     `json:"degraded"`
}

// DefaultAlphas returns 0.0, 0.1, ..., 1.0.
func DefaultAlphas() []float64 {
	alphas := make([]float64, 11)
	for i := range alphas {
		alphas[i] = float64(i) / 10
	}
	return alphas
}

// SweepConfig controls a sweep. Workers bounds concurrent queries per alpha.
type SweepConfig struct {
	TopK    int
	Alphas  []float64
	Workers int
}

// SweepAlpha evaluates every query under weighted fusion at each alpha and
// returns MAP and mean NDCG@TopK per alpha, in alpha order.
func SweepAlpha(ctx context.Context, s Searcher, queries []Query, cfg SweepConfig) ([]AlphaResult, error) {
	if len(queries) == 0 {
		return nil, fmt.Errorf("%w: no queries to evaluate", apperrors.ErrInvalidInput)
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if len(cfg.Alphas) == 0 {
		cfg.Alphas = DefaultAlphas()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	logger := slog.Default().With("component", "evaluation")

	out := make([]AlphaResult, 0, len(cfg.Alphas))
	for _, alpha := range cfg.Alphas {
		fcfg := fusion.Config{Mode: fusion.Weighted, Alpha: alpha}
		if err := fcfg.Validate(); err != nil {
			return nil, err
		}

		aps := make([]float64, len(queries))
		ndcgs := make([]float64, len(queries))
		degraded := make([]bool, len(queries))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cfg.Workers)
		for i, q := range queries {
			g.Go(func() error {
				resp, err := s.Execute(gctx, executor.Request{Query: q.Query, TopK: cfg.TopK, Fusion: &fcfg})
				if err != nil {
					return fmt.Errorf("query %q at alpha %.1f: %w", q.Query, alpha, err)
				}
				rel := q.Judge(resp.Results)
				aps[i] = AveragePrecision(rel)
				ndcgs[i] = NDCG(rel, cfg.TopK)
				degraded[i] = resp.DenseDegraded
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		res := AlphaResult{Alpha: alpha, MAP: mean(aps), NDCG: mean(ndcgs)}
		for _, d := range degraded {
			if d {
				res.Degraded++
			}
		}
		logger.Info("alpha evaluated", "alpha", alpha, "map", res.MAP, "ndcg", res.NDCG, "degraded", res.Degraded)
		out = append(out, res)
	}
	return out, nil
}

// Best returns the result with the highest MAP, lowest alpha on ties.
func Best(results []AlphaResult) (AlphaResult, bool) {
	if len(results) == 0 {
		return AlphaResult{}, false
	}
	best := results[0]
	for _, r := range results[1:] {
		if r.MAP > best.MAP {
			best = r
		}
	}
	return best, true
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
