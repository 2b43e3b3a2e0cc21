// Package dense adapts an external embedding-search service to the engine.
// The engine never embeds text itself: it forwards the query text and
// consumes a ranked list of passage hits.
package dense

import (
	"context"
	"sort"
)

// Hit is one passage returned by the dense service. Several hits may share a
// DocumentID when the service indexes passages rather than whole chapters.
type Hit struct {
	Score      float64 `json:"score"`
	DocumentID string  `json:"document_id"`
	Snippet    string  `json:"snippet"`
}

// Searcher is the dense retrieval contract. Implementations return hits in
// descending score order.
type Searcher interface {
	Search(ctx context.Context, queryText string, topK int) ([]Hit, error)
}

// SearcherFunc adapts a function to Searcher.
type SearcherFunc func(ctx context.Context, queryText string, topK int) ([]Hit, error)

func (f SearcherFunc) Search(ctx context.Context, queryText string, topK int) ([]Hit, error) {
	return f(ctx, queryText, topK)
}

// sortHits orders hits by descending score, keeping the service's order among
// equal scores.
func sortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
}

// DocumentHits groups the passages of one document.
type DocumentHits struct {
	DocumentID string  `json:"document_id"`
	BestScore  float64 `json:"best_score"`
	Passages   []Hit   `json:"passages"`
}

// GroupByDocument groups passage hits per document, keeps at most perDoc
// passages for each (best first) and returns the topK documents ordered by
// their best passage score, ties by ascending document id. perDoc <= 0 keeps
// every passage.
func GroupByDocument(hits []Hit, topK, perDoc int) []DocumentHits {
	byDoc := make(map[string]*DocumentHits)
	order := make([]*DocumentHits, 0)
	for _, h := range hits {
		g, ok := byDoc[h.DocumentID]
		if !ok {
			g = &DocumentHits{DocumentID: h.DocumentID, BestScore: h.Score}
			byDoc[h.DocumentID] = g
			order = append(order, g)
		}
		if h.Score > g.BestScore {
			g.BestScore = h.Score
		}
		g.Passages = append(g.Passages, h)
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].BestScore != order[j].BestScore {
			return order[i].BestScore > order[j].BestScore
		}
		return order[i].DocumentID < order[j].DocumentID
	})
	if topK > 0 && len(order) > topK {
		order = order[:topK]
	}
	out := make([]DocumentHits, len(order))
	for i, g := range order {
		sortHits(g.Passages)
		if perDoc > 0 && len(g.Passages) > perDoc {
			g.Passages = g.Passages[:perDoc]
		}
		out[i] = *g
	}
	return out
}
