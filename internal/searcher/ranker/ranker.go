// Package ranker scores documents against a token query with Okapi BM25.
package ranker

import (
	"math"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/searcher/merger"
)

const (
	DefaultK1 = 1.5
	DefaultB  = 0.75
)

// Params are the BM25 free parameters. K1 controls term-frequency
// saturation, B the strength of document-length normalization.
type Params struct {
	K1 float64
	B  float64
}

func DefaultParams() Params {
	return Params{K1: DefaultK1, B: DefaultB}
}

type RankedResult struct {
	DocID string  `json:"doc_id"`
	Score float64 `json:"score"`
	Rank  int     `json:"rank"`
}

// Corpus is the read surface the ranker needs. index.View implements it.
type Corpus interface {
	Stats() index.Stats
	DocumentFrequency(token string) int
	EachPosting(token string, fn func(docID string, freq int))
	DocLength(docID string) int
}

// Rank scores every document containing at least one query token and returns
// at most topN results, score descending, ties by ascending document id.
// Duplicate query tokens count once. Tokens absent from the vocabulary are
// skipped. An empty query, an empty corpus or topN <= 0 yields nil.
func Rank(c Corpus, queryTokens []string, topN int, p Params) []RankedResult {
	if topN <= 0 || len(queryTokens) == 0 {
		return nil
	}
	stats := c.Stats()
	if stats.N == 0 || stats.AvgDL == 0 {
		return nil
	}

	scores := make(map[string]float64)
	seen := make(map[string]struct{}, len(queryTokens))
	for _, token := range queryTokens {
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		df := c.DocumentFrequency(token)
		if df == 0 {
			continue
		}
		idf := IDF(stats.N, df)
		c.EachPosting(token, func(docID string, freq int) {
			scores[docID] += idf * TermWeight(freq, c.DocLength(docID), stats.AvgDL, p)
		})
	}
	if len(scores) == 0 {
		return nil
	}

	top := merger.TopK(scores, topN)
	result := make([]RankedResult, len(top))
	for i, d := range top {
		result[i] = RankedResult{DocID: d.DocID, Score: d.Score, Rank: i + 1}
	}
	return result
}

// IDF is ln((N - df + 0.5) / (df + 0.5) + 1). It is positive for every
// 0 <= df <= N and strictly decreasing in df.
func IDF(totalDocs, docFreq int) float64 {
	numerator := float64(totalDocs) - float64(docFreq) + 0.5
	denominator := float64(docFreq) + 0.5
	return math.Log(numerator/denominator + 1)
}

// TermWeight is the saturated, length-normalized term-frequency component.
func TermWeight(freq, docLength int, avgDocLength float64, p Params) float64 {
	if avgDocLength == 0 || freq <= 0 {
		return 0
	}
	tf := float64(freq)
	lengthRatio := float64(docLength) / avgDocLength
	denominator := tf + p.K1*(1-p.B+p.B*lengthRatio)
	return (tf * (p.K1 + 1)) / denominator
}
