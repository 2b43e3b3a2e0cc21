// Package fusion merges a sparse (BM25) and a dense ranking into one list.
// Fuse is a pure function: the same inputs always yield the same output.
package fusion

import (
	"fmt"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/searcher/merger"
	apperrors "github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/errors"
)

type Mode string

const (
	Weighted Mode = "weighted"
	RRF      Mode = "rrf"
)

const (
	DefaultAlpha = 0.5
	DefaultRRFK  = 60
)

// Config selects the strategy. Alpha weights the dense side in Weighted mode;
// K is the RRF rank constant.
type Config struct {
	Mode  Mode    `json:"mode"`
	Alpha float64 `json:"alpha"`
	K     int     `json:"k"`
}

func DefaultConfig() Config {
	return Config{Mode: Weighted, Alpha: DefaultAlpha, K: DefaultRRFK}
}

// ParseMode accepts the mode names case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case Weighted:
		return Weighted, nil
	case RRF:
		return RRF, nil
	default:
		return "", fmt.Errorf("%w: unknown fusion mode %q", apperrors.ErrInvalidInput, s)
	}
}

func (c Config) Validate() error {
	switch c.Mode {
	case Weighted:
		if c.Alpha < 0 || c.Alpha > 1 {
			return fmt.Errorf("%w: alpha %v outside [0,1]", apperrors.ErrInvalidInput, c.Alpha)
		}
	case RRF:
		if c.K <= 0 {
			return fmt.Errorf("%w: rrf k must be positive, got %d", apperrors.ErrInvalidInput, c.K)
		}
	default:
		return fmt.Errorf("%w: unknown fusion mode %q", apperrors.ErrInvalidInput, c.Mode)
	}
	return nil
}

func (c Config) String() string {
	if c.Mode == RRF {
		return fmt.Sprintf("rrf(k=%d)", c.K)
	}
	return fmt.Sprintf("weighted(alpha=%g)", c.Alpha)
}

// Scored is one entry of an input ranking. Lists are passed best first.
type Scored struct {
	DocID string
	Score float64
}

// Result is one fused entry. BM25Rank and DenseRank are the 1-based
// positions in the deduplicated input lists, 0 when the document was absent
// from that side.
type Result struct {
	DocID     string
	Score     float64
	BM25Rank  int
	DenseRank int
}

// Fuse deduplicates both lists by first occurrence, combines them according
// to cfg and returns at most topK results ordered by combined score
// descending, ties by ascending document id. topK <= 0 returns every
// candidate.
func Fuse(sparse, dense []Scored, topK int, cfg Config) ([]Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sparse = Dedupe(sparse)
	dense = Dedupe(dense)

	var combined map[string]float64
	switch cfg.Mode {
	case RRF:
		combined = reciprocalRank(cfg.K, sparse, dense)
	default:
		combined = weightedSum(cfg.Alpha, sparse, dense)
	}

	sparseRank := ranks(sparse)
	denseRank := ranks(dense)
	top := merger.TopK(combined, topK)
	out := make([]Result, len(top))
	for i, d := range top {
		out[i] = Result{
			DocID:     d.DocID,
			Score:     d.Score,
			BM25Rank:  sparseRank[d.DocID],
			DenseRank: denseRank[d.DocID],
		}
	}
	return out, nil
}

// Dedupe keeps the first occurrence of each document id. Inputs are sorted
// best first, so the survivor is the best-ranked one.
func Dedupe(list []Scored) []Scored {
	seen := make(map[string]struct{}, len(list))
	out := make([]Scored, 0, len(list))
	for _, s := range list {
		if _, dup := seen[s.DocID]; dup {
			continue
		}
		seen[s.DocID] = struct{}{}
		out = append(out, s)
	}
	return out
}

// MinMax maps scores linearly onto [0,1]. A list with a single entry, or
// whose scores are all equal, maps every entry to 1.
func MinMax(list []Scored) map[string]float64 {
	out := make(map[string]float64, len(list))
	if len(list) == 0 {
		return out
	}
	lo, hi := list[0].Score, list[0].Score
	for _, s := range list[1:] {
		lo = min(lo, s.Score)
		hi = max(hi, s.Score)
	}
	span := hi - lo
	for _, s := range list {
		if span == 0 {
			out[s.DocID] = 1
			continue
		}
		out[s.DocID] = (s.Score - lo) / span
	}
	return out
}

func weightedSum(alpha float64, sparse, dense []Scored) map[string]float64 {
	normSparse := MinMax(sparse)
	normDense := MinMax(dense)
	combined := make(map[string]float64, len(normSparse)+len(normDense))
	for id, v := range normSparse {
		combined[id] = (1 - alpha) * v
	}
	for id, v := range normDense {
		combined[id] += alpha * v
	}
	return combined
}

func reciprocalRank(k int, lists ...[]Scored) map[string]float64 {
	combined := make(map[string]float64)
	for _, list := range lists {
		for i, s := range list {
			combined[s.DocID] += 1 / float64(k+i+1)
		}
	}
	return combined
}

func ranks(list []Scored) map[string]int {
	out := make(map[string]int, len(list))
	for i, s := range list {
		out[s.DocID] = i + 1
	}
	return out
}
