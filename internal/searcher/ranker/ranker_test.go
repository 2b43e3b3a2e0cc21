package ranker

import (
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/indexer/index"
)

func build(t testing.TB, docs map[string]string) *index.Snapshot {
	t.Helper()
	entries := make([]index.Entry, 0, len(docs))
	for id, text := range docs {
		e, err := index.NewEntry(index.Document{ID: id, Text: text}, strings.Fields(text))
		require.NoError(t, err)
		entries = append(entries, e)
	}
	return index.Build(entries)
}

func rank(s *index.Snapshot, tokens []string, topN int, p Params) []RankedResult {
	var out []RankedResult
	s.Read(func(v index.View) { out = Rank(v, tokens, topN, p) })
	return out
}

func TestRankCatDogExample(t *testing.T) {
	s := build(t, map[string]string{"doc1": "cat sat mat", "doc2": "cat cat dog"})

	got := rank(s, []string{"cat"}, 10, DefaultParams())

	require.Len(t, got, 2)
	assert.InDelta(t, math.Log(1.2), IDF(2, 2), 1e-12)
	assert.Equal(t, "doc2", got[0].DocID)
	assert.InDelta(t, 0.26046, got[0].Score, 1e-5)
	assert.Equal(t, 1, got[0].Rank)
	assert.Equal(t, "doc1", got[1].DocID)
	assert.InDelta(t, 0.18232, got[1].Score, 1e-5)
	assert.Equal(t, 2, got[1].Rank)
}

func TestIDFStrictlyDecreasing(t *testing.T) {
	for _, n := range []int{1, 2, 10, 1000} {
		prev := math.Inf(1)
		for df := 0; df <= n; df++ {
			idf := IDF(n, df)
			assert.Greater(t, idf, 0.0)
			assert.Less(t, idf, prev, "N=%d df=%d", n, df)
			prev = idf
		}
	}
}

func TestRankBoundsOrderAndUniqueness(t *testing.T) {
	docs := make(map[string]string)
	for i := 0; i < 40; i++ {
		docs[fmt.Sprintf("doc%02d", i)] = strings.Repeat("whale ", i%5+1) + strings.Repeat("sea ", i%3) + "ship"
	}
	s := build(t, docs)

	for _, topN := range []int{1, 3, 10, 40, 100} {
		got := rank(s, []string{"whale", "sea", "whale"}, topN, DefaultParams())
		assert.LessOrEqual(t, len(got), topN)
		seen := make(map[string]bool)
		for i, r := range got {
			assert.False(t, seen[r.DocID], "duplicate %s", r.DocID)
			seen[r.DocID] = true
			assert.Equal(t, i+1, r.Rank)
			if i > 0 {
				prev := got[i-1]
				ordered := prev.Score > r.Score || (prev.Score == r.Score && prev.DocID < r.DocID)
				assert.True(t, ordered, "%v before %v", prev, r)
			}
		}
	}
}

func TestRankTiesAscendingID(t *testing.T) {
	s := build(t, map[string]string{"b": "cat dog", "a": "cat dog", "c": "cat dog"})
	got := rank(s, []string{"cat"}, 10, DefaultParams())
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{got[0].DocID, got[1].DocID, got[2].DocID})
}

func TestRankEmptyCases(t *testing.T) {
	s := build(t, map[string]string{"doc1": "cat sat mat"})
	assert.Empty(t, rank(s, nil, 10, DefaultParams()))
	assert.Empty(t, rank(s, []string{"bird"}, 10, DefaultParams()))
	assert.Empty(t, rank(s, []string{"cat"}, 0, DefaultParams()))
	assert.Empty(t, rank(index.NewSnapshot(), []string{"cat"}, 10, DefaultParams()))
}

func TestRankUnknownTokenContributesNothing(t *testing.T) {
	s := build(t, map[string]string{"doc1": "cat sat mat", "doc2": "cat cat dog"})
	with := rank(s, []string{"cat", "unicorn"}, 10, DefaultParams())
	without := rank(s, []string{"cat"}, 10, DefaultParams())
	assert.Equal(t, without, with)
}

func TestRankParamsChangeScores(t *testing.T) {
	s := build(t, map[string]string{"doc1": "cat sat mat", "doc2": "cat cat dog"})
	noLength := rank(s, []string{"cat"}, 10, Params{K1: 1.5, B: 0})
	// with b=0 and equal lengths nothing changes for doc1: tf=1 -> 2.5/2.5
	assert.InDelta(t, math.Log(1.2), noLength[1].Score, 1e-12)
	saturated := rank(s, []string{"cat"}, 10, Params{K1: 0, B: 0.75})
	assert.InDelta(t, saturated[0].Score, saturated[1].Score, 1e-12)
}

func BenchmarkRank(b *testing.B) {
	docs := make(map[string]string, 2000)
	vocab := []string{"whale", "ship", "sea", "captain", "harpoon", "storm", "island", "crew"}
	for i := 0; i < 2000; i++ {
		var sb strings.Builder
		for j := 0; j < 200; j++ {
			sb.WriteString(vocab[(i*7+j*3)%len(vocab)])
			sb.WriteByte(' ')
		}
		docs[fmt.Sprintf("doc%04d", i)] = sb.String()
	}
	s := build(b, docs)
	query := []string{"whale", "captain", "storm"}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rank(s, query, 20, DefaultParams())
	}
}
