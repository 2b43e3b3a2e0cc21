// Package merger selects the best K scored documents with a bounded heap.
// Every ranking in the engine orders by score descending and breaks ties by
// ascending document id; this package is the single place that order lives.
package merger

import (
	"container/heap"
	"sort"
)

type ScoredDoc struct {
	DocID string
	Score float64
}

// Before reports whether a ranks ahead of b.
func Before(a, b ScoredDoc) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.DocID < b.DocID
}

// TopK returns the k best entries of scores in ranking order. k <= 0 returns
// every entry, sorted.
func TopK(scores map[string]float64, k int) []ScoredDoc {
	if k <= 0 || k >= len(scores) {
		out := make([]ScoredDoc, 0, len(scores))
		for id, s := range scores {
			out = append(out, ScoredDoc{DocID: id, Score: s})
		}
		Sort(out)
		return out
	}
	h := make(scoredDocHeap, 0, k+1)
	for id, s := range scores {
		d := ScoredDoc{DocID: id, Score: s}
		if h.Len() < k {
			heap.Push(&h, d)
			continue
		}
		if Before(d, h[0]) {
			h[0] = d
			heap.Fix(&h, 0)
		}
	}
	result := make([]ScoredDoc, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(&h).(ScoredDoc)
	}
	return result
}

// Merge combines several ranked lists, keeping each document's first
// occurrence, and returns the best limit entries.
func Merge(lists [][]ScoredDoc, limit int) []ScoredDoc {
	best := make(map[string]float64)
	for _, list := range lists {
		for _, d := range list {
			if _, seen := best[d.DocID]; !seen {
				best[d.DocID] = d.Score
			}
		}
	}
	return TopK(best, limit)
}

// Sort orders docs in place by ranking order.
func Sort(docs []ScoredDoc) {
	sort.Slice(docs, func(i, j int) bool { return Before(docs[i], docs[j]) })
}

// scoredDocHeap is a min-heap on ranking order: the root is the entry that
// would be evicted first.
type scoredDocHeap []ScoredDoc

func (h scoredDocHeap) Len() int { return len(h) }

func (h scoredDocHeap) Less(i, j int) bool { return Before(h[j], h[i]) }

func (h scoredDocHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scoredDocHeap) Push(x interface{}) {
	*h = append(*h, x.(ScoredDoc))
}

func (h *scoredDocHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
