package executor

import (
	"context"
	"fmt"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/searcher/dense"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/searcher/fusion"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/config"
)

// BenchmarkExecute measures the full hybrid path over 10 000 chapters with
// an in-process dense side.
func BenchmarkExecute(b *testing.B) {
	terms := []string{"whale", "ahab", "harpoon", "sea", "ship", "crew", "oil", "boat"}
	e := indexer.NewEngine(config.IndexerConfig{K1: 1.5, B: 0.75, Workers: 4}, nil)
	sources := make([]indexer.Source, 10000)
	for i := range sources {
		sources[i] = indexer.Source{
			Document: index.Document{
				ID:    fmt.Sprintf("doc-%d", i),
				Book:  "bench",
				Title: fmt.Sprintf("chapter %d", i),
				Text:  "this chapter covers " + terms[i%len(terms)] + " and " + terms[(i+3)%len(terms)],
			},
			Tokens: []string{terms[i%len(terms)], terms[(i+1)%len(terms)], terms[(i+3)%len(terms)]},
		}
	}
	if err := e.Rebuild(context.Background(), sources); err != nil {
		b.Fatal(err)
	}

	hits := make([]dense.Hit, 20)
	for i := range hits {
		hits[i] = dense.Hit{Score: 1 / float64(i+1), DocumentID: fmt.Sprintf("doc-%d", i*3), Snippet: "dense passage"}
	}
	results := map[string][]dense.Hit{}
	for _, t := range terms {
		results[t] = hits
	}

	for _, cfg := range []fusion.Config{fusion.DefaultConfig(), {Mode: fusion.RRF, K: fusion.DefaultRRFK}} {
		ex := New(e, &dense.StaticSearcher{Results: results}, prep(), testConfig())
		b.Run(string(cfg.Mode), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				term := terms[i%len(terms)]
				if _, err := ex.Search(context.Background(), term, []string{term}, 10, cfg); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
