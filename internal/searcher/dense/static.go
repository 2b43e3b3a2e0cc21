package dense

import (
	"context"
	"sync/atomic"
	"time"
)

// StaticSearcher serves fixed hit lists. With no entry for a query it
// returns Default, which may be empty: a BM25-only deployment runs with an
// empty StaticSearcher. Delay and Err let tests simulate a slow or failing
// service.
type StaticSearcher struct {
	Results map[string][]Hit
	Default []Hit
	Delay   time.Duration
	Err     error

	calls atomic.Int64
}

func (s *StaticSearcher) Search(ctx context.Context, queryText string, topK int) ([]Hit, error) {
	s.calls.Add(1)
	if s.Delay > 0 {
		timer := time.NewTimer(s.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.Err != nil {
		return nil, s.Err
	}
	hits, ok := s.Results[queryText]
	if !ok {
		hits = s.Default
	}
	out := cloneHits(hits)
	sortHits(out)
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// Calls returns how many times Search was invoked.
func (s *StaticSearcher) Calls() int64 {
	return s.calls.Load()
}
