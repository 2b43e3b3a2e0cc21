package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

type Config struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	// Requests stops the run after this many requests when positive.
	Requests int64
	TopK     int
	Mode     string
	Alpha    float64
	Queries  []string
}

type Stats struct {
	total    atomic.Int64
	success  atomic.Int64
	errors   atomic.Int64
	limited  atomic.Int64
	cacheHit atomic.Int64
	degraded atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration
	codes     map[int]int64
}

func NewStats() *Stats {
	return &Stats{
		latencies: make([]time.Duration, 0, 1024),
		codes:     make(map[int]int64),
	}
}

func (s *Stats) Record(d time.Duration, code int, cacheHit, degraded bool, err error) {
	s.total.Add(1)
	if err != nil {
		s.errors.Add(1)
		return
	}
	switch {
	case code >= 200 && code < 300:
		s.success.Add(1)
	case code == http.StatusTooManyRequests:
		s.limited.Add(1)
	default:
		s.errors.Add(1)
	}
	if cacheHit {
		s.cacheHit.Add(1)
	}
	if degraded {
		s.degraded.Add(1)
	}

	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.codes[code]++
	s.mu.Unlock()
}

// Summary is the digest printed at the end of a run.
type Summary struct {
	Total       int64
	Success     int64
	Errors      int64
	RateLimited int64
	CacheHits   int64
	Degraded    int64
	RPS         float64
	P50         time.Duration
	P95         time.Duration
	P99         time.Duration
	Max         time.Duration
	StatusCodes map[int]int64
}

func (s *Stats) Summary(elapsed time.Duration) Summary {
	s.mu.Lock()
	lat := append([]time.Duration(nil), s.latencies...)
	codes := make(map[int]int64, len(s.codes))
	for k, v := range s.codes {
		codes[k] = v
	}
	s.mu.Unlock()
	sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })

	sum := Summary{
		Total:       s.total.Load(),
		Success:     s.success.Load(),
		Errors:      s.errors.Load(),
		RateLimited: s.limited.Load(),
		CacheHits:   s.cacheHit.Load(),
		Degraded:    s.degraded.Load(),
		P50:         percentile(lat, 50),
		P95:         percentile(lat, 95),
		P99:         percentile(lat, 99),
		StatusCodes: codes,
	}
	if len(lat) > 0 {
		sum.Max = lat[len(lat)-1]
	}
	if elapsed > 0 {
		sum.RPS = float64(sum.Total) / elapsed.Seconds()
	}
	return sum
}

type searchBody struct {
	DenseDegraded bool `json:"dense_degraded"`
}

// Run drives Concurrency workers against /api/v1/search, cycling through
// the query list, until Duration elapses or Requests have been sent.
func Run(ctx context.Context, cfg Config, client *http.Client) (*Stats, time.Duration, error) {
	if len(cfg.Queries) == 0 {
		return nil, 0, fmt.Errorf("no queries")
	}
	if client == nil {
		client = &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        cfg.Concurrency * 2,
				MaxIdleConnsPerHost: cfg.Concurrency * 2,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	stats := NewStats()
	var sent atomic.Int64
	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.Concurrency; w++ {
		g.Go(func() error {
			for i := w; ctx.Err() == nil; i++ {
				if cfg.Requests > 0 && sent.Add(1) > cfg.Requests {
					return nil
				}
				one(ctx, client, cfg, cfg.Queries[i%len(cfg.Queries)], stats)
			}
			return nil
		})
	}
	err := g.Wait()
	return stats, time.Since(start), err
}

func one(ctx context.Context, client *http.Client, cfg Config, query string, stats *Stats) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL(cfg, query), nil)
	if err != nil {
		stats.Record(0, 0, false, false, err)
		return
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		stats.Record(time.Since(start), 0, false, false, err)
		return
	}
	defer resp.Body.Close()

	var body searchBody
	if resp.StatusCode == http.StatusOK {
		_ = json.NewDecoder(resp.Body).Decode(&body)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	stats.Record(time.Since(start), resp.StatusCode, resp.Header.Get("X-Cache") == "HIT", body.DenseDegraded, nil)
}

func searchURL(cfg Config, query string) string {
	v := url.Values{}
	v.Set("q", query)
	if cfg.TopK > 0 {
		v.Set("k", strconv.Itoa(cfg.TopK))
	}
	if cfg.Mode != "" {
		v.Set("mode", cfg.Mode)
	}
	if cfg.Mode == "weighted" {
		v.Set("alpha", strconv.FormatFloat(cfg.Alpha, 'f', -1, 64))
	}
	return cfg.BaseURL + "/api/v1/search?" + v.Encode()
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func printSummary(w io.Writer, s Summary) {
	fmt.Fprintln(w, "=== Results ===")
	fmt.Fprintf(w, "Total Requests:  %d\n", s.Total)
	fmt.Fprintf(w, "Successful:      %d\n", s.Success)
	fmt.Fprintf(w, "Errors:          %d\n", s.Errors)
	fmt.Fprintf(w, "Rate Limited:    %d\n", s.RateLimited)
	fmt.Fprintf(w, "Cache Hits:      %d\n", s.CacheHits)
	fmt.Fprintf(w, "Dense Degraded:  %d\n", s.Degraded)
	fmt.Fprintf(w, "Requests/sec:    %.2f\n", s.RPS)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Latency ===")
	fmt.Fprintf(w, "P50:    %s\n", s.P50)
	fmt.Fprintf(w, "P95:    %s\n", s.P95)
	fmt.Fprintf(w, "P99:    %s\n", s.P99)
	fmt.Fprintf(w, "Max:    %s\n", s.Max)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Status Codes ===")
	codes := make([]int, 0, len(s.StatusCodes))
	for c := range s.StatusCodes {
		codes = append(codes, c)
	}
	sort.Ints(codes)
	for _, c := range codes {
		fmt.Fprintf(w, "  %d: %d\n", c, s.StatusCodes[c])
	}
}
