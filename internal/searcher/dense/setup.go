package dense

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/resilience"
)

// Setup is the dense side as wired from configuration. Searcher is nil when
// no service URL is configured, which runs the engine BM25-only.
type Setup struct {
	Searcher Searcher
	HTTP     *HTTPSearcher
	Cache    *CachedSearcher
}

// FromConfig builds the HTTP adapter, fronted by an LRU when CacheSize > 0.
// m may be nil; otherwise breaker transitions are exported as a gauge.
func FromConfig(cfg config.DenseConfig, m *metrics.Metrics) (Setup, error) {
	if cfg.URL == "" {
		return Setup{}, nil
	}
	breaker := resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.FailureThreshold,
		ResetTimeout:     cfg.ResetTimeout,
	}
	if m != nil {
		m.CircuitBreakerState.WithLabelValues("dense").Set(float64(resilience.StateClosed))
		breaker.OnStateChange = func(name string, _, to resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		}
	}
	httpSearcher := NewHTTPSearcher(HTTPConfig{
		URL:     cfg.URL,
		Timeout: cfg.Timeout,
		Retry: resilience.RetryConfig{
			MaxAttempts:    cfg.RetryAttempts,
			InitialDelay:   50 * time.Millisecond,
			MaxDelay:       500 * time.Millisecond,
			Multiplier:     2,
			JitterFraction: 0.1,
		},
		CircuitBreaker: breaker,
	}, &http.Client{})

	setup := Setup{Searcher: httpSearcher, HTTP: httpSearcher}
	if cfg.CacheSize > 0 {
		cached, err := NewCachedSearcher(httpSearcher, cfg.CacheSize)
		if err != nil {
			return Setup{}, fmt.Errorf("creating dense cache: %w", err)
		}
		setup.Cache = cached
		setup.Searcher = cached
	}
	return setup, nil
}
