package dense

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/resilience"
)

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type searchResponse struct {
	Hits []Hit `json:"hits"`
}

// HTTPConfig configures HTTPSearcher.
type HTTPConfig struct {
	URL            string
	Timeout        time.Duration
	Retry          resilience.RetryConfig
	CircuitBreaker resilience.CircuitBreakerConfig
}

// HTTPSearcher calls a dense service over HTTP: POST {query, top_k} to URL,
// expecting {hits: [{score, document_id, snippet}]}. Each call passes through
// a circuit breaker, then retry with backoff, and each attempt is bounded by
// Timeout. Every failure is reported as apperrors.ErrDenseUnavailable.
type HTTPSearcher struct {
	url     string
	timeout time.Duration
	retry   resilience.RetryConfig
	client  *http.Client
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
}

func NewHTTPSearcher(cfg HTTPConfig, client *http.Client) *HTTPSearcher {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPSearcher{
		url:     cfg.URL,
		timeout: cfg.Timeout,
		retry:   cfg.Retry,
		client:  client,
		breaker: resilience.NewCircuitBreaker("dense", cfg.CircuitBreaker),
		logger:  slog.Default().With("component", "dense-http", "url", cfg.URL),
	}
}

// Breaker exposes the circuit breaker for health reporting.
func (s *HTTPSearcher) Breaker() *resilience.CircuitBreaker {
	return s.breaker
}

func (s *HTTPSearcher) Search(ctx context.Context, queryText string, topK int) ([]Hit, error) {
	body, err := json.Marshal(searchRequest{Query: queryText, TopK: topK})
	if err != nil {
		return nil, fmt.Errorf("encoding dense request: %w", err)
	}
	var hits []Hit
	err = s.breaker.Execute(func() error {
		return resilience.Retry(ctx, "dense-search", s.retry, func() error {
			res, callErr := resilience.Call(ctx, s.timeout, "dense-search", func(ctx context.Context) ([]Hit, error) {
				return s.call(ctx, body)
			})
			if callErr != nil {
				return callErr
			}
			hits = res
			return nil
		})
	})
	if err != nil {
		s.logger.Warn("dense search failed", "error", err, "breaker", s.breaker.GetState().String())
		return nil, fmt.Errorf("%w: %w", apperrors.ErrDenseUnavailable, err)
	}
	sortHits(hits)
	return hits, nil
}

func (s *HTTPSearcher) call(ctx context.Context, body []byte) ([]Hit, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, resilience.Permanent(fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling dense service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("dense service returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, resilience.Permanent(err)
		}
		return nil, err
	}
	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, resilience.Permanent(fmt.Errorf("decoding dense response: %w", err))
	}
	return out.Hits, nil
}
