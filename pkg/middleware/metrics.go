// Package middleware holds the searcher's HTTP middleware: request IDs,
// per-route Prometheus metrics, per-client rate limiting and request
// timeouts.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/metrics"
)

// Metrics records request count and latency per route and status, plus the
// in-flight gauge.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			m.HTTPRequestsInFlight.Inc()
			defer m.HTTPRequestsInFlight.Dec()

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			method, path := normalizeMethod(r.Method), normalizePath(r.URL.Path)
			m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(sw.status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// statusWriter wraps http.ResponseWriter to capture the response status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.wroteHeader {
		sw.wroteHeader = true
	}
	return sw.ResponseWriter.Write(b)
}

// routes are the paths the searcher serves, used verbatim as labels.
var routes = map[string]bool{
	"/api/v1/search":           true,
	"/api/v1/rank":             true,
	"/api/v1/boolean":          true,
	"/api/v1/documents":        true,
	"/api/v1/stats":            true,
	"/api/v1/cache/stats":      true,
	"/api/v1/cache/invalidate": true,
	"/health/live":             true,
	"/health/ready":            true,
	"/metrics":                 true,
}

const documentRoute = "/api/v1/documents/"

// normalizePath maps a request path onto a bounded label set. Per-chapter
// paths collapse to their route pattern and anything unknown is "other".
func normalizePath(path string) string {
	if routes[path] {
		return path
	}
	if id, ok := strings.CutPrefix(path, documentRoute); ok && id != "" && !strings.Contains(id, "/") {
		return documentRoute + "{id}"
	}
	return "other"
}

func normalizeMethod(method string) string {
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodHead:
		return method
	default:
		return "OTHER"
	}
}
