package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"time"
)

// IndexStatus is what the metrics port reports about the local index on
// /status and its landing page.
type IndexStatus struct {
	Service    string  `json:"service"`
	State      string  `json:"state"`
	Documents  int     `json:"documents"`
	Vocabulary int     `json:"vocabulary"`
	AvgDocLen  float64 `json:"avg_doc_length"`
}

// StatusFunc reads the current IndexStatus. It is called per request.
type StatusFunc func() IndexStatus

// StartServer serves /metrics, /status and a landing page on port in the
// background. status may be nil.
func StartServer(port int, status StatusFunc) (shutdown func(context.Context) error) {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      newServerMux(status),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("metrics server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()

	return server.Shutdown
}

func newServerMux(status StatusFunc) *http.ServeMux {
	if status == nil {
		status = func() IndexStatus { return IndexStatus{State: "unknown"} }
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", Handler())
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status())
	})
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		s := status()
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><body><h1>Hybrid Retrieval %s</h1>`+
			`<p>index %s: %d chapters, %d terms, avg length %.1f</p>`+
			`<p><a href="/metrics">/metrics</a> <a href="/status">/status</a></p></body></html>`,
			html.EscapeString(s.Service), html.EscapeString(s.State), s.Documents, s.Vocabulary, s.AvgDocLen)
	})
	return mux
}
