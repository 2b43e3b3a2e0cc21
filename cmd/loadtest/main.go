package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/evaluation"
)

var defaultQueries = []string{
	"white whale",
	"captain ahab leg",
	"harpoon line",
	"sperm whale oil",
	"queequeg coffin",
	"ishmael sea voyage",
	"pequod crew",
	"try works blubber",
	"starbuck mate",
	"whale skeleton measurements",
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the searcher")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	requests := flag.Int64("requests", 0, "stop after this many requests (0 runs for -duration)")
	topK := flag.Int("k", 5, "results per query")
	mode := flag.String("mode", "", "fusion mode override: weighted or rrf")
	alpha := flag.Float64("alpha", 0.5, "alpha for weighted fusion")
	queriesPath := flag.String("queries", "", "optional evaluation query file to draw queries from")
	flag.Parse()

	queries := defaultQueries
	if *queriesPath != "" {
		qs, err := evaluation.LoadQueries(*queriesPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		queries = make([]string, 0, len(qs))
		for _, q := range qs {
			queries = append(queries, q.Query)
		}
	}

	cfg := Config{
		BaseURL:     *baseURL,
		Concurrency: *concurrency,
		Duration:    *duration,
		Requests:    *requests,
		TopK:        *topK,
		Mode:        *mode,
		Alpha:       *alpha,
		Queries:     queries,
	}

	fmt.Println("=== Hybrid Search Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Queries:     %d unique\n", len(cfg.Queries))
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats, elapsed, err := Run(ctx, cfg, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	summary := stats.Summary(elapsed)
	printSummary(os.Stdout, summary)
	if summary.Total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the searcher running?")
		os.Exit(1)
	}
}
