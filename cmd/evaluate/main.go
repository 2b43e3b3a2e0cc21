package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/evaluation"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/searcher/dense"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/store"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/logger"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	queriesPath := flag.String("queries", "", "JSON file of judged queries")
	topK := flag.Int("topk", 5, "results per query")
	workers := flag.Int("workers", 4, "concurrent queries per alpha")
	asJSON := flag.Bool("json", false, "print results as JSON")
	flag.Parse()

	if *queriesPath == "" {
		fmt.Fprintln(os.Stderr, "-queries is required")
		os.Exit(2)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	queries, err := evaluation.LoadQueries(*queriesPath)
	if err != nil {
		slog.Error("failed to load queries", "error", err)
		os.Exit(1)
	}

	st, err := store.Open(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	engine := indexer.NewEngine(cfg.Indexer, st)
	if err := engine.Load(ctx); err != nil {
		slog.Error("failed to load index", "error", err)
		os.Exit(1)
	}
	denseSetup, err := dense.FromConfig(cfg.Dense, nil)
	if err != nil {
		slog.Error("failed to configure dense search", "error", err)
		os.Exit(1)
	}
	execCfg, err := executor.ConfigFrom(cfg.Search, cfg.Dense)
	if err != nil {
		slog.Error("invalid search config", "error", err)
		os.Exit(1)
	}
	exec := executor.New(engine, denseSetup.Searcher, tokenizer.New(tokenizer.DefaultOptions()), execCfg)

	slog.Info("running alpha sweep", "queries", len(queries), "topk", *topK, "documents", engine.Stats().N)
	results, err := evaluation.SweepAlpha(ctx, exec, queries, evaluation.SweepConfig{TopK: *topK, Workers: *workers})
	if err != nil {
		slog.Error("sweep failed", "error", err)
		os.Exit(1)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(results)
		return
	}
	fmt.Printf("%-6s %-8s %-8s %s\n", "alpha", "MAP", "NDCG", "degraded")
	for _, r := range results {
		fmt.Printf("%-6.1f %-8.4f %-8.4f %d\n", r.Alpha, r.MAP, r.NDCG, r.Degraded)
	}
	if best, ok := evaluation.Best(results); ok {
		fmt.Printf("best alpha %.1f (MAP %.4f, NDCG %.4f)\n", best.Alpha, best.MAP, best.NDCG)
	}
}
