package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/searcher/dense"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/store"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/resilience"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service", "port", cfg.Server.Port, "storage", cfg.Storage.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	st, err := store.Open(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	engine := indexer.NewEngine(cfg.Indexer, st, indexer.WithMetrics(m))
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, indexStatus("searcher", engine))
		defer shutdownMetrics(context.Background())
	}
	if err := engine.Load(ctx); err != nil {
		slog.Error("failed to load index", "error", err)
		os.Exit(1)
	}
	if err := engine.Verify(); err != nil {
		slog.Error("persisted index is inconsistent, run the indexer with -rebuild", "error", err)
		os.Exit(1)
	}

	denseSetup, err := dense.FromConfig(cfg.Dense, m)
	if err != nil {
		slog.Error("failed to configure dense search", "error", err)
		os.Exit(1)
	}
	if denseSetup.Searcher == nil {
		slog.Warn("no dense service configured, serving bm25 only")
	}

	var queryCache *cache.QueryCache
	var redisClient *pkgredis.Client
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis, m)
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	execCfg, err := executor.ConfigFrom(cfg.Search, cfg.Dense)
	if err != nil {
		slog.Error("invalid search config", "error", err)
		os.Exit(1)
	}
	prep := tokenizer.New(tokenizer.DefaultOptions())
	exec := executor.New(engine, denseSetup.Searcher, prep, execCfg, executor.WithMetrics(m))

	if cfg.Kafka.Enabled {
		// Every replica must see every index change, so each uses its own group.
		group := fmt.Sprintf("%s-searcher-%s", cfg.Kafka.ConsumerGroup, uuid.NewString())
		listener := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete,
			consumer.HandleIndexComplete(func(ctx context.Context, info indexer.CommitInfo) error {
				if err := engine.Load(ctx); err != nil {
					return err
				}
				denseSetup.Cache.Purge()
				if queryCache != nil {
					if _, err := queryCache.Invalidate(ctx); err != nil {
						slog.Warn("cache invalidation after index change failed", "error", err)
					}
				}
				return nil
			}),
			kafka.WithGroupID(group),
		)
		go func() {
			if err := listener.Start(ctx); err != nil {
				slog.Error("index-complete listener error", "error", err)
			}
		}()
		slog.Info("listening for index changes", "topic", cfg.Kafka.Topics.IndexComplete, "group", group)
	}

	checker := health.NewChecker()
	checker.Register("index_engine", health.StateCheck(
		func() bool { return engine.State() == indexer.StateReady },
		func() string { return engine.State().String() },
	))
	checker.Register("store", health.PingCheck(st.Ping, health.StatusDown))
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		return health.PingCheck(redisClient.Ping, health.StatusDegraded)(ctx)
	})
	checker.Register("dense", func(ctx context.Context) health.ComponentHealth {
		if denseSetup.HTTP == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured, bm25 only"}
		}
		state := denseSetup.HTTP.Breaker().GetState()
		if state == resilience.StateOpen {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "circuit open"}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: "circuit " + state.String()}
	})

	h := handler.New(exec, engine, queryCache, prep, cfg.Search.DefaultTopK, cfg.Search.MaxTopK)
	if denseSetup.Cache != nil {
		h.OnWrite(denseSetup.Cache.Purge)
	}

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler())

	mws := []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.Metrics(m),
	}
	if rl := cfg.Server.RateLimit; rl.PerClient > 0 {
		limiter := middleware.NewRateLimiter(rl.PerClient, rl.Window)
		limiter.StartSweeper(ctx, 5*time.Minute)
		mws = append(mws, middleware.RateLimit(limiter))
		slog.Info("rate limiting enabled", "per_client", rl.PerClient, "window", rl.Window)
	}
	mws = append(mws, middleware.Timeout(cfg.Server.WriteTimeout))
	chain := middleware.Chain(mux, mws...)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	stats := engine.Stats()
	slog.Info("search service listening",
		"addr", server.Addr,
		"documents", stats.N,
		"vocabulary", stats.Vocabulary,
		"fusion", execCfg.Fusion.String(),
	)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("search service stopped")
}

func indexStatus(service string, engine *indexer.Engine) metrics.StatusFunc {
	return func() metrics.IndexStatus {
		stats := engine.Stats()
		return metrics.IndexStatus{
			Service:    service,
			State:      engine.State().String(),
			Documents:  stats.N,
			Vocabulary: stats.Vocabulary,
			AvgDocLen:  stats.AvgDL,
		}
	}
}
