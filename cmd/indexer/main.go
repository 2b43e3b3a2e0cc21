package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/store"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	rebuild := flag.Bool("rebuild", false, "re-derive the whole index from stored chapters and exit")
	seed := flag.String("seed", "", "chapter file (JSON array or JSON lines) to ingest and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting indexer service", "storage", cfg.Storage.Driver, "workers", cfg.Indexer.Workers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	st, err := store.Open(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	opts := []indexer.Option{indexer.WithMetrics(m)}
	if cfg.Kafka.Enabled {
		announcer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
		defer announcer.Close()
		opts = append(opts, indexer.WithCommitHook(consumer.AnnounceCommits(announcer)))
	}
	engine := indexer.NewEngine(cfg.Indexer, st, opts...)
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, indexStatus("indexer", engine))
		defer shutdownMetrics(context.Background())
	}
	prep := tokenizer.New(tokenizer.DefaultOptions())

	switch {
	case *rebuild:
		start := time.Now()
		if err := engine.Reindex(ctx, prep); err != nil {
			slog.Error("rebuild failed", "error", err)
			os.Exit(1)
		}
		slog.Info("rebuild complete", "documents", engine.Stats().N, "duration", time.Since(start))
		return
	case *seed != "":
		if err := seedChapters(ctx, cfg, engine, prep, *seed); err != nil {
			slog.Error("seeding failed", "file", *seed, "error", err)
			os.Exit(1)
		}
		return
	}

	if !cfg.Kafka.Enabled {
		slog.Error("kafka is disabled, nothing to consume; use -seed or -rebuild")
		os.Exit(1)
	}
	if err := engine.Load(ctx); err != nil {
		slog.Error("failed to load index", "error", err)
		os.Exit(1)
	}

	engine.StartFlushLoop(ctx)
	slog.Info("flush loop started", "batch_size", cfg.Indexer.BatchSize, "interval", cfg.Indexer.FlushInterval)

	kafkaConsumer := kafka.NewConsumer(
		cfg.Kafka,
		cfg.Kafka.Topics.DocumentIngest,
		consumer.HandleMessage(engine, prep),
	)
	indexConsumer := consumer.New(kafkaConsumer)

	slog.Info("indexer service ready, consuming from kafka",
		"topic", cfg.Kafka.Topics.DocumentIngest,
		"group", cfg.Kafka.ConsumerGroup,
	)
	if err := indexConsumer.Start(ctx); err != nil {
		slog.Error("consumer error", "error", err)
	}

	slog.Info("flushing pending chapters before shutdown")
	if err := engine.Close(context.Background()); err != nil {
		slog.Error("final flush failed", "error", err)
	}
	slog.Info("indexer service stopped")
}

// seedChapters publishes the file onto the ingest topic when Kafka is
// enabled, otherwise indexes it directly in one batch.
func seedChapters(ctx context.Context, cfg *config.Config, engine *indexer.Engine, prep indexer.Preprocessor, path string) error {
	events, err := consumer.LoadChapters(path)
	if err != nil {
		return err
	}
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.DocumentIngest)
		defer producer.Close()
		batch := make([]kafka.Event, len(events))
		for i, ev := range events {
			batch[i] = kafka.Event{Key: ev.DocID, Type: consumer.EventChapter, Value: ev}
		}
		if err := producer.PublishBatch(ctx, batch); err != nil {
			return err
		}
		slog.Info("chapters published", "count", len(events), "topic", cfg.Kafka.Topics.DocumentIngest)
		return nil
	}

	sources := make([]indexer.Source, len(events))
	for i, ev := range events {
		tokens := ev.Tokens
		if tokens == nil {
			tokens = prep.Preprocess(ev.Text)
		}
		sources[i] = indexer.Source{Document: ev.Document(), Tokens: tokens}
	}
	if err := engine.Load(ctx); err != nil {
		return err
	}
	if err := engine.IndexBatch(ctx, sources); err != nil {
		return err
	}
	stats := engine.Stats()
	slog.Info("chapters indexed", "count", len(sources), "documents", stats.N, "vocabulary", stats.Vocabulary)
	return nil
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
