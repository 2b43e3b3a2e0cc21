// Package consumer reads chapter ingest events from Kafka and feeds them to
// the indexer engine's batch buffer. It also carries the index-complete
// events that tell searcher replicas to reload.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/kafka"
)

// Event types set on published messages.
const (
	EventChapter       = "chapter"
	EventIndexComplete = "index-complete"
)

// ChapterEvent is the ingest payload. Tokens are optional: when absent the
// chapter text is run through the preprocessor.
type ChapterEvent struct {
	DocID        string   `json:"doc_id"`
	Book         string   `json:"book"`
	ChapterTitle string   `json:"chapter_title"`
	Text         string   `json:"text"`
	Tokens       []string `json:"tokens,omitempty"`
}

// Document converts the event into an index record.
func (e ChapterEvent) Document() index.Document {
	return index.Document{ID: e.DocID, Book: e.Book, Title: e.ChapterTitle, Text: e.Text}
}

// NewChapterEvent builds the ingest payload for doc.
func NewChapterEvent(doc index.Document, tokens []string) ChapterEvent {
	return ChapterEvent{DocID: doc.ID, Book: doc.Book, ChapterTitle: doc.Title, Text: doc.Text, Tokens: tokens}
}

// IndexConsumer wraps a Kafka consumer to drive the indexing pipeline.
type IndexConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

func New(kafkaConsumer *kafka.Consumer) *IndexConsumer {
	return &IndexConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "index-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

// HandleMessage returns a MessageHandler that buffers every chapter event
// in engine. Undecodable or invalid chapters are reported as poison so the
// consumer skips them; storage failures are returned as-is and retried.
func HandleMessage(engine *indexer.Engine, p indexer.Preprocessor) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[ChapterEvent](value)
		if err != nil {
			logger.Error("failed to decode chapter event", "error", err, "key", string(key))
			return err
		}
		tokens := event.Tokens
		if tokens == nil {
			tokens = p.Preprocess(event.Text)
		}

		logger.Debug("processing chapter event", "doc_id", event.DocID, "tokens", len(tokens))
		err = engine.Enqueue(ctx, indexer.Source{Document: event.Document(), Tokens: tokens})
		if errors.Is(err, apperrors.ErrInvalidDocument) {
			return fmt.Errorf("%w: %w", kafka.ErrPoisonMessage, err)
		}
		if err != nil {
			return fmt.Errorf("indexing chapter %s: %w", event.DocID, err)
		}
		return nil
	}
}

// AnnounceCommits returns a commit hook that publishes every commit as an
// index-complete event. Publish failures are logged and do not undo the
// commit.
func AnnounceCommits(pub kafka.Publisher) indexer.CommitHook {
	logger := slog.Default().With("component", "index-announcer")
	announcer := kafka.NewAnnouncer(pub, EventIndexComplete, commitKey)
	return func(ctx context.Context, info indexer.CommitInfo) {
		if err := announcer.Announce(ctx, info); err != nil {
			logger.Warn("failed to announce index commit",
				"error", err,
				"documents", len(info.Documents),
				"deleted", len(info.Deleted),
				"rebuild", info.Rebuild,
			)
		}
	}
}

func commitKey(info indexer.CommitInfo) string {
	if info.Rebuild {
		return "rebuild"
	}
	return "commit"
}

// HandleIndexComplete returns a MessageHandler that decodes index-complete
// events and passes them to onCommit.
func HandleIndexComplete(onCommit func(ctx context.Context, info indexer.CommitInfo) error) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-listener")
	return func(ctx context.Context, key []byte, value []byte) error {
		info, err := kafka.DecodeJSON[indexer.CommitInfo](value)
		if err != nil {
			logger.Error("failed to decode index-complete event", "error", err, "key", string(key))
			return err
		}
		logger.Info("index change announced",
			"documents", len(info.Documents),
			"deleted", len(info.Deleted),
			"rebuild", info.Rebuild,
			"corpus_size", info.CorpusSize,
		)
		return onCommit(ctx, info)
	}
}
