// Package indexer owns the live inverted index: it validates and counts
// incoming chapters in parallel, persists each batch in one transaction and
// then applies it to the in-memory snapshot that queries read.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/store"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/metrics"
)

// State is the index lifecycle phase.
type State int32

const (
	StateEmpty State = iota
	StateBuilding
	StateReady
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateBuilding:
		return "building"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Source is a chapter together with the tokens the preprocessor produced
// for it.
type Source struct {
	Document index.Document
	Tokens   []string
}

// Preprocessor turns chapter or query text into tokens.
type Preprocessor interface {
	Preprocess(text string) []string
}

// CommitInfo describes one durable change to the index. It is also the
// payload of the index-complete event.
type CommitInfo struct {
	Documents   []string  `json:"documents,omitempty"`
	Deleted     []string  `json:"deleted,omitempty"`
	Rebuild     bool      `json:"rebuild"`
	CorpusSize  int       `json:"corpus_size"`
	CommittedAt time.Time `json:"committed_at"`
}

// CommitHook runs after a change is persisted and visible to queries.
type CommitHook func(ctx context.Context, info CommitInfo)

type Engine struct {
	snap    atomic.Pointer[index.Snapshot]
	state   atomic.Int32
	store   store.Store
	params  ranker.Params
	cfg     config.IndexerConfig
	metrics *metrics.Metrics
	hooks   []CommitHook
	logger  *slog.Logger

	// writeMu serialises commits, deletes and rebuilds: one writer at a time.
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   []index.Entry
}

type Option func(*Engine)

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithCommitHook(h CommitHook) Option {
	return func(e *Engine) { e.hooks = append(e.hooks, h) }
}

// NewEngine creates an engine in the empty state. st may be nil for a
// memory-only index.
func NewEngine(cfg config.IndexerConfig, st store.Store, opts ...Option) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 256
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	e := &Engine{
		store:  st,
		params: ranker.Params{K1: cfg.K1, B: cfg.B},
		cfg:    cfg,
		logger: slog.Default().With("component", "indexer"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.snap.Store(index.NewSnapshot())
	e.state.Store(int32(StateEmpty))
	return e
}

func (e *Engine) State() State {
	return State(e.state.Load())
}

// Params returns the BM25 parameters used by Rank.
func (e *Engine) Params() ranker.Params {
	return e.params
}

// Index validates and commits a single chapter.
func (e *Engine) Index(ctx context.Context, doc index.Document, tokens []string) error {
	return e.IndexBatch(ctx, []Source{{Document: doc, Tokens: tokens}})
}

// IndexBatch validates and counts every source in parallel, then persists
// and applies the whole batch atomically. One invalid document rejects the
// batch and nothing is stored.
func (e *Engine) IndexBatch(ctx context.Context, sources []Source) error {
	entries, err := e.prepare(ctx, sources)
	if err != nil {
		return err
	}
	return e.commit(ctx, entries)
}

// prepare builds entries concurrently with at most cfg.Workers goroutines.
func (e *Engine) prepare(ctx context.Context, sources []Source) ([]index.Entry, error) {
	entries := make([]index.Entry, len(sources))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i, src := range sources {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			entry, err := index.NewEntry(src.Document, src.Tokens)
			if err != nil {
				return err
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (e *Engine) commit(ctx context.Context, entries []index.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	entries = index.Dedupe(entries)

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	start := time.Now()
	if e.store != nil {
		if err := e.store.Upsert(ctx, entries); err != nil {
			e.countCommit("failed")
			return fmt.Errorf("committing %d documents: %w", len(entries), err)
		}
	}
	snap := e.snap.Load()
	snap.Apply(entries)
	e.state.Store(int32(StateReady))
	e.countCommit("ok")
	if e.metrics != nil {
		e.metrics.DocsIndexedTotal.Add(float64(len(entries)))
	}

	ids := make([]string, len(entries))
	for i, en := range entries {
		ids[i] = en.Document.ID
	}
	stats := e.observe(snap)
	e.logger.Info("batch committed",
		"documents", len(entries),
		"corpus_size", stats.N,
		"vocabulary", stats.Vocabulary,
		"duration", time.Since(start),
	)
	e.notify(ctx, CommitInfo{Documents: ids, CorpusSize: stats.N, CommittedAt: time.Now().UTC()})
	return nil
}

// Delete removes chapters from the store and the live index.
func (e *Engine) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if e.store != nil {
		if err := e.store.Delete(ctx, ids); err != nil {
			return fmt.Errorf("deleting %d documents: %w", len(ids), err)
		}
	}
	snap := e.snap.Load()
	removed := snap.Remove(ids)
	stats := e.observe(snap)
	e.logger.Info("documents deleted", "requested", len(ids), "removed", removed, "corpus_size", stats.N)
	e.notify(ctx, CommitInfo{Deleted: ids, CorpusSize: stats.N, CommittedAt: time.Now().UTC()})
	return nil
}

// Rebuild replaces the whole index with sources. The new snapshot is built
// and persisted off to the side and published with one pointer swap, so
// queries see either the old index or the new one. While the very first
// build runs the engine reports StateBuilding.
func (e *Engine) Rebuild(ctx context.Context, sources []Source) error {
	entries, err := e.prepare(ctx, sources)
	if err != nil {
		return err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	start := time.Now()
	firstBuild := e.state.CompareAndSwap(int32(StateEmpty), int32(StateBuilding))
	fresh := index.Build(entries)
	if e.store != nil {
		if err := e.store.Rebuild(ctx, entries); err != nil {
			if firstBuild {
				e.state.Store(int32(StateEmpty))
			}
			e.countRebuild("failed")
			return fmt.Errorf("rebuilding index: %w", err)
		}
	}
	e.snap.Store(fresh)
	e.state.Store(int32(StateReady))
	e.countRebuild("ok")

	stats := e.observe(fresh)
	e.logger.Info("index rebuilt",
		"documents", stats.N,
		"vocabulary", stats.Vocabulary,
		"avg_doc_length", stats.AvgDL,
		"duration", time.Since(start),
	)
	e.notify(ctx, CommitInfo{Rebuild: true, CorpusSize: stats.N, CommittedAt: time.Now().UTC()})
	return nil
}

// Reindex re-derives tokens for every persisted chapter with p and rebuilds
// the index from them.
func (e *Engine) Reindex(ctx context.Context, p Preprocessor) error {
	if e.store == nil {
		return errors.New("reindex requires a store")
	}
	docs, err := e.store.Chapters(ctx)
	if err != nil {
		return fmt.Errorf("listing chapters for reindex: %w", err)
	}
	sources := make([]Source, len(docs))
	for i, d := range docs {
		sources[i] = Source{Document: d, Tokens: p.Preprocess(d.Text)}
	}
	return e.Rebuild(ctx, sources)
}

// Load replaces the live snapshot with the persisted index. An empty store
// leaves the engine in StateEmpty.
func (e *Engine) Load(ctx context.Context) error {
	if e.store == nil {
		return errors.New("load requires a store")
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	snap, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading index: %w", err)
	}
	e.snap.Store(snap)
	stats := e.observe(snap)
	if stats.N > 0 {
		e.state.Store(int32(StateReady))
	} else {
		e.state.Store(int32(StateEmpty))
	}
	e.logger.Info("index loaded", "documents", stats.N, "vocabulary", stats.Vocabulary, "state", e.State().String())
	return nil
}

// Rank scores the live snapshot against queryTokens. Before any successful
// build it fails with ErrIndexNotReady; an empty query returns nil.
func (e *Engine) Rank(queryTokens []string, topN int) ([]ranker.RankedResult, error) {
	if e.State() != StateReady {
		return nil, apperrors.ErrIndexNotReady
	}
	if len(queryTokens) == 0 {
		return nil, nil
	}
	var results []ranker.RankedResult
	e.snap.Load().Read(func(v index.View) {
		results = ranker.Rank(v, queryTokens, topN, e.params)
	})
	return results, nil
}

// Documents returns stored chapters for ids in request order, omitting
// unknown ids.
func (e *Engine) Documents(ids []string) []index.Document {
	return e.snap.Load().Get(ids)
}

func (e *Engine) Postings(token string) index.PostingList {
	return e.snap.Load().Postings(token)
}

func (e *Engine) DocumentFrequency(token string) int {
	return e.snap.Load().DocumentFrequency(token)
}

func (e *Engine) Stats() index.Stats {
	return e.snap.Load().Stats()
}

// Verify checks the live snapshot's internal consistency.
func (e *Engine) Verify() error {
	return e.snap.Load().Verify()
}

// Snapshot returns the live snapshot.
func (e *Engine) Snapshot() *index.Snapshot {
	return e.snap.Load()
}

// Enqueue validates sources and buffers them for the next batched commit.
// A full buffer is committed immediately.
func (e *Engine) Enqueue(ctx context.Context, sources ...Source) error {
	entries, err := e.prepare(ctx, sources)
	if err != nil {
		return err
	}
	e.pendingMu.Lock()
	e.pending = append(e.pending, entries...)
	full := len(e.pending) >= e.cfg.BatchSize
	e.pendingMu.Unlock()
	if full {
		return e.Flush(ctx)
	}
	return nil
}

// Pending returns the number of buffered, uncommitted entries.
func (e *Engine) Pending() int {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	return len(e.pending)
}

// Flush commits the buffered entries as one batch. On failure the entries
// are returned to the buffer for the next attempt.
func (e *Engine) Flush(ctx context.Context) error {
	e.pendingMu.Lock()
	batch := e.pending
	e.pending = nil
	e.pendingMu.Unlock()
	if len(batch) == 0 {
		return nil
	}
	if err := e.commit(ctx, batch); err != nil {
		e.pendingMu.Lock()
		e.pending = append(batch, e.pending...)
		e.pendingMu.Unlock()
		return err
	}
	return nil
}

// StartFlushLoop commits buffered entries every FlushInterval until ctx is
// cancelled, then performs a final flush.
func (e *Engine) StartFlushLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.FlushInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				e.logger.Info("flush loop stopping, performing final flush")
				if err := e.Flush(context.WithoutCancel(ctx)); err != nil {
					e.logger.Error("final flush failed", "error", err)
				}
				return
			case <-ticker.C:
				if e.Pending() == 0 {
					continue
				}
				if err := e.Flush(ctx); err != nil {
					e.logger.Error("periodic flush failed", "error", err, "pending", e.Pending())
				}
			}
		}
	}()
}

// Close commits anything still buffered. The store is owned by the caller
// and is not closed.
func (e *Engine) Close(ctx context.Context) error {
	if err := e.Flush(ctx); err != nil {
		return fmt.Errorf("final flush on close: %w", err)
	}
	return nil
}

func (e *Engine) notify(ctx context.Context, info CommitInfo) {
	for _, h := range e.hooks {
		h(ctx, info)
	}
}

func (e *Engine) observe(snap *index.Snapshot) index.Stats {
	stats := snap.Stats()
	if e.metrics != nil {
		e.metrics.CorpusDocuments.Set(float64(stats.N))
		e.metrics.VocabularySize.Set(float64(stats.Vocabulary))
	}
	return stats
}

func (e *Engine) countCommit(status string) {
	if e.metrics != nil {
		e.metrics.IndexCommitsTotal.WithLabelValues(status).Inc()
	}
}

func (e *Engine) countRebuild(status string) {
	if e.metrics != nil {
		e.metrics.IndexRebuildsTotal.WithLabelValues(status).Inc()
	}
}
