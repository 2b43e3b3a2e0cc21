package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/errors"
)

func newStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func entry(t *testing.T, id, book, text string) index.Entry {
	t.Helper()
	e, err := index.NewEntry(index.Document{ID: id, Book: book, Title: "Chapter " + id, Text: text}, strings.Fields(text))
	require.NoError(t, err)
	return e
}

func TestUpsertAndLoad(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	// Given two chapters
	require.NoError(t, s.Upsert(ctx, []index.Entry{
		entry(t, "doc1", "b1", "cat sat mat"),
		entry(t, "doc2", "b1", "cat cat dog"),
	}))

	// When the index is loaded back
	snap, err := s.Load(ctx)
	require.NoError(t, err)

	// Then stats and postings match what was written
	st := snap.Stats()
	assert.Equal(t, 2, st.N)
	assert.InDelta(t, 3.0, st.AvgDL, 1e-12)
	assert.Equal(t, 2, snap.DocumentFrequency("cat"))
	assert.Equal(t, index.PostingList{
		{Token: "cat", DocID: "doc1", Frequency: 1},
		{Token: "cat", DocID: "doc2", Frequency: 2},
	}, snap.Postings("cat"))
}

func TestUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	e := entry(t, "doc1", "b1", "cat sat mat")
	require.NoError(t, s.Upsert(ctx, []index.Entry{e, entry(t, "doc2", "b1", "cat cat dog")}))
	first, err := s.Load(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Upsert(ctx, []index.Entry{e}))
	require.NoError(t, s.Upsert(ctx, []index.Entry{e, e}))

	second, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.Vocabulary(), second.Vocabulary())
	assert.Equal(t, first.AllPostings(), second.AllPostings())
}

func TestUpsertReplacesVanishedTokens(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.Upsert(ctx, []index.Entry{
		entry(t, "doc1", "b1", "cat sat mat"),
		entry(t, "doc2", "b1", "cat cat dog"),
	}))
	require.NoError(t, s.Upsert(ctx, []index.Entry{entry(t, "doc1", "b1", "dog bird")}))

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []index.VocabularyEntry{
		{Token: "bird", DocumentFrequency: 1},
		{Token: "cat", DocumentFrequency: 1},
		{Token: "dog", DocumentFrequency: 2},
	}, snap.Vocabulary())
	docs, err := s.Documents(ctx, []string{"doc1"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "dog bird", docs[0].Text)
	assert.Equal(t, 2, docs[0].Length)
}

func TestRebuildMatchesUpsertSequence(t *testing.T) {
	ctx := context.Background()
	final := []index.Entry{
		entry(t, "doc1", "b1", "whale ship sea"),
		entry(t, "doc2", "b1", "ship captain ship"),
		entry(t, "doc3", "b2", "sea sea storm"),
	}

	upserted := newStore(t)
	require.NoError(t, upserted.Upsert(ctx, []index.Entry{entry(t, "doc1", "b1", "old whale text"), entry(t, "doc9", "b9", "gone soon")}))
	require.NoError(t, upserted.Upsert(ctx, final))
	require.NoError(t, upserted.Delete(ctx, []string{"doc9", "never-existed"}))

	rebuilt := newStore(t)
	require.NoError(t, rebuilt.Upsert(ctx, []index.Entry{entry(t, "stale", "b0", "stale rows")}))
	require.NoError(t, rebuilt.Rebuild(ctx, final))

	a, err := upserted.Load(ctx)
	require.NoError(t, err)
	b, err := rebuilt.Load(ctx)
	require.NoError(t, err)

	assert.Equal(t, b.Vocabulary(), a.Vocabulary())
	assert.Equal(t, b.AllPostings(), a.AllPostings())
	assert.Equal(t, b.Documents(), a.Documents())
	assert.Equal(t, index.Build(final).Vocabulary(), b.Vocabulary())
}

func TestFailedBatchRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	good := entry(t, "doc1", "b1", "cat sat mat")
	bad := index.Entry{
		Document:    index.Document{ID: "doc2", Text: "broken", Length: 1},
		Frequencies: index.Frequencies{"broken": 0},
	}

	err := s.Upsert(ctx, []index.Entry{good, bad})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrStorage)

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Stats().N)
	assert.Empty(t, snap.Vocabulary())
}

func TestDocumentsOrderAndMissing(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.Upsert(ctx, []index.Entry{
		entry(t, "doc1", "b1", "cat"),
		entry(t, "doc2", "b1", "dog"),
	}))

	docs, err := s.Documents(ctx, []string{"doc2", "missing", "doc1"})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "doc2", docs[0].ID)
	assert.Equal(t, "b1", docs[0].Book)
	assert.Equal(t, "Chapter doc2", docs[0].Title)
	assert.Equal(t, "doc1", docs[1].ID)

	docs, err = s.Documents(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, docs)

	all, err := s.Chapters(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestOpenFileDatabase(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "index.db")

	s, err := Open(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, []index.Entry{entry(t, "doc1", "b1", "cat sat")}))
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer reopened.Close()
	snap, err := reopened.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Stats().N)
	assert.NoError(t, reopened.Ping(ctx))
}

func TestClosedStoreReportsStorageError(t *testing.T) {
	s, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Load(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrStorage)
}

func TestRebind(t *testing.T) {
	q := "INSERT INTO t (a, b) VALUES (?, ?)"
	assert.Equal(t, q, SQLite.Rebind(q))
	assert.Equal(t, "INSERT INTO t (a, b) VALUES ($1, $2)", Postgres.Rebind(q))
	assert.Equal(t, "?, ?, ?", placeholders(3))
	assert.Equal(t, "", placeholders(0))
}
