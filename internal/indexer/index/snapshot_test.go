package index

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/errors"
)

func entry(t *testing.T, id, text string) Entry {
	t.Helper()
	e, err := NewEntry(Document{ID: id, Book: "book", Title: id, Text: text}, strings.Fields(text))
	require.NoError(t, err)
	return e
}

func TestNewEntryValidates(t *testing.T) {
	_, err := NewEntry(Document{ID: "", Text: "cat"}, []string{"cat"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidDocument)

	_, err = NewEntry(Document{ID: "doc1", Text: "   "}, nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidDocument)

	e, err := NewEntry(Document{ID: "doc1", Text: "cat cat dog"}, []string{"cat", "", "cat", "dog"})
	require.NoError(t, err)
	assert.Equal(t, 3, e.Document.Length)
	assert.Equal(t, Frequencies{"cat": 2, "dog": 1}, e.Frequencies)
}

func TestApplyCatDogCorpus(t *testing.T) {
	s := NewSnapshot()
	s.Apply([]Entry{entry(t, "doc1", "cat sat mat"), entry(t, "doc2", "cat cat dog")})

	st := s.Stats()
	assert.Equal(t, 2, st.N)
	assert.InDelta(t, 3.0, st.AvgDL, 1e-12)
	assert.Equal(t, 5, st.Vocabulary)
	assert.Equal(t, 2, s.DocumentFrequency("cat"))
	assert.Equal(t, 0, s.DocumentFrequency("bird"))
	assert.Nil(t, s.Postings("bird"))
	assert.Equal(t, PostingList{
		{Token: "cat", DocID: "doc1", Frequency: 1},
		{Token: "cat", DocID: "doc2", Frequency: 2},
	}, s.Postings("cat"))
	require.NoError(t, s.Verify())
}

func TestApplyReindexIsIdempotent(t *testing.T) {
	s := NewSnapshot()
	e := entry(t, "doc1", "cat sat mat")
	s.Apply([]Entry{e, entry(t, "doc2", "cat cat dog")})
	before := s.Vocabulary()

	s.Apply([]Entry{e})
	s.Apply([]Entry{e})

	assert.Equal(t, before, s.Vocabulary())
	assert.Equal(t, 2, s.Stats().N)
	require.NoError(t, s.Verify())
}

func TestApplyReindexReplacesTokens(t *testing.T) {
	s := NewSnapshot()
	s.Apply([]Entry{entry(t, "doc1", "cat sat mat"), entry(t, "doc2", "cat cat dog")})

	s.Apply([]Entry{entry(t, "doc1", "dog dog bird bird")})

	assert.Equal(t, 1, s.DocumentFrequency("cat"))
	assert.Equal(t, 0, s.DocumentFrequency("sat"))
	assert.Equal(t, 2, s.DocumentFrequency("dog"))
	assert.Equal(t, 1, s.DocumentFrequency("bird"))
	assert.InDelta(t, 3.5, s.Stats().AvgDL, 1e-12)
	assert.Equal(t, PostingList{
		{Token: "dog", DocID: "doc1", Frequency: 2},
		{Token: "dog", DocID: "doc2", Frequency: 1},
	}, s.Postings("dog"))
	require.NoError(t, s.Verify())
}

func TestBuildEqualsUpsertSequence(t *testing.T) {
	final := []Entry{
		entry(t, "doc1", "whale ship sea"),
		entry(t, "doc2", "ship captain ship"),
		entry(t, "doc3", "sea sea storm"),
	}

	upserted := NewSnapshot()
	upserted.Apply([]Entry{entry(t, "doc1", "old text about whales"), entry(t, "doc4", "removed later")})
	upserted.Apply([]Entry{entry(t, "doc2", "captain")})
	upserted.Apply(final)
	upserted.Remove([]string{"doc4"})

	rebuilt := Build(final)

	assert.Equal(t, rebuilt.Vocabulary(), upserted.Vocabulary())
	assert.Equal(t, rebuilt.AllPostings(), upserted.AllPostings())
	assert.Equal(t, rebuilt.Stats(), upserted.Stats())
	assert.Equal(t, rebuilt.Documents(), upserted.Documents())
	require.NoError(t, upserted.Verify())
	require.NoError(t, rebuilt.Verify())
}

func TestBuildDedupesLastWins(t *testing.T) {
	s := Build([]Entry{entry(t, "doc1", "cat"), entry(t, "doc1", "dog dog")})
	assert.Equal(t, 1, s.Stats().N)
	assert.Equal(t, 0, s.DocumentFrequency("cat"))
	assert.Equal(t, 1, s.DocumentFrequency("dog"))
}

func TestRemove(t *testing.T) {
	s := Build([]Entry{entry(t, "doc1", "cat sat mat"), entry(t, "doc2", "cat cat dog")})
	assert.Equal(t, 1, s.Remove([]string{"doc2", "missing"}))
	assert.Equal(t, 1, s.DocumentFrequency("cat"))
	assert.Equal(t, 0, s.DocumentFrequency("dog"))
	assert.Equal(t, Stats{N: 1, AvgDL: 3, TotalLength: 3, Vocabulary: 3}, s.Stats())

	s.Remove([]string{"doc1"})
	assert.Equal(t, Stats{}, s.Stats())
	require.NoError(t, s.Verify())
}

func TestGetOmitsMissing(t *testing.T) {
	s := Build([]Entry{entry(t, "doc1", "cat"), entry(t, "doc2", "dog")})
	docs := s.Get([]string{"doc2", "nope", "doc1"})
	require.Len(t, docs, 2)
	assert.Equal(t, "doc2", docs[0].ID)
	assert.Equal(t, "doc1", docs[1].ID)
}

func TestFromRowsDetectsDrift(t *testing.T) {
	docs := []Document{{ID: "doc1", Text: "cat", Length: 1}}
	postings := PostingList{{Token: "cat", DocID: "doc1", Frequency: 1}}

	s, err := FromRows(docs, postings, []VocabularyEntry{{Token: "cat", DocumentFrequency: 1}})
	require.NoError(t, err)
	assert.Equal(t, 1, s.DocumentFrequency("cat"))

	_, err = FromRows(docs, postings, []VocabularyEntry{{Token: "cat", DocumentFrequency: 2}})
	assert.Error(t, err)

	_, err = FromRows(docs, PostingList{{Token: "cat", DocID: "ghost", Frequency: 1}}, nil)
	assert.Error(t, err)
}

func TestReadViewIsConsistent(t *testing.T) {
	s := Build([]Entry{entry(t, "doc1", "cat sat mat"), entry(t, "doc2", "cat cat dog")})
	s.Read(func(v View) {
		assert.Equal(t, 2, v.DocumentFrequency("cat"))
		assert.Equal(t, 3, v.DocLength("doc2"))
		total := 0
		v.EachPosting("cat", func(_ string, f int) { total += f })
		assert.Equal(t, 3, total)
		_, ok := v.Document("doc3")
		assert.False(t, ok)
	})
}
