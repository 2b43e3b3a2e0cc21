package consumer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadChaptersArray(t *testing.T) {
	events, err := ReadChapters(strings.NewReader(`
  [{"doc_id":"c1","book":"Moby Dick","chapter_title":"Loomings","text":"Call me Ishmael."},
   {"doc_id":"c2","text":"Second","tokens":["second"]}]`))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Loomings", events[0].ChapterTitle)
	assert.Equal(t, []string{"second"}, events[1].Tokens)
}

func TestReadChaptersLines(t *testing.T) {
	events, err := ReadChapters(strings.NewReader("{\"doc_id\":\"c1\",\"text\":\"a\"}\n\n{\"doc_id\":\"c2\",\"text\":\"b\"}\n"))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "c2", events[1].Document().ID)

	_, err = ReadChapters(strings.NewReader("{\"doc_id\":\"c1\"}\n{broken\n"))
	assert.ErrorContains(t, err, "line 2")
}

func TestReadChaptersEmpty(t *testing.T) {
	events, err := ReadChapters(strings.NewReader("  \n"))
	require.NoError(t, err)
	assert.Empty(t, events)
}
