package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chapterMsg struct {
	ID     string   `json:"id"`
	Tokens []string `json:"tokens"`
}

func TestDecodeJSON(t *testing.T) {
	msg, err := DecodeJSON[chapterMsg]([]byte(`{"id":"book1_ch1","tokens":["cat","sat"]}`))
	require.NoError(t, err)
	assert.Equal(t, "book1_ch1", msg.ID)
	assert.Equal(t, []string{"cat", "sat"}, msg.Tokens)
}

func TestDecodeJSONPoison(t *testing.T) {
	_, err := DecodeJSON[chapterMsg]([]byte(`{"id":`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPoisonMessage))
}

type commitMsg struct {
	Documents []string `json:"documents"`
	Rebuild   bool     `json:"rebuild"`
}

type capture struct{ events []Event }

func (c *capture) Publish(_ context.Context, e Event) error {
	c.events = append(c.events, e)
	return nil
}

func (c *capture) Close() error { return nil }

func TestToMessageSetsTypeHeader(t *testing.T) {
	msg, err := toMessage(Event{Key: "book1_ch1", Type: "chapter", Value: chapterMsg{ID: "book1_ch1"}})
	require.NoError(t, err)
	assert.Equal(t, []byte("book1_ch1"), msg.Key)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, EventTypeHeader, msg.Headers[0].Key)
	assert.Equal(t, []byte("chapter"), msg.Headers[0].Value)

	back, err := DecodeJSON[chapterMsg](msg.Value)
	require.NoError(t, err)
	assert.Equal(t, "book1_ch1", back.ID)

	msg, err = toMessage(Event{Key: "k", Value: 1})
	require.NoError(t, err)
	assert.Empty(t, msg.Headers)
}

func TestToMessageRejectsUnencodable(t *testing.T) {
	_, err := toMessage(Event{Key: "k", Type: "chapter", Value: make(chan int)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chapter")
}

func TestAnnouncer(t *testing.T) {
	pub := &capture{}
	a := NewAnnouncer(pub, "index-complete", func(c commitMsg) string {
		if c.Rebuild {
			return "rebuild"
		}
		return "commit"
	})
	require.NoError(t, a.Announce(context.Background(), commitMsg{Documents: []string{"a"}}))
	require.NoError(t, a.Announce(context.Background(), commitMsg{Rebuild: true}))

	require.Len(t, pub.events, 2)
	assert.Equal(t, "commit", pub.events[0].Key)
	assert.Equal(t, "index-complete", pub.events[0].Type)
	assert.Equal(t, []string{"a"}, pub.events[0].Value.(commitMsg).Documents)
	assert.Equal(t, "rebuild", pub.events[1].Key)
}
