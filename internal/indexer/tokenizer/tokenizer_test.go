package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPreprocessDefault(t *testing.T) {
	p := New(DefaultOptions())
	got := p.Preprocess("The Whales were hunting, and the sailors SAILED!")
	assert.Equal(t, []string{"whal", "hunt", "sailor", "sail"}, got)
}

func TestPreprocessRaw(t *testing.T) {
	p := New(Options{})
	got := p.Preprocess("Call me Ishmael. Some years ago")
	assert.Equal(t, []string{"call", "me", "ishmael", "some", "years", "ago"}, got)
}

func TestPreprocessMinLength(t *testing.T) {
	p := New(Options{MinLength: 3})
	assert.Equal(t, []string{"cat", "sat"}, p.Preprocess("a cat is sat"))
}

func TestPreprocessEmpty(t *testing.T) {
	p := New(DefaultOptions())
	assert.Empty(t, p.Preprocess(""))
	assert.Empty(t, p.Preprocess("the and of"))
	assert.Empty(t, p.Preprocess("  ,,;; "))
}

func TestTokenizePositions(t *testing.T) {
	p := New(DefaultOptions())
	tokens := p.Tokenize("the captain of the ship")
	assert.Equal(t, []Token{{Term: "captain", Position: 0}, {Term: "ship", Position: 1}}, tokens)
}

func TestStem(t *testing.T) {
	cases := map[string]string{
		"relational": "relate",
		"running":    "runn",
		"flies":      "fly",
		"glass":      "glass",
		"cats":       "cat",
		"is":         "is",
	}
	for in, want := range cases {
		assert.Equal(t, want, stem(in), in)
	}
}

func TestIsStopWord(t *testing.T) {
	assert.True(t, IsStopWord("the"))
	assert.False(t, IsStopWord("whale"))
}

func BenchmarkPreprocess(b *testing.B) {
	p := New(DefaultOptions())
	text := strings.Repeat("It was the best of times, it was the worst of times, it was the age of wisdom. ", 200)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.Preprocess(text)
	}
}
