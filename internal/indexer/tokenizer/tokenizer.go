// Package tokenizer is the default query and chapter preprocessor. It
// lower-cases input, splits on non-alphanumeric boundaries, optionally
// removes stop-words and applies a suffix-stripping stemmer. Deployments
// with an external NLP pipeline send pre-computed tokens instead.
package tokenizer

import (
	"strings"
	"unicode"
)

var stopWords = map[string]struct{}{
	"a": {}, "about": {}, "after": {}, "all": {}, "am": {}, "an": {}, "and": {},
	"any": {}, "are": {}, "as": {}, "at": {}, "be": {}, "been": {}, "before": {},
	"being": {}, "but": {}, "by": {}, "can": {}, "could": {}, "did": {}, "do": {},
	"does": {}, "each": {}, "for": {}, "from": {}, "had": {}, "has": {}, "have": {},
	"he": {}, "her": {}, "him": {}, "his": {}, "how": {}, "i": {}, "if": {},
	"in": {}, "into": {}, "is": {}, "it": {}, "its": {}, "me": {}, "my": {},
	"no": {}, "not": {}, "of": {}, "on": {}, "or": {}, "our": {}, "she": {},
	"so": {}, "than": {}, "that": {}, "the": {}, "their": {}, "them": {},
	"then": {}, "there": {}, "these": {}, "they": {}, "this": {}, "those": {},
	"to": {}, "upon": {}, "us": {}, "very": {}, "was": {}, "we": {}, "were": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "who": {}, "whom": {},
	"why": {}, "will": {}, "with": {}, "would": {}, "you": {}, "your": {},
}

// Options controls the normalisation steps.
type Options struct {
	RemoveStopWords bool
	Stem            bool
	MinLength       int
}

// DefaultOptions mirrors the pipeline the corpus was indexed with: stop-words
// removed, words stemmed, single letters dropped.
func DefaultOptions() Options {
	return Options{RemoveStopWords: true, Stem: true, MinLength: 2}
}

// Preprocessor turns text into the ordered token sequence used for both
// indexing and querying. The zero value performs no stop-word removal or
// stemming.
type Preprocessor struct {
	opts Options
}

func New(opts Options) *Preprocessor {
	return &Preprocessor{opts: opts}
}

// Preprocess returns the normalised tokens of text in order of appearance.
func (p *Preprocessor) Preprocess(text string) []string {
	tokens := p.Tokenize(text)
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Term
	}
	return out
}

// Token represents a single normalised term and its position among the kept
// terms.
type Token struct {
	Term     string
	Position int
}

// Tokenize breaks text into normalised Tokens.
func (p *Preprocessor) Tokenize(text string) []Token {
	text = strings.ToLower(text)
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]Token, 0, len(words)/2)
	pos := 0
	for _, word := range words {
		if len([]rune(word)) < p.opts.MinLength {
			continue
		}
		if p.opts.RemoveStopWords {
			if _, isStop := stopWords[word]; isStop {
				continue
			}
		}
		term := word
		if p.opts.Stem {
			term = stem(word)
		}
		if term == "" {
			continue
		}
		tokens = append(tokens, Token{Term: term, Position: pos})
		pos++
	}
	return tokens
}

// IsStopWord reports whether word (already lower-cased) is in the stop list.
func IsStopWord(word string) bool {
	_, ok := stopWords[word]
	return ok
}

type suffixRule struct {
	suffix      string
	replacement string
	minLen      int
}

// Longer suffixes first; the first rule whose result is long enough wins.
var suffixRules = []suffixRule{
	{"ational", "ate", 2},
	{"tional", "tion", 2},
	{"encies", "ence", 2},
	{"ances", "ance", 2},
	{"ments", "ment", 2},
	{"izing", "ize", 2},
	{"ating", "ate", 2},
	{"iness", "y", 2},
	{"ously", "ous", 2},
	{"ively", "ive", 2},
	{"eness", "ene", 2},
	{"tion", "t", 3},
	{"sion", "s", 3},
	{"ying", "y", 2},
	{"ling", "l", 3},
	{"ies", "y", 2},
	{"ing", "", 3},
	{"ers", "er", 2},
	{"est", "", 3},
	{"ful", "", 3},
	{"ous", "", 3},
	{"ess", "", 3},
	{"ble", "", 3},
	{"ed", "", 3},
	{"er", "", 3},
	{"ly", "", 3},
	{"es", "", 3},
	{"ss", "ss", 2},
	{"s", "", 3},
}

func stem(word string) string {
	for _, rule := range suffixRules {
		if strings.HasSuffix(word, rule.suffix) {
			newWord := word[:len(word)-len(rule.suffix)] + rule.replacement
			if len(newWord) >= rule.minLen {
				return newWord
			}
		}
	}
	return word
}
