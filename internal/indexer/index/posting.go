package index

import (
	"sort"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/errors"
)

// Document is one chapter. Length is the number of tokens the upstream
// preprocessor produced for it, not a character count.
type Document struct {
	ID     string `json:"doc_id"`
	Book   string `json:"book"`
	Title  string `json:"chapter_title"`
	Text   string `json:"text"`
	Length int    `json:"doc_length"`
}

// Validate rejects documents that may not be stored.
func (d Document) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return apperrors.InvalidDocument("empty document id")
	}
	if strings.TrimSpace(d.Text) == "" {
		return apperrors.InvalidDocument("document %q has empty text", d.ID)
	}
	if d.Length < 0 {
		return apperrors.InvalidDocument("document %q has negative length %d", d.ID, d.Length)
	}
	return nil
}

type Posting struct {
	Token     string `json:"token"`
	DocID     string `json:"doc_id"`
	Frequency int    `json:"frequency"`
}

type PostingList []Posting

type VocabularyEntry struct {
	Token             string `json:"token"`
	DocumentFrequency int    `json:"document_frequency"`
}

// Stats are the corpus-wide figures BM25 needs.
type Stats struct {
	N           int     `json:"documents"`
	AvgDL       float64 `json:"avg_doc_length"`
	TotalLength int64   `json:"total_length"`
	Vocabulary  int     `json:"vocabulary_size"`
}

// Frequencies maps a token to its occurrence count within one document.
// Counts are always positive; tokens that do not occur are absent.
type Frequencies map[string]int

// Count builds the frequency table for a token sequence. Empty tokens are
// ignored.
func Count(tokens []string) Frequencies {
	freqs := make(Frequencies, len(tokens))
	for _, t := range tokens {
		if t == "" {
			continue
		}
		freqs[t]++
	}
	return freqs
}

// Tokens returns the distinct tokens in ascending order.
func (f Frequencies) Tokens() []string {
	out := make([]string, 0, len(f))
	for t := range f {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Entry is a document prepared for commit: its record plus the frequency
// table of its tokens. Document.Length equals the token count.
type Entry struct {
	Document    Document
	Frequencies Frequencies
}

// NewEntry validates doc and counts tokens. The resulting document length is
// len(tokens) after dropping empty strings.
func NewEntry(doc Document, tokens []string) (Entry, error) {
	freqs := Count(tokens)
	length := 0
	for _, n := range freqs {
		length += n
	}
	doc.Length = length
	if err := doc.Validate(); err != nil {
		return Entry{}, err
	}
	return Entry{Document: doc, Frequencies: freqs}, nil
}

// Postings expands the entry into posting rows ordered by token.
func (e Entry) Postings() PostingList {
	out := make(PostingList, 0, len(e.Frequencies))
	for _, t := range e.Frequencies.Tokens() {
		out = append(out, Posting{Token: t, DocID: e.Document.ID, Frequency: e.Frequencies[t]})
	}
	return out
}

// Dedupe keeps the last entry for each document id, preserving the order of
// those survivors.
func Dedupe(entries []Entry) []Entry {
	last := make(map[string]int, len(entries))
	for i, e := range entries {
		last[e.Document.ID] = i
	}
	if len(last) == len(entries) {
		return entries
	}
	out := make([]Entry, 0, len(last))
	for i, e := range entries {
		if last[e.Document.ID] == i {
			out = append(out, e)
		}
	}
	return out
}
