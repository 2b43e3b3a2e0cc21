package index

import (
	"fmt"
	"sort"
	"sync"
)

// Snapshot is one published generation of the document table and inverted
// index. Incremental upserts mutate it under the write lock; a full rebuild
// produces a fresh Snapshot instead.
type Snapshot struct {
	mu          sync.RWMutex
	docs        map[string]Document
	postings    map[string]map[string]int
	forward     map[string]Frequencies
	df          map[string]int
	totalLength int64
}

func NewSnapshot() *Snapshot {
	return &Snapshot{
		docs:     make(map[string]Document),
		postings: make(map[string]map[string]int),
		forward:  make(map[string]Frequencies),
		df:       make(map[string]int),
	}
}

// Build derives a snapshot from scratch. Document frequencies are computed by
// counting each token's posting set rather than incrementally, so a rebuild
// and an upsert sequence share no bookkeeping code.
func Build(entries []Entry) *Snapshot {
	s := NewSnapshot()
	for _, e := range Dedupe(entries) {
		id := e.Document.ID
		s.docs[id] = e.Document
		s.forward[id] = e.Frequencies
		s.totalLength += int64(e.Document.Length)
		for tok, f := range e.Frequencies {
			docs, ok := s.postings[tok]
			if !ok {
				docs = make(map[string]int)
				s.postings[tok] = docs
			}
			docs[id] = f
		}
	}
	for tok, docs := range s.postings {
		s.df[tok] = len(docs)
	}
	return s
}

// FromRows reassembles a snapshot from persisted rows and checks that the
// stored vocabulary agrees with the stored postings.
func FromRows(docs []Document, postings PostingList, vocab []VocabularyEntry) (*Snapshot, error) {
	s := NewSnapshot()
	for _, d := range docs {
		s.docs[d.ID] = d
		s.forward[d.ID] = make(Frequencies)
		s.totalLength += int64(d.Length)
	}
	for _, p := range postings {
		fwd, ok := s.forward[p.DocID]
		if !ok {
			return nil, fmt.Errorf("posting (%s, %s) references unknown document", p.Token, p.DocID)
		}
		if p.Frequency <= 0 {
			return nil, fmt.Errorf("posting (%s, %s) has frequency %d", p.Token, p.DocID, p.Frequency)
		}
		fwd[p.Token] = p.Frequency
		m, ok := s.postings[p.Token]
		if !ok {
			m = make(map[string]int)
			s.postings[p.Token] = m
		}
		m[p.DocID] = p.Frequency
	}
	for _, v := range vocab {
		s.df[v.Token] = v.DocumentFrequency
	}
	if err := s.Verify(); err != nil {
		return nil, err
	}
	return s, nil
}

// Apply upserts entries. For a document already present, tokens that no
// longer occur lose their posting and one unit of document frequency; tokens
// new to the document gain one; tokens present before and after only have
// their frequency replaced.
func (s *Snapshot) Apply(entries []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range Dedupe(entries) {
		id := e.Document.ID
		old := s.forward[id]
		for tok := range old {
			if _, still := e.Frequencies[tok]; still {
				continue
			}
			s.dropPosting(tok, id)
		}
		for tok, f := range e.Frequencies {
			if _, had := old[tok]; !had {
				s.df[tok]++
			}
			docs, ok := s.postings[tok]
			if !ok {
				docs = make(map[string]int)
				s.postings[tok] = docs
			}
			docs[id] = f
		}
		if prev, ok := s.docs[id]; ok {
			s.totalLength -= int64(prev.Length)
		}
		s.docs[id] = e.Document
		s.forward[id] = e.Frequencies
		s.totalLength += int64(e.Document.Length)
	}
}

// Remove deletes documents and their postings. Unknown ids are ignored.
// It returns the number of documents removed.
func (s *Snapshot) Remove(ids []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for _, id := range ids {
		doc, ok := s.docs[id]
		if !ok {
			continue
		}
		for tok := range s.forward[id] {
			s.dropPosting(tok, id)
		}
		s.totalLength -= int64(doc.Length)
		delete(s.docs, id)
		delete(s.forward, id)
		removed++
	}
	return removed
}

func (s *Snapshot) dropPosting(tok, id string) {
	docs := s.postings[tok]
	delete(docs, id)
	if len(docs) == 0 {
		delete(s.postings, tok)
	}
	if s.df[tok] <= 1 {
		delete(s.df, tok)
		return
	}
	s.df[tok]--
}

// Get returns the stored documents for ids in request order. Unknown ids are
// omitted, so len(result) may be smaller than len(ids).
func (s *Snapshot) Get(ids []string) []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Document, 0, len(ids))
	for _, id := range ids {
		if d, ok := s.docs[id]; ok {
			out = append(out, d)
		}
	}
	return out
}

// Postings returns the posting list for token ordered by document id, or nil.
func (s *Snapshot) Postings(token string) PostingList {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := s.postings[token]
	if len(docs) == 0 {
		return nil
	}
	out := make(PostingList, 0, len(docs))
	for id, f := range docs {
		out = append(out, Posting{Token: token, DocID: id, Frequency: f})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocID < out[j].DocID })
	return out
}

func (s *Snapshot) DocumentFrequency(token string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.df[token]
}

func (s *Snapshot) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats()
}

func (s *Snapshot) stats() Stats {
	st := Stats{N: len(s.docs), TotalLength: s.totalLength, Vocabulary: len(s.df)}
	if st.N > 0 {
		st.AvgDL = float64(s.totalLength) / float64(st.N)
	}
	return st
}

// Vocabulary returns every vocabulary entry ordered by token.
func (s *Snapshot) Vocabulary() []VocabularyEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]VocabularyEntry, 0, len(s.df))
	for tok, n := range s.df {
		out = append(out, VocabularyEntry{Token: tok, DocumentFrequency: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out
}

// AllPostings returns every posting ordered by token, then document id.
func (s *Snapshot) AllPostings() PostingList {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(PostingList, 0, len(s.postings))
	for tok, docs := range s.postings {
		for id, f := range docs {
			out = append(out, Posting{Token: tok, DocID: id, Frequency: f})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Token != out[j].Token {
			return out[i].Token < out[j].Token
		}
		return out[i].DocID < out[j].DocID
	})
	return out
}

// Documents returns every stored document ordered by id.
func (s *Snapshot) Documents() []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Document, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Verify checks the invariants tying the vocabulary and corpus statistics to
// the postings and documents.
func (s *Snapshot) Verify() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.df) != len(s.postings) {
		return fmt.Errorf("vocabulary has %d tokens but postings cover %d", len(s.df), len(s.postings))
	}
	for tok, docs := range s.postings {
		if s.df[tok] != len(docs) {
			return fmt.Errorf("token %q: document frequency %d, distinct postings %d", tok, s.df[tok], len(docs))
		}
	}
	var total int64
	for id, d := range s.docs {
		total += int64(d.Length)
		sum := 0
		for _, f := range s.forward[id] {
			sum += f
		}
		if sum != d.Length {
			return fmt.Errorf("document %q: length %d, posting frequencies sum to %d", id, d.Length, sum)
		}
	}
	if total != s.totalLength {
		return fmt.Errorf("total length %d, documents sum to %d", s.totalLength, total)
	}
	return nil
}

// View is a consistent read handle valid only inside Read.
type View struct {
	s *Snapshot
}

// Read runs fn while holding the read lock, so every call on the View sees
// the same generation of the index.
func (s *Snapshot) Read(fn func(View)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(View{s: s})
}

func (v View) Stats() Stats { return v.s.stats() }

func (v View) DocumentFrequency(token string) int { return v.s.df[token] }

// EachPosting calls fn for every posting of token in unspecified order.
func (v View) EachPosting(token string, fn func(docID string, freq int)) {
	for id, f := range v.s.postings[token] {
		fn(id, f)
	}
}

func (v View) DocLength(docID string) int { return v.s.docs[docID].Length }

func (v View) Document(docID string) (Document, bool) {
	d, ok := v.s.docs[docID]
	return d, ok
}
