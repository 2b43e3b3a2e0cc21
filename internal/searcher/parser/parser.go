package parser

import (
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/indexer/index"
)

type QueryType int

const (
	QueryAND QueryType = iota
	QueryOR
)

func (t QueryType) String() string {
	if t == QueryOR {
		return "OR"
	}
	return "AND"
}

// Preprocessor turns a single query word into index terms.
type Preprocessor interface {
	Preprocess(text string) []string
}

// PostingSource is the index surface a plan is evaluated against.
type PostingSource interface {
	Postings(token string) index.PostingList
}

type QueryPlan struct {
	Terms        []string
	Type         QueryType
	ExcludeTerms []string
	RawQuery     string
}

// Parse splits a boolean query into included and excluded terms. The
// operator words are matched case-insensitively before preprocessing, since
// the stop list drops "and", "or" and "not". The last AND/OR seen wins; NOT
// applies to the next word that yields a term. A nil p only lower-cases.
func Parse(query string, p Preprocessor) *QueryPlan {
	plan := &QueryPlan{
		Terms:        make([]string, 0),
		ExcludeTerms: make([]string, 0),
		Type:         QueryAND,
		RawQuery:     query,
	}
	if strings.TrimSpace(query) == "" {
		return plan
	}
	seen := make(map[string]bool)
	excludeNext := false
	for _, word := range strings.Fields(query) {
		switch strings.ToUpper(word) {
		case "AND":
			plan.Type = QueryAND
			continue
		case "OR":
			plan.Type = QueryOR
			continue
		case "NOT":
			excludeNext = true
			continue
		}
		terms := []string{strings.ToLower(word)}
		if p != nil {
			terms = p.Preprocess(word)
		}
		if len(terms) == 0 {
			continue
		}
		for _, term := range terms {
			if seen[term] {
				continue
			}
			seen[term] = true
			if excludeNext {
				plan.ExcludeTerms = append(plan.ExcludeTerms, term)
			} else {
				plan.Terms = append(plan.Terms, term)
			}
		}
		excludeNext = false
	}
	return plan
}

// Evaluate returns the ids of chapters matching plan in ascending order. AND
// intersects the per-term chapter sets and OR unions them; excluded terms
// are subtracted afterwards. A plan with no included terms matches nothing.
func Evaluate(plan *QueryPlan, src PostingSource) []string {
	if plan == nil || len(plan.Terms) == 0 {
		return []string{}
	}
	var matched map[string]struct{}
	for i, term := range plan.Terms {
		docs := docSet(src.Postings(term))
		switch {
		case i == 0:
			matched = docs
		case plan.Type == QueryOR:
			for id := range docs {
				matched[id] = struct{}{}
			}
		default:
			for id := range matched {
				if _, ok := docs[id]; !ok {
					delete(matched, id)
				}
			}
		}
		if plan.Type == QueryAND && len(matched) == 0 {
			return []string{}
		}
	}
	for _, term := range plan.ExcludeTerms {
		for _, p := range src.Postings(term) {
			delete(matched, p.DocID)
		}
	}
	out := make([]string, 0, len(matched))
	for id := range matched {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func docSet(pl index.PostingList) map[string]struct{} {
	set := make(map[string]struct{}, len(pl))
	for _, p := range pl {
		set[p.DocID] = struct{}{}
	}
	return set
}
