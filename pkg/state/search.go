package state

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/cuemby/arhiv/pkg/schema"
	"github.com/cuemby/arhiv/pkg/types"
)

// BM25 tuning constants per spec.md §4.5.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
	// proximityMaxBonus caps the window-proximity multiplier.
	proximityMaxBonus = 2.0
)

type posting struct {
	offsets []int
}

// searchIndex is a BM25-over-term-positions full-text index. It indexes
// whatever string-valued fields a document's schema declares as textual,
// plus its rendered title, and is always fully rebuildable from committed
// documents — nothing here is treated as a durable source of truth.
type searchIndex struct {
	// term -> id -> posting
	postings map[string]map[string]*posting
	// id -> token count, for BM25 length normalization
	docLength map[string]int
	totalLength int
	modifiedAt map[string]time.Time
}

func newSearchIndex() *searchIndex {
	return &searchIndex{
		postings:   make(map[string]map[string]*posting),
		docLength:  make(map[string]int),
		modifiedAt: make(map[string]time.Time),
	}
}

type token struct {
	term   string
	offset int
}

// tokenize lowercases text and splits on runs of non-alphanumeric
// characters, recording each token's byte offset.
func tokenize(text string) []token {
	var out []token
	start := -1
	for i, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			out = append(out, token{term: strings.ToLower(text[start:i]), offset: start})
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, token{term: strings.ToLower(text[start:]), offset: start})
	}
	return out
}

func (idx *searchIndex) remove(id string) {
	if length, ok := idx.docLength[id]; ok {
		idx.totalLength -= length
		delete(idx.docLength, id)
	}
	delete(idx.modifiedAt, id)
	for term, byID := range idx.postings {
		if _, ok := byID[id]; ok {
			delete(byID, id)
			if len(byID) == 0 {
				delete(idx.postings, term)
			}
		}
	}
}

// index tokenizes doc's textual fields (and rendered title) and records
// term positions under doc.ID, replacing any prior entry for that id.
func (idx *searchIndex) index(doc *types.Document, s schema.DataSchema) {
	idx.remove(doc.ID)

	var tokens []token
	tokens = append(tokens, tokenize(s.RenderTitle(doc))...)
	desc, ok := s.Descriptions[doc.DocumentType]
	if ok {
		for _, f := range desc.Fields {
			if f.Type != schema.FieldString && f.Type != schema.FieldMarkupString {
				continue
			}
			if v, present := doc.Data[f.Name]; present {
				if text, ok := v.(string); ok {
					tokens = append(tokens, tokenize(text)...)
				}
			}
		}
	}

	for _, tk := range tokens {
		byID, ok := idx.postings[tk.term]
		if !ok {
			byID = make(map[string]*posting)
			idx.postings[tk.term] = byID
		}
		p, ok := byID[doc.ID]
		if !ok {
			p = &posting{}
			byID[doc.ID] = p
		}
		p.offsets = append(p.offsets, tk.offset)
	}

	idx.docLength[doc.ID] = len(tokens)
	idx.totalLength += len(tokens)
	idx.modifiedAt[doc.ID] = doc.UpdatedAt
}

func (idx *searchIndex) avgDocLength() float64 {
	if len(idx.docLength) == 0 {
		return 0
	}
	return float64(idx.totalLength) / float64(len(idx.docLength))
}

// search ranks ids by descending BM25 score (with a proximity bonus for
// multi-term queries), falling back to newest-first id order for an
// empty/whitespace query.
func (idx *searchIndex) search(query string) []string {
	terms := tokenize(query)
	if len(terms) == 0 {
		ids := make([]string, 0, len(idx.modifiedAt))
		for id := range idx.modifiedAt {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool {
			return idx.modifiedAt[ids[i]].After(idx.modifiedAt[ids[j]])
		})
		return ids
	}

	queryTerms := make([]string, 0, len(terms))
	seen := map[string]struct{}{}
	for _, t := range terms {
		if _, ok := seen[t.term]; ok {
			continue
		}
		seen[t.term] = struct{}{}
		queryTerms = append(queryTerms, t.term)
	}

	n := len(idx.docLength)
	avgdl := idx.avgDocLength()

	scores := make(map[string]float64)
	for _, term := range queryTerms {
		byID, ok := idx.postings[term]
		if !ok {
			continue
		}
		nq := len(byID)
		idf := math.Log(float64(n-nq)+0.5) - math.Log(float64(nq)+0.5) + 1
		for id, p := range byID {
			f := float64(len(p.offsets))
			dl := float64(idx.docLength[id])
			denom := f + bm25K1*(1-bm25B+bm25B*dl/maxFloat(avgdl, 1))
			scores[id] += idf * (f * (bm25K1 + 1)) / denom
		}
	}

	if len(queryTerms) >= 2 {
		for id := range scores {
			if window, ok := minCoveringWindow(idx, id, queryTerms); ok {
				bonus := 1 + 1.0/(1.0+float64(window)/float64(len(queryTerms)*10))
				if bonus > proximityMaxBonus {
					bonus = proximityMaxBonus
				}
				scores[id] *= bonus
			}
		}
	}

	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids
}

// minCoveringWindow finds the smallest offset span in id's postings that
// contains at least one occurrence of every term in terms.
func minCoveringWindow(idx *searchIndex, id string, terms []string) (int, bool) {
	type mark struct {
		offset int
		term   int
	}
	var marks []mark
	for ti, term := range terms {
		byID, ok := idx.postings[term]
		if !ok {
			return 0, false
		}
		p, ok := byID[id]
		if !ok {
			return 0, false
		}
		for _, off := range p.offsets {
			marks = append(marks, mark{offset: off, term: ti})
		}
	}
	sort.Slice(marks, func(i, j int) bool { return marks[i].offset < marks[j].offset })

	need := len(terms)
	count := make(map[int]int)
	have := 0
	best := -1
	left := 0
	for right := 0; right < len(marks); right++ {
		if count[marks[right].term] == 0 {
			have++
		}
		count[marks[right].term]++
		for have == need {
			window := marks[right].offset - marks[left].offset
			if best < 0 || window < best {
				best = window
			}
			count[marks[left].term]--
			if count[marks[left].term] == 0 {
				have--
			}
			left++
		}
	}
	if best < 0 {
		return 0, false
	}
	return best, true
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
