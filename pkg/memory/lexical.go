package memory

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"
)

// DefaultBM25K1 and DefaultBM25B are the usual BM25 constants. They are
// exposed as configuration because no tuning against real query logs has
// been done yet.
const (
	DefaultBM25K1 = 1.2
	DefaultBM25B  = 0.75
)

type lexicalDoc struct {
	length    int
	createdAt time.Time
}

// LexicalIndex is an in-memory BM25 inverted index. Document frequency and
// length statistics update incrementally per insert/remove; there is no
// full-corpus recompute.
type LexicalIndex struct {
	k1 float64
	b  float64

	mu       sync.RWMutex
	postings map[string]map[string]int // term -> id -> term frequency
	docs     map[string]lexicalDoc
	totalLen int
}

// NewLexicalIndex creates an empty index with the given BM25 constants.
func NewLexicalIndex(k1, b float64) *LexicalIndex {
	return &LexicalIndex{
		k1:       k1,
		b:        b,
		postings: make(map[string]map[string]int),
		docs:     make(map[string]lexicalDoc),
	}
}

// Tokenize lowercases, strips punctuation and splits on whitespace.
func Tokenize(text string) []string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			return unicode.ToLower(r)
		default:
			return ' '
		}
	}, text)
	return strings.Fields(cleaned)
}

// Index adds an item's terms. An item with zero indexable terms is recorded
// with an empty posting set; it never matches a search but Remove stays
// symmetric.
func (ix *LexicalIndex) Index(item Item) {
	terms := Tokenize(item.Text)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, exists := ix.docs[item.ID]; exists {
		ix.removeLocked(item.ID)
	}

	ix.docs[item.ID] = lexicalDoc{length: len(terms), createdAt: item.CreatedAt}
	ix.totalLen += len(terms)

	for _, term := range terms {
		posting := ix.postings[term]
		if posting == nil {
			posting = make(map[string]int)
			ix.postings[term] = posting
		}
		posting[item.ID]++
	}
}

// Remove deletes all postings for id and decrements the affected document
// frequencies and totals. Removing an unknown id is a no-op.
func (ix *LexicalIndex) Remove(id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeLocked(id)
}

func (ix *LexicalIndex) removeLocked(id string) {
	doc, ok := ix.docs[id]
	if !ok {
		return
	}
	delete(ix.docs, id)
	ix.totalLen -= doc.length

	for term, posting := range ix.postings {
		if _, ok := posting[id]; ok {
			delete(posting, id)
			if len(posting) == 0 {
				delete(ix.postings, term)
			}
		}
	}
}

// Search scores the union of postings for the query terms and returns up to
// topK hits, descending by BM25 score, ties broken by more-recent items.
// An empty query yields an empty result.
func (ix *LexicalIndex) Search(query string, topK int) []Hit {
	terms := Tokenize(query)
	if len(terms) == 0 || topK <= 0 {
		return nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	n := len(ix.docs)
	if n == 0 {
		return nil
	}
	avgdl := float64(ix.totalLen) / float64(n)

	scores := make(map[string]float64)
	for _, term := range terms {
		posting, ok := ix.postings[term]
		if !ok {
			continue
		}
		df := float64(len(posting))
		idf := math.Log(1 + (float64(n)-df+0.5)/(df+0.5))

		for id, tf := range posting {
			doc := ix.docs[id]
			norm := 1 - ix.b + ix.b*float64(doc.length)/avgdl
			f := float64(tf)
			scores[id] += idf * f * (ix.k1 + 1) / (f + ix.k1*norm)
		}
	}

	hits := make([]Hit, 0, len(scores))
	for id, score := range scores {
		hits = append(hits, Hit{ID: id, Score: score, CreatedAt: ix.docs[id].createdAt})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if !hits[i].CreatedAt.Equal(hits[j].CreatedAt) {
			return hits[i].CreatedAt.After(hits[j].CreatedAt)
		}
		return hits[i].ID < hits[j].ID
	})

	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// Len returns the number of indexed documents.
func (ix *LexicalIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docs)
}
