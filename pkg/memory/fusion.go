package memory

import (
	"fmt"
	"sort"
)

// DefaultFusionAlpha weights the lexical leg in hybrid fusion. 0.5 is an
// untuned even split; adjust once real query logs exist.
const DefaultFusionAlpha = 0.5

// Fuser merges a lexical and a semantic ranking into one fused ranking.
// Fusion is deterministic: identical inputs always produce identical
// output.
type Fuser struct {
	alpha float64
}

// NewFuser creates a fuser with the given lexical weight alpha in [0, 1].
func NewFuser(alpha float64) (*Fuser, error) {
	if alpha < 0 || alpha > 1 {
		return nil, &ConfigError{
			Field:  "fusion_alpha",
			Reason: fmt.Sprintf("%v is outside [0, 1]", alpha),
		}
	}
	return &Fuser{alpha: alpha}, nil
}

// Fuse normalizes each list's scores to [0, 1] via min-max within that
// list, combines them as alpha*lexical + (1-alpha)*semantic, and returns up
// to topK results. An item missing from one list contributes 0 for that
// term. Either list may be empty; fusion degrades to the other's ranking.
//
// Ordering: fused score descending, then matched-by-both before
// matched-by-one, then recency, then id.
func (f *Fuser) Fuse(lexical, semantic []Hit, topK int) []QueryResult {
	if topK <= 0 {
		return nil
	}

	lexNorm := normalizeMinMax(lexical)
	semNorm := normalizeMinMax(semantic)

	createdAt := make(map[string]Hit, len(lexical)+len(semantic))
	for _, h := range lexical {
		createdAt[h.ID] = h
	}
	for _, h := range semantic {
		if _, ok := createdAt[h.ID]; !ok {
			createdAt[h.ID] = h
		}
	}

	results := make([]QueryResult, 0, len(createdAt))
	for id, h := range createdAt {
		lex, inLex := lexNorm[id]
		sem, inSem := semNorm[id]

		matched := MatchBoth
		switch {
		case inLex && !inSem:
			matched = MatchLexical
		case inSem && !inLex:
			matched = MatchSemantic
		}

		results = append(results, QueryResult{
			ID:        id,
			Score:     f.alpha*lex + (1-f.alpha)*sem,
			Matched:   matched,
			CreatedAt: h.CreatedAt,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if (a.Matched == MatchBoth) != (b.Matched == MatchBoth) {
			return a.Matched == MatchBoth
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// normalizeMinMax maps each hit's score into [0, 1] within its list. A list
// whose scores are all equal normalizes to 1 for every entry: they are all
// jointly the best that leg found.
func normalizeMinMax(hits []Hit) map[string]float64 {
	norm := make(map[string]float64, len(hits))
	if len(hits) == 0 {
		return norm
	}

	min, max := hits[0].Score, hits[0].Score
	for _, h := range hits[1:] {
		if h.Score < min {
			min = h.Score
		}
		if h.Score > max {
			max = h.Score
		}
	}

	for _, h := range hits {
		if max == min {
			norm[h.ID] = 1
		} else {
			norm[h.ID] = (h.Score - min) / (max - min)
		}
	}
	return norm
}
