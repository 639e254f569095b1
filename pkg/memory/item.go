package memory

import "time"

// SourceKind tags the upstream pipeline that produced a memory item.
type SourceKind string

const (
	SourceConversation SourceKind = "conversation"
	SourceJournal      SourceKind = "journal"
	SourceTodo         SourceKind = "todo"
	SourceActivity     SourceKind = "activity"
	SourceDecision     SourceKind = "decision"
)

// Valid reports whether k is a known source kind.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceConversation, SourceJournal, SourceTodo, SourceActivity, SourceDecision:
		return true
	}
	return false
}

// MetadataSupersedesKey is the metadata key that references a superseded
// item id. Items are append-only; corrections are new items carrying this
// key, never in-place edits.
const MetadataSupersedesKey = "supersedes"

// Item is a single memory fragment. Items are never mutated after ingest.
type Item struct {
	ID        string            `json:"id"`
	Text      string            `json:"text"`
	Source    SourceKind        `json:"source"`
	CreatedAt time.Time         `json:"created_at"`
	Embedding []float32         `json:"embedding,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// MatchKind records which retrieval leg produced a result.
type MatchKind string

const (
	MatchLexical  MatchKind = "lexical"
	MatchSemantic MatchKind = "semantic"
	MatchBoth     MatchKind = "both"
)

// QueryResult is one fused search result.
type QueryResult struct {
	ID        string     `json:"id"`
	Text      string     `json:"text"`
	Source    SourceKind `json:"source"`
	Score     float64    `json:"score"`
	Matched   MatchKind  `json:"matched"`
	CreatedAt time.Time  `json:"created_at"`
}

// Hit is a raw ranked entry from one retrieval leg, before fusion.
// CreatedAt is populated by the facade for recency tie-breaks.
type Hit struct {
	ID        string
	Score     float64
	CreatedAt time.Time
}
