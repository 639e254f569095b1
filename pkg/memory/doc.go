// Package memory stores fragments of a user's activity and recalls them by
// fusing BM25 keyword relevance with cosine semantic similarity.
//
// Invariants:
//   - Items are append-only; a correction is a new item whose metadata
//     references the superseded id.
//   - The durable append always precedes in-memory indexing; a crash between
//     the two is healed by the next startup rebuild.
//   - All entry points pass through the initialization coordinator; nothing
//     is served from a partially-initialized store.
//
// Usage:
//
//	store, _ := memory.New(memory.Config{DBPath: "/data/memory.db", EmbeddingDim: 384,
//		BM25K1: memory.DefaultBM25K1, BM25B: memory.DefaultBM25B,
//		FusionAlpha: memory.DefaultFusionAlpha, DefaultTopK: 10})
//	defer store.Close()
//	id, _ := store.Ingest(ctx, "met with the design team", memory.SourceJournal, nil, nil)
//	results, _ := store.HybridSearch(ctx, "design team", nil, 10)
//	_, _ = id, results
package memory
