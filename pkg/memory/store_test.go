package memory

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/recall-labs/mnemo/internal/tracing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		DBPath:       filepath.Join(t.TempDir(), "memory.db"),
		EmbeddingDim: 3,
		BM25K1:       DefaultBM25K1,
		BM25B:        DefaultBM25B,
		FusionAlpha:  DefaultFusionAlpha,
		DefaultTopK:  10,
		Logger:       zerolog.Nop(),
	}
}

func newTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	store, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewValidatesConfig(t *testing.T) {
	base := testConfig(t)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty db path", func(c *Config) { c.DBPath = "" }},
		{"zero embedding dim", func(c *Config) { c.EmbeddingDim = 0 }},
		{"zero k1", func(c *Config) { c.BM25K1 = 0 }},
		{"b out of range", func(c *Config) { c.BM25B = 1.5 }},
		{"alpha out of range", func(c *Config) { c.FusionAlpha = -0.1 }},
		{"zero top k", func(c *Config) { c.DefaultTopK = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			_, err := New(cfg)
			require.Error(t, err)
			var cfgErr *ConfigError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestStoreLazyInitialization(t *testing.T) {
	store := newTestStore(t, testConfig(t))

	// Construction does not initialize.
	assert.Equal(t, "not_started", store.Status().State)

	_, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ready", store.Status().State)
	assert.Equal(t, 1, store.Status().Attempts)
}

func TestStoreReadYourWrites(t *testing.T) {
	store := newTestStore(t, testConfig(t))
	ctx := context.Background()

	id, err := store.Ingest(ctx, "booked dentist appointment for thursday", SourceTodo, nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// A search from the same caller after Ingest returns observes the item.
	results, err := store.HybridSearch(ctx, "dentist", nil, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].ID)
	assert.Equal(t, SourceTodo, results[0].Source)
	assert.Equal(t, MatchLexical, results[0].Matched)
}

func TestStoreIngestValidation(t *testing.T) {
	store := newTestStore(t, testConfig(t))
	ctx := context.Background()

	t.Run("empty text", func(t *testing.T) {
		_, err := store.Ingest(ctx, "", SourceJournal, nil, nil)
		var qErr *QueryError
		assert.ErrorAs(t, err, &qErr)
	})

	t.Run("unknown source", func(t *testing.T) {
		_, err := store.Ingest(ctx, "text", SourceKind("dreams"), nil, nil)
		var qErr *QueryError
		assert.ErrorAs(t, err, &qErr)
	})

	t.Run("bad metadata", func(t *testing.T) {
		_, err := store.Ingest(ctx, "text", SourceJournal, map[string]string{"BAD KEY": "v"}, nil)
		var qErr *QueryError
		assert.ErrorAs(t, err, &qErr)
	})

	t.Run("embedding dimension mismatch", func(t *testing.T) {
		_, err := store.Ingest(ctx, "text", SourceJournal, nil, []float32{1, 2})
		var cfgErr *ConfigError
		assert.ErrorAs(t, err, &cfgErr)
	})
}

func TestStoreHybridSearchFusesLegs(t *testing.T) {
	store := newTestStore(t, testConfig(t))
	ctx := context.Background()

	// One item matches by keyword, one by vector, one by both.
	lexID, err := store.Ingest(ctx, "tax deadline reminder", SourceTodo, nil, nil)
	require.NoError(t, err)
	semID, err := store.Ingest(ctx, "annual filing notes", SourceJournal, nil, []float32{1, 0, 0})
	require.NoError(t, err)
	bothID, err := store.Ingest(ctx, "tax filing strategy", SourceDecision, nil, []float32{0.9, 0.1, 0})
	require.NoError(t, err)

	results, err := store.HybridSearch(ctx, "tax", []float32{1, 0, 0}, 0)
	require.NoError(t, err)
	require.Len(t, results, 3)

	byID := make(map[string]QueryResult)
	for _, r := range results {
		byID[r.ID] = r
		assert.NotEmpty(t, r.Text, "results are hydrated with stored text")
	}
	assert.Equal(t, MatchLexical, byID[lexID].Matched)
	assert.Equal(t, MatchSemantic, byID[semID].Matched)
	assert.Equal(t, MatchBoth, byID[bothID].Matched)
	assert.Equal(t, bothID, results[0].ID, "matching both legs ranks first")
}

func TestStoreRetune(t *testing.T) {
	store := newTestStore(t, testConfig(t))
	ctx := context.Background()

	// One item only the lexical leg finds, one only the semantic leg finds.
	lexID, err := store.Ingest(ctx, "coffee with alex tomorrow", SourceTodo, nil, nil)
	require.NoError(t, err)
	semID, err := store.Ingest(ctx, "morning plans", SourceJournal, nil, []float32{1, 0, 0})
	require.NoError(t, err)

	t.Run("alpha shift reorders running searches", func(t *testing.T) {
		require.NoError(t, store.Retune(1.0, 10))
		results, err := store.HybridSearch(ctx, "coffee", []float32{1, 0, 0}, 0)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, lexID, results[0].ID, "pure lexical weight ranks the keyword match first")

		require.NoError(t, store.Retune(0.0, 10))
		results, err = store.HybridSearch(ctx, "coffee", []float32{1, 0, 0}, 0)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, semID, results[0].ID, "pure semantic weight ranks the vector match first")
	})

	t.Run("default topK applies when callers pass zero", func(t *testing.T) {
		require.NoError(t, store.Retune(0.5, 1))
		results, err := store.HybridSearch(ctx, "coffee", []float32{1, 0, 0}, 0)
		require.NoError(t, err)
		assert.Len(t, results, 1)
	})

	t.Run("invalid settings are rejected and keep the previous ones", func(t *testing.T) {
		var cfgErr *ConfigError
		assert.ErrorAs(t, store.Retune(1.5, 10), &cfgErr)
		assert.ErrorAs(t, store.Retune(0.5, 0), &cfgErr)

		// Still the topK=1 from the last successful retune.
		results, err := store.HybridSearch(ctx, "coffee", []float32{1, 0, 0}, 0)
		require.NoError(t, err)
		assert.Len(t, results, 1)
	})
}

func TestStoreIngestUnderRequestContext(t *testing.T) {
	store := newTestStore(t, testConfig(t))
	ctx := tracing.NewRequestContext(context.Background())

	id, err := store.Ingest(ctx, "noted the retro outcome", SourceConversation, nil, nil)
	require.NoError(t, err)

	item, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "noted the retro outcome", item.Text)
}

func TestStoreHybridSearchEmptyQueryNoVector(t *testing.T) {
	store := newTestStore(t, testConfig(t))
	ctx := context.Background()

	_, err := store.Ingest(ctx, "anything at all", SourceJournal, nil, nil)
	require.NoError(t, err)

	results, err := store.HybridSearch(ctx, "", nil, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestStoreHybridSearchQueryVectorDimension(t *testing.T) {
	store := newTestStore(t, testConfig(t))

	_, err := store.HybridSearch(context.Background(), "q", []float32{1}, 0)
	require.Error(t, err)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestStoreGet(t *testing.T) {
	store := newTestStore(t, testConfig(t))
	ctx := context.Background()

	id, err := store.Ingest(ctx, "...", SourceActivity, nil, nil)
	require.NoError(t, err)

	// Zero indexable terms: unreachable by search, reachable by Get.
	results, err := store.HybridSearch(ctx, "anything", nil, 0)
	require.NoError(t, err)
	assert.Empty(t, results)

	item, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "...", item.Text)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreDeleteCompleteness(t *testing.T) {
	store := newTestStore(t, testConfig(t))
	ctx := context.Background()

	id, err := store.Ingest(ctx, "embarrassing karaoke video", SourceActivity, nil, []float32{0, 1, 0})
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, id))

	// Gone from both retrieval paths and from point lookup.
	results, err := store.HybridSearch(ctx, "karaoke", []float32{0, 1, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = store.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting again is a no-op.
	assert.NoError(t, store.Delete(ctx, id))
}

func TestStoreRebuildAfterRestart(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	first, err := New(cfg)
	require.NoError(t, err)
	id, err := first.Ingest(ctx, "migrated the billing database", SourceActivity, nil, []float32{1, 1, 0})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	// A fresh store over the same file rebuilds both indexes from disk.
	second := newTestStore(t, cfg)
	results, err := second.HybridSearch(ctx, "billing", []float32{1, 1, 0}, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].ID)
	assert.Equal(t, MatchBoth, results[0].Matched)

	st := second.Status()
	assert.Equal(t, 1, st.Items)
	assert.Equal(t, 1, st.LexicalDocs)
	assert.Equal(t, 1, st.Vectors)
}

func TestStoreInitFailureRetries(t *testing.T) {
	cfg := testConfig(t)
	parent := filepath.Join(t.TempDir(), "not-yet-here")
	cfg.DBPath = filepath.Join(parent, "memory.db")

	store := newTestStore(t, cfg)
	ctx := context.Background()

	// SQLite cannot create intermediate directories, so the first attempt
	// fails and surfaces as an initialization error.
	_, err := store.Count(ctx)
	require.Error(t, err)
	var initErr *InitializationError
	assert.ErrorAs(t, err, &initErr)
	assert.Equal(t, "not_started", store.Status().State)

	// Fix the environment; the next call retries and succeeds.
	require.NoError(t, os.MkdirAll(parent, 0755))
	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, "ready", store.Status().State)
	assert.Equal(t, 2, store.Status().Attempts)
}

func TestStoreConcurrentFirstUse(t *testing.T) {
	store := newTestStore(t, testConfig(t))
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.HybridSearch(ctx, "warmup", nil, 0)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, store.Status().Attempts, "concurrent first use shares one initialization")
}

func TestStorePurgeExpired(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	// Seed the durable store directly with an old item, then let the
	// facade rebuild over it.
	seed, err := OpenItemStore(cfg.DBPath, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, seed.Append(ctx, Item{
		ID:        "ancient",
		Text:      "from a previous era",
		Source:    SourceJournal,
		CreatedAt: time.Now().UTC().Add(-48 * time.Hour),
	}))
	require.NoError(t, seed.Close())

	store := newTestStore(t, cfg)
	fresh, err := store.Ingest(ctx, "from this morning", SourceJournal, nil, nil)
	require.NoError(t, err)

	purged, err := store.PurgeExpired(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	_, err = store.Get(ctx, "ancient")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, fresh)
	assert.NoError(t, err)

	t.Run("non-positive horizon rejected", func(t *testing.T) {
		_, err := store.PurgeExpired(ctx, 0)
		var qErr *QueryError
		assert.ErrorAs(t, err, &qErr)
	})
}

func TestStoreSupersedesConvention(t *testing.T) {
	store := newTestStore(t, testConfig(t))
	ctx := context.Background()

	original, err := store.Ingest(ctx, "meeting moved to 3pm", SourceConversation, nil, nil)
	require.NoError(t, err)

	correction, err := store.Ingest(ctx, "meeting moved to 4pm", SourceConversation,
		map[string]string{MetadataSupersedesKey: original}, nil)
	require.NoError(t, err)

	// Both remain retrievable; supersession is a metadata convention, not
	// an in-place edit.
	item, err := store.Get(ctx, correction)
	require.NoError(t, err)
	assert.Equal(t, original, item.Metadata[MetadataSupersedesKey])

	_, err = store.Get(ctx, original)
	assert.NoError(t, err)
}
