package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/recall-labs/mnemo/internal/observability"
	"github.com/recall-labs/mnemo/internal/tracing"
	"github.com/recall-labs/mnemo/pkg/lazyinit"
	"github.com/recall-labs/mnemo/pkg/writequeue"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Config holds memory store configuration.
type Config struct {
	DBPath       string
	EmbeddingDim int
	BM25K1       float64
	BM25B        float64
	FusionAlpha  float64
	DefaultTopK  int
	Logger       zerolog.Logger
}

// Status reports the store's current state.
type Status struct {
	State       string `json:"state"`
	Items       int    `json:"items"`
	LexicalDocs int    `json:"lexical_docs"`
	Vectors     int    `json:"vectors"`
	Attempts    int    `json:"init_attempts"`
}

type itemMeta struct {
	createdAt time.Time
	source    SourceKind
}

// Store is the public surface of the memory subsystem. It owns the
// initialization coordinator, the durable item store, both in-memory
// indexes and the fusion engine. Construct one instance at startup and
// pass it by reference; there is no global accessor.
type Store struct {
	cfg    Config
	logger zerolog.Logger

	coord  *lazyinit.Coordinator
	writes *writequeue.Queue

	// Set during the initialization run, read only after EnsureReady.
	items      *ItemStore
	lexical    *LexicalIndex
	embeddings *EmbeddingIndex

	// mu guards the recency catalog and the query-time tunables, which can
	// be swapped while searches are running.
	mu          sync.RWMutex
	catalog     map[string]itemMeta
	fuser       *Fuser
	defaultTopK int
}

// New validates the configuration and constructs the store. The durable
// store is not opened and no index is rebuilt until the first call that
// needs them; construction is cheap and never blocks.
func New(cfg Config) (*Store, error) {
	observability.EnsureRegistered()

	if cfg.DBPath == "" {
		return nil, &ConfigError{Field: "db_path", Reason: "must not be empty"}
	}
	if cfg.EmbeddingDim <= 0 {
		return nil, &ConfigError{Field: "embedding_dim", Reason: "must be positive"}
	}
	if cfg.BM25K1 <= 0 {
		return nil, &ConfigError{Field: "bm25_k1", Reason: "must be positive"}
	}
	if cfg.BM25B < 0 || cfg.BM25B > 1 {
		return nil, &ConfigError{Field: "bm25_b", Reason: fmt.Sprintf("%v is outside [0, 1]", cfg.BM25B)}
	}
	if cfg.DefaultTopK <= 0 {
		return nil, &ConfigError{Field: "default_top_k", Reason: "must be positive"}
	}

	fuser, err := NewFuser(cfg.FusionAlpha)
	if err != nil {
		return nil, err
	}

	s := &Store{
		cfg:         cfg,
		logger:      cfg.Logger.With().Str("component", "memory-store").Logger(),
		fuser:       fuser,
		defaultTopK: cfg.DefaultTopK,
	}
	s.coord = lazyinit.New("memory-store", cfg.Logger)
	s.writes = writequeue.New(s.logger, 64)
	return s, nil
}

// ensureReady funnels every entry point through the coordinator. A failed
// run degrades callers to an InitializationError; the next call retries.
func (s *Store) ensureReady(ctx context.Context) error {
	err := s.coord.EnsureReady(ctx, s.initialize)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &InitializationError{Err: err}
}

// initialize opens the durable store and rebuilds both indexes from a full
// scan. It builds into fresh structures and installs them only on success,
// so a failed attempt leaves nothing half-ready for the retry.
func (s *Store) initialize(ctx context.Context) error {
	start := time.Now()

	items, err := OpenItemStore(s.cfg.DBPath, s.logger)
	if err != nil {
		observability.RecordInitAttempt(false)
		return err
	}

	lexical := NewLexicalIndex(s.cfg.BM25K1, s.cfg.BM25B)
	embeddings, err := NewEmbeddingIndex(s.cfg.EmbeddingDim)
	if err != nil {
		items.Close()
		observability.RecordInitAttempt(false)
		return err
	}
	catalog := make(map[string]itemMeta)

	count := 0
	err = items.ScanAll(ctx, func(item Item) error {
		lexical.Index(item)
		if len(item.Embedding) > 0 {
			if err := embeddings.Index(item.ID, item.Embedding); err != nil {
				return fmt.Errorf("rebuild vector for %s: %w", item.ID, err)
			}
		}
		catalog[item.ID] = itemMeta{createdAt: item.CreatedAt, source: item.Source}
		count++
		return nil
	})
	if err != nil {
		items.Close()
		observability.RecordInitAttempt(false)
		return err
	}

	s.items = items
	s.lexical = lexical
	s.embeddings = embeddings
	s.mu.Lock()
	s.catalog = catalog
	s.mu.Unlock()

	observability.RecordInitAttempt(true)
	observability.RecordRebuild(time.Since(start))
	observability.SetItemsTotal(count)

	s.logger.Info().
		Int("items", count).
		Int("vectors", embeddings.Len()).
		Dur("duration", time.Since(start)).
		Msg("Index rebuild completed")
	return nil
}

// Ingest durably appends one item and indexes it. The durable append always
// completes before in-memory indexing; a crash between the two is healed by
// the next startup rebuild. When Ingest returns, a search from the same
// caller observes the new item.
func (s *Store) Ingest(ctx context.Context, text string, source SourceKind, metadata map[string]string, embedding []float32) (string, error) {
	if err := s.ensureReady(ctx); err != nil {
		return "", err
	}

	if text == "" {
		return "", &QueryError{Reason: "text must not be empty"}
	}
	if !source.Valid() {
		return "", &QueryError{Reason: fmt.Sprintf("unknown source kind %q", source)}
	}
	if err := validateMetadata(metadata); err != nil {
		return "", err
	}
	if len(embedding) > 0 && len(embedding) != s.cfg.EmbeddingDim {
		return "", &ConfigError{
			Field:  "embedding",
			Reason: fmt.Sprintf("dimension %d does not match configured dimension %d", len(embedding), s.cfg.EmbeddingDim),
		}
	}

	ctx = tracing.WithQueryID(ctx, tracing.NewQueryID())
	ctx, span := tracing.StartSpan(ctx, "mnemo.memory", "memory.ingest",
		attribute.String("source", string(source)))
	defer span.End()

	item := Item{
		ID:        uuid.New().String(),
		Text:      text,
		Source:    source,
		CreatedAt: time.Now().UTC(),
		Embedding: embedding,
		Metadata:  metadata,
	}

	start := time.Now()
	err := s.writes.Do(ctx, "ingest", func(ctx context.Context) error {
		if err := s.items.Append(ctx, item); err != nil {
			return err
		}
		s.lexical.Index(item)
		if len(item.Embedding) > 0 {
			if err := s.embeddings.Index(item.ID, item.Embedding); err != nil {
				// The durable row is committed; the rebuild on next start
				// will retry this vector. Keep the ingest successful.
				s.logger.Warn().Err(err).Str("id", item.ID).Msg("Vector indexing failed")
			}
		}
		s.mu.Lock()
		s.catalog[item.ID] = itemMeta{createdAt: item.CreatedAt, source: item.Source}
		observability.SetItemsTotal(len(s.catalog))
		s.mu.Unlock()
		return nil
	})
	observability.RecordIngest(time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.RecordMutationAudit(ctx, "ingest", item.ID, "failure", nil)
		return "", err
	}
	observability.RecordMutationAudit(ctx, "ingest", item.ID, "success", map[string]interface{}{
		"source": string(source),
	})

	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Debug().
		Str("id", item.ID).
		Str("source", string(source)).
		Bool("has_embedding", len(embedding) > 0).
		Msg("Item ingested")
	return item.ID, nil
}

// HybridSearch runs the lexical and (when a query vector is supplied)
// semantic legs concurrently, fuses their rankings and returns up to topK
// results. An empty query with no vector yields an empty result. When one
// leg has no input, the result degrades to the other's pure ranking.
func (s *Store) HybridSearch(ctx context.Context, query string, queryEmbedding []float32, topK int) ([]QueryResult, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}

	fuser, defaultTopK := s.querySettings()
	if topK <= 0 {
		topK = defaultTopK
	}
	if len(queryEmbedding) > 0 && len(queryEmbedding) != s.cfg.EmbeddingDim {
		return nil, &ConfigError{
			Field:  "query_embedding",
			Reason: fmt.Sprintf("dimension %d does not match configured dimension %d", len(queryEmbedding), s.cfg.EmbeddingDim),
		}
	}

	ctx = tracing.WithQueryID(ctx, tracing.NewQueryID())
	ctx, span := tracing.StartSpan(ctx, "mnemo.memory", "memory.search",
		attribute.Int("top_k", topK))
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, s.logger)
	start := time.Now()
	defer func() { observability.RecordSearch(time.Since(start)) }()

	// Both legs scan deeper than topK so fusion sees enough candidates.
	legK := topK
	if legK < 200 {
		legK = 200
	}

	var (
		lexHits []Hit
		semHits []Hit
		semErr  error
		wg      sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		lexHits = s.lexical.Search(query, legK)
	}()
	go func() {
		defer wg.Done()
		if len(queryEmbedding) > 0 {
			semHits, semErr = s.embeddings.Search(queryEmbedding, legK)
		}
	}()
	wg.Wait()

	// A superseded caller only abandons the result; index state is intact.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if semErr != nil {
		span.RecordError(semErr)
		span.SetStatus(codes.Error, semErr.Error())
		return nil, semErr
	}

	s.annotateRecency(lexHits)
	s.annotateRecency(semHits)

	results := fuser.Fuse(lexHits, semHits, topK)
	hydrated := make([]QueryResult, 0, len(results))
	for _, r := range results {
		item, err := s.items.Get(ctx, r.ID)
		if err != nil {
			// Deleted between scoring and hydration; drop it.
			logger.Warn().Err(err).Str("id", r.ID).Msg("Result vanished during hydration")
			continue
		}
		r.Text = item.Text
		r.Source = item.Source
		hydrated = append(hydrated, r)
	}

	logger.Debug().
		Int("lexical", len(lexHits)).
		Int("semantic", len(semHits)).
		Int("results", len(hydrated)).
		Msg("Search completed")
	return hydrated, nil
}

// querySettings snapshots the query-time tunables so a concurrent Retune
// never changes a search mid-flight.
func (s *Store) querySettings() (*Fuser, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fuser, s.defaultTopK
}

// Retune replaces the fusion weight and default topK on a running store.
// Searches already in flight finish with the settings they started with.
// Index and storage settings shape persisted state and still need a
// restart.
func (s *Store) Retune(alpha float64, topK int) error {
	if topK <= 0 {
		return &ConfigError{Field: "default_top_k", Reason: "must be positive"}
	}
	fuser, err := NewFuser(alpha)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.fuser = fuser
	s.defaultTopK = topK
	s.mu.Unlock()

	s.logger.Info().
		Float64("fusion_alpha", alpha).
		Int("default_top_k", topK).
		Msg("Query settings retuned")
	return nil
}

// annotateRecency fills CreatedAt on hits from the in-memory catalog so
// fusion can break ties by recency without touching the durable store.
func (s *Store) annotateRecency(hits []Hit) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range hits {
		if meta, ok := s.catalog[hits[i].ID]; ok {
			hits[i].CreatedAt = meta.createdAt
		}
	}
}

// Get returns a single item by id, or ErrNotFound. Items with zero
// indexable terms are reachable only through this path.
func (s *Store) Get(ctx context.Context, id string) (*Item, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, &QueryError{Reason: "id must not be empty"}
	}
	return s.items.Get(ctx, id)
}

// Delete removes an item everywhere. In-memory indexes are cleared first
// and the durable row last: a crash mid-delete leaves the item recoverable
// by the next rebuild rather than silently orphaned.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.ensureReady(ctx); err != nil {
		return err
	}
	if id == "" {
		return &QueryError{Reason: "id must not be empty"}
	}

	start := time.Now()
	err := s.writes.Do(ctx, "delete", func(ctx context.Context) error {
		s.lexical.Remove(id)
		s.embeddings.Remove(id)
		s.mu.Lock()
		delete(s.catalog, id)
		observability.SetItemsTotal(len(s.catalog))
		s.mu.Unlock()
		return s.items.Delete(ctx, id)
	})
	observability.RecordDelete(time.Since(start))
	if err != nil {
		observability.RecordMutationAudit(ctx, "delete", id, "failure", nil)
		return err
	}
	observability.RecordMutationAudit(ctx, "delete", id, "success", nil)
	return nil
}

// PurgeExpired deletes every item older than the retention horizon and
// returns how many were removed.
func (s *Store) PurgeExpired(ctx context.Context, horizon time.Duration) (int, error) {
	if err := s.ensureReady(ctx); err != nil {
		return 0, err
	}
	if horizon <= 0 {
		return 0, &QueryError{Reason: "retention horizon must be positive"}
	}

	cutoff := time.Now().UTC().Add(-horizon)
	ids, err := s.items.IDsOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	for _, id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			return 0, err
		}
	}

	if len(ids) > 0 {
		observability.RecordPurged(len(ids))
		observability.RecordRetentionAudit(ctx, len(ids), "success")
		s.logger.Info().Int("purged", len(ids)).Time("cutoff", cutoff).Msg("Retention purge completed")
	}
	return len(ids), nil
}

// Count returns the number of durably stored items.
func (s *Store) Count(ctx context.Context) (int, error) {
	if err := s.ensureReady(ctx); err != nil {
		return 0, err
	}
	return s.items.Count(ctx)
}

// Status reports current state without forcing initialization.
func (s *Store) Status() Status {
	st := Status{
		State:    s.coord.State().String(),
		Attempts: s.coord.Attempts(),
	}
	if s.coord.State() == lazyinit.StateReady {
		st.LexicalDocs = s.lexical.Len()
		st.Vectors = s.embeddings.Len()
		s.mu.RLock()
		st.Items = len(s.catalog)
		s.mu.RUnlock()
	}
	return st
}

// Close stops the write queue and closes the durable store.
func (s *Store) Close() error {
	s.writes.Close()
	if s.coord.State() == lazyinit.StateReady && s.items != nil {
		return s.items.Close()
	}
	return nil
}
