package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/recall-labs/mnemo/internal/config"
	"github.com/recall-labs/mnemo/pkg/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandlers(t *testing.T) *httpHandlers {
	t.Helper()
	store, err := memory.New(memory.Config{
		DBPath:       filepath.Join(t.TempDir(), "memory.db"),
		EmbeddingDim: 3,
		BM25K1:       memory.DefaultBM25K1,
		BM25B:        memory.DefaultBM25B,
		FusionAlpha:  memory.DefaultFusionAlpha,
		DefaultTopK:  10,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return &httpHandlers{store: store}
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	h := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.handleHealth(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestHandleItemsIngestAndFetch(t *testing.T) {
	h := newTestHandlers(t)

	rec := postJSON(t, h.handleItems, "/v1/items", ingestRequest{
		Text:   "signed the apartment lease",
		Source: "decision",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id := created["id"]
	require.NotEmpty(t, id)

	getReq := httptest.NewRequest(http.MethodGet, "/v1/items/"+id, nil)
	getRec := httptest.NewRecorder()
	h.handleItemByID(getRec, getReq)

	require.Equal(t, http.StatusOK, getRec.Code)
	var item memory.Item
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &item))
	assert.Equal(t, "signed the apartment lease", item.Text)
}

func TestHandleItemsRejectsBadInput(t *testing.T) {
	h := newTestHandlers(t)

	t.Run("empty text", func(t *testing.T) {
		rec := postJSON(t, h.handleItems, "/v1/items", ingestRequest{Source: "journal"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown source", func(t *testing.T) {
		rec := postJSON(t, h.handleItems, "/v1/items", ingestRequest{Text: "x", Source: "dreams"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("wrong method", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/items", nil)
		rec := httptest.NewRecorder()
		h.handleItems(rec, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestHandleItemByIDNotFoundAndDelete(t *testing.T) {
	h := newTestHandlers(t)

	t.Run("missing item is 404", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/items/nope", nil)
		rec := httptest.NewRecorder()
		h.handleItemByID(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("delete then miss", func(t *testing.T) {
		created := postJSON(t, h.handleItems, "/v1/items", ingestRequest{
			Text: "temp note", Source: "todo",
		})
		require.Equal(t, http.StatusCreated, created.Code)
		var resp map[string]string
		require.NoError(t, json.Unmarshal(created.Body.Bytes(), &resp))
		id := resp["id"]

		delReq := httptest.NewRequest(http.MethodDelete, "/v1/items/"+id, nil)
		delRec := httptest.NewRecorder()
		h.handleItemByID(delRec, delReq)
		assert.Equal(t, http.StatusNoContent, delRec.Code)

		getReq := httptest.NewRequest(http.MethodGet, "/v1/items/"+id, nil)
		getRec := httptest.NewRecorder()
		h.handleItemByID(getRec, getReq)
		assert.Equal(t, http.StatusNotFound, getRec.Code)
	})
}

func TestHandleSearch(t *testing.T) {
	h := newTestHandlers(t)

	created := postJSON(t, h.handleItems, "/v1/items", ingestRequest{
		Text: "renewed passport at the consulate", Source: "activity",
	})
	require.Equal(t, http.StatusCreated, created.Code)

	t.Run("GET with query params", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/search?q=passport&top_k=5", nil)
		rec := httptest.NewRecorder()
		h.handleSearch(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Results []memory.QueryResult `json:"results"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Results, 1)
		assert.Equal(t, "renewed passport at the consulate", resp.Results[0].Text)
	})

	t.Run("POST with body", func(t *testing.T) {
		rec := postJSON(t, h.handleSearch, "/v1/search", searchRequest{Query: "consulate"})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "passport")
	})

	t.Run("bad top_k", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/search?q=x&top_k=lots", nil)
		rec := httptest.NewRecorder()
		h.handleSearch(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("wrong embedding dimension", func(t *testing.T) {
		rec := postJSON(t, h.handleSearch, "/v1/search", searchRequest{
			Query: "x", Embedding: []float32{1},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleStatus(t *testing.T) {
	h := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	rec := httptest.NewRecorder()
	h.handleStatus(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var st memory.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "not_started", st.State)
}

func TestReloadQuerySettings(t *testing.T) {
	h := newTestHandlers(t)
	ctx := context.Background()

	for _, text := range []string{
		"grocery list for the week",
		"grocery run after work",
		"grocery budget review",
	} {
		_, err := h.store.Ingest(ctx, text, memory.SourceTodo, nil, nil)
		require.NoError(t, err)
	}

	path := filepath.Join(t.TempDir(), "mnemo.json")
	prev := cfgFile
	cfgFile = path
	t.Cleanup(func() { cfgFile = prev })

	t.Run("valid edit retunes the running store", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path,
			[]byte(`{"query":{"fusion_alpha":0.25,"default_top_k":1}}`), 0644))

		reloadQuerySettings(h.store, config.DefaultConfig(), zerolog.Nop())

		results, err := h.store.HybridSearch(ctx, "grocery", nil, 0)
		require.NoError(t, err)
		assert.Len(t, results, 1, "new default topK applies without a restart")
	})

	t.Run("invalid edit keeps previous settings", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path,
			[]byte(`{"query":{"fusion_alpha":2.0,"default_top_k":5}}`), 0644))

		reloadQuerySettings(h.store, config.DefaultConfig(), zerolog.Nop())

		results, err := h.store.HybridSearch(ctx, "grocery", nil, 0)
		require.NoError(t, err)
		assert.Len(t, results, 1, "rejected reload leaves the last good topK")
	})

	t.Run("unreadable file keeps previous settings", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0644))

		reloadQuerySettings(h.store, config.DefaultConfig(), zerolog.Nop())

		results, err := h.store.HybridSearch(ctx, "grocery", nil, 0)
		require.NoError(t, err)
		assert.Len(t, results, 1)
	})
}
