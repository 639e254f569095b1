package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/recall-labs/mnemo/internal/config"
	"github.com/recall-labs/mnemo/internal/observability"
	"github.com/recall-labs/mnemo/internal/tracing"
	"github.com/recall-labs/mnemo/pkg/memory"
	"github.com/recall-labs/mnemo/pkg/retention"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the memory engine as a local HTTP service",
	Long: `Run a local HTTP service exposing ingest, search, get and delete,
plus /metrics and /health. Retention sweeps run on their configured
schedule while the service is up.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:7466", "listen address")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	store, cfg, lg, err := openStore()
	if err != nil {
		return err
	}
	defer lg.Close()
	defer store.Close()
	zl := lg.GetZerolog()

	if err := observability.InitAuditLogger(cfg.Logging.AuditFile); err != nil {
		return err
	}
	defer observability.GetAuditLogger().Close()

	if err := tracing.InitOpenTelemetry("mnemo"); err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tracing.ShutdownOpenTelemetry(ctx)
	}()

	if cfg.Retention.Enabled {
		sweeper, err := retention.New(store, cfg.Retention.Horizon(), cfg.Retention.Schedule, zl)
		if err != nil {
			return err
		}
		if err := sweeper.Start(); err != nil {
			return err
		}
		defer sweeper.Stop()
	}

	// Watch the config file so query-time settings (fusion weight, default
	// topK) follow edits without a restart. Index and storage settings
	// shape persisted state and still need one; the watcher says so
	// instead of applying them silently.
	configPath := config.NewLoader(cfgFile).GetConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		watcher, err := config.NewWatcher(configPath, zl, func() {
			reloadQuerySettings(store, cfg, zl)
		})
		if err != nil {
			return err
		}
		defer watcher.Stop()
	}

	mux := http.NewServeMux()
	h := &httpHandlers{store: store}
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/metrics", observability.MetricsHandler().ServeHTTP)
	mux.HandleFunc("/v1/items", h.handleItems)
	mux.HandleFunc("/v1/items/", h.handleItemByID)
	mux.HandleFunc("/v1/search", h.handleSearch)
	mux.HandleFunc("/v1/status", h.handleStatus)

	server := &http.Server{
		Addr:         serveAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("mnemo listening on %s\n", serveAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

// reloadQuerySettings re-reads the config file after a change and retunes
// the running store's query settings. A file that fails to load or
// validate keeps the previous settings.
func reloadQuerySettings(store *memory.Store, prev *config.Config, zl zerolog.Logger) {
	fresh, err := config.Load(cfgFile)
	if err != nil {
		zl.Error().Err(err).Msg("Config reload failed; keeping previous settings")
		return
	}
	if err := config.NewValidator().Validate(fresh); err != nil {
		zl.Error().Err(err).Msg("Config reload rejected; keeping previous settings")
		return
	}

	if err := store.Retune(fresh.Query.FusionAlpha, fresh.Query.DefaultTopK); err != nil {
		zl.Error().Err(err).Msg("Config reload rejected; keeping previous settings")
		return
	}

	if fresh.Storage != prev.Storage || fresh.Index != prev.Index {
		zl.Warn().Msg("Storage or index settings changed; restart to apply")
	}
}

type httpHandlers struct {
	store *memory.Store
}

type ingestRequest struct {
	Text      string            `json:"text"`
	Source    string            `json:"source"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Embedding []float32         `json:"embedding,omitempty"`
}

type searchRequest struct {
	Query     string    `json:"query"`
	Embedding []float32 `json:"embedding,omitempty"`
	TopK      int       `json:"top_k,omitempty"`
}

func (h *httpHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *httpHandlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Status())
}

func (h *httpHandlers) handleItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	ctx := tracing.NewRequestContext(r.Context())
	id, err := h.store.Ingest(ctx, req.Text, memory.SourceKind(req.Source), req.Metadata, req.Embedding)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *httpHandlers) handleItemByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/items/")
	if id == "" {
		http.Error(w, "missing item id", http.StatusBadRequest)
		return
	}

	ctx := tracing.NewRequestContext(r.Context())
	switch r.Method {
	case http.MethodGet:
		item, err := h.store.Get(ctx, id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, item)

	case http.MethodDelete:
		if err := h.store.Delete(ctx, id); err != nil {
			writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *httpHandlers) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	switch r.Method {
	case http.MethodPost:
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
	case http.MethodGet:
		req.Query = r.URL.Query().Get("q")
		if k := r.URL.Query().Get("top_k"); k != "" {
			topK, err := strconv.Atoi(k)
			if err != nil {
				http.Error(w, "invalid top_k", http.StatusBadRequest)
				return
			}
			req.TopK = topK
		}
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := tracing.NewRequestContext(r.Context())
	results, err := h.store.HybridSearch(ctx, req.Query, req.Embedding, req.TopK)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeStoreError(w http.ResponseWriter, err error) {
	var (
		qErr    *memory.QueryError
		cfgErr  *memory.ConfigError
		initErr *memory.InitializationError
	)
	switch {
	case errors.Is(err, memory.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &qErr), errors.As(err, &cfgErr):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &initErr):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
