package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"notion_mirror/internal/domain"
)

// Syncer triggers sync runs.
type Syncer interface {
	Sync(ctx context.Context, forceFull bool) (*domain.SyncResult, error)
}

// Querier serves read-only views over mirrored records.
type Querier interface {
	ListRecords(ctx context.Context, opts domain.ListOptions) ([]domain.Record, error)
	SyncStatus(ctx context.Context) (*domain.SyncMeta, error)
}

// Server wires HTTP handlers for the sync trigger and query surface.
type Server struct {
	syncer  Syncer
	querier Querier
	logger  *slog.Logger
}

// NewRouter builds the HTTP router.
func NewRouter(syncer Syncer, querier Querier, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	srv := &Server{syncer: syncer, querier: querier, logger: logger}

	r.Post("/sync", srv.handleTriggerSync)
	r.Get("/records", srv.handleListRecords)
	r.Get("/sync/status", srv.handleSyncStatus)
	r.Get("/health", srv.handleHealth)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type triggerSyncRequest struct {
	ForceFullSync bool `json:"forceFullSync"`
}

func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	var req triggerSyncRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	result, err := s.syncer.Sync(r.Context(), req.ForceFullSync)
	if err != nil {
		s.logger.Error("sync trigger failed", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	status := http.StatusOK
	if result.Retrying || result.InFlight {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := s.querier.ListRecords(r.Context(), opts)
	if err != nil {
		s.logger.Error("list records failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list records")
		return
	}

	writeJSON(w, http.StatusOK, records)
}

// syncStatusResponse is the wire shape for sync status; timestamps are epoch
// milliseconds and lastSyncTime is null when the database was never synced.
type syncStatusResponse struct {
	Status       domain.SyncStatus `json:"status"`
	LastSyncTime *int64            `json:"lastSyncTime"`
	RecordCount  int               `json:"recordCount"`
	ErrorMessage *string           `json:"errorMessage,omitempty"`
	TotalSynced  int64             `json:"totalSynced"`
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	meta, err := s.querier.SyncStatus(r.Context())
	if err != nil {
		s.logger.Error("sync status failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read sync status")
		return
	}

	resp := syncStatusResponse{
		Status:       meta.Status,
		RecordCount:  meta.RecordCount,
		ErrorMessage: meta.ErrorMessage,
		TotalSynced:  meta.TotalSynced,
	}
	if !meta.LastSyncTime.IsZero() {
		ms := meta.LastSyncTime.UnixMilli()
		resp.LastSyncTime = &ms
	}

	writeJSON(w, http.StatusOK, resp)
}

func parseListOptions(r *http.Request) (domain.ListOptions, error) {
	q := r.URL.Query()
	opts := domain.ListOptions{
		SortBy:        q.Get("sortBy"),
		SortDirection: domain.SortDirection(q.Get("sortDirection")),
	}

	if v := q.Get("status"); v != "" {
		opts.Filter.Status = &v
	}
	if v := q.Get("phase"); v != "" {
		opts.Filter.Phase = &v
	}
	if v := q.Get("priority"); v != "" {
		opts.Filter.Priority = &v
	}
	if v := q.Get("week"); v != "" {
		week, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return opts, err
		}
		opts.Filter.Week = &week
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return opts, err
		}
		opts.Limit = limit
	}

	return opts, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
