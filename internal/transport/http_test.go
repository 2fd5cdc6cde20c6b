package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notion_mirror/internal/domain"
)

type stubSyncer struct {
	result    *domain.SyncResult
	err       error
	forceFull bool
	calls     int
}

func (s *stubSyncer) Sync(_ context.Context, forceFull bool) (*domain.SyncResult, error) {
	s.calls++
	s.forceFull = forceFull
	return s.result, s.err
}

type stubQuerier struct {
	records []domain.Record
	meta    *domain.SyncMeta
	err     error
	opts    domain.ListOptions
}

func (q *stubQuerier) ListRecords(_ context.Context, opts domain.ListOptions) ([]domain.Record, error) {
	q.opts = opts
	return q.records, q.err
}

func (q *stubQuerier) SyncStatus(_ context.Context) (*domain.SyncMeta, error) {
	return q.meta, q.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestTriggerSync_DefaultsToIncremental(t *testing.T) {
	syncer := &stubSyncer{result: &domain.SyncResult{Mode: domain.ModeIncremental, Fetched: 2}}
	router := NewRouter(syncer, &stubQuerier{}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/sync", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, syncer.calls)
	assert.False(t, syncer.forceFull)

	var result domain.SyncResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 2, result.Fetched)
}

func TestTriggerSync_ForceFullFlag(t *testing.T) {
	syncer := &stubSyncer{result: &domain.SyncResult{Mode: domain.ModeFull}}
	router := NewRouter(syncer, &stubQuerier{}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/sync", strings.NewReader(`{"forceFullSync": true}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, syncer.forceFull)
}

func TestTriggerSync_RetryingReturnsAccepted(t *testing.T) {
	syncer := &stubSyncer{result: &domain.SyncResult{Retrying: true, NextAttempt: 1}}
	router := NewRouter(syncer, &stubQuerier{}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/sync", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestTriggerSync_InFlightReturnsAccepted(t *testing.T) {
	syncer := &stubSyncer{result: &domain.SyncResult{InFlight: true}}
	router := NewRouter(syncer, &stubQuerier{}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/sync", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestTriggerSync_BadBody(t *testing.T) {
	syncer := &stubSyncer{}
	router := NewRouter(syncer, &stubQuerier{}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/sync", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, syncer.calls)
}

func TestListRecords_ParsesQueryParams(t *testing.T) {
	querier := &stubQuerier{records: []domain.Record{{NotionID: "p1"}}}
	router := NewRouter(&stubSyncer{}, querier, testLogger())

	req := httptest.NewRequest(http.MethodGet,
		"/records?status=Done&phase=Foundation&priority=P0&week=3&sortBy=week&sortDirection=asc&limit=10", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	opts := querier.opts
	require.NotNil(t, opts.Filter.Status)
	assert.Equal(t, "Done", *opts.Filter.Status)
	require.NotNil(t, opts.Filter.Phase)
	assert.Equal(t, "Foundation", *opts.Filter.Phase)
	require.NotNil(t, opts.Filter.Priority)
	assert.Equal(t, "P0", *opts.Filter.Priority)
	require.NotNil(t, opts.Filter.Week)
	assert.Equal(t, 3.0, *opts.Filter.Week)
	assert.Equal(t, "week", opts.SortBy)
	assert.Equal(t, domain.SortAsc, opts.SortDirection)
	assert.Equal(t, 10, opts.Limit)

	var records []domain.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "p1", records[0].NotionID)
}

func TestListRecords_InvalidWeekParam(t *testing.T) {
	router := NewRouter(&stubSyncer{}, &stubQuerier{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/records?week=three", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncStatus_NeverSyncedHasNullLastSyncTime(t *testing.T) {
	querier := &stubQuerier{meta: &domain.SyncMeta{
		DatabaseID: "db-1",
		Status:     domain.StatusNeverSynced,
	}}
	router := NewRouter(&stubSyncer{}, querier, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/sync/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.JSONEq(t, `"never_synced"`, string(body["status"]))
	assert.JSONEq(t, "null", string(body["lastSyncTime"]))
}

func TestSyncStatus_ReportsEpochMillis(t *testing.T) {
	syncTime := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	msg := "boom"
	querier := &stubQuerier{meta: &domain.SyncMeta{
		DatabaseID:   "db-1",
		Status:       domain.StatusError,
		LastSyncTime: syncTime,
		RecordCount:  5,
		ErrorMessage: &msg,
		TotalSynced:  50,
	}}
	router := NewRouter(&stubSyncer{}, querier, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/sync/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp syncStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.StatusError, resp.Status)
	require.NotNil(t, resp.LastSyncTime)
	assert.Equal(t, syncTime.UnixMilli(), *resp.LastSyncTime)
	assert.Equal(t, 5, resp.RecordCount)
	require.NotNil(t, resp.ErrorMessage)
	assert.Equal(t, "boom", *resp.ErrorMessage)
	assert.Equal(t, int64(50), resp.TotalSynced)
}

func TestHealth(t *testing.T) {
	router := NewRouter(&stubSyncer{}, &stubQuerier{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
