package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/facegate/pkg/attendance"
	"github.com/pario-ai/facegate/pkg/cache"
	"github.com/pario-ai/facegate/pkg/comparator"
	"github.com/pario-ai/facegate/pkg/matcher"
	"github.com/pario-ai/facegate/pkg/metrics"
	"github.com/pario-ai/facegate/pkg/models"
	"github.com/pario-ai/facegate/pkg/monitor"
	"github.com/pario-ai/facegate/pkg/status"
	"github.com/pario-ai/facegate/pkg/tracker"
)

type refFetcher struct{}

func (refFetcher) Fetch(_ context.Context, ref string) ([]byte, error) {
	return []byte(ref), nil
}

type testEnv struct {
	server  *Server
	monitor *monitor.Monitor
	history *tracker.SQLiteTracker
}

func setupServer(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	history, err := tracker.New(filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { history.Close() })

	store, err := attendance.NewStore(filepath.Join(dir, "attendance.db"), 30)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	payloads, err := cache.New(ctx, cache.NewMemoryStore(), refFetcher{}, cache.WithMetrics(m))
	require.NoError(t, err)

	bob := base64.StdEncoding.EncodeToString([]byte("bob.jpg"))
	cmp := comparator.NewGateway(comparator.Func(func(_ context.Context, _, ref string) (float64, error) {
		if ref == bob {
			return 0.93, nil
		}
		return 0.2, nil
	}), zerolog.Nop(), m)

	mon := monitor.New(monitor.Options{Metrics: m, Sink: history})
	gallery := []models.GalleryEntry{
		{ID: "alice", SourceRef: "alice.jpg"},
		{ID: "bob", SourceRef: "bob.jpg"},
	}
	mt := matcher.New(payloads, cmp, mon, matcher.Options{Gallery: gallery, MaxParallel: 1})
	<-mt.Start(ctx)

	srv := New(":0", Deps{
		Matcher:    mt,
		Status:     status.New(payloads, mt, mon, zerolog.Nop()),
		History:    history,
		Attendance: attendance.NewService(store, nil, zerolog.Nop()),
		Gatherer:   reg,
		Logger:     zerolog.Nop(),
	})
	return &testEnv{server: srv, monitor: mon, history: history}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.server.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	env := setupServer(t)
	w := env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["ready"])
}

func TestSearchDefaultGallery(t *testing.T) {
	env := setupServer(t)

	w := env.do(t, http.MethodPost, "/v1/search", searchRequest{Sample: "probe", MarkAttendance: true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp searchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Matched)
	assert.Equal(t, "bob", resp.BestID)
	assert.InDelta(t, 0.93, resp.BestScore, 1e-9)
	assert.Equal(t, models.StateMatched, resp.State)
	assert.Equal(t, []progressEvent{{Processed: 2, Total: 2}}, resp.Progress)
	require.NotNil(t, resp.Attendance)
	assert.Equal(t, "bob", resp.Attendance.UserID)

	env.monitor.Flush()
	runs, err := env.history.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "bob", runs[0].BestID)
}

func TestSearchExplicitGalleryNoMatch(t *testing.T) {
	env := setupServer(t)

	req := searchRequest{
		Sample:  "probe",
		Gallery: []models.GalleryEntry{{ID: "carol", SourceRef: "carol.jpg"}},
	}
	w := env.do(t, http.MethodPost, "/v1/search", req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp searchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Matched)
	assert.Equal(t, "carol", resp.BestID)
	assert.Equal(t, models.StateNoMatch, resp.State)
	assert.Nil(t, resp.Attendance)
}

func TestSearchRejectsBadRequests(t *testing.T) {
	env := setupServer(t)

	tests := []struct {
		name string
		body any
	}{
		{"missing sample", searchRequest{}},
		{"duplicate gallery ids", searchRequest{Sample: "x", Gallery: []models.GalleryEntry{
			{ID: "a", SourceRef: "1"}, {ID: "a", SourceRef: "2"},
		}}},
		{"not json", "not an object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/v1/search", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), `"type":"facegate_error"`)
		})
	}
}

func TestCacheEndpoints(t *testing.T) {
	env := setupServer(t)

	w := env.do(t, http.MethodGet, "/v1/cache", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var info models.CacheInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, 2, info.Cache.PersistentCount)
	assert.Equal(t, 2, info.Coverage.CachedEntries)

	w = env.do(t, http.MethodPost, "/v1/cache/preload", preloadRequest{Sources: []string{"dave.jpg", "erin.jpg"}})
	require.Equal(t, http.StatusOK, w.Code)
	var result models.PreloadResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, models.PreloadResult{Successful: 2}, result)

	w = env.do(t, http.MethodDelete, "/v1/cache", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/v1/cache", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	// The gallery preload restarts after a clear, so only non-gallery refs are gone for sure.
	assert.LessOrEqual(t, info.Cache.PersistentCount, 2)
}

func TestPreloadDefaultsToGallery(t *testing.T) {
	env := setupServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/cache/preload", nil)
	w := httptest.NewRecorder()
	env.server.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var result models.PreloadResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, models.PreloadResult{Successful: 2}, result)
}

func TestPerformanceAndHistory(t *testing.T) {
	env := setupServer(t)
	env.do(t, http.MethodPost, "/v1/search", searchRequest{Sample: "probe"})
	env.monitor.Flush()

	w := env.do(t, http.MethodGet, "/v1/performance", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats models.PerformanceStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.TotalRuns)
	assert.InDelta(t, 1.0, stats.SuccessRate, 1e-9)

	w = env.do(t, http.MethodGet, "/v1/history?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var runs []models.RunRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	assert.Len(t, runs, 1)

	w = env.do(t, http.MethodGet, "/v1/history/summary", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var summary []models.RunSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	require.Len(t, summary, 1)
	assert.Equal(t, models.StateMatched, summary[0].State)

	w = env.do(t, http.MethodGet, "/v1/history?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAttendanceEndpoints(t *testing.T) {
	env := setupServer(t)

	w := env.do(t, http.MethodPost, "/v1/attendance", markRequest{UserID: "alice", Similarity: 0.91})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var rec models.AttendanceRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, "alice", rec.UserID)
	assert.NotEmpty(t, rec.ID)

	w = env.do(t, http.MethodPost, "/v1/attendance", markRequest{UserID: "", Similarity: 0.5})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/v1/attendance?user_id=alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var records []models.AttendanceRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, rec.ID, records[0].ID)

	since := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	w = env.do(t, http.MethodGet, "/v1/attendance?since="+since, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &records))
	assert.Empty(t, records)

	w = env.do(t, http.MethodGet, "/v1/attendance?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOptionalServicesUnavailable(t *testing.T) {
	srv := New(":0", Deps{Logger: zerolog.Nop()})

	for _, path := range []string{"/v1/history", "/v1/history/summary", "/v1/attendance"} {
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
	}

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupServer(t)
	env.do(t, http.MethodPost, "/v1/search", searchRequest{Sample: "probe"})

	w := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.True(t, strings.Contains(body, "facegate_search_outcomes_total"), "missing search outcome counter")
	assert.Contains(t, body, `facegate_comparisons_total{result="ok"}`)
}

func TestListenAndServeShutdown(t *testing.T) {
	srv := New("127.0.0.1:0", Deps{Logger: zerolog.Nop()})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("server did not shut down")
	}
}
