package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/lesson-insights/internal/application/command"
	"github.com/alem-hub/lesson-insights/internal/application/query"
	"github.com/alem-hub/lesson-insights/internal/domain/analytics"
	"github.com/alem-hub/lesson-insights/internal/domain/intervention"
	"github.com/alem-hub/lesson-insights/internal/domain/shared"
	"github.com/alem-hub/lesson-insights/internal/infrastructure/metrics"
	"github.com/alem-hub/lesson-insights/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/lesson-insights/internal/interface/http/handlers"
	"github.com/alem-hub/lesson-insights/pkg/timeutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var clock = query.Clock(func() time.Time { return time.Date(2024, time.January, 31, 12, 0, 0, 0, time.UTC) })

type testServer struct {
	*Server
	store *memory.Store
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()
	store := memory.New()
	health := handlers.NewHealthChecker("test")
	srv := NewServer(cfg, Dependencies{
		Activity:      query.NewActivityHandler(store, clock),
		Habit:         query.NewHabitHandler(store, store, nil, intervention.NewEngine(store), clock, nil),
		Admin:         query.NewAdminHandler(store, store, store, nil, query.AdminConfig{}, clock),
		IngestEvents:  command.NewIngestEventsHandler(store, nil, nil),
		UpsertMetrics: command.NewUpsertMetricsHandler(store, nil, nil),
		Health:        health,
		Metrics:       metrics.New(prometheus.NewRegistry()),
	})
	return &testServer{Server: srv, store: store}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RateLimitPerMinute = 0
	return cfg
}

func (s *testServer) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestIngestThenHeatmap(t *testing.T) {
	s := newTestServer(t, testConfig())

	w := s.do(http.MethodPost, "/api/v1/events", `{"events":[
		{"userId":"u1","eventType":"lesson_viewed","eventDate":"2024-01-31","referenceId":"loops"},
		{"userId":"u1","eventType":"quiz_started","eventDate":"2024-01-30"}
	]}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	ingest := decode[command.IngestEventsResult](t, w)
	assert.Equal(t, 2, ingest.Accepted)
	assert.Equal(t, []string{"u1"}, ingest.Users)

	w = s.do(http.MethodGet, "/api/v1/users/u1/heatmap?days=7", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	hm := decode[query.HeatmapResult](t, w)
	assert.Len(t, hm.Days, 7)
	assert.Equal(t, 2, hm.Total)
	assert.Equal(t, timeutil.NewDate(2024, time.January, 31), hm.Range.End)
	assert.NotEmpty(t, w.Header().Get(handlers.HeaderRequestID))
}

func TestIngest_RejectsMalformedEvents(t *testing.T) {
	s := newTestServer(t, testConfig())

	w := s.do(http.MethodPost, "/api/v1/events", `{"events":[{"userId":"","eventType":"lesson_viewed","eventDate":"2024-01-31"}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", decode[handlers.ErrorBody](t, w).Error)

	w = s.do(http.MethodPost, "/api/v1/events", `{"events":[{"userId":"u1","eventType":"lesson_viewed","eventDate":"31/01/2024"}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_body", decode[handlers.ErrorBody](t, w).Error)

	ev, err := s.store.EventsInRange(context.Background(), timeutil.RangeForDays(365, timeutil.NewDate(2024, time.January, 31)))
	require.NoError(t, err)
	assert.Empty(t, ev)
}

func TestBadQueryParameters(t *testing.T) {
	s := newTestServer(t, testConfig())

	tests := []struct {
		path string
		code int
	}{
		{"/api/v1/users/u1/heatmap?days=abc", http.StatusBadRequest},
		{"/api/v1/users/u1/heatmap?days=1000", http.StatusBadRequest},
		{"/api/v1/users/u1/trend?mode=hourly", http.StatusBadRequest},
		{"/api/v1/users/u1/habit?state=panic", http.StatusBadRequest},
		{"/api/v1/admin/summary?period=1y", http.StatusBadRequest},
		{"/api/v1/admin/leaderboards?limit=-1", http.StatusBadRequest},
		{"/api/v1/admin/lessons/priorities?actionable=maybe", http.StatusBadRequest},
		{"/api/v1/users/u1/trend?mode=weekly", http.StatusOK},
		{"/api/v1/admin/lessons/rankings", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := s.do(http.MethodGet, tt.path, "")
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}
}

func TestHabitEndpoints(t *testing.T) {
	s := newTestServer(t, testConfig())
	require.NoError(t, s.store.Append(context.Background(), []analytics.LearningEvent{
		{UserID: "u1", EventType: analytics.EventLessonViewed, EventDate: timeutil.NewDate(2024, time.January, 30)},
	}))
	require.NoError(t, s.store.Upsert(context.Background(), []analytics.UserLearningMetric{{UserID: "u1", Streak: 4}}))

	w := s.do(http.MethodGet, "/api/v1/users/u1/streak", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ACTIVE_YESTERDAY", decode[map[string]any](t, w)["reasonCode"])

	w = s.do(http.MethodGet, "/api/v1/users/u1/weekly-goal", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "NO_GOAL", decode[map[string]any](t, w)["reasonCode"])

	w = s.do(http.MethodGet, "/api/v1/users/u1/intervention?state=danger", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "STREAK_RESCUE", body["type"])
	assert.NotEmpty(t, body["cta"])

	// warning without weekly or streak risk resolves nothing
	w = s.do(http.MethodGet, "/api/v1/users/nobody/intervention?state=warning", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestAdminRoutesRequireAPIKey(t *testing.T) {
	cfg := testConfig()
	cfg.APIKeys = []string{"secret"}
	s := newTestServer(t, cfg)

	w := s.do(http.MethodGet, "/api/v1/admin/summary", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodGet, "/api/v1/admin/summary", "", "X-API-Key", "wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodGet, "/api/v1/admin/summary?period=30d", "", "X-API-Key", "secret")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "30d", decode[map[string]any](t, w)["period"])

	// learner reads stay open
	w = s.do(http.MethodGet, "/api/v1/users/u1/trend", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthReflectsChecks(t *testing.T) {
	s := newTestServer(t, testConfig())

	w := s.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	s.deps.Health.AddCheck("postgres", func(context.Context) error { return errors.New("connection refused") })
	w = s.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	status := decode[handlers.HealthStatus](t, w)
	assert.False(t, status.Healthy)
	assert.Equal(t, "connection refused", status.Checks["postgres"].Message)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig())
	s.do(http.MethodGet, "/live", "")

	w := s.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `http_requests_total{endpoint="/live",method="GET",status="200"} 1`)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitPerMinute = 1
	cfg.RateLimitBurst = 2
	s := newTestServer(t, cfg)

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/live", "").Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/live", "").Code)
	w := s.do(http.MethodGet, "/live", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{shared.ErrEmptyUserID, http.StatusBadRequest},
		{shared.ErrImprovementNotFound, http.StatusNotFound},
		{shared.ErrImprovementExists, http.StatusConflict},
		{shared.ErrTrackerRateLimited, http.StatusTooManyRequests},
		{shared.ErrTrackerUnavailable, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		code, _ := statusFor(tt.err)
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}
