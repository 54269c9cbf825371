package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aman-churiwal/chain-gateway/internal/clock"
	"github.com/aman-churiwal/chain-gateway/internal/middleware"
	"github.com/aman-churiwal/chain-gateway/internal/models"
	"github.com/aman-churiwal/chain-gateway/internal/proxy"
	"github.com/aman-churiwal/chain-gateway/internal/ratelimit"
	"github.com/aman-churiwal/chain-gateway/internal/repository"
	"github.com/aman-churiwal/chain-gateway/internal/service"
	"github.com/aman-churiwal/chain-gateway/internal/stats"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeLogs struct {
	filter   repository.LogFilter
	logs     []models.RequestLog
	rejected int64
}

func (f *fakeLogs) Find(_ context.Context, filter repository.LogFilter) ([]models.RequestLog, error) {
	f.filter = filter
	return f.logs, nil
}

func (f *fakeLogs) CountRejected(_ context.Context, _, _ time.Time) (int64, error) {
	return f.rejected, nil
}

func newBackends(t *testing.T) *proxy.Router {
	t.Helper()
	b, err := proxy.New(proxy.Config{
		Name:     "node",
		Prefixes: []string{"/v1/blockchain"},
		Targets:  []string{"http://127.0.0.1:1"},
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	r, err := proxy.NewRouter(b)
	require.NoError(t, err)
	return r
}

func get(router http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestAuthHandler_Login(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	h := NewAuthHandler(service.NewAdminAuthService(string(hash), "key", 1, nil))

	router := gin.New()
	router.POST("/admin/login", h.Login)

	post := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := post(`{"password":"s3cret"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)

	assert.Equal(t, http.StatusUnauthorized, post(`{"password":"wrong"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(`{}`).Code)
}

func TestAdminHandler_Status(t *testing.T) {
	registry, err := ratelimit.NewRegistry(10, ratelimit.DefaultWindow, nil)
	require.NoError(t, err)
	registry.GetOrCreate("BASICGET/v1/block", 60)

	clk := clock.NewManual(now)
	h := NewAdminHandler(AdminDeps{
		Registry: registry,
		Limits:   middleware.Limits{Default: 60, Privileged: 600},
		Backends: newBackends(t),
		Recorder: stats.NewMemory(),
		Clock:    clk,
	})
	clk.Advance(90 * time.Second)

	router := gin.New()
	router.GET("/admin/status", h.Status)

	rec := get(router, "/admin/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 90.0, body["uptime"])
	assert.Equal(t, map[string]any{"basic": 60.0, "pro": 600.0}, body["limits"])
	assert.Equal(t, map[string]any{"window_seconds": 60.0, "active_keys": 1.0, "evictions": 0.0}, body["rate_limiter"])
	assert.Equal(t, "healthy", body["health"])
	assert.Equal(t, false, body["persistent_logs"])
	assert.Len(t, body["backends"], 1)
}

func TestAdminHandler_Stats(t *testing.T) {
	recorder := stats.NewMemory()
	ctx := context.Background()
	require.NoError(t, recorder.Record(ctx, stats.Event{Tier: models.TierDefault, RouteKey: "BASICGET/v1/block", Allowed: true, At: now.Add(-time.Minute)}))
	require.NoError(t, recorder.Record(ctx, stats.Event{Tier: models.TierDefault, RouteKey: "BASICGET/v1/block", Allowed: false, At: now.Add(-time.Minute)}))

	h := NewAdminHandler(AdminDeps{
		Recorder: recorder,
		Logs:     &fakeLogs{rejected: 7},
		Clock:    clock.NewManual(now),
	})
	router := gin.New()
	router.GET("/admin/stats", h.Stats)

	rec := get(router, "/admin/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Summary          stats.Summary `json:"summary"`
		LoggedRejections int64         `json:"logged_rejections"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(1), body.Summary.Allowed["basic"])
	assert.Equal(t, int64(1), body.Summary.Rejected["basic"])
	assert.Equal(t, int64(1), body.Summary.RejectedRoutes["BASICGET/v1/block"])
	assert.Equal(t, int64(7), body.LoggedRejections)

	assert.Equal(t, http.StatusBadRequest, get(router, "/admin/stats?from=yesterday").Code)
	assert.Equal(t, http.StatusBadRequest, get(router, "/admin/stats?from=2000&to=1000").Code)
}

func TestAdminHandler_Logs(t *testing.T) {
	logs := &fakeLogs{logs: []models.RequestLog{{Method: http.MethodGet, Path: "/v1/block", StatusCode: 429, Tier: "basic"}}}
	h := NewAdminHandler(AdminDeps{Logs: logs, Clock: clock.NewManual(now)})

	router := gin.New()
	router.GET("/admin/logs", h.Logs)

	rec := get(router, "/admin/logs?tier=basic&status=429&limit=5000&offset=10&from=2024-05-01T11:00:00Z")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "basic", logs.filter.Tier)
	assert.Equal(t, 429, logs.filter.StatusCode)
	assert.Equal(t, 100, logs.filter.Limit, "out of range limit falls back to the default")
	assert.Equal(t, 10, logs.filter.Offset)
	assert.Equal(t, now.Add(-time.Hour), logs.filter.From.UTC())
	assert.Equal(t, now, logs.filter.To)

	var body struct {
		Logs []models.RequestLog `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Logs, 1)
}

func TestAdminHandler_LogsDisabled(t *testing.T) {
	h := NewAdminHandler(AdminDeps{})
	router := gin.New()
	router.GET("/admin/logs", h.Logs)

	assert.Equal(t, http.StatusNotFound, get(router, "/admin/logs").Code)
}

func TestSystemHandler(t *testing.T) {
	h := NewSystemHandler(newBackends(t))
	router := gin.New()
	router.GET("/admin/backends", h.Backends)
	router.POST("/admin/backends/reset/*service", h.ResetCircuitBreaker)

	rec := get(router, "/admin/backends")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"node"`)
	assert.Contains(t, rec.Body.String(), `"state":"closed"`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/backends/reset/node", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Circuit breaker reset successfully","service":"node"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/backends/reset/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
