package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aman-churiwal/chain-gateway/internal/access"
	"github.com/aman-churiwal/chain-gateway/internal/clock"
	"github.com/aman-churiwal/chain-gateway/internal/models"
	"github.com/aman-churiwal/chain-gateway/internal/ratelimit"
	"github.com/aman-churiwal/chain-gateway/internal/stats"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type recordingStats struct {
	mu     sync.Mutex
	events []stats.Event
}

func (r *recordingStats) Record(_ context.Context, ev stats.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingStats) Summary(_ context.Context, from, to time.Time) (stats.Summary, error) {
	return stats.Summary{From: from, To: to}, nil
}

type testGateway struct {
	router   *gin.Engine
	registry *ratelimit.Registry
	clock    *clock.Manual
	stats    *recordingStats
	hits     int
}

func newTestGateway(t *testing.T, defaultLimit int) *testGateway {
	t.Helper()

	registry, err := ratelimit.NewRegistry(1000, ratelimit.DefaultWindow, nil)
	require.NoError(t, err)

	gw := &testGateway{
		router:   gin.New(),
		registry: registry,
		clock:    clock.NewManual(time.Unix(1_700_000_000, 0)),
		stats:    &recordingStats{},
	}

	verifier := access.NewVerifier("BITBOX", access.ParseAllowList("ALPHA:BETA"))
	limits := Limits{Default: defaultLimit, Privileged: defaultLimit * 10}

	gw.router.Use(TierClassifier(verifier))
	gw.router.Use(AdmissionControl(registry, limits, gw.clock, gw.stats))
	gw.router.Any("/v1/*path", func(c *gin.Context) {
		gw.hits++
		c.JSON(http.StatusOK, gin.H{"tier": access.TierFromContext(c.Request.Context()).String()})
	})

	return gw
}

func (gw *testGateway) do(method, path string, creds ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if len(creds) == 2 {
		req.SetBasicAuth(creds[0], creds[1])
	}
	rec := httptest.NewRecorder()
	gw.router.ServeHTTP(rec, req)
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestAdmission_SixtyAllowedThenRejectedThenReset(t *testing.T) {
	gw := newTestGateway(t, 60)

	for i := 0; i < 60; i++ {
		rec := gw.do(http.MethodGet, "/v1/block/detailsByHeight/500000")
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}

	rec := gw.do(http.MethodGet, "/v1/block/detailsByHeight/500000")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "Too many requests. Limits are 60 requests per minute.", errorBody(t, rec))
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, 60, gw.hits, "rejected requests must not reach the handler")

	gw.clock.Advance(60001 * time.Millisecond)
	rec = gw.do(http.MethodGet, "/v1/block/detailsByHeight/500000")
	assert.Equal(t, http.StatusOK, rec.Code)

	key := ratelimit.DeriveKey(models.TierDefault, http.MethodGet, "/v1/block/detailsByHeight/500000")
	assert.Equal(t, 1, gw.registry.GetOrCreate(key, 60).Count())
}

func TestAdmission_TierScenarios(t *testing.T) {
	tests := []struct {
		name      string
		creds     []string
		wantTier  string
		wantLimit string
	}{
		{"valid privileged secret", []string{"BITBOX", "BETA"}, "pro", "600"},
		{"wrong secret", []string{"BITBOX", "WRONG"}, "basic", "60"},
		{"wrong identifier", []string{"someone", "BETA"}, "basic", "60"},
		{"no credential", nil, "basic", "60"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newTestGateway(t, 60)

			rec := gw.do(http.MethodGet, "/v1/address/details/X", tt.creds...)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.wantLimit, rec.Header().Get("X-RateLimit-Limit"))
			assert.Equal(t, tt.wantTier, rec.Header().Get("X-RateLimit-Tier"))
			assert.Contains(t, rec.Body.String(), tt.wantTier)
		})
	}
}

func TestAdmission_PrivilegedRejectionQuotesPrivilegedLimit(t *testing.T) {
	gw := newTestGateway(t, 1)

	require.Equal(t, http.StatusOK, gw.do(http.MethodGet, "/v1/slp/list", "BITBOX", "ALPHA").Code)
	for i := 0; i < 9; i++ {
		require.Equal(t, http.StatusOK, gw.do(http.MethodGet, "/v1/slp/list", "BITBOX", "ALPHA").Code)
	}

	rec := gw.do(http.MethodGet, "/v1/slp/list", "BITBOX", "ALPHA")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "Too many requests. Limits are 10 requests per minute.", errorBody(t, rec))

	// The default tier has its own counter for the same route.
	assert.Equal(t, http.StatusOK, gw.do(http.MethodGet, "/v1/slp/list").Code)
}

func TestAdmission_SiblingPathsShareOneCounter(t *testing.T) {
	gw := newTestGateway(t, 2)

	assert.Equal(t, http.StatusOK, gw.do(http.MethodGet, "/v1/address/details/X").Code)
	assert.Equal(t, http.StatusOK, gw.do(http.MethodGet, "/v1/address/details/Y").Code)
	assert.Equal(t, http.StatusTooManyRequests, gw.do(http.MethodGet, "/v1/address/details/Z").Code)

	assert.Equal(t, http.StatusOK, gw.do(http.MethodGet, "/v1/address/utxo/X").Code)
	assert.Equal(t, http.StatusOK, gw.do(http.MethodPost, "/v1/address/details/X").Code)
	assert.Equal(t, 3, gw.registry.Len())
}

func TestAdmission_SeparateRoutesDoNotShare(t *testing.T) {
	gw := newTestGateway(t, 1)

	assert.Equal(t, http.StatusOK, gw.do(http.MethodGet, "/v1/address/").Code)
	assert.Equal(t, http.StatusOK, gw.do(http.MethodGet, "/v1/block/").Code)
	assert.Equal(t, http.StatusTooManyRequests, gw.do(http.MethodGet, "/v1/address/").Code)
}

func TestAdmission_ZeroLimitNeverCreatesCounters(t *testing.T) {
	gw := newTestGateway(t, 0)

	for i := 0; i < 500; i++ {
		rec := gw.do(http.MethodGet, "/v1/blockchain/getBlockCount")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	}

	assert.Equal(t, 0, gw.registry.Len())
	assert.Empty(t, gw.stats.events)
	assert.Equal(t, 500, gw.hits)
}

func TestAdmission_RecordsEveryDecision(t *testing.T) {
	gw := newTestGateway(t, 1)

	gw.do(http.MethodGet, "/v1/network/getNetworkInfo")
	gw.do(http.MethodGet, "/v1/network/getNetworkInfo")

	require.Len(t, gw.stats.events, 2)
	assert.True(t, gw.stats.events[0].Allowed)
	assert.False(t, gw.stats.events[1].Allowed)
	assert.Equal(t, "BASICGET/v1/network/getNetworkInfo", gw.stats.events[1].RouteKey)
	assert.Equal(t, models.TierDefault, gw.stats.events[1].Tier)
}

func TestAdmission_WithoutClassifierUsesDefaultTier(t *testing.T) {
	registry, err := ratelimit.NewRegistry(10, ratelimit.DefaultWindow, nil)
	require.NoError(t, err)

	router := gin.New()
	router.Use(AdmissionControl(registry, Limits{Default: 1, Privileged: 10}, nil, nil))
	router.GET("/v1/util/validateAddress", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/v1/util/validateAddress", nil)
	req.SetBasicAuth("BITBOX", "BETA")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))
}

func TestLimits_For(t *testing.T) {
	l := Limits{Default: 60, Privileged: 600}
	assert.Equal(t, 60, l.For(models.TierDefault))
	assert.Equal(t, 600, l.For(models.TierPrivileged))
}
