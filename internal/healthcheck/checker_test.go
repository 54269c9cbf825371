package healthcheck

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestChecker_MarksTargetUnhealthyAfterMaxFailures(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer good.Close()

	flaky := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer flaky.Close()

	checker := NewChecker(Config{
		Name:        "explorer",
		Targets:     []string{good.URL, flaky.URL},
		Endpoint:    "/status",
		MaxFailures: 2,
		Logger:      quietLogger(),
	})
	ctx := context.Background()

	checker.CheckAll(ctx)
	assert.Equal(t, Healthy, checker.OverallHealth())

	healthy.Store(false)
	checker.CheckAll(ctx)
	assert.Equal(t, Healthy, checker.OverallHealth(), "one failure is tolerated")

	checker.CheckAll(ctx)
	assert.Equal(t, Degraded, checker.OverallHealth())
	assert.Equal(t, []string{good.URL}, checker.HealthyTargets())

	status := checker.Status(flaky.URL)
	require.NotNil(t, status)
	assert.False(t, status.IsHealthy)
	assert.Equal(t, 2, status.FailureCount)
	assert.Contains(t, status.LastError, "503")

	healthy.Store(true)
	checker.CheckAll(ctx)
	assert.Equal(t, Healthy, checker.OverallHealth())
	assert.Len(t, checker.AllStatus(), 2)
}

func TestChecker_UnreachableTarget(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	checker := NewChecker(Config{Targets: []string{url}, MaxFailures: 1, Logger: quietLogger()})
	checker.CheckAll(context.Background())

	assert.Equal(t, Unhealthy, checker.OverallHealth())
	assert.Empty(t, checker.HealthyTargets())
	assert.Nil(t, checker.Status("http://unknown"))
}

func TestChecker_StartStopsOnCancel(t *testing.T) {
	var probes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probes.Add(1)
	}))
	defer srv.Close()

	checker := NewChecker(Config{
		Targets:  []string{srv.URL},
		Interval: 10 * time.Millisecond,
		Logger:   quietLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return probes.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("checker did not stop")
	}
}

func TestWorst(t *testing.T) {
	assert.Equal(t, Degraded, Worst(Healthy, Degraded))
	assert.Equal(t, Unhealthy, Worst(Unhealthy, Healthy))
	assert.Equal(t, "degraded", Degraded.String())
}
