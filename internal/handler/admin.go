package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/aman-churiwal/chain-gateway/internal/clock"
	"github.com/aman-churiwal/chain-gateway/internal/middleware"
	"github.com/aman-churiwal/chain-gateway/internal/models"
	"github.com/aman-churiwal/chain-gateway/internal/proxy"
	"github.com/aman-churiwal/chain-gateway/internal/ratelimit"
	"github.com/aman-churiwal/chain-gateway/internal/repository"
	"github.com/aman-churiwal/chain-gateway/internal/stats"
	"github.com/gin-gonic/gin"
)

// LogQuerier reads persisted request logs.
type LogQuerier interface {
	Find(ctx context.Context, f repository.LogFilter) ([]models.RequestLog, error)
	CountRejected(ctx context.Context, from, to time.Time) (int64, error)
}

// AdminHandler serves the operator views of admission control.
type AdminHandler struct {
	registry *ratelimit.Registry
	limits   middleware.Limits
	backends *proxy.Router
	recorder stats.Recorder
	logs     LogQuerier // nil when request logs are not persisted
	clock    clock.Clock
	started  time.Time
}

type AdminDeps struct {
	Registry *ratelimit.Registry
	Limits   middleware.Limits
	Backends *proxy.Router
	Recorder stats.Recorder
	Logs     LogQuerier
	Clock    clock.Clock
}

func NewAdminHandler(deps AdminDeps) *AdminHandler {
	if deps.Clock == nil {
		deps.Clock = clock.System()
	}
	return &AdminHandler{
		registry: deps.Registry,
		limits:   deps.Limits,
		backends: deps.Backends,
		recorder: deps.Recorder,
		logs:     deps.Logs,
		clock:    deps.Clock,
		started:  deps.Clock.Now(),
	}
}

// Handles GET /admin/status
func (h *AdminHandler) Status(c *gin.Context) {
	now := h.clock.Now()

	resp := gin.H{
		"gateway":   "running",
		"uptime":    now.Sub(h.started).Seconds(),
		"timestamp": now.Unix(),
		"limits": gin.H{
			models.TierDefault.String():    h.limits.Default,
			models.TierPrivileged.String(): h.limits.Privileged,
		},
		"persistent_logs": h.logs != nil,
	}

	if h.registry != nil {
		resp["rate_limiter"] = gin.H{
			"window_seconds": int(h.registry.Window().Seconds()),
			"active_keys":    h.registry.Len(),
			"evictions":      h.registry.Evictions(),
		}
	}

	if h.backends != nil {
		resp["backends"] = h.backends.Statuses()
		resp["health"] = h.backends.OverallHealth()
	}

	c.JSON(http.StatusOK, resp)
}

// Handles GET /admin/stats
func (h *AdminHandler) Stats(c *gin.Context) {
	from, to, err := parseTimeRange(c, h.clock.Now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	summary, err := h.recorder.Summary(ctx, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{"summary": summary}
	if h.logs != nil {
		if rejected, err := h.logs.CountRejected(ctx, from, to); err == nil {
			resp["logged_rejections"] = rejected
		}
	}

	c.JSON(http.StatusOK, resp)
}

// Handles GET /admin/logs
func (h *AdminHandler) Logs(c *gin.Context) {
	if h.logs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Request log persistence is disabled"})
		return
	}

	from, to, err := parseTimeRange(c, h.clock.Now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	limit := 100
	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 1000 {
			limit = l
		}
	}

	offset := 0
	if offsetStr := c.Query("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	filter := repository.LogFilter{
		From:   from,
		To:     to,
		Tier:   c.Query("tier"),
		Limit:  limit,
		Offset: offset,
	}
	if statusStr := c.Query("status"); statusStr != "" {
		if s, err := strconv.Atoi(statusStr); err == nil {
			filter.StatusCode = s
		}
	}

	logs, err := h.logs.Find(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"logs":   logs,
		"limit":  limit,
		"offset": offset,
	})
}

// parseTimeRange reads 'from' and 'to' as RFC3339 or unix seconds. The
// default range is the last 24 hours.
func parseTimeRange(c *gin.Context, now time.Time) (time.Time, time.Time, error) {
	to := now
	from := to.Add(-24 * time.Hour)

	if fromStr := c.Query("from"); fromStr != "" {
		parsed, err := parseTime(fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid from: %w", err)
		}
		from = parsed
	}

	if toStr := c.Query("to"); toStr != "" {
		parsed, err := parseTime(toStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid to: %w", err)
		}
		to = parsed
	}

	if to.Before(from) {
		return time.Time{}, time.Time{}, errors.New("from must not be after to")
	}

	return from, to, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	timestamp, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither RFC3339 nor unix seconds", s)
	}
	return time.Unix(timestamp, 0), nil
}
