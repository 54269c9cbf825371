package middleware

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/aman-churiwal/chain-gateway/internal/access"
	"github.com/aman-churiwal/chain-gateway/internal/clock"
	"github.com/aman-churiwal/chain-gateway/internal/models"
	"github.com/aman-churiwal/chain-gateway/internal/ratelimit"
	"github.com/aman-churiwal/chain-gateway/internal/stats"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Limits are requests per minute for each tier. Zero turns limiting off for
// that tier.
type Limits struct {
	Default    int
	Privileged int
}

func (l Limits) For(tier models.Tier) int {
	if tier == models.TierPrivileged {
		return l.Privileged
	}
	return l.Default
}

// AdmissionControl counts every request against the fixed-window counter for
// its (tier, method, route prefix) key and answers 429 once the window's
// limit is used up. It must run after TierClassifier.
func AdmissionControl(registry *ratelimit.Registry, limits Limits, clk clock.Clock, recorder stats.Recorder) gin.HandlerFunc {
	if clk == nil {
		clk = clock.System()
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		tier := access.TierFromContext(ctx)

		limit := limits.For(tier)
		if limit <= 0 {
			c.Next()
			return
		}

		key := ratelimit.DeriveKey(tier, c.Request.Method, c.Request.URL.Path)
		now := clk.Now()
		decision := registry.GetOrCreate(key, limit).TryAdmit(now)

		if recorder != nil {
			_ = recorder.Record(ctx, stats.Event{
				Tier:     tier,
				RouteKey: key,
				Allowed:  decision.Allowed,
				At:       now,
			})
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining()))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
		c.Header("X-RateLimit-Tier", tier.String())

		if !decision.Allowed {
			trace.SpanFromContext(ctx).AddEvent("rate_limited", trace.WithAttributes(
				attribute.String("ratelimit.route_key", key),
				attribute.Int("ratelimit.limit", limit),
			))

			c.Header("Retry-After", strconv.Itoa(int(decision.RetryAfter(now).Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": RejectionMessage(limit),
			})
			return
		}

		c.Next()
	}
}

// RejectionMessage is the error text returned with a 429.
func RejectionMessage(limit int) string {
	return fmt.Sprintf("Too many requests. Limits are %d requests per minute.", limit)
}
