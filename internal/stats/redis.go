package stats

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aman-churiwal/chain-gateway/internal/storage"
	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "gateway:stats"

// Redis stores one hash per minute for tier outcomes and one for rejected
// route keys. Both expire after Retention.
type Redis struct {
	redis  *storage.RedisClient
	prefix string
}

func NewRedis(client *storage.RedisClient, prefix string) *Redis {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Redis{redis: client, prefix: prefix}
}

func (r *Redis) outcomeKey(minute int64) string {
	return fmt.Sprintf("%s:%d", r.prefix, minute)
}

func (r *Redis) routesKey(minute int64) string {
	return fmt.Sprintf("%s:rejected:%d", r.prefix, minute)
}

func (r *Redis) Record(ctx context.Context, ev Event) error {
	minute := minuteOf(ev.At)
	outcomes := r.outcomeKey(minute)

	pipe := r.redis.Pipeline()
	pipe.HIncrBy(ctx, outcomes, ev.Tier.String()+":"+outcome(ev.Allowed), 1)
	pipe.Expire(ctx, outcomes, Retention)
	if !ev.Allowed {
		routes := r.routesKey(minute)
		pipe.HIncrBy(ctx, routes, ev.RouteKey, 1)
		pipe.Expire(ctx, routes, Retention)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record admission stats: %w", err)
	}
	return nil
}

func (r *Redis) Summary(ctx context.Context, from, to time.Time) (Summary, error) {
	s := newSummary(from, to)
	buckets := minutes(from, to)
	if len(buckets) == 0 {
		return s, nil
	}

	pipe := r.redis.Pipeline()
	outcomeCmds := make([]*redis.MapStringStringCmd, 0, len(buckets))
	routeCmds := make([]*redis.MapStringStringCmd, 0, len(buckets))
	for _, minute := range buckets {
		outcomeCmds = append(outcomeCmds, pipe.HGetAll(ctx, r.outcomeKey(minute)))
		routeCmds = append(routeCmds, pipe.HGetAll(ctx, r.routesKey(minute)))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return s, fmt.Errorf("failed to read admission stats: %w", err)
	}

	for _, cmd := range outcomeCmds {
		for field, raw := range cmd.Val() {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				continue
			}
			tier, result, ok := strings.Cut(field, ":")
			if !ok {
				continue
			}
			if result == "allowed" {
				s.Allowed[tier] += n
			} else {
				s.Rejected[tier] += n
			}
		}
	}

	for _, cmd := range routeCmds {
		for routeKey, raw := range cmd.Val() {
			if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
				s.RejectedRoutes[routeKey] += n
			}
		}
	}

	return s, nil
}
