// Package stats keeps per-minute counts of admission decisions so operators
// can see how much traffic each tier sends and how much is being turned away.
package stats

import (
	"context"
	"time"

	"github.com/aman-churiwal/chain-gateway/internal/models"
)

// Retention is how long per-minute buckets are kept.
const Retention = 24 * time.Hour

// Event is one admission decision.
type Event struct {
	Tier     models.Tier
	RouteKey string
	Allowed  bool
	At       time.Time
}

// Summary aggregates decisions over a time range. Counts are keyed by tier
// name; RejectedRoutes is keyed by route key.
type Summary struct {
	From           time.Time        `json:"from"`
	To             time.Time        `json:"to"`
	Allowed        map[string]int64 `json:"allowed"`
	Rejected       map[string]int64 `json:"rejected"`
	RejectedRoutes map[string]int64 `json:"rejected_routes"`
}

func newSummary(from, to time.Time) Summary {
	return Summary{
		From:           from,
		To:             to,
		Allowed:        make(map[string]int64),
		Rejected:       make(map[string]int64),
		RejectedRoutes: make(map[string]int64),
	}
}

type Recorder interface {
	Record(ctx context.Context, ev Event) error
	Summary(ctx context.Context, from, to time.Time) (Summary, error)
}

func minuteOf(t time.Time) int64 {
	return t.Unix() / 60
}

// minutes lists the minute buckets covering [from, to], clamped to Retention.
func minutes(from, to time.Time) []int64 {
	if to.Before(from) {
		return nil
	}
	if to.Sub(from) > Retention {
		from = to.Add(-Retention)
	}
	out := make([]int64, 0, int(to.Sub(from)/time.Minute)+1)
	for m := minuteOf(from); m <= minuteOf(to); m++ {
		out = append(out, m)
	}
	return out
}

func outcome(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "rejected"
}
