package access

import (
	"context"

	"github.com/aman-churiwal/chain-gateway/internal/models"
)

type tierKey struct{}

// WithTier returns a copy of ctx carrying tier.
func WithTier(ctx context.Context, tier models.Tier) context.Context {
	return context.WithValue(ctx, tierKey{}, tier)
}

// TierFromContext returns the tier attached by the classifier, or the default
// tier when none was attached.
func TierFromContext(ctx context.Context) models.Tier {
	if tier, ok := ctx.Value(tierKey{}).(models.Tier); ok {
		return tier
	}
	return models.TierDefault
}
