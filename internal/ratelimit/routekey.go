package ratelimit

import (
	"strings"

	"github.com/aman-churiwal/chain-gateway/internal/models"
)

// routeKeyDepth is how many "/"-separated path elements take part in a route
// key. The leading root of an absolute path counts as one, so
// /v1/address/details/X and /v1/address/details/Y share a key.
const routeKeyDepth = 4

// DeriveKey builds the counter key for a request. Tier tags and HTTP methods
// come from small fixed vocabularies without "/", so plain concatenation
// cannot collide.
func DeriveKey(tier models.Tier, method, path string) string {
	parts := strings.SplitN(path, "/", routeKeyDepth+1)
	if len(parts) > routeKeyDepth {
		parts = parts[:routeKeyDepth]
	}

	var b strings.Builder
	b.Grow(len(path) + 12)
	b.WriteString(tier.Tag())
	b.WriteString(method)
	b.WriteString(strings.Join(parts, "/"))
	return b.String()
}
