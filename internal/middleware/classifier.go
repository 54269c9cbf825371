package middleware

import (
	"github.com/aman-churiwal/chain-gateway/internal/access"
	"github.com/gin-gonic/gin"
)

// TierClassifier attaches the caller's tier to the request context. Missing,
// malformed or unrecognised credentials leave the caller on the default tier;
// the request always continues.
func TierClassifier(verifier *access.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		tier := verifier.Classify(access.ExtractCredential(c.Request))
		c.Request = c.Request.WithContext(access.WithTier(c.Request.Context(), tier))
		c.Next()
	}
}
