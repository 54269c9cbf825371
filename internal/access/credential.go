// Package access decides which tier an inbound request belongs to.
//
// Callers authenticate with HTTP Basic credentials. A request that presents
// the configured identifier together with one of the allow-listed secrets is
// privileged; everything else, including requests with malformed or wrong
// credentials, falls back to the default tier. Classification never rejects a
// request.
package access

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/aman-churiwal/chain-gateway/internal/models"
)

// DefaultIdentifier is the username privileged callers present.
const DefaultIdentifier = "BITBOX"

// PlaceholderSecret is used when no privileged secrets are configured so the
// allow-list is never empty.
const PlaceholderSecret = "BITBOX"

// ParseAllowList splits a colon-delimited secret list. Empty entries are
// dropped; an empty result yields the placeholder.
func ParseAllowList(raw string) []string {
	secrets := make([]string, 0)
	for _, s := range strings.Split(raw, ":") {
		if s != "" {
			secrets = append(secrets, s)
		}
	}
	if len(secrets) == 0 {
		secrets = append(secrets, PlaceholderSecret)
	}
	return secrets
}

// Verifier checks a credential pair against the privileged allow-list.
type Verifier struct {
	identifier string
	secrets    []string
}

func NewVerifier(identifier string, secrets []string) *Verifier {
	if identifier == "" {
		identifier = DefaultIdentifier
	}
	if len(secrets) == 0 {
		secrets = []string{PlaceholderSecret}
	}
	list := make([]string, len(secrets))
	copy(list, secrets)
	return &Verifier{identifier: identifier, secrets: list}
}

// Verify reports whether identifier is the privileged identifier and secret
// exactly matches an allow-listed entry.
func (v *Verifier) Verify(identifier, secret string) bool {
	if identifier != v.identifier {
		return false
	}
	matched := 0
	for _, s := range v.secrets {
		matched |= subtle.ConstantTimeCompare([]byte(s), []byte(secret))
	}
	return matched == 1
}

func (v *Verifier) Identifier() string {
	return v.identifier
}

// UsesPlaceholder is true when the allow-list holds only the built-in
// placeholder secret.
func (v *Verifier) UsesPlaceholder() bool {
	return len(v.secrets) == 1 && v.secrets[0] == PlaceholderSecret
}

// Credential is what a caller presented. It is either NoCredential or a
// BasicCredential.
type Credential interface {
	credential()
}

type NoCredential struct{}

type BasicCredential struct {
	Identifier string
	Secret     string
}

func (NoCredential) credential()    {}
func (BasicCredential) credential() {}

// ExtractCredential reads the Authorization header. Anything that is not a
// well-formed Basic credential, including other schemes, counts as
// NoCredential.
func ExtractCredential(r *http.Request) Credential {
	id, secret, ok := r.BasicAuth()
	if !ok {
		return NoCredential{}
	}
	return BasicCredential{Identifier: id, Secret: secret}
}

// Classify maps a credential to a tier.
func (v *Verifier) Classify(cred Credential) models.Tier {
	switch c := cred.(type) {
	case BasicCredential:
		if v.Verify(c.Identifier, c.Secret) {
			return models.TierPrivileged
		}
		return models.TierDefault
	default:
		return models.TierDefault
	}
}
