package models

// Tier decides which per-minute limit applies to a caller.
type Tier int

const (
	TierDefault Tier = iota
	TierPrivileged
)

// Tag is the prefix used when building rate-limit route keys.
func (t Tier) Tag() string {
	if t == TierPrivileged {
		return "PRO"
	}
	return "BASIC"
}

func (t Tier) String() string {
	switch t {
	case TierDefault:
		return "basic"
	case TierPrivileged:
		return "pro"
	default:
		return "unknown"
	}
}
