package channel

import "strings"

// AllowList is an ordered set of sender patterns for one channel.
//
// The literal "*" entry allows any sender and is checked before any
// per-sender comparison, so it short-circuits even an otherwise restrictive
// list. All other entries match by case-insensitive exact comparison
// (strings.EqualFold, simple Unicode folding with no further
// normalization). Whitespace is significant: "  spaced  " matches
// only senders with identical spacing. An empty list denies everyone.
type AllowList []string

// Allows reports whether sender may have its messages forwarded to the agent.
func (a AllowList) Allows(sender string) bool {
	for _, entry := range a {
		if entry == "*" {
			return true
		}
	}
	for _, entry := range a {
		if strings.EqualFold(entry, sender) {
			return true
		}
	}
	return false
}

// AllowsAny reports whether any of the given identities is allowed. Used by
// channels whose senders carry several identifiers (numeric ID plus handle).
func (a AllowList) AllowsAny(identities ...string) bool {
	for _, id := range identities {
		if id != "" && a.Allows(id) {
			return true
		}
	}
	return false
}
