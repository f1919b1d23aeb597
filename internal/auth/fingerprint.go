// ABOUTME: Stable fingerprint of a principal's identity and grants
// ABOUTME: Used as a cache key component so cached views never cross principals

package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"
)

// fingerprintKey is hashed as JSON so no ID, role or permission value can
// run into its neighbours.
type fingerprintKey struct {
	ID          string   `json:"id"`
	Anonymous   bool     `json:"anonymous"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// Fingerprint hashes the principal ID, roles and permissions. Two principals
// share a fingerprint only if they are the same identity with the same grants.
func Fingerprint(p *Principal) string {
	if p == nil {
		p = Anonymous(nil)
	}
	key := fingerprintKey{
		ID:          p.ID,
		Anonymous:   p.IsAnonymous(),
		Roles:       slices.Sorted(slices.Values(p.Roles)),
		Permissions: slices.Sorted(slices.Values(p.Permissions)),
	}
	// Marshaling strings and bools cannot fail.
	data, _ := json.Marshal(key)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:32]
}
